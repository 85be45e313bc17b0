// SPDX-License-Identifier: AGPL-3.0-only

// Package shellcmd runs the user-supplied parse and action programs. The
// programs are opaque shell expressions: bytes in, bytes out for parse; value
// in via environment, exit code out for the action. Nothing here inspects or
// validates what the expressions do.
package shellcmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"upi/internal/apperr"
)

// ParsedEnvVar is the environment variable carrying the newly extracted value
// into the action program.
const ParsedEnvVar = "UPI_PARSED"

// Runner executes shell expressions through the host shell.
type Runner struct {
	shell string
}

// New creates a Runner using the given shell, defaulting to "sh".
func New(shell string) *Runner {
	if strings.TrimSpace(shell) == "" {
		shell = "sh"
	}
	return &Runner{shell: shell}
}

// Extract implements model.Extractor: it pipes input to the program's stdin
// and returns the trimmed stdout. A non-zero exit yields an ExtractError
// carrying the program's stderr.
func (r *Runner) Extract(ctx context.Context, program string, input []byte) (string, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", program)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", apperr.Extract(program, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunAction implements model.ActionRunner: it runs the program with
// UPI_PARSED set to value, inheriting the process's standard streams so the
// action's output reaches the operator. A non-zero exit is returned as an
// ActionWarning; callers treat any error here as non-fatal.
func (r *Runner) RunAction(ctx context.Context, program, value string) error {
	cmd := exec.CommandContext(ctx, r.shell, "-c", program)
	cmd.Env = append(os.Environ(), ParsedEnvVar+"="+value)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return apperr.Action(program, exitErr.ExitCode())
		}
		return err
	}
	return nil
}
