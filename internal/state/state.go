// SPDX-License-Identifier: AGPL-3.0-only

// Package state holds the last observed value per task and its on-disk form.
//
// The in-memory map is exclusively owned by the scheduler; every read, write,
// and save happens under the scheduler's lock. This package only supplies the
// data types, the pure change-detection rule, and the file codec.
package state

// Results maps a task URL to the last extracted value observed for it.
type Results map[string]string

// Clone returns an independent copy of r.
func (r Results) Clone() Results {
	cp := make(Results, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Changed reports whether value differs from the stored baseline for url.
// A url with no baseline is always a change: the first observation bootstraps
// the stored value. Changed never mutates r; recording the new value is the
// caller's job, done only when Changed returned true.
func Changed(r Results, url, value string) bool {
	last, ok := r[url]
	if !ok {
		return true
	}
	return last != value
}
