// Package patchvalidate is the input gate: it accepts a filesystem path
// only if its filename matches the harness's patch-id convention, the
// path names a regular file, and that id has not been seen before in this
// process's lifetime.
package patchvalidate

import (
	"fmt"
	"os"
	"path/filepath"

	"patchgrader/internal/model"
)

// ValidationError is returned by Validator.Validate; Unwrap lets callers
// match on the sentinel sub-errors below with errors.Is.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string { return e.err.Error() }
func (e *ValidationError) Unwrap() error { return e.err }

var (
	// ErrNoFilename is returned for a path with no final filename
	// component (e.g. "/").
	ErrNoFilename = fmt.Errorf("no filename")
	// ErrInvalidFilename is returned when the filename does not match
	// the fixed "ll999999.patch" convention.
	ErrInvalidFilename = fmt.Errorf("invalid filename, expected format ab123456.patch")
	// ErrNotAFile is returned when the path exists but is not a regular
	// file (e.g. a directory).
	ErrNotAFile = fmt.Errorf("not a file")
)

// AlreadySeenError reports that a patch id has already been validated once
// in this process, naming the path it was first seen at.
type AlreadySeenError struct {
	FirstPath string
}

func (e *AlreadySeenError) Error() string {
	return fmt.Sprintf("id already seen before: %s", e.FirstPath)
}

// Validator rejects duplicate patch ids across its lifetime: a second
// patch with the same id is rejected even if its path differs. Zero value
// is ready to use.
type Validator struct {
	seen map[string]string // id -> first path seen
}

// checkFilename reports whether filename matches the fixed 14-byte
// convention: two lowercase ASCII letters, six ASCII digits, ".patch".
func checkFilename(filename string) bool {
	if len(filename) != 14 || !isASCII(filename) {
		return false
	}
	const ext = ".patch"
	if filename[8:] != ext {
		return false
	}
	for i := 0; i < 2; i++ {
		if filename[i] < 'a' || filename[i] > 'z' {
			return false
		}
	}
	for i := 2; i < 8; i++ {
		if filename[i] < '0' || filename[i] > '9' {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// Validate checks path against the filename convention, confirms it names
// a regular file, and records its id as seen. A path rejected at any stage
// does not consume that id: only a successful validation marks the id
// seen.
func (v *Validator) Validate(path string) (model.Patch, error) {
	filename := filepath.Base(path)
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		return model.Patch{}, &ValidationError{err: ErrNoFilename}
	}
	if !checkFilename(filename) {
		return model.Patch{}, &ValidationError{err: ErrInvalidFilename}
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.Patch{}, &ValidationError{err: err}
	}
	if !info.Mode().IsRegular() {
		return model.Patch{}, &ValidationError{err: ErrNotAFile}
	}

	id := filename[:len(filename)-len(".patch")]
	if v.seen == nil {
		v.seen = make(map[string]string)
	}
	if first, ok := v.seen[id]; ok {
		return model.Patch{}, &ValidationError{err: &AlreadySeenError{FirstPath: first}}
	}
	v.seen[id] = path

	return model.Patch{Path: path, ID: id}, nil
}
