package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure surfaced by the core wraps exactly one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyInstalled   = errors.New("already installed")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrDependencyConflict = errors.New("dependency conflict")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrIntegrityCorrupt   = errors.New("integrity corrupt")
	ErrIO                 = errors.New("i/o error")
	ErrDatabase           = errors.New("database error")
	ErrRepositorySync     = errors.New("repository sync failed")
	ErrInvalidRequirement = errors.New("invalid version requirement")
	ErrDownloadFailed     = errors.New("download failed")
	ErrLocked             = errors.New("install root is locked by another process")
)

// PackageError carries the offending package, repository or file name
// together with the error kind.
type PackageError struct {
	Kind       error
	Op         string
	Name       string
	Dependents []string
	Err        error
}

func (e *PackageError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString(e.Name)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if len(e.Dependents) > 0 {
		fmt.Fprintf(&b, " (required by %s)", strings.Join(e.Dependents, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause
func (e *PackageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a PackageError
func NewError(kind error, op, name string, err error) *PackageError {
	return &PackageError{Kind: kind, Op: op, Name: name, Err: err}
}

// NotFound reports a missing package
func NotFound(op, name string) error {
	return &PackageError{Kind: ErrNotFound, Op: op, Name: name}
}

// DependencyConflict reports the installed packages blocking a removal
func DependencyConflict(name string, dependents []string) error {
	return &PackageError{Kind: ErrDependencyConflict, Op: "remove", Name: name, Dependents: dependents}
}

// DependentsOf extracts the blocking dependents from a DependencyConflict error
func DependentsOf(err error) []string {
	var pe *PackageError
	if errors.As(err, &pe) && errors.Is(pe.Kind, ErrDependencyConflict) {
		return pe.Dependents
	}
	return nil
}

// NameOf returns the package/repo/file name carried by err, if any
func NameOf(err error) string {
	var pe *PackageError
	if errors.As(err, &pe) {
		return pe.Name
	}
	return ""
}
