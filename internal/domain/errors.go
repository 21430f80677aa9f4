package domain

import (
	"errors"
	"fmt"
)

// ErrAmbiguousSchema is returned by the generic column detector when it cannot
// settle on a single candidate for a role. Callers must skip the variable
// rather than guess.
var ErrAmbiguousSchema = errors.New("ambiguous table schema")

// ErrNoJoinableVariables marks the one join failure that is fatal for a unit:
// no variable produced a usable coordinate frame, so there is nothing to base
// the joined table on.
var ErrNoJoinableVariables = errors.New("no joinable variables for unit")

// DiscoveryError reports a raw file whose (year, month) key could not be
// derived from its name or directory structure.
type DiscoveryError struct {
	Path string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: cannot derive year/month for %s", e.Path)
}

// ColumnMappingError reports a variable whose table is missing one of the
// four required column roles.
type ColumnMappingError struct {
	Variable string
	Role     string
	Err      error
}

func (e *ColumnMappingError) Error() string {
	return fmt.Sprintf("column mapping: variable %s: role %s unresolved: %v", e.Variable, e.Role, e.Err)
}

func (e *ColumnMappingError) Unwrap() error { return e.Err }

// DecodeError reports a variable-level decode failure inside a raw file.
// Decoding continues for the file's remaining variables.
type DecodeError struct {
	File     string
	Variable string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s in %s: %v", e.Variable, e.File, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JoinError reports a merge failure for one variable or one unit.
type JoinError struct {
	Unit     UnitKey
	Variable string // empty for unit-level failures
	Err      error
}

func (e *JoinError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("join unit %s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("join unit %s variable %s: %v", e.Unit, e.Variable, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// SortError reports a read, parse, or write failure during the sort pass.
type SortError struct {
	Path string
	Err  error
}

func (e *SortError) Error() string {
	return fmt.Sprintf("sort %s: %v", e.Path, e.Err)
}

func (e *SortError) Unwrap() error { return e.Err }
