package ir

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupported marks input the builder cannot represent, such as calls
	// returning several values.
	ErrUnsupported = errors.New("unsupported construct")

	// ErrInvariant marks a broken internal invariant. It indicates a bug in
	// an earlier stage, not bad input.
	ErrInvariant = errors.New("internal invariant violated")
)

// NoSuchFuncError is returned when a function index is out of range.
type NoSuchFuncError struct{ Index uint32 }

func (e *NoSuchFuncError) Error() string {
	return fmt.Sprintf("no function with index %d", e.Index)
}

func (e *NoSuchFuncError) Unwrap() error { return errdefs.ErrNotFound }

// FuncIsImportedError is returned for functions without a body.
type FuncIsImportedError struct{ Index uint32 }

func (e *FuncIsImportedError) Error() string {
	return fmt.Sprintf("function %d is imported", e.Index)
}

func (e *FuncIsImportedError) Unwrap() error { return errdefs.ErrFailedPrecondition }
