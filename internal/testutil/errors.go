package testutil

import (
	"errors"

	"github.com/roach88/docseed/internal/bundle"
)

var errNotAtomic = errors.New("wrapped record store is not atomic")

// Transient returns a STORAGE_TRANSIENT error for op, for fault injection.
func Transient(op string) error {
	return bundle.NewTransient(op, errors.New("injected transient failure"))
}

// Fatal returns a STORAGE_FATAL error for op, for fault injection.
func Fatal(op string) error {
	return bundle.NewFatal(op, errors.New("injected fatal failure"))
}
