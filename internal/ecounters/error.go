// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ecounters defines the error taxonomy shared across the engine,
// mirroring github.com/juju/charmstore's params.Error / params.ErrorCode
// split between a machine-readable kind and a human message.
package ecounters

import "fmt"

// ErrorKind holds the class of an error in machine-readable form, usable
// as an errgo.Cause.
type ErrorKind string

func (k ErrorKind) Error() string {
	return string(k)
}

const (
	// ErrConfigInvalid marks a validation failure at config load time;
	// fatal at startup.
	ErrConfigInvalid ErrorKind = "config invalid"

	// ErrInvalidMessage marks a message missing a required attribute.
	ErrInvalidMessage ErrorKind = "invalid message"

	// ErrInvalidFact marks a fact missing a required attribute.
	ErrInvalidFact ErrorKind = "invalid fact"

	// ErrInvalidPredicate marks an unknown operator or ill-typed
	// argument in a condition tree; fatal for the affected counter,
	// not for the surrounding call.
	ErrInvalidPredicate ErrorKind = "invalid predicate"

	// ErrStoreUnavailable marks the absence of a usable store
	// connection; every store-facing operation fails fast.
	ErrStoreUnavailable ErrorKind = "store unavailable"

	// ErrWorkerTimeout marks that no worker became free within the
	// configured acquire deadline.
	ErrWorkerTimeout ErrorKind = "worker timeout"

	// ErrQueryTimeout marks that a store aggregation call exceeded its
	// deadline.
	ErrQueryTimeout ErrorKind = "query timeout"

	// ErrStoreBulkPartial marks that a bulk store operation completed
	// with some per-entry errors; overall success is still true.
	ErrStoreBulkPartial ErrorKind = "store bulk partial"
)

// Error pairs a Kind with a human-readable Message, implementing
// errgo.Causer via Cause.
type Error struct {
	Message string
	Kind    ErrorKind
}

// New returns a new *Error with the given kind and formatted message.
func New(kind ErrorKind, f string, a ...interface{}) error {
	return &Error{
		Message: fmt.Sprintf(f, a...),
		Kind:    kind,
	}
}

// Error implements error.
func (e *Error) Error() string {
	return e.Message
}

// Cause implements errgo.Causer.
func (e *Error) Cause() error {
	if e.Kind != "" {
		return e.Kind
	}
	return nil
}
