// Package oerrors contains the sentinel error kinds shared across the
// Ori core storage engine.
//
// Every kind is a plain sentinel; callers compare with errors.Is after
// whatever context the failing call wrapped on with xerrors.Errorf.
package oerrors

import "errors"

var (
	// ErrNotFound is returned when an object, branch, or snapshot is
	// absent locally and no attached remote can supply it.
	ErrNotFound = errors.New("not found")

	// ErrCorruption is returned when a hash mismatch, malformed frame,
	// bad index entry, or truncated log tail is discovered.
	ErrCorruption = errors.New("corruption detected")

	// ErrConflict is returned when the repository lock is already held,
	// a snapshot name is duplicated, or a branch update races.
	ErrConflict = errors.New("conflict")

	// ErrIO wraps an underlying filesystem error that isn't otherwise
	// classified.
	ErrIO = errors.New("io error")

	// ErrProtocol is returned when a remote peer sends ill-formed
	// framing over the transfer protocol.
	ErrProtocol = errors.New("protocol error")

	// ErrVerifyFailure is returned when a commit signature is invalid or
	// the signer isn't trusted.
	ErrVerifyFailure = errors.New("signature verification failed")

	// ErrUnsupported is returned when the on-disk version is newer than
	// this implementation understands.
	ErrUnsupported = errors.New("unsupported version")
)
