package qsync

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrUnknownProcessor = errors.New("unknown directive processor")
	ErrMalformedMessage = errors.New("malformed client message")
	ErrRegistrySealed   = errors.New("registry is sealed")
	ErrNotComponent     = errors.New("struct does not embed Component")
)

// SynchronizationError is a fatal failure of one input pass. Callers should
// fail the request at the transport layer; the client is expected to retry
// with a fresh initialization.
type SynchronizationError struct {
	Op  string
	Err error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("qsync: %s: %s", e.Op, e.Err)
}

func (e *SynchronizationError) Unwrap() error {
	return e.Err
}

func syncError(op string, err error) error {
	var se *SynchronizationError
	if errors.As(err, &se) {
		return err
	}
	return &SynchronizationError{Op: op, Err: err}
}

// DeserializationError is returned by a PropertyPeer when a fragment can't be
// decoded as the type that peer handles.
type DeserializationError struct {
	Type reflect.Type
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("cannot decode %s: %s", typeString(e.Type), e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
