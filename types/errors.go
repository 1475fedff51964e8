package types

import (
	"errors"
	"fmt"
)

// Decode failure classes. Every error returned by a decoder wraps one of
// these, so callers can test with errors.Is without caring which format
// produced it.
var (
	ErrUnknownFormat      = errors.New("unrecognized object file format")
	ErrOutOfBounds        = errors.New("offset out of bounds")
	ErrMalformedHeader    = errors.New("malformed header")
	ErrUnsupportedVariant = errors.New("unsupported variant")
)

// FormatError is returned by decode operations if the data does not have
// the correct format for an object file. Field names the offending header
// field or table.
type FormatError struct {
	Off   int64
	Field string
	Val   interface{}
	Err   error
}

func (e *FormatError) Error() string {
	msg := e.Field
	if e.Val != nil {
		msg += fmt.Sprintf(" '%v'", e.Val)
	}
	return fmt.Sprintf("%s: %s in record at byte %#x", e.Err, msg, e.Off)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Errorf builds a FormatError for the table or header field at off.
func Errorf(err error, off int64, field string, val interface{}) *FormatError {
	return &FormatError{Off: off, Field: field, Val: val, Err: err}
}
