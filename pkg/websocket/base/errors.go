package base

import (
	"errors"
	"fmt"
)

var errMissingType = errors.New("missing message type")

func missingPayload(t MessageType) error {
	return fmt.Errorf("%s frame without %s payload", t, t)
}

// ParseError is reported when an inbound frame cannot be decoded. The frame is dropped.
type ParseError struct {
	Frame []byte
	Type  MessageType
	Err   error
}

func (e *ParseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("failed to parse %s frame: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("failed to parse frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// HandlerError is reported when a registered handler fails or panics
type HandlerError struct {
	Type  MessageType
	Err   error
	Panic interface{}
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler for %s panicked: %v", e.Type, e.Panic)
	}
	return fmt.Sprintf("handler for %s failed: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
