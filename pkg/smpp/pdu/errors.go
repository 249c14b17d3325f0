package pdu

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPdu   = errors.New("malformed pdu")
	ErrFieldTooLong   = errors.New("pdu field too long")
	ErrUnknownCommand = errors.New("unknown command id")
)

// MalformedError carries whatever header fields could be read before decoding failed,
// so a peer can still be answered with generic_nack.
type MalformedError struct {
	CommandID CommandID
	Sequence  uint32
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed pdu: %s (command=%s seq=%d)", e.Reason, e.CommandID, e.Sequence)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedPdu
}

func malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}
