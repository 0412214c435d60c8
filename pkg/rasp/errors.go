package rasp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no reply was received in time.
	ErrTimeout = errors.New("reply timeout")
	// ErrTooLong indicates the payload does not fit a frame.
	ErrTooLong = errors.New("payload too long")
	// ErrEmptyReply indicates a reply without status byte.
	ErrEmptyReply = errors.New("empty reply")
)

// StatusError wraps a non-accepted reply status.
type StatusError struct {
	Status Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("reply status 0x%02x: %s", byte(e.Status), e.Status)
}
