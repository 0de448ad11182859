package packet

import "errors"

var (
	ErrMalformed      = errors.New("malformed packet")
	ErrTooLarge       = errors.New("packet too large")
	ErrLengthMismatch = errors.New("packet length mismatch")
	ErrUnknownType    = errors.New("unknown packet type")
	ErrUnknownSubType = errors.New("unknown packet subtype")
)
