package network

import (
	"errors"
	"os"
)

var (
	// ErrDisconnected reports a send or receive failure on an established connection.
	ErrDisconnected = errors.New("cluster node disconnected")
	// ErrTimeout reports that a bounded read or write did not complete in time.
	ErrTimeout = errors.New("cluster node timeout")
	// ErrDecode reports bytes that could not be turned into a packet.
	ErrDecode = errors.New("cluster packet decode failed")
	// ErrConnect reports a failure to establish a connection.
	ErrConnect = errors.New("cluster connect failed")
)

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
