package event

import "errors"

// ErrBusClosed is returned by Publish after the bus has been closed.
var ErrBusClosed = errors.New("event bus closed")
