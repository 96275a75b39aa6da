package router

import "errors"

// Relay error types
var (
	ErrUnsupportedEvent = errors.New("event is not relayed")
	ErrPeerUnreachable  = errors.New("peer transport unavailable")
)
