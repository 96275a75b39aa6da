package session

import "errors"

// ErrInvalidConnection is returned when a sender is not matched with the addressed peer
var ErrInvalidConnection = errors.New("invalid connection state")
