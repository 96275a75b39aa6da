package moderation

import "errors"

var (
	ErrPublisherClosed = errors.New("moderation publisher is closed")
	ErrNilChannel      = errors.New("amqp channel cannot be nil")
)
