package ratelimit

import "errors"

// ErrRateLimited is returned by callers when a budget rejects an action
var ErrRateLimited = errors.New("rate limit exceeded")
