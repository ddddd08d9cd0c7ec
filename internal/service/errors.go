package service

import "errors"

// ErrValidation marks a request rejected synchronously for a malformed or
// missing field. Validation failures are never queued or retried.
var ErrValidation = errors.New("validation failed")
