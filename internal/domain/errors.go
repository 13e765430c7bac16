package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAuth             = errors.New("platform auth failure")
	ErrMalformedRef     = errors.New("malformed operation reference")
	ErrTransfer         = errors.New("transfer failure")
	ErrPartialFailure   = errors.New("platform reported errors")
	ErrReadinessTimeout = errors.New("media readiness timeout")
	ErrAlreadyPublished = errors.New("already published")
	ErrNotReady         = errors.New("job not ready for publish")
)
