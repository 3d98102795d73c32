package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrAuthRequired    = errors.New("auth credentials required")
	ErrSigningFailed   = errors.New("signing failed")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrFeedDead        = errors.New("feed dead: reconnect attempts exhausted")
	ErrContextDone     = errors.New("context cancelled")
	ErrStrategyExists  = errors.New("strategy already registered")
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrLockHeld        = errors.New("lock already held")
)
