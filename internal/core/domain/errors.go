package domain

import "errors"

var (
	ErrNotConnected   = errors.New("realtime connection is not established")
	ErrAlreadyStarted = errors.New("realtime connection already started for this session")
	ErrNotConfigured  = errors.New("backend endpoint is not configured")
	ErrNoSession      = errors.New("no authenticated session")

	ErrNoPendingOffer = errors.New("no incoming call is ringing")
	ErrCallInProgress = errors.New("a call is already active")
	ErrNoActiveCall   = errors.New("no active call")
	ErrInvalidOffer   = errors.New("incoming call offer is missing join credentials")
	ErrCallEnded      = errors.New("call has ended")

	ErrEmptyMessage = errors.New("message content cannot be empty")
)
