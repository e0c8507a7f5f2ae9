package service

import "errors"

var (
	// ErrNotAuthenticated means the caller presented no verified identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoOrganization means the identity carries no organization id.
	ErrNoOrganization = errors.New("no organization")

	ErrInvalidSession       = errors.New("invalid session")
	ErrIncorrectSession     = errors.New("incorrect session")
	ErrConversationResolved = errors.New("conversation resolved")
	ErrInvalidInput         = errors.New("invalid input")
	ErrPersistence          = errors.New("persistence error")
)
