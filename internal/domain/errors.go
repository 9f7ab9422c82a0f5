package domain

import "errors"

var (
	// ErrAlreadyPending is returned when the owner already has a pending ticket.
	ErrAlreadyPending = errors.New("a pending ticket already exists for this user")
	// ErrUserNotFound is returned when a user id is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrTicketNotFound is returned when a ticket lookup has no result.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrMissingFields is returned when a request lacks a field its rail requires.
	ErrMissingFields = errors.New("missing required fields")
)
