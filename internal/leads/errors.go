package leads

import "errors"

var (
	// ErrInvalidName is returned when the name is invalid
	ErrInvalidName = errors.New("name is required")

	// ErrInvalidProfile is returned when the profile URL is empty after normalization
	ErrInvalidProfile = errors.New("profile url is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrDuplicateProfile is returned when another lead already owns the profile URL
	ErrDuplicateProfile = errors.New("profile url already belongs to another lead")

	// ErrUnknownEvent is returned for events missing from the transition table
	ErrUnknownEvent = errors.New("unknown outreach event")
)
