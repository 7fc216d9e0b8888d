package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidSessionID  = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrMissingAmbulance  = errors.New("ambulance ID is required")
	ErrInvalidStatus     = errors.New("invalid session status")
	ErrInvalidMode       = errors.New("mode must be 'automatic' or 'manual'")
	ErrInvalidRole       = errors.New("role must be 'paramedic', 'guardian' or 'iot'")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidVitals     = errors.New("vitals out of physiological range")
	ErrEmptyChatText     = errors.New("chat text cannot be empty")
	ErrChatTextTooLarge  = errors.New("chat text exceeds 2000 characters")
	ErrInvalidRiskScore  = errors.New("risk score must be within [0,1]")
)
