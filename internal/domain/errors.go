package domain

import (
	"errors"
	"fmt"
)

// Domain errors. Each maps to a stable code surfaced to clients.
var (
	ErrUnauthorized             = errors.New("invalid credentials")
	ErrForbidden                = errors.New("insufficient privileges")
	ErrAlreadySubmitted         = errors.New("gift request already submitted")
	ErrAlreadyDistributed       = errors.New("distribution already completed")
	ErrNotDistributedYet        = errors.New("distribution has not run yet")
	ErrInsufficientParticipants = errors.New("not enough participants for a distribution")
	ErrNameTaken                = errors.New("participant name already taken")
	ErrPasswordTaken            = errors.New("password already in use")
)

// Validation reasons.
const (
	ReasonRequired   = "required"
	ReasonTooLong    = "too_long"
	ReasonInvalidURL = "invalid_url"
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InsufficientParticipantsError carries the minimum the draw needed.
type InsufficientParticipantsError struct {
	Have int
	Need int
}

func (e InsufficientParticipantsError) Error() string {
	return fmt.Sprintf("%s: have %d, need %d", ErrInsufficientParticipants, e.Have, e.Need)
}

func (e InsufficientParticipantsError) Unwrap() error { return ErrInsufficientParticipants }

// Code returns the stable machine code for a domain error, or "" when err is
// not part of the taxonomy.
func Code(err error) string {
	var ve ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation." + ve.Reason
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrAlreadyDistributed):
		return "already_distributed"
	case errors.Is(err, ErrNotDistributedYet):
		return "not_distributed_yet"
	case errors.Is(err, ErrInsufficientParticipants):
		return "insufficient_participants"
	case errors.Is(err, ErrNameTaken):
		return "name_taken"
	case errors.Is(err, ErrPasswordTaken):
		return "password_taken"
	}
	return ""
}
