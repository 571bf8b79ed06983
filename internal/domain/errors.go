package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrBetNotOpen          = errors.New("bet is not open for responses")
	ErrChallengerSlotTaken = errors.New("bet already has a challenger")
	ErrAlreadyResolved     = errors.New("bet already resolved")
	ErrInvalidWinner       = errors.New("winner is not an accepted participant")
)

// ValidationError reports malformed caller input. It is detected before any
// mutation takes place, so a ValidationError guarantees no partial writes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
