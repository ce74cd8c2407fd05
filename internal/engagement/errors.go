package engagement

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyDecided is returned when a different winner was already recorded for the campaign.
	ErrAlreadyDecided = errors.New("winning variant already decided")
	// ErrVariantNotFound is returned when a variant does not exist or belongs to another campaign.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrAutoSelectionUnsupported is returned by AutoSelectWinner when no WinnerSelector is configured.
	ErrAutoSelectionUnsupported = errors.New("automatic winner selection is not configured")
)

// ValidationError reports a caller error. Nothing is persisted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
