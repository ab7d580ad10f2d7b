package services

import "errors"

var (
	ErrJobNotFound       = errors.New("moderation job not found")
	ErrEntryNotFound     = errors.New("audit entry not found")
	ErrPrincipalNotFound = errors.New("admin principal not found")

	ErrAlreadyAssigned   = errors.New("job already assigned")
	ErrAlreadyResolved   = errors.New("job already resolved")
	ErrAppealAlreadyOpen = errors.New("appeal already open")
	ErrNoOpenAppeal      = errors.New("no open appeal on job")
	ErrNotReversible     = errors.New("audit entry is not reversible")
	ErrAlreadyReversed   = errors.New("audit entry already reversed")

	ErrForbidden         = errors.New("permission denied")
	ErrAccountLocked     = errors.New("admin account is locked")
	ErrAccountInactive   = errors.New("admin account is not active")
	ErrInvalidTransition = errors.New("operation not permitted in current job status")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Msg
}

func invalidField(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
