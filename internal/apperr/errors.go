package apperr

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrTenantMismatch     = errors.New("thread does not belong to organization")
	ErrMissingCredentials = errors.New("completion credentials not configured")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidToolArgs    = errors.New("invalid tool arguments")
	ErrNameNotConfirmed   = errors.New("name update requires confirmed=true")
	ErrTemplateNotReady   = errors.New("template is not approved")
	ErrChannelUnavailable = errors.New("channel transport unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
