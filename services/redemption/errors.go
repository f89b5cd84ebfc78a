package redemption

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken         = errors.New("invalid login token")
	ErrAlreadyConsumed      = errors.New("login token already used")
	ErrNotActivated         = errors.New("account not activated")
	ErrSuspended            = errors.New("account suspended")
	ErrLocalLoginDisabled   = errors.New("local login disabled for this account")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrNotApproved          = errors.New("account not approved")
	ErrReadOnlyMode         = errors.New("site is in read-only mode")
)

// SecondFactorError reports a missing or rejected second factor. The login
// token is left untouched so the user can retry with a code.
type SecondFactorError struct {
	UserID    uint
	Attempted bool
	Reason    string
	Cause     error
}

func (e *SecondFactorError) Error() string {
	if !e.Attempted {
		return ErrSecondFactorRequired.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrSecondFactorRequired, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrSecondFactorRequired, e.Reason)
}

func (e *SecondFactorError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSecondFactorRequired, e.Cause}
	}
	return []error{ErrSecondFactorRequired}
}
