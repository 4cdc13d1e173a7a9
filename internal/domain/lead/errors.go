package lead

import "errors"

var (
	ErrIdentityRequired = errors.New("identity requires employee id and email")
	ErrLeadIDRequired   = errors.New("lead id is required")
	ErrInvalidStatus    = errors.New("invalid lead status")
)
