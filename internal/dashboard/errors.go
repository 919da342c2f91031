package dashboard

import "codeberg.org/mutker/motordash/internal/errors"

const (
	ErrInvalidRequest   = errors.ErrorCode("dashboard_invalid_request")
	ErrUnknownAction    = errors.ErrorCode("dashboard_unknown_action")
	ErrMethodNotAllowed = errors.ErrorCode("dashboard_method_not_allowed")
	ErrServe            = errors.ErrServeHTTP
)
