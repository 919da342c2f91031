package controller

import "codeberg.org/mutker/motordash/internal/errors"

const (
	// ErrCommunication marks a failed telemetry fetch: transport error,
	// non-2xx response or an undecodable body.
	ErrCommunication = errors.ErrorCode("controller_communication_failed")

	ErrRequestBuild = errors.ErrorCode("controller_request_build_failed")
)

// IsCommunicationError reports whether err came from a failed fetch.
func IsCommunicationError(err error) bool {
	return errors.HasCode(err, ErrCommunication)
}
