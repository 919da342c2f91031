package emulator

import "codeberg.org/mutker/motordash/internal/errors"

const (
	ErrUnknownAction = errors.ErrorCode("emulator_unknown_action")
	ErrFaulted       = errors.ErrorCode("emulator_faulted")
)
