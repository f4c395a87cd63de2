package settlement

import (
	"errors"
	"fmt"
)

// Error codes returned by Service.
const (
	CodeAlreadyInProgress  = "ALREADY_IN_PROGRESS"
	CodeCalculationFailed  = "CALCULATION_FAILED"
	CodeGameNotFound       = "GAME_NOT_FOUND"
	CodeGameCancelled      = "GAME_CANCELLED"
	CodeGameNotFinished    = "GAME_NOT_FINISHED"
	CodeSettlementNotFound = "SETTLEMENT_NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeCorruptSettlement  = "CORRUPT_SETTLEMENT"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

// Error is a coded service failure. Message is safe to show to users; Err
// keeps the underlying cause for errors.Is and logging.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of a service error, or "" for anything else.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether the caller should back off and try again.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyInProgress, CodeStoreUnavailable:
		return true
	case CodeCalculationFailed:
		return !IsInputError(err)
	case "":
		return err != nil
	}
	return false
}
