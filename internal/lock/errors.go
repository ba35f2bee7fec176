package lock

import (
	"errors"

	"github.com/atinyakov/sessionlock/internal/pin"
)

var (
	// ErrNotAuthenticated means there is no current user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEmptyUsername is returned by Setup for a blank username.
	ErrEmptyUsername = errors.New("username is required")
	// ErrInvalidPINFormat is returned for a PIN that is not 5 digits.
	ErrInvalidPINFormat = pin.ErrInvalidFormat
	// ErrNotSetUp is returned by Unlock when the user has no PIN yet.
	ErrNotSetUp = errors.New("not set up")
	// ErrInvalidPIN is returned by Unlock for a wrong PIN.
	ErrInvalidPIN = errors.New("invalid PIN")
	// ErrStoreUnavailable wraps credential store failures and timeouts.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Message returns the text a lock screen shows for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotSetUp):
		return "Not set up"
	case errors.Is(err, ErrInvalidPIN):
		return "Invalid PIN"
	case errors.Is(err, ErrInvalidPINFormat):
		return "PIN must be exactly 5 digits"
	case errors.Is(err, ErrEmptyUsername):
		return "Username is required"
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrStoreUnavailable):
		return "Could not reach the credential store, try again"
	default:
		return "Something went wrong, try again"
	}
}
