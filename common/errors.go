// Package common provides shared constants, types, and utilities
// used across the MasyaVPN client.
package common

import (
	"errors"
	"strings"
)

// Sentinel errors for tunnel session operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrMalformedCredential      = errors.New("malformed credential")
	ErrGatewayNotFound          = errors.New("default gateway not found")
	ErrInterfaceNotFound        = errors.New("gateway interface not found")
	ErrEndpointResolutionFailed = errors.New("tunnel endpoint resolution failed")
	ErrConfigInvalid            = errors.New("engine configuration rejected")
	ErrEngineStartFailed        = errors.New("engine failed to start")
	ErrPlumbingFailed           = errors.New("network configuration failed")
	ErrAlreadyActive            = errors.New("session already connected or connecting")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// Platform errors.
	ErrRootRequired        = errors.New("administrator privileges required")
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

// StepError reports which provisioning step of a connection attempt failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PlumbingError describes a failed host network mutation. Op names the
// sub-step (for example "assign-dns") and Output holds whatever the OS
// facility printed.
type PlumbingError struct {
	Op     string
	Output string
	Err    error
}

func (e *PlumbingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(" (")
		b.WriteString(out)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes both ErrPlumbingFailed and the underlying OS error.
func (e *PlumbingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPlumbingFailed}
	}
	return []error{ErrPlumbingFailed, e.Err}
}
