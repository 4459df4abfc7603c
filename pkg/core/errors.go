package core

import (
	"errors"
	"fmt"
)

// Error represents a client-side session error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrDeviceAccess covers denied or unavailable capture devices.
	// Non-fatal: the session degrades to the remaining modalities.
	ErrDeviceAccess ErrorType = "device_access_error"

	// ErrTransportConnect covers dial and handshake failures.
	ErrTransportConnect ErrorType = "transport_connect_error"

	// ErrTransportProtocol covers unexpected closure and malformed or
	// out-of-order frames on an established connection.
	ErrTransportProtocol ErrorType = "transport_protocol_error"

	// ErrDecode covers malformed inbound payloads. The offending chunk is
	// dropped and the session continues.
	ErrDecode ErrorType = "decode_error"

	// ErrSendClosed covers sends raced against a closing transport.
	// Suppressed: logged locally, never surfaced to the user.
	ErrSendClosed ErrorType = "send_on_closed_error"
)

// NewDeviceAccessError creates a device access error for the named device.
func NewDeviceAccessError(device string, underlying error) *Error {
	return &Error{
		Type:    ErrDeviceAccess,
		Message: fmt.Sprintf("%s: %v", device, underlying),
		Code:    device,
	}
}

// NewTransportConnectError creates a connect/handshake error.
func NewTransportConnectError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{
		Type:    ErrTransportConnect,
		Message: message,
	}
}

// NewTransportProtocolError creates a protocol error.
func NewTransportProtocolError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{
		Type:    ErrTransportProtocol,
		Message: message,
	}
}

// NewDecodeError creates a decode error.
func NewDecodeError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{
		Type:    ErrDecode,
		Message: message,
	}
}

// NewSendClosedError creates a send-on-closed error.
func NewSendClosedError() *Error {
	return &Error{
		Type:    ErrSendClosed,
		Message: "transport is closed",
	}
}

// IsFatal returns true if the error ends the current session.
// Device and decode failures degrade gracefully; transport failures do not.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrTransportConnect, ErrTransportProtocol:
		return true
	default:
		return false
	}
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}
