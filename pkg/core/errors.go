package core

import (
	"errors"
	"fmt"
)

// Error is the typed error carried between the journal, auth, transport and
// session layers. Type decides how far an error propagates: only
// precondition, permission and transport errors end a live session.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrPrecondition   ErrorType = "precondition_error"
	ErrPermission     ErrorType = "permission_error"
	ErrTransport      ErrorType = "transport_error"
	ErrTool           ErrorType = "tool_error"
	ErrAudio          ErrorType = "audio_error"
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrStorage        ErrorType = "storage_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
)

// NewPreconditionError reports a missing prerequisite such as credentials.
func NewPreconditionError(message string) *Error {
	return &Error{Type: ErrPrecondition, Message: message}
}

// NewPermissionError reports that a device or resource was refused.
func NewPermissionError(message string, cause error) *Error {
	return &Error{Type: ErrPermission, Message: message, Cause: cause}
}

// NewTransportError wraps a fault on the live model channel.
func NewTransportError(message string, cause error) *Error {
	return &Error{Type: ErrTransport, Message: message, Cause: cause}
}

// NewToolError creates an error scoped to a single tool call.
func NewToolError(message string, cause error) *Error {
	return &Error{Type: ErrTool, Message: message, Cause: cause}
}

// NewAudioError creates a decode or playback error.
func NewAudioError(message string, cause error) *Error {
	return &Error{Type: ErrAudio, Message: message, Cause: cause}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewStorageError wraps a journal backend failure.
func NewStorageError(message string, cause error) *Error {
	return &Error{Type: ErrStorage, Message: message, Cause: cause}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string, cause error) *Error {
	return &Error{Type: ErrAuthentication, Message: message, Cause: cause}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or "".
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err carries a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

const (
	microphoneMessage   = "Microphone access was denied or the device is busy. Close other apps or overlays using the microphone and try again."
	connectivityMessage = "Lost connection to the voice assistant. Check your network and try again."
)

// UserMessage maps err to the banner text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return err.Error()
	}
	switch ce.Type {
	case ErrPermission:
		return microphoneMessage
	case ErrTransport:
		return connectivityMessage
	default:
		return ce.Message
	}
}
