// Package chaterr defines the typed errors surfaced by the chat sync core.
// Callers match them with errors.As; each carries the context (channel, room,
// message or file) needed to display or log it.
package chaterr

import (
	"fmt"
	"strings"
)

// TransportError reports a socket that failed to open or closed abnormally.
// Terminal is set once the reconnect budget is exhausted.
type TransportError struct {
	Channel  string
	Attempt  int
	Terminal bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("connection lost on %s after %d attempts: %v", e.Channel, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport error on %s (attempt %d): %v", e.Channel, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a frame or response body that could not be parsed.
type DecodeError struct {
	Source string // channel name or REST operation
	Field  string // missing or malformed field, if known
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode ")
	b.WriteString(e.Source)
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AuthRequiredError is returned when the backend rejects the caller's credential.
// The core never clears credentials itself.
type AuthRequiredError struct {
	Op string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("%s: authentication required", e.Op)
}

// APIError is returned when the backend answers with success_or_fail=false
// or an unexpected status code.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

// UploadRequestError reports a failure obtaining an upload target for a file.
type UploadRequestError struct {
	FileName string
	Err      error
}

func (e *UploadRequestError) Error() string {
	return fmt.Sprintf("request upload target for %q: %v", e.FileName, e.Err)
}

func (e *UploadRequestError) Unwrap() error { return e.Err }

// UploadTransferError reports a failed byte transfer to an upload target.
type UploadTransferError struct {
	FileName string
	Status   int
	Err      error
}

func (e *UploadTransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %q: %v", e.FileName, e.Err)
	}
	return fmt.Sprintf("upload %q: status %d", e.FileName, e.Status)
}

func (e *UploadTransferError) Unwrap() error { return e.Err }

// ValidationError is a local rejection made before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
