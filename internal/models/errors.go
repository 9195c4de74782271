package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

type PermissionReason string

const (
	PermissionDenied   PermissionReason = "permission_denied"
	PermissionNoDevice PermissionReason = "no_device"
	PermissionOther    PermissionReason = "other"
)

// PermissionError is returned when the microphone cannot be acquired.
type PermissionError struct {
	Reason PermissionReason
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable (%s): %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

type TransferKind string

const (
	TransferTimeout        TransferKind = "timeout"
	TransferNetworkFailure TransferKind = "network_failure"
	TransferServerRejected TransferKind = "server_rejected"
	TransferUnacceptable   TransferKind = "unacceptable"
)

// TransferError is returned by every call to the CRM backend or the gateway.
type TransferError struct {
	Kind   TransferKind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// PreconditionError is a logic error detected before any network call. Never retried.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}

func NewPreconditionError(op, reason string) *PreconditionError {
	return &PreconditionError{Op: op, Reason: reason}
}

type SendStep string

const (
	SendStepPrimary   SendStep = "primary"
	SendStepSecondary SendStep = "secondary"
)

// SendError reports which part of a multi-part send failed. Partial is set when
// an earlier part was already delivered and stays in the conversation.
type SendError struct {
	Step    SendStep
	Partial bool
	Err     error
}

func (e *SendError) Error() string {
	if e.Partial {
		return fmt.Sprintf("partial send, %s part failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("send failed at %s part: %v", e.Step, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// UserMessage turns any pipeline error into the sentence shown to the agent.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.Partial {
		return "The first part was sent but the follow-up text failed. Retry only the follow-up."
	}

	var permErr *PermissionError
	if errors.As(err, &permErr) {
		switch permErr.Reason {
		case PermissionDenied:
			return "Microphone access was denied. Allow it in your browser settings and try again."
		case PermissionNoDevice:
			return "No microphone was found. Connect one and try again."
		default:
			return "The microphone could not be started."
		}
	}

	var precErr *PreconditionError
	if errors.As(err, &precErr) {
		return "This action is not allowed: " + precErr.Reason + "."
	}

	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		switch transferErr.Kind {
		case TransferTimeout:
			return "The upload took too long. The file may be too large."
		case TransferServerRejected:
			return "The server refused the request. Try another file or try again later."
		case TransferUnacceptable:
			return "This file cannot be sent: " + transferErr.Detail + "."
		default:
			return "Could not reach the server. Check your connection."
		}
	}

	if errors.Is(err, ErrNotFound) {
		return "The requested item no longer exists."
	}
	if errors.Is(err, ErrInvalidState) {
		return "That action is not available right now."
	}
	return "Unexpected failure: " + err.Error()
}
