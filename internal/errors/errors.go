// Package errors provides the coded error taxonomy shared by the scheduling
// engine and the calling layer.
package errors

import (
	"errors"
	"fmt"
)

// Kind groups codes by how a caller should react to them.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidState Kind = "invalid_state"
	KindCapacity     Kind = "capacity"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindNoPatients   Kind = "no_patients"
	KindInternal     Kind = "internal"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Lookups
	CodeAppointmentNotFound Code = "APPOINTMENT_NOT_FOUND"
	CodeTokenNotFound       Code = "TOKEN_NOT_FOUND"
	CodeDoctorNotFound      Code = "DOCTOR_NOT_FOUND"
	CodePatientNotFound     Code = "PATIENT_NOT_FOUND"

	// Ownership
	CodeNotAppointmentOwner Code = "NOT_APPOINTMENT_OWNER"

	// Appointment and token state
	CodeAppointmentNotOngoing  Code = "APPOINTMENT_NOT_ONGOING"
	CodeAppointmentClosed      Code = "APPOINTMENT_CLOSED"
	CodeTokenTooEarly          Code = "TOKEN_TOO_EARLY"
	CodeTokenInvalidTransition Code = "TOKEN_INVALID_TRANSITION"
	CodeQueueEmpty             Code = "QUEUE_EMPTY"
	CodeQueueFull              Code = "QUEUE_FULL"
	CodeIntervalExceedsWindow  Code = "INTERVAL_EXCEEDS_WINDOW"
	CodeDuplicateBooking       Code = "DUPLICATE_BOOKING"
	CodeSlotCollision          Code = "SLOT_COLLISION"
	CodeAppointmentBusy        Code = "APPOINTMENT_BUSY"
	CodeVersionConflict        Code = "VERSION_CONFLICT"
	CodeStartNotInFuture       Code = "START_NOT_IN_FUTURE"
	CodeStartNotBeforeEnd      Code = "START_NOT_BEFORE_END"
	CodeDateMismatch           Code = "DATE_MISMATCH"
	CodeInvalidTokenRules      Code = "INVALID_TOKEN_RULES"
	CodeInvalidMaxPatients     Code = "INVALID_MAX_PATIENTS"
	CodeTitleEmpty             Code = "TITLE_EMPTY"
	CodeInvalidDelay           Code = "INVALID_DELAY"
	CodeDoctorInactive         Code = "DOCTOR_INACTIVE"
)

// Kind maps a code onto its taxonomy group.
func (c Code) Kind() Kind {
	switch c {
	case CodeAppointmentNotFound,
		CodeTokenNotFound,
		CodeDoctorNotFound,
		CodePatientNotFound:
		return KindNotFound

	case CodeNotAppointmentOwner:
		return KindUnauthorized

	case CodeAppointmentNotOngoing,
		CodeAppointmentClosed,
		CodeTokenTooEarly,
		CodeTokenInvalidTransition,
		CodeDoctorInactive:
		return KindInvalidState

	case CodeQueueFull,
		CodeIntervalExceedsWindow:
		return KindCapacity

	case CodeDuplicateBooking,
		CodeSlotCollision,
		CodeAppointmentBusy,
		CodeVersionConflict:
		return KindConflict

	case CodeStartNotInFuture,
		CodeStartNotBeforeEnd,
		CodeDateMismatch,
		CodeInvalidTokenRules,
		CodeInvalidMaxPatients,
		CodeTitleEmpty,
		CodeInvalidDelay:
		return KindValidation

	case CodeQueueEmpty:
		return KindNoPatients

	default:
		return KindInternal
	}
}

// Error is a domain error carrying a code and a human readable message.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
}

// New returns an error for code with a fixed message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf returns an error for code with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Kind returns the taxonomy group of the error.
func (e *Error) Kind() Kind { return e.Code.Kind() }

// Is reports whether target is a domain error with the same code, so that
// package sentinels match instances built with a different message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns a copy of e with key set to value.
func (e *Error) WithMetadata(key, value string) *Error {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	return &Error{Code: e.Code, Message: e.Message, Metadata: md}
}

// CodeOf extracts the code from any error. Returns CodeUnknown if err is not
// a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf extracts the taxonomy group from any error. Non-domain errors are
// KindInternal.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

// IsKind reports whether err belongs to kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
