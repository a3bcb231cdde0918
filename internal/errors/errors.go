package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to present or retry it.
type Kind string

const (
	KindValidation              Kind = "ValidationError"
	KindNotFound                Kind = "NotFound"
	KindSlotConflict            Kind = "SlotConflict"
	KindInvalidTransition       Kind = "InvalidTransition"
	KindSubscriptionBlocked     Kind = "SubscriptionBlocked"
	KindCollaboratorUnavailable Kind = "CollaboratorUnavailable"
	KindFacilityUnavailable     Kind = "FacilityUnavailable"
	KindUnauthorized            Kind = "Unauthorized"
	KindForbidden               Kind = "Forbidden"
)

// Error is the structured failure returned by every core operation. Entity and
// ID name the offending record, Field the offending input field.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, ErrSlotConflict) holds for
// any SlotConflict regardless of the entity it names.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Entity == "" && t.ID == "" && t.Field == "" && t.Message == ""
}

var (
	ErrValidation              = &Error{Kind: KindValidation}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrSlotConflict            = &Error{Kind: KindSlotConflict}
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrSubscriptionBlocked     = &Error{Kind: KindSubscriptionBlocked}
	ErrCollaboratorUnavailable = &Error{Kind: KindCollaboratorUnavailable}
	ErrFacilityUnavailable     = &Error{Kind: KindFacilityUnavailable}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
	ErrForbidden               = &Error{Kind: KindForbidden}
)

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func SlotConflict(slot string) *Error {
	return &Error{Kind: KindSlotConflict, Entity: "slot", ID: slot, Message: fmt.Sprintf("slot %s is already reserved", slot)}
}

func InvalidTransition(entity, id, message string) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: entity, ID: id, Message: message}
}

func SubscriptionBlocked(affiliateID string) *Error {
	return &Error{
		Kind:    KindSubscriptionBlocked,
		Entity:  "affiliate",
		ID:      affiliateID,
		Message: fmt.Sprintf("affiliate %s is suspended; writes are disabled until payment is confirmed", affiliateID),
	}
}

func FacilityUnavailable(facilityID string) *Error {
	return &Error{Kind: KindFacilityUnavailable, Entity: "facility", ID: facilityID, Message: fmt.Sprintf("facility %s is not accepting reservations", facilityID)}
}

// CollaboratorUnavailable wraps a failure of an external collaborator. An
// error that is already typed is returned unchanged.
func CollaboratorUnavailable(collaborator string, err error) error {
	var typed *Error
	if stderrors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindCollaboratorUnavailable, Entity: collaborator, Message: collaborator + " unavailable", Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// As exposes the typed error carried by err, if any.
func As(err error) (*Error, bool) {
	var typed *Error
	ok := stderrors.As(err, &typed)
	return typed, ok
}
