// Package alerr defines the engine's error taxonomy and retry helpers.
//
// Four kinds cover every failure the scoring core can surface: NotFound
// (unknown entity, fatal to the request), ConsentRestricted (caller lacks
// permission, carries a machine-readable reason code), StaleInput (an
// upstream record changed mid-recompute, retried once), and
// InvariantViolation (consistency bug upstream, blocks further writes).
package alerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConsentRestricted  Kind = "consent_restricted"
	KindStaleInput         Kind = "stale_input"
	KindInvariantViolation Kind = "invariant_violation"
)

// ReasonCode is the machine-readable reason attached to a consent denial.
// Distinct from a generic failure so callers can act on it.
type ReasonCode string

const (
	ReasonNoConsent     ReasonCode = "no-consent"
	ReasonExpired       ReasonCode = "expired"
	ReasonRevoked       ReasonCode = "revoked"
	ReasonPendingReview ReasonCode = "pending-review"
	ReasonUseNotGranted ReasonCode = "use-not-granted"
)

// Error is the engine's typed error. Entity identifies the subject for
// logging; it is never included in API responses for consent denials, so a
// denied caller cannot tell a restricted entity from a missing one.
type Error struct {
	Kind   Kind
	Reason ReasonCode
	Entity string
	msg    string
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.msg, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// NotFound reports an unknown entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, msg: "entity does not exist"}
}

// ConsentRestricted reports a denied action with its reason code.
func ConsentRestricted(reason ReasonCode, entity string) *Error {
	return &Error{Kind: KindConsentRestricted, Reason: reason, Entity: entity, msg: "action not permitted"}
}

// StaleInput reports that an upstream record changed while a recompute was
// reading it.
func StaleInput(entity string) *Error {
	return &Error{Kind: KindStaleInput, Entity: entity, msg: "upstream record changed mid-read"}
}

// InvariantViolation reports a broken consistency invariant, e.g. more than
// one active consent record for an entity.
func InvariantViolation(entity, detail string) *Error {
	return &Error{Kind: KindInvariantViolation, Entity: entity, msg: detail}
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsStaleInput reports whether err is a StaleInput error.
func IsStaleInput(err error) bool { return isKind(err, KindStaleInput) }

// IsInvariantViolation reports whether err is an InvariantViolation error.
func IsInvariantViolation(err error) bool { return isKind(err, KindInvariantViolation) }

// IsConsentRestricted reports whether err is a consent denial and, if so,
// returns its reason code.
func IsConsentRestricted(err error) (ReasonCode, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConsentRestricted {
		return e.Reason, true
	}
	return "", false
}
