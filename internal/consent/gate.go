// Package consent evaluates whether a caller may act on an entity's data
// and manages the append-only consent ledger that the answer comes from.
package consent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Decision is the result of a gate check. Denials carry the reason code the
// API surfaces; the record itself is only populated on allowed decisions so
// handlers cannot accidentally leak a restricted entity's ledger entry.
type Decision struct {
	Allowed bool               `json:"allowed"`
	Reason  alerr.ReasonCode   `json:"reason,omitempty"`
	State   model.ConsentState `json:"state"`
	Record  *model.ConsentRecord `json:"-"`
}

// Gate answers permission checks against the consent ledger.
type Gate struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewGate returns a Gate backed by the given store.
func NewGate(st store.Store, log *zap.Logger) *Gate {
	return &Gate{store: st, log: log.Named("consent"), now: time.Now}
}

// Check evaluates whether caller may perform action on the entity. An
// unknown entity and an entity with no consent record produce the same
// denial, so a denied caller cannot probe for existence.
func (g *Gate) Check(ctx context.Context, caller model.Caller, action model.Action, et model.EntityType, entityID string) (*Decision, error) {
	rec, err := g.store.ActiveConsent(ctx, et, entityID)
	if err != nil {
		return nil, err
	}

	dec := g.evaluate(caller, action, rec)
	if !dec.Allowed {
		g.log.Debug("denied",
			zap.String("actor", caller.Actor),
			zap.String("role", string(caller.Role)),
			zap.String("action", string(action)),
			zap.String("entity_type", string(et)),
			zap.String("entity_id", entityID),
			zap.String("reason", string(dec.Reason)))
	}
	return dec, nil
}

// Require is Check folded into the error taxonomy: a denial comes back as a
// ConsentRestricted error carrying the reason code.
func (g *Gate) Require(ctx context.Context, caller model.Caller, action model.Action, et model.EntityType, entityID string) (*model.ConsentRecord, error) {
	dec, err := g.Check(ctx, caller, action, et, entityID)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, alerr.ConsentRestricted(dec.Reason, string(et)+"/"+entityID)
	}
	return dec.Record, nil
}

func (g *Gate) evaluate(caller model.Caller, action model.Action, rec *model.ConsentRecord) *Decision {
	state := rec.State(g.now())

	switch state {
	case model.StateNoConsent:
		return deny(alerr.ReasonNoConsent, state)
	case model.StateRevoked:
		return deny(alerr.ReasonRevoked, state)
	case model.StateExpired:
		return deny(alerr.ReasonExpired, state)
	case model.StatePendingReview:
		// An open cultural-authority review freezes outward use. Internal
		// callers keep read access so the review itself can proceed.
		if caller.Role == model.RoleInternal && action == model.ActionRead {
			return &Decision{Allowed: true, State: state, Record: rec}
		}
		return deny(alerr.ReasonPendingReview, state)
	}

	if rec.Level == model.ConsentNone {
		return deny(alerr.ReasonNoConsent, state)
	}
	if rec.Level == model.ConsentCommunityOnly && caller.Role == model.RolePublic {
		return deny(alerr.ReasonUseNotGranted, state)
	}
	if !rec.Permits(action) {
		return deny(alerr.ReasonUseNotGranted, state)
	}
	return &Decision{Allowed: true, State: state, Record: rec}
}

func deny(reason alerr.ReasonCode, state model.ConsentState) *Decision {
	return &Decision{Allowed: false, Reason: reason, State: state}
}

// Visible reports whether the record alone (no ledger lookup) permits the
// action for the caller. The signal calculators use it to filter evidence
// by the consent snapshot already fetched with the inputs.
func (g *Gate) Visible(caller model.Caller, action model.Action, rec *model.ConsentRecord) bool {
	return g.evaluate(caller, action, rec).Allowed
}
