package consent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

var validLevels = map[model.ConsentLevel]bool{
	model.ConsentNone:          true,
	model.ConsentAnonymousOnly: true,
	model.ConsentAttributed:    true,
	model.ConsentFull:          true,
	model.ConsentCommunityOnly: true,
}

var validActions = map[model.Action]bool{
	model.ActionRead:    true,
	model.ActionExport:  true,
	model.ActionCite:    true,
	model.ActionTrain:   true,
	model.ActionPublish: true,
}

var validEntityTypes = map[model.EntityType]bool{
	model.EntityIntervention: true,
	model.EntityEvidence:     true,
	model.EntityOutcome:      true,
}

// Ledger validates and records consent grants and revocations. Every write
// appends; nothing in the ledger is ever updated in place except the
// superseded and revoked markers on the previous record.
type Ledger struct {
	store store.Store
	log   *zap.Logger
}

// NewLedger returns a Ledger backed by the given store.
func NewLedger(st store.Store, log *zap.Logger) *Ledger {
	return &Ledger{store: st, log: log.Named("ledger")}
}

// Grant records a new consent grant, superseding any active record for the
// entity. A revoked entity cannot be re-granted by the same flow that
// revoked it; revocation is terminal for that record, and a fresh grant
// starts a new record with its own audit trail.
func (l *Ledger) Grant(ctx context.Context, req store.GrantRequest) (*model.ConsentRecord, error) {
	if err := l.validate(req); err != nil {
		return nil, err
	}

	rec, err := l.store.GrantConsent(ctx, req)
	if err != nil {
		return nil, err
	}

	l.log.Info("consent granted",
		zap.String("entity_type", string(req.EntityType)),
		zap.String("entity_id", req.EntityID),
		zap.String("level", string(req.Level)),
		zap.Bool("requires_review", req.RequiresReview),
		zap.String("actor", req.Actor))
	return rec, nil
}

// Revoke marks the entity's active consent record as revoked. The record
// stays in the ledger; revocation never deletes.
func (l *Ledger) Revoke(ctx context.Context, et model.EntityType, entityID, actor, reason string) (*model.ConsentRecord, error) {
	if !validEntityTypes[et] {
		return nil, eris.Errorf("unknown entity type %q", et)
	}
	if actor == "" {
		return nil, eris.New("revocation requires an actor")
	}
	if reason == "" {
		return nil, eris.New("revocation requires a reason")
	}

	rec, err := l.store.RevokeConsent(ctx, et, entityID, actor, reason)
	if err != nil {
		return nil, err
	}

	l.log.Info("consent revoked",
		zap.String("entity_type", string(et)),
		zap.String("entity_id", entityID),
		zap.String("actor", actor))
	return rec, nil
}

// History returns the full ledger for an entity, newest first. History reads
// are internal-only; the API layer enforces the role before calling.
func (l *Ledger) History(ctx context.Context, et model.EntityType, entityID string) ([]model.ConsentRecord, error) {
	if !validEntityTypes[et] {
		return nil, eris.Errorf("unknown entity type %q", et)
	}
	recs, err := l.store.ConsentHistory(ctx, et, entityID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, alerr.NotFound(string(et) + "/" + entityID)
	}
	return recs, nil
}

func (l *Ledger) validate(req store.GrantRequest) error {
	if !validEntityTypes[req.EntityType] {
		return eris.Errorf("unknown entity type %q", req.EntityType)
	}
	if req.EntityID == "" {
		return eris.New("grant requires an entity id")
	}
	if !validLevels[req.Level] {
		return eris.Errorf("unknown consent level %q", req.Level)
	}
	for _, a := range req.PermittedUses {
		if !validActions[a] {
			return eris.Errorf("unknown permitted use %q", a)
		}
	}
	if req.Actor == "" {
		return eris.New("grant requires an actor")
	}
	if req.Reason == "" {
		return eris.New("grant requires a reason")
	}
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			return eris.Wrap(err, "invalid expires_at")
		}
		if !t.After(time.Now()) {
			return eris.New("expires_at must be in the future")
		}
	}
	return nil
}
