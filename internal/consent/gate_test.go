package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

type stubStore struct {
	store.Store
	recs map[string]*model.ConsentRecord
}

func (s *stubStore) ActiveConsent(_ context.Context, et model.EntityType, id string) (*model.ConsentRecord, error) {
	return s.recs[string(et)+"/"+id], nil
}

func activeRecord(level model.ConsentLevel, uses ...model.Action) *model.ConsentRecord {
	return &model.ConsentRecord{
		ID:            "c1",
		EntityType:    model.EntityIntervention,
		EntityID:      "iv1",
		Level:         level,
		PermittedUses: uses,
		GrantedBy:     "tester",
		GrantedAt:     time.Now().Add(-time.Hour),
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}

func TestGateCheck(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(24 * time.Hour)

	expired := activeRecord(model.ConsentFull, model.ActionRead)
	expired.ExpiresAt = &past

	notYetExpired := activeRecord(model.ConsentFull, model.ActionRead)
	notYetExpired.ExpiresAt = &future

	revoked := activeRecord(model.ConsentFull, model.ActionRead)
	revoked.Revoked = true

	pending := activeRecord(model.ConsentFull, model.ActionRead, model.ActionExport)
	pending.RequiresReview = true

	reviewed := activeRecord(model.ConsentFull, model.ActionRead, model.ActionExport)
	reviewed.RequiresReview = true
	reviewed.ReviewCompleted = true

	tests := []struct {
		name    string
		rec     *model.ConsentRecord
		caller  model.Caller
		action  model.Action
		allowed bool
		reason  alerr.ReasonCode
	}{
		{
			name:    "no record denies with no-consent",
			rec:     nil,
			caller:  model.Caller{Actor: "a", Role: model.RolePublic},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonNoConsent,
		},
		{
			name:    "level none denies even with read in uses",
			rec:     activeRecord(model.ConsentNone, model.ActionRead),
			caller:  model.Caller{Actor: "a", Role: model.RoleInternal},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonNoConsent,
		},
		{
			name:    "revoked is terminal",
			rec:     revoked,
			caller:  model.Caller{Actor: "a", Role: model.RoleInternal},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonRevoked,
		},
		{
			name:    "expired record denies with expired",
			rec:     expired,
			caller:  model.Caller{Actor: "a", Role: model.RoleCommunity},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonExpired,
		},
		{
			name:    "future expiry still permits",
			rec:     notYetExpired,
			caller:  model.Caller{Actor: "a", Role: model.RoleCommunity},
			action:  model.ActionRead,
			allowed: true,
		},
		{
			name:    "pending review permits internal read",
			rec:     pending,
			caller:  model.Caller{Actor: "a", Role: model.RoleInternal},
			action:  model.ActionRead,
			allowed: true,
		},
		{
			name:    "pending review denies internal export",
			rec:     pending,
			caller:  model.Caller{Actor: "a", Role: model.RoleInternal},
			action:  model.ActionExport,
			allowed: false,
			reason:  alerr.ReasonPendingReview,
		},
		{
			name:    "pending review denies public read",
			rec:     pending,
			caller:  model.Caller{Actor: "a", Role: model.RolePublic},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonPendingReview,
		},
		{
			name:    "completed review restores full access",
			rec:     reviewed,
			caller:  model.Caller{Actor: "a", Role: model.RolePublic},
			action:  model.ActionExport,
			allowed: true,
		},
		{
			name:    "community-only denies public caller",
			rec:     activeRecord(model.ConsentCommunityOnly, model.ActionRead),
			caller:  model.Caller{Actor: "a", Role: model.RolePublic},
			action:  model.ActionRead,
			allowed: false,
			reason:  alerr.ReasonUseNotGranted,
		},
		{
			name:    "community-only permits community caller",
			rec:     activeRecord(model.ConsentCommunityOnly, model.ActionRead),
			caller:  model.Caller{Actor: "a", Role: model.RoleCommunity},
			action:  model.ActionRead,
			allowed: true,
		},
		{
			name:    "use outside permitted set denies",
			rec:     activeRecord(model.ConsentFull, model.ActionRead),
			caller:  model.Caller{Actor: "a", Role: model.RoleInternal},
			action:  model.ActionPublish,
			allowed: false,
			reason:  alerr.ReasonUseNotGranted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &stubStore{recs: map[string]*model.ConsentRecord{}}
			if tt.rec != nil {
				st.recs["intervention/iv1"] = tt.rec
			}
			gate := NewGate(st, zap.NewNop())

			dec, err := gate.Check(context.Background(), tt.caller, tt.action, model.EntityIntervention, "iv1")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, dec.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.reason, dec.Reason)
				assert.Nil(t, dec.Record)
			} else {
				assert.NotNil(t, dec.Record)
			}
		})
	}
}

func TestGateRequireReturnsTypedDenial(t *testing.T) {
	st := &stubStore{recs: map[string]*model.ConsentRecord{}}
	gate := NewGate(st, zap.NewNop())

	_, err := gate.Require(context.Background(),
		model.Caller{Actor: "a", Role: model.RolePublic},
		model.ActionRead, model.EntityIntervention, "missing")
	require.Error(t, err)

	reason, ok := alerr.IsConsentRestricted(err)
	require.True(t, ok)
	assert.Equal(t, alerr.ReasonNoConsent, reason)
}

func TestGateUnknownEntityIndistinguishable(t *testing.T) {
	// An entity with no ledger entry and one that does not exist at all must
	// produce identical denials.
	st := &stubStore{recs: map[string]*model.ConsentRecord{}}
	gate := NewGate(st, zap.NewNop())
	caller := model.Caller{Actor: "a", Role: model.RolePublic}

	decUnknown, err := gate.Check(context.Background(), caller, model.ActionRead, model.EntityIntervention, "does-not-exist")
	require.NoError(t, err)

	decUngranted, err := gate.Check(context.Background(), caller, model.ActionRead, model.EntityIntervention, "exists-but-silent")
	require.NoError(t, err)

	assert.Equal(t, decUnknown, decUngranted)
}
