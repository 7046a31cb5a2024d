package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/signal"
	"github.com/justicehub-au/alma-engine/internal/store"
)

var testThresholds = Thresholds{
	ScaleEvidenceMin:  0.65,
	ScaleSafetyMin:    0.60,
	PilotEvidenceMax:  0.50,
	PilotAuthorityMin: 0.60,
	PilotOptionMin:    0.60,
	MitigateSafetyMax: 0.35,
	MonitorComposite:  0.50,
}

type harness struct {
	store  *store.SQLiteStore
	ledger *consent.Ledger
	scorer *Scorer
	ws     model.WeightSet
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	log := zap.NewNop()
	gate := consent.NewGate(st, log)
	eng := &signal.Engine{HarmKeywords: []string{"restraint", "isolation"}}

	ws, err := st.EnsureWeightSet(context.Background(), model.WeightSet{
		Name:                     "test-v1",
		EvidenceStrength:         0.30,
		HarmRisk:                 0.20,
		ImplementationCapability: 0.15,
		CommunityAuthority:       0.25,
		OptionValue:              0.10,
	})
	require.NoError(t, err)

	return &harness{
		store:  st,
		ledger: consent.NewLedger(st, log),
		scorer: NewScorer(st, gate, eng, testThresholds, log),
		ws:     *ws,
	}
}

func (h *harness) seedIntervention(t *testing.T, iv model.Intervention) string {
	t.Helper()
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	if iv.ReviewStatus == "" {
		iv.ReviewStatus = model.ReviewApproved
	}
	geo, _ := json.Marshal(iv.Geography)
	cohort, _ := json.Marshal(iv.TargetCohort)
	if iv.Geography == nil {
		geo = []byte("[]")
	}
	if iv.TargetCohort == nil {
		cohort = []byte("[]")
	}
	var years any
	if iv.YearsOperating != nil {
		years = *iv.YearsOperating
	}
	_, err := h.store.DB().Exec(`
		INSERT INTO interventions
		(id, name, type, geography, target_cohort, consent_level,
		 cultural_authority, review_status, risks, harm_risk_level,
		 org_verified, years_operating, replication_readiness, funding_status,
		 negative_media_count, verified_contributors, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		iv.ID, iv.Name, string(iv.Type), string(geo), string(cohort), string(iv.ConsentLevel),
		iv.CulturalAuthority, string(iv.ReviewStatus), iv.Risks, string(iv.HarmRiskLevel),
		iv.OrgVerified, years, string(iv.ReplicationReadiness), string(iv.FundingStatus),
		iv.NegativeMediaCount, iv.VerifiedContributors,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	return iv.ID
}

func (h *harness) seedEvidence(t *testing.T, interventionID string, et model.EvidenceType, sample sql.NullInt64, outcomeIDs ...string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := h.store.DB().Exec(`
		INSERT INTO evidence (id, title, evidence_type, sample_size, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		id, "study "+id[:8], string(et), sample,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	_, err = h.store.DB().Exec(
		`INSERT INTO intervention_evidence (intervention_id, evidence_id) VALUES (?,?)`,
		interventionID, id)
	require.NoError(t, err)
	for _, oid := range outcomeIDs {
		_, err = h.store.DB().Exec(
			`INSERT INTO evidence_outcomes (evidence_id, outcome_id) VALUES (?,?)`, id, oid)
		require.NoError(t, err)
	}
	return id
}

func (h *harness) seedOutcome(t *testing.T, interventionID, outcomeType string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := h.store.DB().Exec(`
		INSERT INTO outcomes (id, name, outcome_type, created_at, updated_at)
		VALUES (?,?,?,?,?)`,
		id, outcomeType+" outcome", outcomeType,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	_, err = h.store.DB().Exec(
		`INSERT INTO intervention_outcomes (intervention_id, outcome_id) VALUES (?,?)`,
		interventionID, id)
	require.NoError(t, err)
	return id
}

func (h *harness) grant(t *testing.T, et model.EntityType, id string, level model.ConsentLevel) {
	t.Helper()
	_, err := h.ledger.Grant(context.Background(), store.GrantRequest{
		EntityType:    et,
		EntityID:      id,
		Level:         level,
		PermittedUses: []model.Action{model.ActionRead, model.ActionExport, model.ActionCite},
		Actor:         "worker:test",
		Reason:        "fixture",
	})
	require.NoError(t, err)
}

func sample(n int) sql.NullInt64 { return sql.NullInt64{Int64: int64(n), Valid: true} }

var internal = model.Caller{Actor: "analyst", Role: model.RoleInternal}

func TestScoreHighConfidenceScalesNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	years := 5

	id := h.seedIntervention(t, model.Intervention{
		Name:                 "On Country diversion",
		Type:                 model.TypeDiversion,
		Geography:            []string{"NT", "QLD", "WA"},
		ConsentLevel:         model.ConsentFull,
		CulturalAuthority:    true,
		HarmRiskLevel:        model.HarmLow,
		OrgVerified:          true,
		YearsOperating:       &years,
		ReplicationReadiness: model.ReplicationWithSupport,
		VerifiedContributors: 3,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentFull)

	o1 := h.seedOutcome(t, id, "reduced-recidivism")
	o2 := h.seedOutcome(t, id, "school-engagement")
	for _, ev := range []struct {
		typ model.EvidenceType
		n   int
	}{
		{model.EvidenceRCT, 220},
		{model.EvidenceEvaluation, 90},
		{model.EvidenceEvaluation, 60},
	} {
		eid := h.seedEvidence(t, id, ev.typ, sample(ev.n), o1, o2)
		h.grant(t, model.EntityEvidence, eid, model.ConsentFull)
	}

	score, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)

	assert.Greater(t, score.Signals.EvidenceStrength, 2.0/3.0)
	assert.Greater(t, score.Signals.CommunityAuthority, 0.6)
	assert.Equal(t, model.RecScaleNow, score.Recommendation)
	assert.InDelta(t, h.ws.Composite(score.Signals), score.Composite, 1e-9)
	assert.Equal(t, 3, score.EvidenceCount)
}

func TestScoreUnprovenCommunityBackedFundsPilot(t *testing.T) {
	h := newHarness(t)

	id := h.seedIntervention(t, model.Intervention{
		Name:              "Elders mentoring circle",
		Type:              model.TypeCulturalConnection,
		Geography:         []string{"NT"},
		ConsentLevel:      model.ConsentCommunityOnly,
		CulturalAuthority: true,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentCommunityOnly)

	score, err := h.scorer.Score(context.Background(), internal, id, h.ws)
	require.NoError(t, err)

	assert.Zero(t, score.Signals.EvidenceStrength)
	assert.Greater(t, score.Signals.OptionValue, score.Signals.EvidenceStrength+0.5)
	assert.Equal(t, model.RecFundPilot, score.Recommendation)
}

func TestScoreNothingToGoOn(t *testing.T) {
	h := newHarness(t)

	id := h.seedIntervention(t, model.Intervention{
		Name:         "Unattributed program",
		Type:         model.TypePrevention,
		ConsentLevel: model.ConsentAnonymousOnly,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentAnonymousOnly)

	score, err := h.scorer.Score(context.Background(), internal, id, h.ws)
	require.NoError(t, err)
	assert.Equal(t, model.RecInsufficientEvidence, score.Recommendation)
}

func TestScoreIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.seedIntervention(t, model.Intervention{
		Name:         "Family wraparound",
		Type:         model.TypeWraparound,
		ConsentLevel: model.ConsentAttributed,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentAttributed)

	first, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)
	second, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)

	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, first.Composite, second.Composite)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.NotEqual(t, first.ID, second.ID)

	hist, err := h.store.ScoreHistory(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestScoreExcludesRevokedEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.seedIntervention(t, model.Intervention{
		Name:         "Restorative conferencing",
		Type:         model.TypeRestorative,
		ConsentLevel: model.ConsentAttributed,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentAttributed)

	o1 := h.seedOutcome(t, id, "reduced-recidivism")
	e1 := h.seedEvidence(t, id, model.EvidenceRCT, sample(180), o1)
	e2 := h.seedEvidence(t, id, model.EvidenceEvaluation, sample(70), o1)
	h.grant(t, model.EntityEvidence, e1, model.ConsentFull)
	h.grant(t, model.EntityEvidence, e2, model.ConsentFull)

	before, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)
	assert.Equal(t, 2, before.EvidenceCount)

	_, err = h.ledger.Revoke(ctx, model.EntityEvidence, e1, "worker:test", "community withdrew study")
	require.NoError(t, err)

	after, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)
	assert.Equal(t, 1, after.EvidenceCount)
	assert.LessOrEqual(t, after.Signals.EvidenceStrength, before.Signals.EvidenceStrength)
}

// revokeMidScoreStore revokes one evidence record's consent right after the
// snapshot is taken, before the scorer persists. It models a steward
// withdrawing consent while a recompute is in flight.
type revokeMidScoreStore struct {
	store.Store
	t          *testing.T
	evidenceID string
}

func (s *revokeMidScoreStore) SignalInputs(ctx context.Context, id string) (*model.SignalInputs, error) {
	in, err := s.Store.SignalInputs(ctx, id)
	if err != nil {
		return nil, err
	}
	_, err = s.Store.RevokeConsent(ctx, model.EntityEvidence, s.evidenceID, "worker:test", "withdrawn mid recompute")
	require.NoError(s.t, err)
	return in, nil
}

func TestScoreRevocationMidRecomputeLeavesInterventionDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.seedIntervention(t, model.Intervention{
		Name:         "Night patrol",
		Type:         model.TypeDiversion,
		ConsentLevel: model.ConsentAttributed,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentAttributed)

	e1 := h.seedEvidence(t, id, model.EvidenceEvaluation, sample(80))
	h.grant(t, model.EntityEvidence, e1, model.ConsentFull)

	log := zap.NewNop()
	wrapped := &revokeMidScoreStore{Store: h.store, t: t, evidenceID: e1}
	racer := NewScorer(wrapped, consent.NewGate(h.store, log), &signal.Engine{}, testThresholds, log)

	// The snapshot predates the revocation, so this score still counts
	// the withdrawn study.
	stale, err := racer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.EvidenceCount)

	// The revocation landed after the snapshot, so the persisted score
	// must not be treated as current: dirty tracking has to flag the
	// intervention for recompute.
	dirty, err := h.store.DirtyInterventionIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, dirty, id)

	// The follow-up recompute drops the withdrawn study and settles.
	after, err := h.scorer.Score(ctx, internal, id, h.ws)
	require.NoError(t, err)
	assert.Equal(t, 0, after.EvidenceCount)

	dirty, err = h.store.DirtyInterventionIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, dirty, id)
}

func TestScoreDeniedWithoutConsent(t *testing.T) {
	h := newHarness(t)

	id := h.seedIntervention(t, model.Intervention{
		Name: "Silent program",
		Type: model.TypeTherapeutic,
	})
	// No consent grant at all.

	_, err := h.scorer.Score(context.Background(), internal, id, h.ws)
	require.Error(t, err)
	reason, ok := alerr.IsConsentRestricted(err)
	require.True(t, ok)
	assert.Equal(t, alerr.ReasonNoConsent, reason)

	// The denial for a nonexistent intervention is identical.
	_, err2 := h.scorer.Score(context.Background(), internal, uuid.New().String(), h.ws)
	reason2, ok := alerr.IsConsentRestricted(err2)
	require.True(t, ok)
	assert.Equal(t, reason, reason2)
}

func TestScoreArchivedInterventionRejected(t *testing.T) {
	h := newHarness(t)

	id := h.seedIntervention(t, model.Intervention{
		Name:         "Rejected program",
		Type:         model.TypeCustodialReform,
		ReviewStatus: model.ReviewRejected,
	})
	h.grant(t, model.EntityIntervention, id, model.ConsentFull)

	_, err := h.scorer.Score(context.Background(), internal, id, h.ws)
	assert.Error(t, err)
}

func TestScoreRejectsUnbalancedWeights(t *testing.T) {
	h := newHarness(t)
	bad := h.ws
	bad.OptionValue += 0.2

	_, err := h.scorer.Score(context.Background(), internal, "any", bad)
	assert.Error(t, err)
}
