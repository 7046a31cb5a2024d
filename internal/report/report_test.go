package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

type fixture struct {
	store  *store.SQLiteStore
	gate   *consent.Gate
	ledger *consent.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	log := zap.NewNop()
	return &fixture{
		store:  st,
		gate:   consent.NewGate(st, log),
		ledger: consent.NewLedger(st, log),
	}
}

func (f *fixture) seed(t *testing.T, iv model.Intervention, signals *model.Signals, rec model.Recommendation) string {
	t.Helper()
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	geo := "[]"
	if len(iv.Geography) > 0 {
		geo = `["` + iv.Geography[0] + `"`
		for _, g := range iv.Geography[1:] {
			geo += `,"` + g + `"`
		}
		geo += `]`
	}
	_, err := f.store.DB().Exec(`
		INSERT INTO interventions
		(id, name, type, geography, consent_level, operating_organization,
		 funding_status, review_status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		iv.ID, iv.Name, string(iv.Type), geo, string(iv.ConsentLevel),
		iv.OperatingOrganization, string(iv.FundingStatus), string(model.ReviewApproved),
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	if signals != nil {
		ws, err := f.store.EnsureWeightSet(context.Background(), model.WeightSet{
			Name:                     "report-test",
			EvidenceStrength:         0.30,
			HarmRisk:                 0.20,
			ImplementationCapability: 0.15,
			CommunityAuthority:       0.25,
			OptionValue:              0.10,
		})
		require.NoError(t, err)
		require.NoError(t, f.store.SaveScore(context.Background(), &model.PortfolioScore{
			InterventionID: iv.ID,
			WeightSetID:    ws.ID,
			Signals:        *signals,
			Composite:      ws.Composite(*signals),
			Recommendation: rec,
		}))
	}
	return iv.ID
}

func (f *fixture) grant(t *testing.T, id string, level model.ConsentLevel, uses ...model.Action) {
	t.Helper()
	if len(uses) == 0 {
		uses = []model.Action{model.ActionRead, model.ActionExport}
	}
	_, err := f.ledger.Grant(context.Background(), store.GrantRequest{
		EntityType:    model.EntityIntervention,
		EntityID:      id,
		Level:         level,
		PermittedUses: uses,
		Actor:         "worker:test",
		Reason:        "fixture",
	})
	require.NoError(t, err)
}

var analyst = model.Caller{Actor: "analyst", Role: model.RoleCommunity}

func TestGapReporterFindsUnderservedRegions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	thin := &model.Signals{EvidenceStrength: 0.1, HarmRisk: 0.7, ImplementationCapability: 0.5, CommunityAuthority: 0.8, OptionValue: 0.85}
	proven := &model.Signals{EvidenceStrength: 0.9, HarmRisk: 0.9, ImplementationCapability: 0.8, CommunityAuthority: 0.6, OptionValue: 0.15}

	a := f.seed(t, model.Intervention{
		Name: "A", Type: model.TypeDiversion, Geography: []string{"NT"},
		FundingStatus: model.FundingUnfunded,
	}, thin, model.RecFundPilot)
	f.grant(t, a, model.ConsentCommunityOnly)

	b := f.seed(t, model.Intervention{
		Name: "B", Type: model.TypeDiversion, Geography: []string{"NSW"},
		FundingStatus: model.FundingEstablished,
	}, proven, model.RecScaleNow)
	f.grant(t, b, model.ConsentFull)

	rep := NewGapReporter(f.store, f.gate, 10, 0.4, zap.NewNop())
	got, err := rep.Find(ctx, analyst, store.InterventionFilter{})
	require.NoError(t, err)

	require.Len(t, got.Geography, 2)
	var nt, nsw CoverageGap
	for _, g := range got.Geography {
		switch g.Key {
		case "NT":
			nt = g
		case "NSW":
			nsw = g
		}
	}
	// Unfunded coverage counts half, so NT gaps wider than NSW.
	assert.Greater(t, nt.GapScore, nsw.GapScore)
	assert.Equal(t, 1, nt.Unfunded)

	// Only the thin-evidence high-upside intervention is a candidate.
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, a, got.Candidates[0].InterventionID)
}

func TestGapReporterHidesRestrictedFromPublic(t *testing.T) {
	f := newFixture(t)

	thin := &model.Signals{EvidenceStrength: 0.1, CommunityAuthority: 0.8, OptionValue: 0.85, HarmRisk: 0.7, ImplementationCapability: 0.5}
	id := f.seed(t, model.Intervention{
		Name: "Community program", Type: model.TypeCulturalConnection, Geography: []string{"NT"},
	}, thin, model.RecFundPilot)
	f.grant(t, id, model.ConsentCommunityOnly)

	rep := NewGapReporter(f.store, f.gate, 10, 0.4, zap.NewNop())

	public := model.Caller{Actor: "visitor", Role: model.RolePublic}
	got, err := rep.Find(context.Background(), public, store.InterventionFilter{})
	require.NoError(t, err)
	assert.Empty(t, got.Geography)
	assert.Empty(t, got.Candidates)
}

func TestCompareOmitsRestrictedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proven := &model.Signals{EvidenceStrength: 0.9, HarmRisk: 0.9, ImplementationCapability: 0.8, CommunityAuthority: 0.6, OptionValue: 0.15}
	x := f.seed(t, model.Intervention{
		Name: "Open program", Type: model.TypeDiversion, OperatingOrganization: "Org X",
	}, proven, model.RecScaleNow)
	f.grant(t, x, model.ConsentFull)

	y := f.seed(t, model.Intervention{
		Name: "Community-held program", Type: model.TypeCulturalConnection,
	}, proven, model.RecScaleNow)
	f.grant(t, y, model.ConsentCommunityOnly)

	cmp := NewComparer(f.store, f.gate, zap.NewNop())
	public := model.Caller{Actor: "visitor", Role: model.RolePublic}

	rows, err := cmp.Compare(ctx, public, []string{x, y})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.False(t, rows[0].Restricted)
	assert.Equal(t, "Open program", rows[0].Name)
	require.NotNil(t, rows[0].Composite)

	// Y comes back as a stub, not an error for the whole call.
	assert.True(t, rows[1].Restricted)
	assert.Equal(t, alerr.ReasonUseNotGranted, rows[1].Reason)
	assert.Empty(t, rows[1].Name)
	assert.Nil(t, rows[1].Signals)
}

func TestCompareAnonymousOnlyBlanksAttribution(t *testing.T) {
	f := newFixture(t)

	proven := &model.Signals{EvidenceStrength: 0.9, HarmRisk: 0.9, ImplementationCapability: 0.8, CommunityAuthority: 0.6, OptionValue: 0.15}
	id := f.seed(t, model.Intervention{
		Name: "Named program", Type: model.TypeTherapeutic, OperatingOrganization: "Org Z",
	}, proven, model.RecScaleNow)
	f.grant(t, id, model.ConsentAnonymousOnly)

	cmp := NewComparer(f.store, f.gate, zap.NewNop())
	rows, err := cmp.Compare(context.Background(), analyst, []string{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.False(t, rows[0].Restricted)
	assert.Empty(t, rows[0].Name)
	assert.Empty(t, rows[0].OperatingOrganization)
	require.NotNil(t, rows[0].Signals)
	assert.Equal(t, model.RecScaleNow, rows[0].Recommendation)
}

func TestCompareUnknownIDGetsStub(t *testing.T) {
	f := newFixture(t)

	cmp := NewComparer(f.store, f.gate, zap.NewNop())
	rows, err := cmp.Compare(context.Background(), analyst, []string{uuid.New().String()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Restricted)
	assert.Equal(t, alerr.ReasonNoConsent, rows[0].Reason)
}

func TestExporterRespectsExportConsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proven := &model.Signals{EvidenceStrength: 0.9, HarmRisk: 0.9, ImplementationCapability: 0.8, CommunityAuthority: 0.6, OptionValue: 0.15}

	exportable := f.seed(t, model.Intervention{Name: "Exportable", Type: model.TypeDiversion}, proven, model.RecScaleNow)
	f.grant(t, exportable, model.ConsentFull, model.ActionRead, model.ActionExport)

	readOnly := f.seed(t, model.Intervention{Name: "Read only", Type: model.TypeDiversion}, proven, model.RecScaleNow)
	f.grant(t, readOnly, model.ConsentFull, model.ActionRead)

	exp := NewExporter(f.store, f.gate, zap.NewNop())
	var buf bytes.Buffer
	n, err := exp.Portfolio(ctx, analyst, store.InterventionFilter{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, buf.Len())
}
