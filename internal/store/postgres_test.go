package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

// anyArgs builds n wildcard matchers; pgxmock requires the argument count
// to match even when the values are irrelevant to the test.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func mockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var consentColumnNames = []string{
	"id", "entity_type", "entity_id", "consent_level", "permitted_uses",
	"requires_review", "review_completed", "granted_by", "grant_reason", "granted_at",
	"expires_at", "revoked", "revoked_at", "revoked_by", "revoke_reason", "superseded_at", "created_at",
}

func consentRow(id string) []any {
	now := time.Now().UTC()
	return []any{
		id, model.EntityEvidence, "ev-1", model.ConsentCommunityOnly, []string{"read", "cite"},
		false, false, "steward", "initial grant", now,
		(*time.Time)(nil), false, (*time.Time)(nil), "", "", (*time.Time)(nil), now,
	}
}

func TestGrantConsentSupersedesActiveRecord(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM consent_ledger").
		WithArgs("evidence", "ev-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("old-1"))
	mock.ExpectExec("UPDATE consent_ledger SET superseded_at").
		WithArgs(pgxmock.AnyArg(), "old-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO consent_ledger").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE evidence SET updated_at").
		WithArgs("ev-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, err := st.GrantConsent(context.Background(), GrantRequest{
		EntityType:    model.EntityEvidence,
		EntityID:      "ev-1",
		Level:         model.ConsentFull,
		PermittedUses: []model.Action{model.ActionRead, model.ActionCite},
		Actor:         "steward",
		Reason:        "escalated to full",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.ConsentFull, rec.Level)
	assert.False(t, rec.Revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantConsentFreshEntityInsertsWithoutSupersede(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM consent_ledger").
		WithArgs("intervention", "iv-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO consent_ledger").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE interventions SET updated_at").
		WithArgs("iv-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, err := st.GrantConsent(context.Background(), GrantRequest{
		EntityType:    model.EntityIntervention,
		EntityID:      "iv-1",
		Level:         model.ConsentCommunityOnly,
		PermittedUses: []model.Action{model.ActionRead},
		Actor:         "steward",
		Reason:        "initial grant",
	})
	require.NoError(t, err)
	assert.Equal(t, "iv-1", rec.EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantConsentRefusesMultipleActiveRecords(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM consent_ledger").
		WithArgs("evidence", "ev-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a-1").AddRow("a-2"))
	mock.ExpectRollback()

	_, err := st.GrantConsent(context.Background(), GrantRequest{
		EntityType:    model.EntityEvidence,
		EntityID:      "ev-1",
		Level:         model.ConsentFull,
		PermittedUses: []model.Action{model.ActionRead},
		Actor:         "steward",
		Reason:        "grant",
	})
	require.Error(t, err)
	assert.True(t, alerr.IsInvariantViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantConsentRejectsMalformedExpiry(t *testing.T) {
	st, _ := mockStore(t)

	bad := "next tuesday"
	_, err := st.GrantConsent(context.Background(), GrantRequest{
		EntityType: model.EntityEvidence,
		EntityID:   "ev-1",
		Level:      model.ConsentFull,
		Actor:      "steward",
		Reason:     "grant",
		ExpiresAt:  &bad,
	})
	require.Error(t, err)
}

func TestRevokeConsentMarksRecordTerminal(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM consent_ledger").
		WithArgs("evidence", "ev-1").
		WillReturnRows(pgxmock.NewRows(consentColumnNames).AddRow(consentRow("c-1")...))
	mock.ExpectExec("UPDATE consent_ledger").
		WithArgs(pgxmock.AnyArg(), "steward", "community withdrew", "c-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE evidence SET updated_at").
		WithArgs("ev-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec, err := st.RevokeConsent(context.Background(), model.EntityEvidence, "ev-1", "steward", "community withdrew")
	require.NoError(t, err)
	assert.True(t, rec.Revoked)
	assert.NotNil(t, rec.RevokedAt)
	assert.Equal(t, "steward", rec.RevokedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeConsentWithNoActiveRecordIsNotFound(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM consent_ledger").
		WithArgs("evidence", "ev-gone").
		WillReturnRows(pgxmock.NewRows(consentColumnNames))
	mock.ExpectRollback()

	_, err := st.RevokeConsent(context.Background(), model.EntityEvidence, "ev-gone", "steward", "cleanup")
	require.Error(t, err)
	assert.True(t, alerr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveConsentReturnsNilWhenAbsent(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectQuery("FROM consent_ledger").
		WithArgs("evidence", "ev-none").
		WillReturnError(pgx.ErrNoRows)

	rec, err := st.ActiveConsent(context.Background(), model.EntityEvidence, "ev-none")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInterventionNotFound(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectQuery("FROM interventions").
		WithArgs("iv-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetIntervention(context.Background(), "iv-missing")
	require.Error(t, err)
	assert.True(t, alerr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScoreAppendsRowAndCachesSignals(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO portfolio_scores").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE interventions SET").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	score := &model.PortfolioScore{
		InterventionID: "iv-1",
		WeightSetID:    "ws-1",
		Signals: model.Signals{
			EvidenceStrength:         0.75,
			HarmRisk:                 0.9,
			ImplementationCapability: 0.6,
			CommunityAuthority:       0.8,
			OptionValue:              0.4,
		},
		Composite:      0.71,
		Recommendation: model.RecScaleNow,
		EvidenceCount:  4,
		OutcomeCount:   3,
	}
	require.NoError(t, st.SaveScore(context.Background(), score))
	assert.NotEmpty(t, score.ID)
	assert.False(t, score.ScoredAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScoreRollsBackWhenCacheUpdateFails(t *testing.T) {
	st, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO portfolio_scores").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE interventions SET").
		WithArgs(anyArgs(7)...).
		WillReturnError(pgx.ErrTxClosed)
	mock.ExpectRollback()

	err := st.SaveScore(context.Background(), &model.PortfolioScore{
		InterventionID: "iv-1",
		WeightSetID:    "ws-1",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
