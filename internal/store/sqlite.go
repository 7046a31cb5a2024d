package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. String-set columns
// are stored as JSON text. The consent ledger's compare-and-swap is guarded
// by a process-local mutex on top of the transaction, since SQLite has no
// row-level SELECT FOR UPDATE.
type SQLiteStore struct {
	db        *sql.DB
	consentMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS interventions (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	type                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	geography              TEXT NOT NULL DEFAULT '[]',
	target_cohort          TEXT NOT NULL DEFAULT '[]',
	consent_level          TEXT NOT NULL DEFAULT 'none',
	cultural_authority     INTEGER NOT NULL DEFAULT 0,
	review_status          TEXT NOT NULL DEFAULT 'pending',
	risks                  TEXT NOT NULL DEFAULT '',
	harm_risk_level        TEXT NOT NULL DEFAULT '',
	operating_organization TEXT NOT NULL DEFAULT '',
	org_verified           INTEGER NOT NULL DEFAULT 0,
	years_operating        INTEGER,
	replication_readiness  TEXT NOT NULL DEFAULT '',
	funding_status         TEXT NOT NULL DEFAULT '',
	negative_media_count   INTEGER NOT NULL DEFAULT 0,
	verified_contributors  INTEGER NOT NULL DEFAULT 0,
	evidence_strength_signal         REAL,
	harm_risk_signal                 REAL,
	implementation_capability_signal REAL,
	community_authority_signal       REAL,
	option_value_signal              REAL,
	portfolio_score                  REAL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evidence (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	evidence_type   TEXT NOT NULL,
	methodology     TEXT NOT NULL DEFAULT '',
	sample_size     INTEGER,
	findings        TEXT NOT NULL DEFAULT '',
	consent_level   TEXT NOT NULL DEFAULT 'none',
	cultural_safety TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	outcome_type TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS intervention_evidence (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	evidence_id     TEXT NOT NULL REFERENCES evidence(id),
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (intervention_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS intervention_outcomes (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	outcome_id      TEXT NOT NULL REFERENCES outcomes(id),
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (intervention_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS evidence_outcomes (
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	outcome_id  TEXT NOT NULL REFERENCES outcomes(id),
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (evidence_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS consent_ledger (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	entity_id        TEXT NOT NULL,
	consent_level    TEXT NOT NULL,
	permitted_uses   TEXT NOT NULL DEFAULT '[]',
	requires_review  INTEGER NOT NULL DEFAULT 0,
	review_completed INTEGER NOT NULL DEFAULT 0,
	granted_by       TEXT NOT NULL,
	grant_reason     TEXT NOT NULL,
	granted_at       DATETIME NOT NULL,
	expires_at       DATETIME,
	revoked          INTEGER NOT NULL DEFAULT 0,
	revoked_at       DATETIME,
	revoked_by       TEXT NOT NULL DEFAULT '',
	revoke_reason    TEXT NOT NULL DEFAULT '',
	superseded_at    DATETIME,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_sets (
	id                        TEXT PRIMARY KEY,
	name                      TEXT NOT NULL UNIQUE,
	evidence_strength         REAL NOT NULL,
	harm_risk                 REAL NOT NULL,
	implementation_capability REAL NOT NULL,
	community_authority       REAL NOT NULL,
	option_value              REAL NOT NULL,
	created_at                DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS portfolio_scores (
	id              TEXT PRIMARY KEY,
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	weight_set_id   TEXT NOT NULL REFERENCES weight_sets(id),
	evidence_strength_signal         REAL NOT NULL,
	harm_risk_signal                 REAL NOT NULL,
	implementation_capability_signal REAL NOT NULL,
	community_authority_signal       REAL NOT NULL,
	option_value_signal              REAL NOT NULL,
	composite       REAL NOT NULL,
	recommendation  TEXT NOT NULL,
	evidence_count  INTEGER NOT NULL DEFAULT 0,
	outcome_count   INTEGER NOT NULL DEFAULT 0,
	scored_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consent_ledger_entity ON consent_ledger(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_portfolio_scores_current ON portfolio_scores(intervention_id, scored_at);
CREATE INDEX IF NOT EXISTS idx_interventions_review_status ON interventions(review_status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for test fixtures.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

const sqliteInterventionColumns = `id, name, type, description, geography, target_cohort,
	consent_level, cultural_authority, review_status, risks, harm_risk_level,
	operating_organization, org_verified, years_operating, replication_readiness,
	funding_status, negative_media_count, verified_contributors,
	evidence_strength_signal, harm_risk_signal, implementation_capability_signal,
	community_authority_signal, option_value_signal, portfolio_score,
	created_at, updated_at`

type sqliteRowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIntervention(row sqliteRowScanner) (*model.Intervention, error) {
	var iv model.Intervention
	var geoJSON, cohortJSON string
	var years sql.NullInt64
	var es, hr, ic, ca, ov, ps sql.NullFloat64

	err := row.Scan(
		&iv.ID, &iv.Name, &iv.Type, &iv.Description, &geoJSON, &cohortJSON,
		&iv.ConsentLevel, &iv.CulturalAuthority, &iv.ReviewStatus, &iv.Risks, &iv.HarmRiskLevel,
		&iv.OperatingOrganization, &iv.OrgVerified, &years, &iv.ReplicationReadiness,
		&iv.FundingStatus, &iv.NegativeMediaCount, &iv.VerifiedContributors,
		&es, &hr, &ic, &ca, &ov, &ps,
		&iv.CreatedAt, &iv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(geoJSON), &iv.Geography); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal geography")
	}
	if err := json.Unmarshal([]byte(cohortJSON), &iv.TargetCohort); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal target cohort")
	}
	if years.Valid {
		y := int(years.Int64)
		iv.YearsOperating = &y
	}
	if ps.Valid {
		v := ps.Float64
		iv.PortfolioScore = &v
	}
	if es.Valid && hr.Valid && ic.Valid && ca.Valid && ov.Valid {
		iv.Signals = &model.Signals{
			EvidenceStrength:         es.Float64,
			HarmRisk:                 hr.Float64,
			ImplementationCapability: ic.Float64,
			CommunityAuthority:       ca.Float64,
			OptionValue:              ov.Float64,
		}
	}
	return &iv, nil
}

func (s *SQLiteStore) GetIntervention(ctx context.Context, id string) (*model.Intervention, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInterventionColumns+` FROM interventions WHERE id = ?`, id)
	iv, err := scanSQLiteIntervention(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerr.NotFound("intervention/" + id)
		}
		return nil, eris.Wrap(err, "sqlite: get intervention")
	}
	return iv, nil
}

func (s *SQLiteStore) ListInterventions(ctx context.Context, f InterventionFilter) ([]model.Intervention, error) {
	query := `SELECT ` + sqliteInterventionColumns + ` FROM interventions WHERE 1=1`
	var args []any
	if !f.IncludeArchived {
		query += ` AND review_status <> 'rejected'`
	}
	if f.ReviewStatus != "" {
		query += ` AND review_status = ?`
		args = append(args, string(f.ReviewStatus))
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list interventions")
	}
	defer rows.Close()

	var out []model.Intervention
	for rows.Next() {
		iv, err := scanSQLiteIntervention(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan intervention")
		}
		// Geography overlap filter applied in Go; JSON columns have no
		// native array-overlap operator here.
		if len(f.Geography) > 0 && !overlaps(iv.Geography, f.Geography) {
			continue
		}
		out = append(out, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate interventions")
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

const sqliteConsentColumns = `id, entity_type, entity_id, consent_level, permitted_uses,
	requires_review, review_completed, granted_by, grant_reason, granted_at,
	expires_at, revoked, revoked_at, revoked_by, revoke_reason, superseded_at, created_at`

func scanSQLiteConsent(row sqliteRowScanner) (*model.ConsentRecord, error) {
	var c model.ConsentRecord
	var usesJSON string
	var expiresAt, revokedAt, supersededAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.EntityType, &c.EntityID, &c.Level, &usesJSON,
		&c.RequiresReview, &c.ReviewCompleted, &c.GrantedBy, &c.GrantReason, &c.GrantedAt,
		&expiresAt, &c.Revoked, &revokedAt, &c.RevokedBy, &c.RevokeReason,
		&supersededAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var uses []string
	if err := json.Unmarshal([]byte(usesJSON), &uses); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal permitted uses")
	}
	c.PermittedUses = make([]model.Action, len(uses))
	for i, u := range uses {
		c.PermittedUses[i] = model.Action(u)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	if supersededAt.Valid {
		t := supersededAt.Time
		c.SupersededAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) ActiveConsent(ctx context.Context, et model.EntityType, id string) (*model.ConsentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteConsentColumns+` FROM consent_ledger
		 WHERE entity_type = ? AND entity_id = ? AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, string(et), id)
	c, err := scanSQLiteConsent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: active consent")
	}
	return c, nil
}

func (s *SQLiteStore) GrantConsent(ctx context.Context, req GrantRequest) (*model.ConsentRecord, error) {
	s.consentMu.Lock()
	defer s.consentMu.Unlock()

	var expires *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse expires_at")
		}
		expires = &t
	}

	now := time.Now().UTC()
	rec := &model.ConsentRecord{
		ID:             uuid.New().String(),
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Level:          req.Level,
		PermittedUses:  req.PermittedUses,
		RequiresReview: req.RequiresReview,
		GrantedBy:      req.Actor,
		GrantReason:    req.Reason,
		GrantedAt:      now,
		ExpiresAt:      expires,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin grant")
	}
	defer tx.Rollback() //nolint:errcheck

	var activeCount int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM consent_ledger
		 WHERE entity_type = ? AND entity_id = ? AND superseded_at IS NULL AND revoked = 0`,
		string(req.EntityType), req.EntityID).Scan(&activeCount)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count active consent")
	}
	if activeCount > 1 {
		return nil, alerr.InvariantViolation(
			string(req.EntityType)+"/"+req.EntityID, "multiple active consent records")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE consent_ledger SET superseded_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND superseded_at IS NULL AND revoked = 0`,
		now, string(req.EntityType), req.EntityID); err != nil {
		return nil, eris.Wrap(err, "sqlite: supersede consent")
	}

	usesJSON, err := json.Marshal(usesToStrings(rec.PermittedUses))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal permitted uses")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO consent_ledger
		 (id, entity_type, entity_id, consent_level, permitted_uses,
		  requires_review, review_completed, granted_by, grant_reason,
		  granted_at, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 0, ?)`,
		rec.ID, string(rec.EntityType), rec.EntityID, string(rec.Level), string(usesJSON),
		rec.RequiresReview, rec.GrantedBy, rec.GrantReason,
		rec.GrantedAt, rec.ExpiresAt, rec.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert consent")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit grant")
	}

	s.touchEntity(ctx, req.EntityType, req.EntityID)
	return rec, nil
}

func (s *SQLiteStore) RevokeConsent(ctx context.Context, et model.EntityType, id, actor, reason string) (*model.ConsentRecord, error) {
	s.consentMu.Lock()
	defer s.consentMu.Unlock()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin revoke")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT `+sqliteConsentColumns+` FROM consent_ledger
		 WHERE entity_type = ? AND entity_id = ? AND superseded_at IS NULL AND revoked = 0`,
		string(et), id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query consent for revoke")
	}
	var active []*model.ConsentRecord
	for rows.Next() {
		c, err := scanSQLiteConsent(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan consent for revoke")
		}
		active = append(active, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate consent for revoke")
	}

	if len(active) == 0 {
		return nil, alerr.NotFound(string(et) + "/" + id)
	}
	if len(active) > 1 {
		return nil, alerr.InvariantViolation(string(et)+"/"+id, "multiple active consent records")
	}

	rec := active[0]
	rec.Revoked = true
	rec.RevokedAt = &now
	rec.RevokedBy = actor
	rec.RevokeReason = reason

	if _, err := tx.ExecContext(ctx,
		`UPDATE consent_ledger
		 SET revoked = 1, revoked_at = ?, revoked_by = ?, revoke_reason = ?
		 WHERE id = ?`, now, actor, reason, rec.ID); err != nil {
		return nil, eris.Wrap(err, "sqlite: revoke consent")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit revoke")
	}

	s.touchEntity(ctx, et, id)
	return rec, nil
}

func (s *SQLiteStore) touchEntity(ctx context.Context, et model.EntityType, id string) {
	var table string
	switch et {
	case model.EntityIntervention:
		table = "interventions"
	case model.EntityEvidence:
		table = "evidence"
	case model.EntityOutcome:
		table = "outcomes"
	default:
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`UPDATE `+table+` SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
}

func (s *SQLiteStore) ConsentHistory(ctx context.Context, et model.EntityType, id string) ([]model.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteConsentColumns+` FROM consent_ledger
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY created_at DESC`, string(et), id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: consent history")
	}
	defer rows.Close()

	var out []model.ConsentRecord
	for rows.Next() {
		c, err := scanSQLiteConsent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consent history")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate consent history")
	}
	return out, nil
}

func (s *SQLiteStore) SignalInputs(ctx context.Context, id string) (*model.SignalInputs, error) {
	// Stamped before the first read so every row in the snapshot is at
	// least as old as FetchedAt.
	fetchedAt := time.Now().UTC()

	iv, err := s.GetIntervention(ctx, id)
	if err != nil {
		return nil, err
	}

	in := &model.SignalInputs{
		Intervention: *iv,
		FetchedAt:    fetchedAt,
	}

	in.Consent, err = s.ActiveConsent(ctx, model.EntityIntervention, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.evidence_type, e.sample_size, e.updated_at,
		        (SELECT count(*) FROM evidence_outcomes eo WHERE eo.evidence_id = e.id)
		 FROM intervention_evidence ie
		 JOIN evidence e ON e.id = ie.evidence_id
		 WHERE ie.intervention_id = ?
		 ORDER BY e.id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: signal inputs evidence")
	}
	defer rows.Close()

	for rows.Next() {
		var ev model.EvidenceInput
		var sampleSize sql.NullInt64
		if err := rows.Scan(&ev.EvidenceID, &ev.Type, &sampleSize, &ev.UpdatedAt, &ev.OutcomeLinks); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal inputs evidence")
		}
		if sampleSize.Valid {
			n := int(sampleSize.Int64)
			ev.SampleSize = &n
		}
		in.Evidence = append(in.Evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate signal inputs evidence")
	}

	for i := range in.Evidence {
		rec, err := s.ActiveConsent(ctx, model.EntityEvidence, in.Evidence[i].EvidenceID)
		if err != nil {
			return nil, err
		}
		in.Evidence[i].Consent = rec
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT o.outcome_type)
		 FROM intervention_outcomes io
		 JOIN outcomes o ON o.id = io.outcome_id
		 WHERE io.intervention_id = ?`, id)
	if err := row.Scan(&in.OutcomeCount, &in.DistinctOutcomeTypes); err != nil {
		return nil, eris.Wrap(err, "sqlite: signal inputs outcomes")
	}

	return in, nil
}

func (s *SQLiteStore) DirtyInterventionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT intervention_id, max(scored_at) AS scored_at
			FROM portfolio_scores
			GROUP BY intervention_id
		)
		SELECT i.id
		FROM interventions i
		LEFT JOIN latest l ON l.intervention_id = i.id
		WHERE i.review_status <> 'rejected'
		  AND (
			l.scored_at IS NULL
			OR i.updated_at > l.scored_at
			OR EXISTS (
				SELECT 1 FROM intervention_evidence ie
				JOIN evidence e ON e.id = ie.evidence_id
				WHERE ie.intervention_id = i.id AND e.updated_at > l.scored_at
			)
			OR EXISTS (
				SELECT 1 FROM intervention_outcomes io
				JOIN outcomes o ON o.id = io.outcome_id
				WHERE io.intervention_id = i.id AND o.updated_at > l.scored_at
			)
			OR EXISTS (
				SELECT 1 FROM consent_ledger cl
				WHERE cl.entity_type = 'intervention' AND cl.entity_id = i.id
				  AND cl.created_at > l.scored_at
			)
		  )
		ORDER BY i.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dirty interventions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dirty intervention")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate dirty interventions")
	}
	return ids, nil
}

func (s *SQLiteStore) SaveScore(ctx context.Context, score *model.PortfolioScore) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.ScoredAt.IsZero() {
		score.ScoredAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save score")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO portfolio_scores
		 (id, intervention_id, weight_set_id,
		  evidence_strength_signal, harm_risk_signal,
		  implementation_capability_signal, community_authority_signal,
		  option_value_signal, composite, recommendation,
		  evidence_count, outcome_count, scored_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		score.ID, score.InterventionID, score.WeightSetID,
		score.Signals.EvidenceStrength, score.Signals.HarmRisk,
		score.Signals.ImplementationCapability, score.Signals.CommunityAuthority,
		score.Signals.OptionValue, score.Composite, string(score.Recommendation),
		score.EvidenceCount, score.OutcomeCount, score.ScoredAt); err != nil {
		return eris.Wrap(err, "sqlite: insert portfolio score")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE interventions SET
		 evidence_strength_signal = ?, harm_risk_signal = ?,
		 implementation_capability_signal = ?, community_authority_signal = ?,
		 option_value_signal = ?, portfolio_score = ?
		 WHERE id = ?`,
		score.Signals.EvidenceStrength, score.Signals.HarmRisk,
		score.Signals.ImplementationCapability, score.Signals.CommunityAuthority,
		score.Signals.OptionValue, score.Composite, score.InterventionID); err != nil {
		return eris.Wrap(err, "sqlite: cache signal columns")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save score")
}

const sqliteScoreColumns = `id, intervention_id, weight_set_id,
	evidence_strength_signal, harm_risk_signal, implementation_capability_signal,
	community_authority_signal, option_value_signal, composite, recommendation,
	evidence_count, outcome_count, scored_at`

func scanSQLiteScore(row sqliteRowScanner) (*model.PortfolioScore, error) {
	var ps model.PortfolioScore
	err := row.Scan(
		&ps.ID, &ps.InterventionID, &ps.WeightSetID,
		&ps.Signals.EvidenceStrength, &ps.Signals.HarmRisk,
		&ps.Signals.ImplementationCapability, &ps.Signals.CommunityAuthority,
		&ps.Signals.OptionValue, &ps.Composite, &ps.Recommendation,
		&ps.EvidenceCount, &ps.OutcomeCount, &ps.ScoredAt,
	)
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (s *SQLiteStore) CurrentScore(ctx context.Context, interventionID string) (*model.PortfolioScore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteScoreColumns+` FROM portfolio_scores
		 WHERE intervention_id = ?
		 ORDER BY scored_at DESC, id DESC LIMIT 1`, interventionID)
	ps, err := scanSQLiteScore(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerr.NotFound("portfolio_score/" + interventionID)
		}
		return nil, eris.Wrap(err, "sqlite: current score")
	}
	return ps, nil
}

func (s *SQLiteStore) CurrentScores(ctx context.Context, f InterventionFilter) ([]ScoreRow, error) {
	interventions, err := s.ListInterventions(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]ScoreRow, 0, len(interventions))
	for _, iv := range interventions {
		sr := ScoreRow{Intervention: iv}
		ps, err := s.CurrentScore(ctx, iv.ID)
		if err != nil && !alerr.IsNotFound(err) {
			return nil, err
		}
		sr.Score = ps
		out = append(out, sr)
	}
	return out, nil
}

func (s *SQLiteStore) ScoreHistory(ctx context.Context, interventionID string, limit int) ([]model.PortfolioScore, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteScoreColumns+` FROM portfolio_scores
		 WHERE intervention_id = ?
		 ORDER BY scored_at DESC, id DESC LIMIT ?`, interventionID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: score history")
	}
	defer rows.Close()

	var out []model.PortfolioScore
	for rows.Next() {
		ps, err := scanSQLiteScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score history")
		}
		out = append(out, *ps)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate score history")
	}
	return out, nil
}

func (s *SQLiteStore) EnsureWeightSet(ctx context.Context, ws model.WeightSet) (*model.WeightSet, error) {
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO weight_sets
		 (id, name, evidence_strength, harm_risk, implementation_capability,
		  community_authority, option_value, created_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(name) DO NOTHING`,
		ws.ID, ws.Name, ws.EvidenceStrength, ws.HarmRisk,
		ws.ImplementationCapability, ws.CommunityAuthority, ws.OptionValue,
		time.Now().UTC()); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert weight set")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, evidence_strength, harm_risk, implementation_capability,
		        community_authority, option_value, created_at
		 FROM weight_sets WHERE name = ?`, ws.Name)

	var out model.WeightSet
	err := row.Scan(&out.ID, &out.Name, &out.EvidenceStrength, &out.HarmRisk,
		&out.ImplementationCapability, &out.CommunityAuthority, &out.OptionValue, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure weight set")
	}
	warnWeightDivergence(ws, out)
	return &out, nil
}

func (s *SQLiteStore) GetWeightSet(ctx context.Context, id string) (*model.WeightSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, evidence_strength, harm_risk, implementation_capability,
		        community_authority, option_value, created_at
		 FROM weight_sets WHERE id = ?`, id)

	var out model.WeightSet
	err := row.Scan(&out.ID, &out.Name, &out.EvidenceStrength, &out.HarmRisk,
		&out.ImplementationCapability, &out.CommunityAuthority, &out.OptionValue, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerr.NotFound("weight_set/" + id)
		}
		return nil, eris.Wrap(err, "sqlite: get weight set")
	}
	return &out, nil
}
