package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/db"
	"github.com/justicehub-au/alma-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS interventions (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	type                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	geography              TEXT[] NOT NULL DEFAULT '{}',
	target_cohort          TEXT[] NOT NULL DEFAULT '{}',
	consent_level          TEXT NOT NULL DEFAULT 'none',
	cultural_authority     BOOLEAN NOT NULL DEFAULT false,
	review_status          TEXT NOT NULL DEFAULT 'pending',
	risks                  TEXT NOT NULL DEFAULT '',
	harm_risk_level        TEXT NOT NULL DEFAULT '',
	operating_organization TEXT NOT NULL DEFAULT '',
	org_verified           BOOLEAN NOT NULL DEFAULT false,
	years_operating        INT,
	replication_readiness  TEXT NOT NULL DEFAULT '',
	funding_status         TEXT NOT NULL DEFAULT '',
	negative_media_count   INT NOT NULL DEFAULT 0,
	verified_contributors  INT NOT NULL DEFAULT 0,
	evidence_strength_signal         DOUBLE PRECISION,
	harm_risk_signal                 DOUBLE PRECISION,
	implementation_capability_signal DOUBLE PRECISION,
	community_authority_signal       DOUBLE PRECISION,
	option_value_signal              DOUBLE PRECISION,
	portfolio_score                  DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evidence (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	evidence_type   TEXT NOT NULL,
	methodology     TEXT NOT NULL DEFAULT '',
	sample_size     INT,
	findings        TEXT NOT NULL DEFAULT '',
	consent_level   TEXT NOT NULL DEFAULT 'none',
	cultural_safety TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	outcome_type TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS intervention_evidence (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	evidence_id     TEXT NOT NULL REFERENCES evidence(id),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (intervention_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS intervention_outcomes (
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	outcome_id      TEXT NOT NULL REFERENCES outcomes(id),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (intervention_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS evidence_outcomes (
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	outcome_id  TEXT NOT NULL REFERENCES outcomes(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (evidence_id, outcome_id)
);

CREATE TABLE IF NOT EXISTS consent_ledger (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	entity_id        TEXT NOT NULL,
	consent_level    TEXT NOT NULL,
	permitted_uses   TEXT[] NOT NULL DEFAULT '{}',
	requires_review  BOOLEAN NOT NULL DEFAULT false,
	review_completed BOOLEAN NOT NULL DEFAULT false,
	granted_by       TEXT NOT NULL,
	grant_reason     TEXT NOT NULL,
	granted_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at       TIMESTAMPTZ,
	revoked          BOOLEAN NOT NULL DEFAULT false,
	revoked_at       TIMESTAMPTZ,
	revoked_by       TEXT NOT NULL DEFAULT '',
	revoke_reason    TEXT NOT NULL DEFAULT '',
	superseded_at    TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS weight_sets (
	id                        TEXT PRIMARY KEY,
	name                      TEXT NOT NULL UNIQUE,
	evidence_strength         DOUBLE PRECISION NOT NULL,
	harm_risk                 DOUBLE PRECISION NOT NULL,
	implementation_capability DOUBLE PRECISION NOT NULL,
	community_authority       DOUBLE PRECISION NOT NULL,
	option_value              DOUBLE PRECISION NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portfolio_scores (
	id              TEXT PRIMARY KEY,
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	weight_set_id   TEXT NOT NULL REFERENCES weight_sets(id),
	evidence_strength_signal         DOUBLE PRECISION NOT NULL,
	harm_risk_signal                 DOUBLE PRECISION NOT NULL,
	implementation_capability_signal DOUBLE PRECISION NOT NULL,
	community_authority_signal       DOUBLE PRECISION NOT NULL,
	option_value_signal              DOUBLE PRECISION NOT NULL,
	composite       DOUBLE PRECISION NOT NULL,
	recommendation  TEXT NOT NULL,
	evidence_count  INT NOT NULL DEFAULT 0,
	outcome_count   INT NOT NULL DEFAULT 0,
	scored_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_consent_ledger_entity
	ON consent_ledger(entity_type, entity_id) WHERE superseded_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_portfolio_scores_current
	ON portfolio_scores(intervention_id, scored_at DESC);
CREATE INDEX IF NOT EXISTS idx_interventions_review_status
	ON interventions(review_status);
CREATE INDEX IF NOT EXISTS idx_intervention_evidence_evidence
	ON intervention_evidence(evidence_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const interventionColumns = `id, name, type, description, geography, target_cohort,
	consent_level, cultural_authority, review_status, risks, harm_risk_level,
	operating_organization, org_verified, years_operating, replication_readiness,
	funding_status, negative_media_count, verified_contributors,
	evidence_strength_signal, harm_risk_signal, implementation_capability_signal,
	community_authority_signal, option_value_signal, portfolio_score,
	created_at, updated_at`

func scanIntervention(row pgx.Row) (*model.Intervention, error) {
	var iv model.Intervention
	var es, hr, ic, ca, ov *float64
	err := row.Scan(
		&iv.ID, &iv.Name, &iv.Type, &iv.Description, &iv.Geography, &iv.TargetCohort,
		&iv.ConsentLevel, &iv.CulturalAuthority, &iv.ReviewStatus, &iv.Risks, &iv.HarmRiskLevel,
		&iv.OperatingOrganization, &iv.OrgVerified, &iv.YearsOperating, &iv.ReplicationReadiness,
		&iv.FundingStatus, &iv.NegativeMediaCount, &iv.VerifiedContributors,
		&es, &hr, &ic, &ca, &ov, &iv.PortfolioScore,
		&iv.CreatedAt, &iv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if es != nil && hr != nil && ic != nil && ca != nil && ov != nil {
		iv.Signals = &model.Signals{
			EvidenceStrength:         *es,
			HarmRisk:                 *hr,
			ImplementationCapability: *ic,
			CommunityAuthority:       *ca,
			OptionValue:              *ov,
		}
	}
	return &iv, nil
}

func (s *PostgresStore) GetIntervention(ctx context.Context, id string) (*model.Intervention, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interventionColumns+` FROM interventions WHERE id = $1`, id)
	iv, err := scanIntervention(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerr.NotFound("intervention/" + id)
		}
		return nil, eris.Wrap(err, "postgres: get intervention")
	}
	return iv, nil
}

func (s *PostgresStore) ListInterventions(ctx context.Context, f InterventionFilter) ([]model.Intervention, error) {
	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE 1=1`
	var args []any

	if !f.IncludeArchived {
		query += ` AND review_status <> 'rejected'`
	}
	if f.ReviewStatus != "" {
		args = append(args, string(f.ReviewStatus))
		query += fmt.Sprintf(" AND review_status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if len(f.Geography) > 0 {
		args = append(args, f.Geography)
		query += fmt.Sprintf(" AND geography && $%d", len(args))
	}
	query += ` ORDER BY name`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list interventions")
	}
	defer rows.Close()

	var out []model.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan intervention")
		}
		out = append(out, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate interventions")
	}
	return out, nil
}

const consentColumns = `id, entity_type, entity_id, consent_level, permitted_uses,
	requires_review, review_completed, granted_by, grant_reason, granted_at,
	expires_at, revoked, revoked_at, revoked_by, revoke_reason, superseded_at, created_at`

func scanConsent(row pgx.Row) (*model.ConsentRecord, error) {
	var c model.ConsentRecord
	var uses []string
	err := row.Scan(
		&c.ID, &c.EntityType, &c.EntityID, &c.Level, &uses,
		&c.RequiresReview, &c.ReviewCompleted, &c.GrantedBy, &c.GrantReason, &c.GrantedAt,
		&c.ExpiresAt, &c.Revoked, &c.RevokedAt, &c.RevokedBy, &c.RevokeReason,
		&c.SupersededAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PermittedUses = make([]model.Action, len(uses))
	for i, u := range uses {
		c.PermittedUses[i] = model.Action(u)
	}
	return &c, nil
}

func usesToStrings(uses []model.Action) []string {
	out := make([]string, len(uses))
	for i, u := range uses {
		out[i] = string(u)
	}
	return out
}

// ActiveConsent returns the single non-superseded ledger record for the
// entity, nil when none exists. Expiry and revocation are evaluated by the
// gate, not filtered out here, so the gate can report the precise reason.
func (s *PostgresStore) ActiveConsent(ctx context.Context, et model.EntityType, id string) (*model.ConsentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+consentColumns+` FROM consent_ledger
		 WHERE entity_type = $1 AND entity_id = $2 AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, string(et), id)
	c, err := scanConsent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: active consent")
	}
	return c, nil
}

// GrantConsent supersedes the entity's active record (if any) and inserts a
// new one, inside one transaction with the active rows locked. More than
// one active record means upstream consistency is broken: the grant is
// refused with InvariantViolation.
func (s *PostgresStore) GrantConsent(ctx context.Context, req GrantRequest) (*model.ConsentRecord, error) {
	var expires *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse expires_at")
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

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id FROM consent_ledger
			 WHERE entity_type = $1 AND entity_id = $2 AND superseded_at IS NULL
			   AND revoked = false
			 FOR UPDATE`, string(req.EntityType), req.EntityID)
		if err != nil {
			return eris.Wrap(err, "postgres: lock active consent")
		}
		var activeIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan active consent id")
			}
			activeIDs = append(activeIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: iterate active consent ids")
		}

		if len(activeIDs) > 1 {
			return alerr.InvariantViolation(
				string(req.EntityType)+"/"+req.EntityID,
				"multiple active consent records")
		}

		for _, id := range activeIDs {
			if _, err := tx.Exec(ctx,
				`UPDATE consent_ledger SET superseded_at = $1 WHERE id = $2`,
				now, id); err != nil {
				return eris.Wrap(err, "postgres: supersede consent")
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO consent_ledger
			 (id, entity_type, entity_id, consent_level, permitted_uses,
			  requires_review, review_completed, granted_by, grant_reason,
			  granted_at, expires_at, revoked, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, $9, $10, false, $11)`,
			rec.ID, string(rec.EntityType), rec.EntityID, string(rec.Level),
			usesToStrings(rec.PermittedUses), rec.RequiresReview,
			rec.GrantedBy, rec.GrantReason, rec.GrantedAt, rec.ExpiresAt, rec.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "postgres: insert consent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Mark the entity dirty so the next refresh picks up the change.
	s.touchEntity(ctx, req.EntityType, req.EntityID)
	return rec, nil
}

// RevokeConsent marks the entity's active record revoked. Revocation is
// terminal: the record is never reactivated, and only a fresh grant creates
// a new one.
func (s *PostgresStore) RevokeConsent(ctx context.Context, et model.EntityType, id, actor, reason string) (*model.ConsentRecord, error) {
	var rec *model.ConsentRecord
	now := time.Now().UTC()

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+consentColumns+` FROM consent_ledger
			 WHERE entity_type = $1 AND entity_id = $2 AND superseded_at IS NULL
			   AND revoked = false
			 FOR UPDATE`, string(et), id)
		if err != nil {
			return eris.Wrap(err, "postgres: lock consent for revoke")
		}
		var active []*model.ConsentRecord
		for rows.Next() {
			c, err := scanConsent(rows)
			if err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan consent for revoke")
			}
			active = append(active, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: iterate consent for revoke")
		}

		if len(active) == 0 {
			return alerr.NotFound(string(et) + "/" + id)
		}
		if len(active) > 1 {
			return alerr.InvariantViolation(string(et)+"/"+id, "multiple active consent records")
		}

		rec = active[0]
		rec.Revoked = true
		rec.RevokedAt = &now
		rec.RevokedBy = actor
		rec.RevokeReason = reason

		_, err = tx.Exec(ctx,
			`UPDATE consent_ledger
			 SET revoked = true, revoked_at = $1, revoked_by = $2, revoke_reason = $3
			 WHERE id = $4`,
			now, actor, reason, rec.ID)
		return eris.Wrap(err, "postgres: revoke consent")
	})
	if err != nil {
		return nil, err
	}

	s.touchEntity(ctx, et, id)
	return rec, nil
}

// touchEntity bumps updated_at so dirty-tracking notices consent changes.
// Best-effort: a failure here delays the recompute until the next full
// refresh rather than failing the consent write.
func (s *PostgresStore) touchEntity(ctx context.Context, et model.EntityType, id string) {
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
	_, _ = s.pool.Exec(ctx, `UPDATE `+table+` SET updated_at = now() WHERE id = $1`, id)
}

func (s *PostgresStore) ConsentHistory(ctx context.Context, et model.EntityType, id string) ([]model.ConsentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+consentColumns+` FROM consent_ledger
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at DESC`, string(et), id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: consent history")
	}
	defer rows.Close()

	var out []model.ConsentRecord
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan consent history")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate consent history")
	}
	return out, nil
}

// SignalInputs assembles the recompute snapshot for one intervention.
func (s *PostgresStore) SignalInputs(ctx context.Context, id string) (*model.SignalInputs, error) {
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

	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.evidence_type, e.sample_size, e.updated_at,
		        (SELECT count(*) FROM evidence_outcomes eo WHERE eo.evidence_id = e.id),
		        c.id, c.entity_type, c.entity_id, c.consent_level, c.permitted_uses,
		        c.requires_review, c.review_completed, c.granted_by, c.grant_reason,
		        c.granted_at, c.expires_at, c.revoked, c.revoked_at, c.revoked_by,
		        c.revoke_reason, c.superseded_at, c.created_at
		 FROM intervention_evidence ie
		 JOIN evidence e ON e.id = ie.evidence_id
		 LEFT JOIN LATERAL (
		     SELECT * FROM consent_ledger cl
		     WHERE cl.entity_type = 'evidence' AND cl.entity_id = e.id
		       AND cl.superseded_at IS NULL
		     ORDER BY cl.created_at DESC LIMIT 1
		 ) c ON true
		 WHERE ie.intervention_id = $1
		 ORDER BY e.id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: signal inputs evidence")
	}
	defer rows.Close()

	for rows.Next() {
		var ev model.EvidenceInput
		var cID, cEntityType, cEntityID, cLevel *string
		var cUses []string
		var cReqReview, cReviewDone, cRevoked *bool
		var cGrantedBy, cGrantReason, cRevokedBy, cRevokeReason *string
		var cGrantedAt, cExpiresAt, cRevokedAt, cSupersededAt, cCreatedAt *time.Time

		err := rows.Scan(
			&ev.EvidenceID, &ev.Type, &ev.SampleSize, &ev.UpdatedAt, &ev.OutcomeLinks,
			&cID, &cEntityType, &cEntityID, &cLevel, &cUses,
			&cReqReview, &cReviewDone, &cGrantedBy, &cGrantReason,
			&cGrantedAt, &cExpiresAt, &cRevoked, &cRevokedAt, &cRevokedBy,
			&cRevokeReason, &cSupersededAt, &cCreatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal inputs evidence")
		}

		if cID != nil {
			rec := &model.ConsentRecord{
				ID:              *cID,
				EntityType:      model.EntityType(*cEntityType),
				EntityID:        *cEntityID,
				Level:           model.ConsentLevel(*cLevel),
				RequiresReview:  *cReqReview,
				ReviewCompleted: *cReviewDone,
				GrantedBy:       *cGrantedBy,
				GrantReason:     *cGrantReason,
				GrantedAt:       *cGrantedAt,
				ExpiresAt:       cExpiresAt,
				Revoked:         *cRevoked,
				RevokedAt:       cRevokedAt,
				RevokedBy:       *cRevokedBy,
				RevokeReason:    *cRevokeReason,
				SupersededAt:    cSupersededAt,
				CreatedAt:       *cCreatedAt,
			}
			rec.PermittedUses = make([]model.Action, len(cUses))
			for i, u := range cUses {
				rec.PermittedUses[i] = model.Action(u)
			}
			ev.Consent = rec
		}
		in.Evidence = append(in.Evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate signal inputs evidence")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT o.outcome_type)
		 FROM intervention_outcomes io
		 JOIN outcomes o ON o.id = io.outcome_id
		 WHERE io.intervention_id = $1`, id)
	if err := row.Scan(&in.OutcomeCount, &in.DistinctOutcomeTypes); err != nil {
		return nil, eris.Wrap(err, "postgres: signal inputs outcomes")
	}

	return in, nil
}

// DirtyInterventionIDs returns every non-archived intervention that was
// never scored, or whose own row, linked evidence, linked outcomes, or any
// of their consent records changed after the last recompute.
func (s *PostgresStore) DirtyInterventionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (intervention_id) intervention_id, scored_at
			FROM portfolio_scores
			ORDER BY intervention_id, scored_at DESC
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
		return nil, eris.Wrap(err, "postgres: dirty interventions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dirty intervention")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate dirty interventions")
	}
	return ids, nil
}

// SaveScore appends one portfolio_scores row and refreshes the cached
// signal columns on the intervention, in one transaction. Readers see
// either the prior generation or this one, never a mix.
func (s *PostgresStore) SaveScore(ctx context.Context, score *model.PortfolioScore) error {
	if score.ID == "" {
		score.ID = uuid.New().String()
	}
	if score.ScoredAt.IsZero() {
		score.ScoredAt = time.Now().UTC()
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO portfolio_scores
			 (id, intervention_id, weight_set_id,
			  evidence_strength_signal, harm_risk_signal,
			  implementation_capability_signal, community_authority_signal,
			  option_value_signal, composite, recommendation,
			  evidence_count, outcome_count, scored_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			score.ID, score.InterventionID, score.WeightSetID,
			score.Signals.EvidenceStrength, score.Signals.HarmRisk,
			score.Signals.ImplementationCapability, score.Signals.CommunityAuthority,
			score.Signals.OptionValue, score.Composite, string(score.Recommendation),
			score.EvidenceCount, score.OutcomeCount, score.ScoredAt)
		if err != nil {
			return eris.Wrap(err, "postgres: insert portfolio score")
		}

		_, err = tx.Exec(ctx,
			`UPDATE interventions SET
			 evidence_strength_signal = $1, harm_risk_signal = $2,
			 implementation_capability_signal = $3, community_authority_signal = $4,
			 option_value_signal = $5, portfolio_score = $6
			 WHERE id = $7`,
			score.Signals.EvidenceStrength, score.Signals.HarmRisk,
			score.Signals.ImplementationCapability, score.Signals.CommunityAuthority,
			score.Signals.OptionValue, score.Composite, score.InterventionID)
		if err != nil {
			return eris.Wrap(err, "postgres: cache signal columns")
		}
		return nil
	})
}

const scoreColumns = `id, intervention_id, weight_set_id,
	evidence_strength_signal, harm_risk_signal, implementation_capability_signal,
	community_authority_signal, option_value_signal, composite, recommendation,
	evidence_count, outcome_count, scored_at`

func scanScore(row pgx.Row) (*model.PortfolioScore, error) {
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

func (s *PostgresStore) CurrentScore(ctx context.Context, interventionID string) (*model.PortfolioScore, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM portfolio_scores
		 WHERE intervention_id = $1
		 ORDER BY scored_at DESC LIMIT 1`, interventionID)
	ps, err := scanScore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerr.NotFound("portfolio_score/" + interventionID)
		}
		return nil, eris.Wrap(err, "postgres: current score")
	}
	return ps, nil
}

func (s *PostgresStore) CurrentScores(ctx context.Context, f InterventionFilter) ([]ScoreRow, error) {
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

func (s *PostgresStore) ScoreHistory(ctx context.Context, interventionID string, limit int) ([]model.PortfolioScore, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+scoreColumns+` FROM portfolio_scores
		 WHERE intervention_id = $1
		 ORDER BY scored_at DESC LIMIT $2`, interventionID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: score history")
	}
	defer rows.Close()

	var out []model.PortfolioScore
	for rows.Next() {
		ps, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score history")
		}
		out = append(out, *ps)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate score history")
	}
	return out, nil
}

// EnsureWeightSet inserts the named weight set if absent and returns the
// stored row, so every score references a persisted weight vector.
func (s *PostgresStore) EnsureWeightSet(ctx context.Context, ws model.WeightSet) (*model.WeightSet, error) {
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO weight_sets
		 (id, name, evidence_strength, harm_risk, implementation_capability,
		  community_authority, option_value)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, evidence_strength, harm_risk,
		           implementation_capability, community_authority, option_value, created_at`,
		ws.ID, ws.Name, ws.EvidenceStrength, ws.HarmRisk,
		ws.ImplementationCapability, ws.CommunityAuthority, ws.OptionValue)

	var out model.WeightSet
	err := row.Scan(&out.ID, &out.Name, &out.EvidenceStrength, &out.HarmRisk,
		&out.ImplementationCapability, &out.CommunityAuthority, &out.OptionValue, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ensure weight set")
	}
	warnWeightDivergence(ws, out)
	return &out, nil
}

func (s *PostgresStore) GetWeightSet(ctx context.Context, id string) (*model.WeightSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, evidence_strength, harm_risk, implementation_capability,
		        community_authority, option_value, created_at
		 FROM weight_sets WHERE id = $1`, id)

	var out model.WeightSet
	err := row.Scan(&out.ID, &out.Name, &out.EvidenceStrength, &out.HarmRisk,
		&out.ImplementationCapability, &out.CommunityAuthority, &out.OptionValue, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerr.NotFound("weight_set/" + id)
		}
		return nil, eris.Wrap(err, "postgres: get weight set")
	}
	return &out, nil
}
