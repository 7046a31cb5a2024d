// Package portfolio composes the five signals into a weighted composite
// score with a funding recommendation, and persists one append-only score
// row per recompute generation.
package portfolio

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/signal"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Scorer wires the calculators, the consent gate, and the score store.
type Scorer struct {
	store      store.Store
	gate       *consent.Gate
	engine     *signal.Engine
	thresholds Thresholds
	log        *zap.Logger
}

// NewScorer returns a Scorer.
func NewScorer(st store.Store, gate *consent.Gate, engine *signal.Engine, th Thresholds, log *zap.Logger) *Scorer {
	return &Scorer{store: st, gate: gate, engine: engine, thresholds: th, log: log.Named("scorer")}
}

// Score recomputes one intervention under the given weight set and persists
// a new score row. The caller's consent context gates both the intervention
// read and which linked evidence the calculators see. Any calculator error
// aborts the recompute; no partial score is ever persisted.
func (s *Scorer) Score(ctx context.Context, caller model.Caller, interventionID string, ws model.WeightSet) (*model.PortfolioScore, error) {
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	if ws.ID == "" {
		return nil, eris.New("scorer: weight set must be persisted before scoring")
	}

	if _, err := s.gate.Require(ctx, caller, model.ActionRead, model.EntityIntervention, interventionID); err != nil {
		return nil, err
	}

	in, err := s.store.SignalInputs(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	if in.Intervention.Archived() {
		return nil, eris.Errorf("scorer: intervention %s is archived", interventionID)
	}

	visible := in.VisibleEvidence(func(rec *model.ConsentRecord) bool {
		return s.gate.Visible(caller, model.ActionRead, rec)
	})

	signals, err := s.compute(ctx, in, visible)
	if err != nil {
		return nil, err
	}

	// Staleness check: if the intervention row moved under us while the
	// calculators ran, the snapshot is torn across generations. The
	// refresher retries this once.
	cur, err := s.store.GetIntervention(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	if cur.UpdatedAt.After(in.FetchedAt) {
		return nil, alerr.StaleInput("intervention/" + interventionID)
	}

	score := &model.PortfolioScore{
		InterventionID: interventionID,
		WeightSetID:    ws.ID,
		Signals:        signals,
		Composite:      ws.Composite(signals),
		Recommendation: s.thresholds.Recommend(signals, ws.Composite(signals), &in.Intervention, len(visible), in.OutcomeCount),
		EvidenceCount:  len(visible),
		OutcomeCount:   in.OutcomeCount,
		// Stamped from the snapshot, not from save time. Dirty tracking
		// compares entity and ledger writes against the latest ScoredAt,
		// so a consent change landing mid-recompute (after the snapshot,
		// before the save) still leaves the intervention dirty and the
		// next refresh recomputes without the revoked evidence.
		ScoredAt: in.FetchedAt,
	}

	if err := s.store.SaveScore(ctx, score); err != nil {
		return nil, err
	}

	s.log.Info("scored",
		zap.String("intervention_id", interventionID),
		zap.Float64("composite", score.Composite),
		zap.String("recommendation", string(score.Recommendation)),
		zap.Int("evidence_count", score.EvidenceCount))
	return score, nil
}

// compute runs the five calculators concurrently. They are pure functions
// over the same snapshot, so the only coordination needed is waiting for
// all five.
func (s *Scorer) compute(ctx context.Context, in *model.SignalInputs, visible []model.EvidenceInput) (model.Signals, error) {
	var out model.Signals

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.EvidenceStrength = signal.EvidenceStrength(in, visible)
		return nil
	})
	g.Go(func() error {
		out.HarmRisk = s.engine.HarmRisk(in)
		return nil
	})
	g.Go(func() error {
		out.ImplementationCapability = signal.ImplementationCapability(in)
		return nil
	})
	g.Go(func() error {
		out.CommunityAuthority = signal.CommunityAuthority(in)
		return nil
	})
	g.Go(func() error {
		out.OptionValue = signal.OptionValue(in, visible)
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Signals{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Signals{}, eris.Wrap(err, "scorer: cancelled")
	}
	return out, nil
}
