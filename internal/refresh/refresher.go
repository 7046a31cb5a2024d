// Package refresh recomputes portfolio scores: a periodic batch over every
// intervention with changed inputs, and an on-demand single recompute after
// an edit. Batch units are isolated; one intervention failing never aborts
// the rest.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/portfolio"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Failure records one intervention that could not be rescored in a batch.
type Failure struct {
	InterventionID string `json:"intervention_id"`
	Reason         string `json:"reason"`
}

// Summary reports the outcome of one refresh batch.
type Summary struct {
	Dirty     int       `json:"dirty"`
	Refreshed int       `json:"refreshed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Refresher drives score recomputation. Recompute runs as the system
// caller: the batch reads everything internal policy allows, and outward
// disclosure is gated again at read time.
type Refresher struct {
	store       store.Store
	scorer      *portfolio.Scorer
	weights     model.WeightSet
	concurrency int
	limiter     *rate.Limiter
	log         *zap.Logger
}

// New returns a Refresher. Concurrency bounds the number of in-flight
// recomputes; ratePerSec paces store reads so a full-portfolio batch does
// not starve interactive queries.
func New(st store.Store, scorer *portfolio.Scorer, weights model.WeightSet, concurrency int, ratePerSec float64, log *zap.Logger) *Refresher {
	if concurrency <= 0 {
		concurrency = 4
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Refresher{
		store:       st,
		scorer:      scorer,
		weights:     weights,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log.Named("refresh"),
	}
}

// One recomputes a single intervention, retrying once if an upstream record
// changed mid-read. Safe to call concurrently with a running batch: each
// recompute appends its own score row atomically.
func (r *Refresher) One(ctx context.Context, interventionID string) (*model.PortfolioScore, error) {
	var score *model.PortfolioScore

	cfg := alerr.StaleRetryConfig()
	cfg.OnRetry = alerr.RetryLogger("refresh", "score")

	err := alerr.Retry(ctx, cfg, func(ctx context.Context) error {
		var err error
		score, err = r.scorer.Score(ctx, model.System, interventionID, r.weights)
		return err
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

// All recomputes every non-archived intervention whose linked evidence,
// outcomes, or consent changed since its last score row. Per-intervention
// failures are collected in the summary; only context cancellation stops
// the batch early, and a cancelled batch never leaves a half-written score.
func (r *Refresher) All(ctx context.Context) (*Summary, error) {
	start := time.Now()

	ids, err := r.store.DirtyInterventionIDs(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Dirty: len(ids), StartedAt: start.UTC()}
	if len(ids) == 0 {
		sum.Elapsed = time.Since(start)
		return sum, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}

			_, err := r.One(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				sum.Failures = append(sum.Failures, Failure{InterventionID: id, Reason: err.Error()})
				r.log.Warn("refresh failed",
					zap.String("intervention_id", id),
					zap.Error(err))
				if alerr.IsInvariantViolation(err) {
					r.log.Error("consent invariant violated, entity blocked until reconciled",
						zap.String("intervention_id", id))
				}
				return nil
			}
			sum.Refreshed++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sum.Elapsed = time.Since(start)
		return sum, err
	}

	sum.Elapsed = time.Since(start)
	r.log.Info("refresh batch complete",
		zap.Int("dirty", sum.Dirty),
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", sum.Elapsed))
	return sum, nil
}
