package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/portfolio"
	"github.com/justicehub-au/alma-engine/internal/refresh"
	"github.com/justicehub-au/alma-engine/internal/report"
	"github.com/justicehub-au/alma-engine/internal/signal"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// engineEnv holds the initialized store and all engine components needed by
// the serve/score/refresh/report commands.
type engineEnv struct {
	Store     store.Store
	Gate      *consent.Gate
	Ledger    *consent.Ledger
	Scorer    *portfolio.Scorer
	Refresher *refresh.Refresher
	Gaps      *report.GapReporter
	Comparer  *report.Comparer
	Exporter  *report.Exporter
	Weights   model.WeightSet
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "alma.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, registers the configured weight set, and
// wires the gate, scorer, refresher, and reporters. Callers should defer
// env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	if err := cfg.Validate("score"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ws, err := st.EnsureWeightSet(ctx, cfg.Weights.WeightSet())
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "register weight set")
	}

	log := zap.L()
	gate := consent.NewGate(st, log)
	engine := &signal.Engine{HarmKeywords: cfg.Signals.HarmKeywords}
	thresholds := portfolio.Thresholds{
		ScaleEvidenceMin:  cfg.Weights.ScaleEvidenceMin,
		ScaleSafetyMin:    cfg.Weights.ScaleSafetyMin,
		PilotEvidenceMax:  cfg.Weights.PilotEvidenceMax,
		PilotAuthorityMin: cfg.Weights.PilotAuthorityMin,
		PilotOptionMin:    cfg.Weights.PilotOptionMin,
		MitigateSafetyMax: cfg.Weights.MitigateSafetyMax,
		MonitorComposite:  cfg.Weights.MonitorComposite,
	}
	scorer := portfolio.NewScorer(st, gate, engine, thresholds, log)

	return &engineEnv{
		Store:     st,
		Gate:      gate,
		Ledger:    consent.NewLedger(st, log),
		Scorer:    scorer,
		Refresher: refresh.New(st, scorer, *ws, cfg.Refresh.Concurrency, cfg.Refresh.RatePerSec, log),
		Gaps:      report.NewGapReporter(st, gate, cfg.Gaps.CoverageTarget, cfg.Gaps.OptionValueFloor, log),
		Comparer:  report.NewComparer(st, gate, log),
		Exporter:  report.NewExporter(st, gate, log),
		Weights:   *ws,
	}, nil
}

var cliActor string

// cliCaller is the consent context for local CLI invocations. The CLI is an
// operator surface, so it runs as the internal role.
func cliCaller() model.Caller {
	actor := cliActor
	if actor == "" {
		actor = "cli"
	}
	return model.Caller{Actor: actor, Role: model.RoleInternal}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cliActor, "actor", "", "actor identity recorded in audit trails")
}
