package refresh

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Scheduler runs the batch refresher on a cron schedule. Overlapping runs
// are skipped rather than queued: a batch still in flight means the
// portfolio is already being converged.
type Scheduler struct {
	refresher *Refresher
	cron      *cron.Cron
	log       *zap.Logger
}

// NewScheduler returns a Scheduler that fires spec (standard five-field
// cron syntax) against the given refresher.
func NewScheduler(r *Refresher, spec string, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		refresher: r,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		log: log.Named("scheduler"),
	}

	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, eris.Wrapf(err, "scheduler: invalid cron spec %q", spec)
	}
	return s, nil
}

func (s *Scheduler) run() {
	sum, err := s.refresher.All(context.Background())
	if err != nil {
		s.log.Error("scheduled refresh aborted", zap.Error(err))
		return
	}
	s.log.Info("scheduled refresh done",
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("failed", sum.Failed))
}

// Start begins firing the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
