package inscription

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/tables"
)

// Supervisor finds incomplete jobs and drives them to a terminal state.
// A weight-one semaphore serializes all advancement system-wide: two jobs
// racing for the same wallet UTXOs could double-spend, so exactly one job is
// ever mid-flight.
type Supervisor struct {
	inscriber    *Inscriber
	store        JobStore
	slot         *semaphore.Weighted
	pollInterval time.Duration
}

type SupervisorOption func(*Supervisor)

// WithPollInterval sets how often Run rescans for incomplete jobs.
func WithPollInterval(interval time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func NewSupervisor(inscriber *Inscriber, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		inscriber:    inscriber,
		store:        inscriber.store,
		slot:         semaphore.NewWeighted(1),
		pollInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce drains the current incomplete job list, processing jobs first, then
// pending jobs in arrival order. A wallet outage stops the pass; the jobs
// stay incomplete and the next pass picks them up again.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	if s.inscriber.dryRun {
		return errors.New("cannot supervise a dry-run inscriber")
	}
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.slot.Release(1)

	jobs, err := s.store.IncompleteJobs()
	if err != nil {
		return err
	}
	for idx := range jobs {
		job := jobs[idx]
		if err := s.driveJob(ctx, &job); err != nil {
			if errors.Is(err, ErrWalletUnavailable) {
				log.Log.Warnf("resume deferred, wallet unavailable: %v", err)
				return err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Log.Errorf("job %s: advance failed, will retry next pass: %v", job.Id, err)
		}
	}
	return nil
}

// driveJob advances one job until it is terminal or a deferrable error stops
// it. Permanent failures are already recorded on the job by Advance and do
// not abort the pass.
func (s *Supervisor) driveJob(ctx context.Context, job *tables.InscriptionJob) error {
	for !job.Status.Terminal() {
		if _, err := s.inscriber.Advance(ctx, job); err != nil {
			if job.Status.Terminal() {
				return nil
			}
			return err
		}
	}
	return nil
}

// Run drives RunOnce on an interval until the context ends. Deferred passes
// are retried on the next tick rather than surfaced.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
