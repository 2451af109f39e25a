/*
scheduler.go - Scheduled fee generation

PURPOSE:
  Runs the batch generator for every configured school on a cron schedule
  and records each run as a GenerationRun for audit and the API.

DESIGN:
  - robfig/cron drives the schedule; overlapping ticks are skipped
  - One run per school at a time; a manual trigger while a run is in
    progress returns ErrRunInProgress
  - The run record is saved as "running" first and overwritten with the
    final counts, so a crashed process leaves a visible trace
  - Per-student failures do not fail the run; only a listing failure or
    cancellation marks it failed

USAGE:
  s := NewGenerationScheduler(runner, store, "0 2 * * *", schools, log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - fees/batch.go: BatchRunner
  - handlers.go: POST /generation-runs (manual trigger)
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

var ErrRunInProgress = errors.New("a generation run is already in progress for this school")

// runErrorKey holds the run-level failure in GenerationRun.Errors.
const runErrorKey generic.StudentID = "_run"

// GenerationScheduler handles scheduled and manual generation runs.
type GenerationScheduler struct {
	Runner   *fees.BatchRunner
	Runs     fees.RunStore
	Schedule string
	Schools  []generic.SchoolID
	Log      logrus.FieldLogger
	Now      func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running map[generic.SchoolID]bool
}

func NewGenerationScheduler(runner *fees.BatchRunner, runs fees.RunStore, schedule string, schools []generic.SchoolID, log logrus.FieldLogger) *GenerationScheduler {
	return &GenerationScheduler{
		Runner:   runner,
		Runs:     runs,
		Schedule: schedule,
		Schools:  schools,
		Log:      log,
		Now:      time.Now,
		running:  make(map[generic.SchoolID]bool),
	}
}

// Start registers the schedule and starts the cron loop.
func (s *GenerationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.Schedule, s.runAll); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.Log.WithFields(logrus.Fields{"component": "scheduler", "schedule": s.Schedule, "schools": len(s.Schools)}).
		Info("generation scheduler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight tick.
func (s *GenerationScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.Log.WithField("component", "scheduler").Info("generation scheduler stopped")
	}
}

func (s *GenerationScheduler) runAll() {
	ctx := context.Background()
	for _, school := range s.Schools {
		run, err := s.RunNow(ctx, school)
		log := s.Log.WithFields(logrus.Fields{"component": "scheduler", "school_id": school})
		if err != nil {
			log.WithError(err).Error("scheduled generation failed")
			continue
		}
		log.WithFields(logrus.Fields{
			"run_id":    run.ID,
			"processed": run.Processed,
			"generated": run.Generated,
			"failed":    run.Failed,
		}).Info("scheduled generation completed")
	}
}

// RunNow runs the batch for one school and records it. The returned run
// is the final record, also when the batch itself failed.
func (s *GenerationScheduler) RunNow(ctx context.Context, schoolID generic.SchoolID) (*fees.GenerationRun, error) {
	if !s.claim(schoolID) {
		return nil, ErrRunInProgress
	}
	defer s.release(schoolID)

	run := fees.GenerationRun{
		ID:        fees.RunID(uuid.NewString()),
		SchoolID:  schoolID,
		Status:    fees.RunRunning,
		StartedAt: s.Now().UTC(),
	}
	if err := s.Runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	report, err := s.Runner.Run(ctx, schoolID)
	if err != nil {
		done := s.Now().UTC()
		run.Status = fees.RunFailed
		run.CompletedAt = &done
		run.Errors = map[generic.StudentID]string{runErrorKey: err.Error()}
		if report != nil {
			partial := report.ToRun(run.ID, schoolID)
			partial.Status = fees.RunFailed
			partial.StartedAt = run.StartedAt
			partial.CompletedAt = &done
			partial.Errors[runErrorKey] = err.Error()
			run = partial
		}
		if saveErr := s.Runs.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
			return nil, errors.Join(err, saveErr)
		}
		return &run, err
	}

	final := report.ToRun(run.ID, schoolID)
	final.StartedAt = run.StartedAt
	if err := s.Runs.SaveRun(ctx, final); err != nil {
		return nil, err
	}
	return &final, nil
}

func (s *GenerationScheduler) claim(schoolID generic.SchoolID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[schoolID] {
		return false
	}
	s.running[schoolID] = true
	return true
}

func (s *GenerationScheduler) release(schoolID generic.SchoolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, schoolID)
}
