package fees

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/fee-engine/generic"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH RUNNER - Generation over a whole school
// =============================================================================

const (
	DefaultBatchSize   = 100
	DefaultParallelism = 4
	DefaultBatchPause  = 500 * time.Millisecond
	DefaultLockTTL     = 5 * time.Minute
)

// Locker serializes runs for the same student across workers and processes.
// Acquire returns generic.ErrLockHeld when someone else owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// BatchReport summarizes a run. Errors are keyed by student.
type BatchReport struct {
	Processed int
	Generated int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	Errors    map[generic.StudentID]error
	StartedAt time.Time
	Duration  time.Duration
}

// BatchRunner pages through students and runs EnsureExists for each, with
// bounded parallelism inside a batch and a pause between batches.
type BatchRunner struct {
	Students    StudentDirectory
	Generator   *Generator
	Locker      Locker
	BatchSize   int
	Parallelism int
	BatchPause  time.Duration
	LockTTL     time.Duration
	Log         logrus.FieldLogger
	Metrics     *Metrics
}

func NewBatchRunner(students StudentDirectory, gen *Generator, locker Locker, log logrus.FieldLogger) *BatchRunner {
	return &BatchRunner{
		Students:    students,
		Generator:   gen,
		Locker:      locker,
		BatchSize:   DefaultBatchSize,
		Parallelism: DefaultParallelism,
		BatchPause:  DefaultBatchPause,
		LockTTL:     DefaultLockTTL,
		Log:         log,
	}
}

// Run processes every student of the school. Per-student failures land in
// the report; only cancellation or a failure to list students is returned
// as an error. Already-upserted months stay valid, so a run can always be
// retried from scratch.
func (r *BatchRunner) Run(ctx context.Context, schoolID generic.SchoolID) (*BatchReport, error) {
	report := &BatchReport{
		Errors:    make(map[generic.StudentID]error),
		StartedAt: time.Now().UTC(),
	}
	log := r.Log.WithFields(logrus.Fields{"component": "batch_runner", "school_id": schoolID})
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		r.Metrics.run(report.Duration)
	}()

	size := r.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var mu sync.Mutex

	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		students, err := r.Students.ListStudents(ctx, schoolID, offset, size)
		if err != nil {
			return report, err
		}
		if len(students) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(max(r.Parallelism, 1))
		for _, s := range students {
			g.Go(func() error {
				stats, outcome, err := r.runStudent(ctx, s)
				r.Metrics.student(string(outcome))
				mu.Lock()
				defer mu.Unlock()
				report.merge(s.ID, stats, outcome, err)
				return nil
			})
		}
		_ = g.Wait()

		log.WithFields(logrus.Fields{
			"offset":    offset,
			"batch":     len(students),
			"processed": report.Processed,
			"failed":    report.Failed,
		}).Info("batch complete")

		if len(students) < size {
			break
		}
		if r.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(r.BatchPause):
			}
		}
	}

	log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"generated": report.Generated,
		"updated":   report.Updated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}).Info("generation run finished")
	return report, nil
}

type studentOutcome string

const (
	studentDone    studentOutcome = "processed"
	studentSkipped studentOutcome = "skipped"
	studentFailed  studentOutcome = "failed"
)

func (r *BatchRunner) runStudent(ctx context.Context, s Student) (RunStats, studentOutcome, error) {
	if ctx.Err() != nil || !s.IsActive {
		return RunStats{}, studentSkipped, nil
	}

	if r.Locker != nil {
		ttl := r.LockTTL
		if ttl <= 0 {
			ttl = DefaultLockTTL
		}
		release, err := r.Locker.Acquire(ctx, "fees:generate:"+string(s.ID), ttl)
		if errors.Is(err, generic.ErrLockHeld) {
			r.Log.WithField("student_id", s.ID).Info("generation already running, skipping")
			return RunStats{}, studentSkipped, nil
		}
		if err != nil {
			return RunStats{}, studentFailed, &generic.StudentError{StudentID: s.ID, Err: err}
		}
		defer release()
	}

	stats, err := r.Generator.EnsureExists(ctx, s.ID, s.SchoolID)
	if err != nil {
		return stats, studentFailed, err
	}
	return stats, studentDone, nil
}

func (b *BatchReport) merge(id generic.StudentID, stats RunStats, outcome studentOutcome, err error) {
	switch outcome {
	case studentSkipped:
		b.Skipped++
		return
	case studentFailed:
		b.Failed++
		b.Errors[id] = err
	}
	b.Processed++
	b.Generated += stats.Generated
	b.Updated += stats.Updated
	b.Unchanged += stats.Unchanged
}

// ToRun converts a report into an audit record.
func (b *BatchReport) ToRun(id RunID, schoolID generic.SchoolID) GenerationRun {
	run := GenerationRun{
		ID:        id,
		SchoolID:  schoolID,
		Status:    RunCompleted,
		Processed: b.Processed,
		Generated: b.Generated,
		Updated:   b.Updated,
		Skipped:   b.Skipped,
		Failed:    b.Failed,
		Errors:    make(map[generic.StudentID]string, len(b.Errors)),
		StartedAt: b.StartedAt,
	}
	for sid, err := range b.Errors {
		run.Errors[sid] = causeOf(err).Error()
	}
	done := b.StartedAt.Add(b.Duration)
	run.CompletedAt = &done
	return run
}

// causeOf strips the StudentError wrapper so audit records keep the detail
// the user-facing message hides.
func causeOf(err error) error {
	if cause := errors.Unwrap(err); cause != nil {
		return cause
	}
	return err
}
