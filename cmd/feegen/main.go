/*
main.go - Command-line fee generation

PURPOSE:
  Operator tool for the fee engine. Seeds a school from a YAML schedule,
  then runs a generation batch once, ensures a single student's ledger,
  or keeps running the batch on the configured cron schedule without
  starting the HTTP server.

COMMAND-LINE FLAGS:
  -env       Path of an optional .env file (default: .env)
  -seed      YAML schedule to load before anything else
  -school    School to generate for (defaults to the seeded school)
  -student   Only ensure this student's ledger
  -run-once  Run the batch for -school and exit
  -seed-only Stop after seeding

  Without -run-once, -student or -seed-only the process runs the batch
  for FEES_GENERATION_SCHOOLS (plus -school) on FEES_GENERATION_SCHEDULE
  until SIGINT/SIGTERM.

EXAMPLES:
  # Load a fee schedule and generate every student's ledger
  FEES_CALCULATION_STRATEGY=terminal ./feegen -seed=fees.yaml -run-once

  # Regenerate one student
  ./feegen -school=sch-1 -student=stu-42

EXIT STATUS:
  0 on success, 1 on configuration errors or a failed run. Per-student
  failures are reported but do not fail a batch.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/warp/fee-engine/app"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
)

func main() {
	envPath := flag.String("env", "", "Path of an optional .env file")
	seedPath := flag.String("seed", "", "YAML fee schedule to load")
	schoolFlag := flag.String("school", "", "School to generate for")
	studentFlag := flag.String("student", "", "Only ensure this student's ledger")
	runOnce := flag.Bool("run-once", false, "Run the generation batch once and exit")
	seedOnly := flag.Bool("seed-only", false, "Stop after seeding")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("invalid log configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *seedPath, generic.SchoolID(*schoolFlag), generic.StudentID(*studentFlag), *runOnce, *seedOnly); err != nil {
		log.WithError(err).Error("feegen failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, seedPath string, school generic.SchoolID, student generic.StudentID, runOnce, seedOnly bool) error {
	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if seedPath != "" {
		schedule, err := factory.NewScheduleFactory().ParseFile(seedPath)
		if err != nil {
			return err
		}
		if err := factory.Seed(ctx, engine.Store, schedule); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"school_id": schedule.SchoolID,
			"versions":  len(schedule.Versions),
			"students":  len(schedule.Students),
		}).Info("schedule seeded")
		if school == "" {
			school = schedule.SchoolID
		}
	}

	if student != "" {
		if school == "" {
			log.Error("-student needs -school or -seed")
			return flagError("school")
		}
		stats, err := engine.Generator.EnsureExists(ctx, student, school)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"student_id": student,
			"months":     stats.Months,
			"generated":  stats.Generated,
			"updated":    stats.Updated,
			"unchanged":  stats.Unchanged,
			"failed":     stats.Failed,
		}).Info("student ledger ensured")
		return nil
	}

	if seedOnly {
		return nil
	}
	if !runOnce {
		return runScheduled(ctx, engine, school)
	}
	if school == "" {
		log.Error("-run-once needs -school or -seed")
		return flagError("school")
	}
	result, err := engine.Scheduler.RunNow(ctx, school)
	if result != nil {
		log.WithFields(logrus.Fields{
			"run_id":    result.ID,
			"status":    result.Status,
			"processed": result.Processed,
			"generated": result.Generated,
			"updated":   result.Updated,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}).Info("generation run finished")
		for sid, msg := range result.Errors {
			log.WithField("student_id", sid).Warn(msg)
		}
	}
	return err
}

// runScheduled blocks until ctx is done, running the batch on the cron
// schedule for every configured school.
func runScheduled(ctx context.Context, engine *app.App, extra generic.SchoolID) error {
	s := engine.Scheduler
	if extra != "" && !slices.Contains(s.Schools, extra) {
		s.Schools = append(s.Schools, extra)
	}
	if len(s.Schools) == 0 {
		engine.Log.Error("no schools to schedule; set FEES_GENERATION_SCHOOLS or -school")
		return flagError("school")
	}
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

type flagError string

func (f flagError) Error() string { return "missing -" + string(f) }
