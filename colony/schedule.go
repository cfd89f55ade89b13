// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package colony

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zooid-fleet/zooid/lib/filelock"
	"github.com/zooid-fleet/zooid/lib/schedule"
)

// SchedulerLockFile sits in the state directory and is held by the one
// process running the periodic ticks.
const SchedulerLockFile = "scheduler.lock"

// ErrSchedulerRunning is returned by RunSchedule when another process
// already holds the scheduler lock.
var ErrSchedulerRunning = errors.New("another scheduler is running")

// Job is one periodic tick.
type Job struct {
	Name     string
	Schedule schedule.Schedule
	Run      func(ctx context.Context) error
}

// Jobs returns the ticks enabled in the schedule section, in the order
// they run when due together: sla, graduate, batch, spawn, archive.
func (e *Env) Jobs() ([]Job, error) {
	cfg := e.Config.Schedule
	candidates := []struct {
		name       string
		expression string
		run        func(context.Context) error
	}{
		{"sla", cfg.SLA, func(ctx context.Context) error {
			demoted, err := e.Graduator.EnforceSLA(ctx)
			if len(demoted) > 0 {
				e.Logger.Info("sla tick", "demoted", demoted)
			}
			return err
		}},
		{"graduate", cfg.Graduate, func(ctx context.Context) error {
			_, err := e.Graduator.Tick(ctx)
			return err
		}},
		{"batch", cfg.Batch, func(ctx context.Context) error {
			_, err := e.Graduator.BatchTrigger(ctx)
			return err
		}},
		{"spawn", cfg.Spawn, func(ctx context.Context) error {
			_, err := e.Spawner.DreamSpawnTick(ctx, e.SpawnPolicy())
			return err
		}},
		{"archive", cfg.Archive, func(context.Context) error {
			archived, err := e.Registry.ArchiveSnapshots(cfg.ArchiveKeep)
			if len(archived) > 0 {
				e.Logger.Info("archive tick", "archived", len(archived))
			}
			return err
		}},
	}

	var jobs []Job
	for _, candidate := range candidates {
		if candidate.expression == "" {
			continue
		}
		parsed, err := schedule.Parse(candidate.expression)
		if err != nil {
			return nil, fmt.Errorf("schedule.%s: %w", candidate.name, err)
		}
		jobs = append(jobs, Job{Name: candidate.name, Schedule: parsed, Run: candidate.run})
	}
	return jobs, nil
}

// RunSchedule runs jobs on their schedules until ctx is cancelled.
// Only one process per state directory may run it at a time; the others
// get ErrSchedulerRunning. Jobs never overlap: due jobs run one after another in slice order.
// A fire time missed while other jobs were running is skipped, not
// queued. A failed job is logged and keeps its schedule.
func (e *Env) RunSchedule(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return fmt.Errorf("colony: no scheduled jobs")
	}
	if err := os.MkdirAll(e.Config.Paths.State, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	lockPath := filepath.Join(e.Config.Paths.State, SchedulerLockFile)
	lock, ok, err := filelock.TryAcquire(lockPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is held", ErrSchedulerRunning, lockPath)
	}
	defer lock.Release()

	next := make([]time.Time, len(jobs))
	now := e.Clock.Now()
	for i, job := range jobs {
		fire, err := job.Schedule.Next(now)
		if err != nil {
			return fmt.Errorf("scheduling %s: %w", job.Name, err)
		}
		next[i] = fire
		e.Logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule.String(), "next", fire)
	}

	for {
		earliest := next[0]
		for _, fire := range next[1:] {
			if fire.Before(earliest) {
				earliest = fire
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.Clock.After(earliest.Sub(e.Clock.Now())):
		}

		now := e.Clock.Now()
		for i, job := range jobs {
			if next[i].After(now) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			started := e.Clock.Now()
			if err := job.Run(ctx); err != nil {
				e.Logger.Error("job failed", "job", job.Name, "error", err)
			} else {
				e.Logger.Debug("job finished", "job", job.Name, "duration", e.Clock.Now().Sub(started))
			}
			fire, err := job.Schedule.Next(e.Clock.Now())
			if err != nil {
				return fmt.Errorf("scheduling %s: %w", job.Name, err)
			}
			next[i] = fire
		}
	}
}
