// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package colony

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/filelock"
	"github.com/zooid-fleet/zooid/lib/schedule"
	"github.com/zooid-fleet/zooid/lib/testutil"
)

func TestJobsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.SLA = ""
	env := openEnv(t, cfg, "scheduler")

	jobs, err := env.Jobs()
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	var names []string
	for _, job := range jobs {
		names = append(names, job.Name)
	}
	want := []string{"graduate", "batch", "spawn", "archive"}
	if len(names) != len(want) {
		t.Fatalf("jobs = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("jobs = %v, want %v", names, want)
		}
	}

	// The spawn job really spawns.
	for _, job := range jobs {
		if job.Name == "spawn" {
			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("spawn job: %v", err)
			}
		}
	}
	reg, err := env.Registry.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Zooids) != 2 {
		t.Errorf("spawn job registered %d zooids, want 2", len(reg.Zooids))
	}
}

func TestRunScheduleFiresOnTime(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	env, err := Open(testConfig(t), Options{Name: "scheduler", Clock: fake})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer env.Close()

	minutely := make(chan time.Time, 8)
	everyOther := make(chan time.Time, 8)
	jobs := []Job{
		{Name: "minutely", Schedule: schedule.MustParse("@every 1m"), Run: func(context.Context) error {
			minutely <- fake.Now()
			return nil
		}},
		{Name: "even", Schedule: schedule.MustParse("*/2 * * * *"), Run: func(context.Context) error {
			everyOther <- fake.Now()
			return errors.New("failures keep the schedule")
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.RunSchedule(ctx, jobs) }()

	for minute := 1; minute <= 4; minute++ {
		fake.WaitForTimers(1)
		fake.Advance(time.Minute)
		at := testutil.RequireReceive(t, minutely, testTimeout, "minutely job did not run")
		if at.Minute() != minute {
			t.Errorf("minutely ran at %s, want minute %d", at, minute)
		}
		if minute%2 == 0 {
			at := testutil.RequireReceive(t, everyOther, testTimeout, "even job did not run")
			if at.Minute() != minute {
				t.Errorf("even job ran at %s, want minute %d", at, minute)
			}
		}
	}
	testutil.RequireNoReceive(t, everyOther, 50*time.Millisecond, "even job ran on an odd minute")

	cancel()
	if err := testutil.RequireReceive(t, done, testTimeout, "RunSchedule did not return"); err != nil {
		t.Errorf("RunSchedule: %v", err)
	}
}

func TestRunScheduleRequiresJobs(t *testing.T) {
	env := openEnv(t, testConfig(t), "scheduler")
	if err := env.RunSchedule(context.Background(), nil); err == nil {
		t.Fatal("RunSchedule with no jobs returned nil")
	}
}

func TestRunScheduleIsExclusive(t *testing.T) {
	cfg := testConfig(t)
	env := openEnv(t, cfg, "scheduler")
	if err := os.MkdirAll(cfg.Paths.State, 0o755); err != nil {
		t.Fatal(err)
	}
	held, ok, err := filelock.TryAcquire(filepath.Join(cfg.Paths.State, SchedulerLockFile))
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	defer held.Release()

	jobs := []Job{{Name: "noop", Schedule: schedule.MustParse("@every 1m"), Run: func(context.Context) error { return nil }}}
	if err := env.RunSchedule(context.Background(), jobs); !errors.Is(err, ErrSchedulerRunning) {
		t.Fatalf("RunSchedule error = %v, want ErrSchedulerRunning", err)
	}
}
