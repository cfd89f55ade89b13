// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package colony

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/bus"
	"github.com/zooid-fleet/zooid/fitness"
	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/config"
	"github.com/zooid-fleet/zooid/lib/testutil"
	"github.com/zooid-fleet/zooid/lifecycle"
	"github.com/zooid-fleet/zooid/registry"
)

const testTimeout = 10 * time.Second

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	socketDir := testutil.SocketDir(t)
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
paths:
  root: %s
  bus: %s
bus:
  slow_joiner_gap: 20ms
graduation:
  min_phase_evidence: 5
  prod_min_evidence: 2
  heartbeat_slo: 5s
spawn:
  per_niche: 2
  seed: 11
  niches:
    housekeeping:
      ecosystem: ops
      min_active: 1
      max_dormant: 4
`, root, socketDir)))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func startHub(t *testing.T, directory string) {
	t.Helper()
	hub, err := bus.NewHub(bus.HubConfig{Directory: directory})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- hub.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	testutil.RequireClosed(t, hub.Ready(), testTimeout, "hub never became ready")
}

func openEnv(t *testing.T, cfg *config.Config, name string) *Env {
	t.Helper()
	env, err := Open(cfg, Options{Name: name})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestOpenRequiresName(t *testing.T) {
	if _, err := Open(testConfig(t), Options{}); err == nil {
		t.Fatal("Open accepted an empty name")
	}
}

func TestSpawnPolicyFromConfig(t *testing.T) {
	env := openEnv(t, testConfig(t), "zooidctl")
	policy := env.SpawnPolicy()
	if policy.PerNiche != 2 {
		t.Errorf("PerNiche = %d, want 2", policy.PerNiche)
	}
	housekeeping, ok := policy.Niches["housekeeping"]
	if !ok || housekeeping.Ecosystem != "ops" || housekeeping.MaxDormant != 4 {
		t.Errorf("housekeeping policy = %+v", housekeeping)
	}

	result, err := env.Spawner.DreamSpawnTick(context.Background(), policy)
	if err != nil {
		t.Fatalf("DreamSpawnTick: %v", err)
	}
	if len(result.Registered) != 2 {
		t.Errorf("registered %d, want 2", len(result.Registered))
	}
	if filepath.Dir(env.Config.Paths.SpawnJournal) != env.Config.Paths.Root {
		t.Errorf("spawn journal %s not under root %s", env.Config.Paths.SpawnJournal, env.Config.Paths.Root)
	}
}

// TestPromotionOverBus drives one promotion end to end: the graduator
// asks for a service start on the bus, a stand-in supervisor answers
// with the zooid's heartbeat, and the transition events come back on
// the lifecycle topic.
func TestPromotionOverBus(t *testing.T) {
	cfg := testConfig(t)
	startHub(t, cfg.Paths.Bus)
	ctx := context.Background()
	env := openEnv(t, cfg, "graduator")
	const zooid = "housekeeping-0001"

	supervisor := openEnv(t, cfg, "supervisor")
	starts := make(chan string, 4)
	serviceConfig := supervisor.SubscribeConfig()
	serviceConfig.Topic = TopicService
	serviceConfig.Publisher = nil
	serviceConfig.Handler = func(ctx context.Context, envelope bus.Envelope) error {
		if envelope.Signal != SignalServiceStart {
			return nil
		}
		name, _ := envelope.Facts.String("zooid")
		starts <- name
		_, err := supervisor.Publisher.Emit(ctx, bus.TopicHeartbeat, bus.EmitOptions{
			Signal: bus.SignalHeartbeat,
			Facts:  bus.Facts{"name": name},
		})
		return err
	}
	serviceSubscriber, err := bus.Subscribe(ctx, serviceConfig)
	if err != nil {
		t.Fatalf("Subscribe service: %v", err)
	}
	defer serviceSubscriber.Close()

	events := make(chan bus.Envelope, 8)
	lifecycleConfig := supervisor.SubscribeConfig()
	lifecycleConfig.Topic = bus.TopicLifecycle
	lifecycleConfig.Publisher = nil
	lifecycleConfig.Handler = func(_ context.Context, envelope bus.Envelope) error {
		events <- envelope
		return nil
	}
	lifecycleSubscriber, err := bus.Subscribe(ctx, lifecycleConfig)
	if err != nil {
		t.Fatalf("Subscribe lifecycle: %v", err)
	}
	defer lifecycleSubscriber.Close()

	if err := env.WatchHeartbeats(ctx); err != nil {
		t.Fatalf("WatchHeartbeats: %v", err)
	}

	now := time.Now()
	err = env.Registry.Update(ctx, func(reg *registry.Registry) (bool, error) {
		ts := clock.Epoch(now)
		return true, reg.Register(&registry.Zooid{
			Name:           zooid,
			Niche:          "housekeeping",
			Ecosystem:      "ops",
			LifecycleState: registry.Probation,
			GenomeHash:     "aa",
			CreatedTS:      ts,
			EnteredTS:      ts,
		})
	})
	if err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	var rows []fitness.Row
	for i := range 6 {
		rows = append(rows, fitness.Row{Candidate: zooid, TS: clock.Epoch(now.Add(-time.Duration(i) * time.Minute)), CompositeFitness: 0.9})
	}
	if err := env.Evidence.Append(ctx, rows...); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := env.Evidence.AppendOutcomes(ctx,
		fitness.Outcome{Candidate: zooid, TS: clock.Epoch(now), OK: true},
		fitness.Outcome{Candidate: zooid, TS: clock.Epoch(now), OK: true},
	); err != nil {
		t.Fatalf("AppendOutcomes: %v", err)
	}

	results, err := env.Graduator.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(results) != 1 || results[0].FinalState != registry.Active {
		t.Fatalf("results = %+v, want one promotion to ACTIVE", results)
	}
	if got := testutil.RequireReceive(t, starts, testTimeout, "no service start request"); got != zooid {
		t.Errorf("start requested for %q, want %q", got, zooid)
	}

	event := testutil.RequireReceive(t, events, testTimeout, "no lifecycle event")
	if event.Signal != lifecycle.EventPromote {
		t.Errorf("lifecycle signal = %q, want %q", event.Signal, lifecycle.EventPromote)
	}
	if name, _ := event.Facts.String("zooid"); name != zooid {
		t.Errorf("lifecycle event zooid = %q", name)
	}
}
