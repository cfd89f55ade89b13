// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package spawner

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/registry"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSpawner(t *testing.T, store *registry.Store, seed int64, journal string) *Spawner {
	t.Helper()
	spawner, err := New(Config{
		Store:       store,
		Seed:        seed,
		JournalPath: journal,
		Clock:       clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return spawner
}

func newStore(t *testing.T, root string) *registry.Store {
	t.Helper()
	store, err := registry.NewStore(registry.StoreConfig{Directory: filepath.Join(root, "registry")})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

var latencyPolicy = Policy{
	PerNiche: 3,
	Niches: map[string]NichePolicy{
		"latency_monitor": {Ecosystem: "ops", MinActive: 1, MaxDormant: 10},
	},
}

func TestMutateParamsNicheKeys(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	ranges := DefaultRanges()

	tests := []struct {
		niche string
		want  []string
		not   []string
	}{
		{"latency_monitor", []string{"poll_interval_s", "batch_size", "timeout_s", "log_level", "percentile_threshold", "alert_window_s"}, []string{"retention_days"}},
		{"housekeeping", []string{"poll_interval_s", "retention_days", "cleanup_interval_s"}, []string{"alert_window_s"}},
		{"unknown", []string{"poll_interval_s", "batch_size", "timeout_s", "log_level"}, []string{"percentile_threshold", "retention_days"}},
	}
	for _, test := range tests {
		t.Run(test.niche, func(t *testing.T) {
			phenotype := MutateParams(rng, ranges, test.niche)
			for _, key := range test.want {
				if _, ok := phenotype[key]; !ok {
					t.Errorf("phenotype missing %q: %v", key, phenotype)
				}
			}
			for _, key := range test.not {
				if _, ok := phenotype[key]; ok {
					t.Errorf("phenotype has unexpected %q", key)
				}
			}
		})
	}
}

func TestMutateParamsWithinRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 200; i++ {
		phenotype := MutateParams(rng, DefaultRanges(), "latency_monitor")
		threshold := phenotype["percentile_threshold"].(float64)
		if threshold < 90 || threshold > 99.9 {
			t.Fatalf("percentile_threshold = %v, out of [90, 99.9]", threshold)
		}
		batch := phenotype["batch_size"].(int64)
		if batch < 1 || batch > 64 {
			t.Fatalf("batch_size = %d, out of [1, 64]", batch)
		}
		switch phenotype["log_level"] {
		case "debug", "info", "warning":
		default:
			t.Fatalf("log_level = %v", phenotype["log_level"])
		}
	}
}

func TestSpawnVariantsFixedSeedIsDeterministic(t *testing.T) {
	root := t.TempDir()
	first := newSpawner(t, newStore(t, root), 42, "")
	second := newSpawner(t, newStore(t, root), 42, "")

	a, err := first.SpawnVariants("latency_monitor", "ops", 4, nil)
	if err != nil {
		t.Fatalf("SpawnVariants: %v", err)
	}
	b, err := second.SpawnVariants("latency_monitor", "ops", 4, nil)
	if err != nil {
		t.Fatalf("SpawnVariants: %v", err)
	}
	for i := range a {
		if a[i].Record.GenomeHash != b[i].Record.GenomeHash {
			t.Errorf("variant %d: hashes differ: %s vs %s", i, a[i].Record.GenomeHash, b[i].Record.GenomeHash)
		}
		if a[i].Record.LifecycleState != registry.Dormant {
			t.Errorf("variant %d state = %s, want DORMANT", i, a[i].Record.LifecycleState)
		}
		if !strings.HasPrefix(a[i].Record.Name, "latency_monitor-") {
			t.Errorf("variant %d name = %q", i, a[i].Record.Name)
		}
	}
}

func TestSpawnVariantsLineage(t *testing.T) {
	spawner := newSpawner(t, newStore(t, t.TempDir()), 1, "")
	parent := &registry.Zooid{Name: "latency_monitor-b", ParentLineage: []string{"latency_monitor-a"}}

	variants, err := spawner.SpawnVariants("latency_monitor", "ops", 2, parent)
	if err != nil {
		t.Fatalf("SpawnVariants: %v", err)
	}
	for _, variant := range variants {
		lineage := variant.Record.ParentLineage
		if len(lineage) != 2 || lineage[0] != "latency_monitor-a" || lineage[1] != "latency_monitor-b" {
			t.Errorf("lineage = %v", lineage)
		}
		if !strings.Contains(string(variant.Artifact), "parent: latency_monitor-b") {
			t.Errorf("artifact missing parent:\n%s", variant.Artifact)
		}
	}
	if len(parent.ParentLineage) != 1 {
		t.Errorf("parent lineage mutated: %v", parent.ParentLineage)
	}
}

func TestDreamSpawnTickSkipsRepeatedGenomes(t *testing.T) {
	root := t.TempDir()
	store := newStore(t, root)
	journal := filepath.Join(root, "spawn.ndjson")
	ctx := context.Background()

	result, err := newSpawner(t, store, 42, journal).DreamSpawnTick(ctx, latencyPolicy)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if len(result.Registered) != 3 {
		t.Fatalf("first tick registered %d, want 3", len(result.Registered))
	}

	// Same seed, same draws: every candidate is a repeat.
	result, err = newSpawner(t, store, 42, journal).DreamSpawnTick(ctx, latencyPolicy)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(result.Registered) != 0 || result.Skipped != 3 {
		t.Errorf("second tick = %+v, want 0 registered and 3 skipped", result)
	}

	reg, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Version != 1 {
		t.Errorf("Version = %d, want 1 (one write per productive tick)", reg.Version)
	}
	if got := reg.Niches["latency_monitor"].Count(registry.Dormant); got != 3 {
		t.Errorf("dormant count = %d, want 3", got)
	}

	entries, err := ReadJournal(journal)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journal has %d entries, want 3", len(entries))
	}
	for _, entry := range entries {
		if entry.Event != JournalEvent || entry.Niche != "latency_monitor" || entry.Ecosystem != "ops" {
			t.Errorf("unexpected journal entry %+v", entry)
		}
		if reg.Genomes[entry.GenomeHash] != entry.Zooid {
			t.Errorf("journal entry %s not bound in genome index", entry.Zooid)
		}
		if _, ok := entry.Phenotype["alert_window_s"]; !ok {
			t.Errorf("journal phenotype missing niche parameter: %v", entry.Phenotype)
		}
	}
}

func TestDreamSpawnTickRespectsPopulationBounds(t *testing.T) {
	store := newStore(t, t.TempDir())
	ctx := context.Background()
	policy := Policy{
		PerNiche: 2,
		Niches: map[string]NichePolicy{
			"housekeeping": {Ecosystem: "ops", MinActive: 1, MaxDormant: 2},
		},
	}
	spawner := newSpawner(t, store, 9, "")

	result, err := spawner.DreamSpawnTick(ctx, policy)
	if err != nil {
		t.Fatalf("DreamSpawnTick: %v", err)
	}
	if len(result.Registered) != 2 {
		t.Fatalf("registered %d, want 2", len(result.Registered))
	}

	// Dormant ceiling reached.
	result, err = spawner.DreamSpawnTick(ctx, policy)
	if err != nil {
		t.Fatalf("DreamSpawnTick: %v", err)
	}
	if len(result.Registered) != 0 || result.Skipped != 0 {
		t.Errorf("tick at ceiling = %+v, want nothing", result)
	}
}

func TestLoadRangesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.jsonc")
	content := `{
		// narrow the threshold
		"latency_monitor": {
			"percentile_threshold": {"kind": "float", "min": 95, "max": 95},
		},
		"queue_drainer": {
			"drain_rate": {"kind": "int", "min": 10, "max": 20}, /* new niche */
		},
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ranges, err := LoadRanges(path)
	if err != nil {
		t.Fatalf("LoadRanges: %v", err)
	}
	if _, ok := ranges["latency_monitor"]["alert_window_s"]; !ok {
		t.Error("override dropped an unrelated default parameter")
	}
	phenotype := MutateParams(rand.New(rand.NewPCG(3, 3)), ranges, "latency_monitor")
	if phenotype["percentile_threshold"] != 95.0 {
		t.Errorf("percentile_threshold = %v, want 95", phenotype["percentile_threshold"])
	}
	phenotype = MutateParams(rand.New(rand.NewPCG(3, 3)), ranges, "queue_drainer")
	if _, ok := phenotype["drain_rate"]; !ok {
		t.Errorf("new niche parameter missing: %v", phenotype)
	}
}

func TestLoadRangesRejectsBadKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.jsonc")
	if err := os.WriteFile(path, []byte(`{"common": {"x": {"kind": "bytes"}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRanges(path); err == nil {
		t.Fatal("LoadRanges accepted an unknown kind")
	}
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variant.tmpl")
	if err := os.WriteFile(path, []byte("{{ .Niche }}/{{ .Ecosystem }}{{ range .Params }} {{ .Key }}={{ .Value }}{{ end }}"), 0o644); err != nil {
		t.Fatal(err)
	}
	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	artifact, err := Render(tmpl, "housekeeping", "ops", "", map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := string(artifact), "housekeeping/ops a=1 b=2"; got != want {
		t.Errorf("artifact = %q, want %q", got, want)
	}
}

func TestSpawnWithParent(t *testing.T) {
	store := newStore(t, t.TempDir())
	ctx := context.Background()
	spawner := newSpawner(t, store, 5, "")

	first, err := spawner.Spawn(ctx, "housekeeping", "ops", 1, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(first.Registered) != 1 {
		t.Fatalf("registered %d, want 1", len(first.Registered))
	}
	parent := first.Registered[0]

	children, err := spawner.Spawn(ctx, "housekeeping", "", 2, parent)
	if err != nil {
		t.Fatalf("Spawn with parent: %v", err)
	}
	reg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range children.Registered {
		child := reg.Zooids[name]
		if len(child.ParentLineage) != 1 || child.ParentLineage[0] != parent {
			t.Errorf("%s lineage = %v, want [%s]", name, child.ParentLineage, parent)
		}
		if child.Ecosystem != "ops" {
			t.Errorf("%s ecosystem = %q, want inherited ops", name, child.Ecosystem)
		}
	}

	if _, err := spawner.Spawn(ctx, "housekeeping", "ops", 1, "missing"); err == nil {
		t.Error("Spawn accepted an unregistered parent")
	}
}
