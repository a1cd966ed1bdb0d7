package hyperstate

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type runConfig struct {
	Lr    float64
	Steps int `default:"100"`
}

type runState struct {
	Step   int `default:"0"`
	Params Lazy[netParams]
}

func newRunState(config *runConfig, ctx *BlobContext) (*runState, error) {
	return &runState{Params: LazyOf(&netParams{weights: []float64{config.Lr}})}, nil
}

type countState struct {
	Count int `default:"0"`
}

type emptyConfig struct{}

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestManagerCheckpointCycle(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\n")
	checkpoints := filepath.Join(dir, "checkpoints")

	m, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	config, err := m.Config()
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if !reflect.DeepEqual(config, &runConfig{Lr: 0.1, Steps: 100}) {
		t.Fatalf("config = %#v", config)
	}
	state, err := m.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if state.Step != 0 {
		t.Fatalf("fresh Step = %d, want 0", state.Step)
	}

	state.Step = 50
	params, err := state.Params.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	params.weights = []float64{1, 2, 3}
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}

	saved := filepath.Join(checkpoints, "latest-step000000000050")
	for _, name := range []string{configFilename, stateFilename, "state.params.msgpack"} {
		if _, err := os.Stat(filepath.Join(saved, name)); err != nil {
			t.Fatalf("checkpoint file %s missing: %v", name, err)
		}
	}

	restored, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	state2, err := restored.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if state2.Step != 50 {
		t.Fatalf("restored Step = %d, want 50", state2.Step)
	}
	params2, err := state2.Params.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !reflect.DeepEqual(params2.weights, []float64{1, 2, 3}) {
		t.Fatalf("restored weights = %v, want [1 2 3]", params2.weights)
	}
	config2, err := restored.Config()
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if !reflect.DeepEqual(config2, config) {
		t.Fatalf("restored config = %#v, want %#v", config2, config)
	}

	state2.Step = 60
	if err := restored.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(checkpoints, "latest-step000000000060")); err != nil {
		t.Fatalf("new checkpoint missing: %v", err)
	}
	if _, err := os.Stat(saved); !os.IsNotExist(err) {
		t.Fatalf("previous checkpoint should be pruned, stat error = %v", err)
	}
}

func TestStepWithoutCheckpointDirIsNoop(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.2\n")
	m, err := NewStateManager(newRunState, WithInitPath(configPath))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	state, err := m.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	state.Step = 5
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir entries = %d, want only the config file", len(entries))
	}
}

func TestStepSkipsExistingCheckpoint(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\n")
	checkpoints := filepath.Join(dir, "checkpoints")
	m, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	state, err := m.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	state.Step = 9
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}

	marker := filepath.Join(checkpoints, "latest-step000000000009", "marker")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}
	if err := m.Step(); err != nil {
		t.Fatalf("second Step() error: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("checkpoint was rewritten: %v", err)
	}
}

func TestCustomCheckpointKey(t *testing.T) {
	dir := t.TempDir()
	checkpoints := filepath.Join(dir, "ckpt")
	m, err := NewStateManager(
		func(config *emptyConfig, ctx *BlobContext) (*countState, error) {
			return &countState{Count: 7}, nil
		},
		WithCheckpointDir(checkpoints),
		WithCheckpointKey("count"),
	)
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(checkpoints, "latest-count000000000007")); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
}

func TestCheckpointKeyValidation(t *testing.T) {
	t.Run("missing field", func(t *testing.T) {
		m, err := NewStateManager(
			func(config *emptyConfig, ctx *BlobContext) (*countState, error) {
				return &countState{}, nil
			},
			WithCheckpointDir(t.TempDir()),
		)
		if err != nil {
			t.Fatalf("NewStateManager() error: %v", err)
		}
		err = m.Step()
		if err == nil || !strings.Contains(err.Error(), `no checkpoint key field "step"`) {
			t.Fatalf("Step() error = %v, want missing key field", err)
		}
	})
	t.Run("non-integer field", func(t *testing.T) {
		type labelState struct {
			Step string `default:"x"`
		}
		m, err := NewStateManager(
			func(config *emptyConfig, ctx *BlobContext) (*labelState, error) {
				return &labelState{Step: "x"}, nil
			},
			WithCheckpointDir(t.TempDir()),
		)
		if err != nil {
			t.Fatalf("NewStateManager() error: %v", err)
		}
		err = m.Step()
		if err == nil || !strings.Contains(err.Error(), "must be an integer") {
			t.Fatalf("Step() error = %v, want integer key complaint", err)
		}
	})
}

func TestFindLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"latest-step000000000005", "latest-step000000000020", "latest", "run-notanumber"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}
	// Plain files never count, even with a well-formed name.
	if err := os.WriteFile(filepath.Join(dir, "latest-step000000000099"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	got, ok := findLatestCheckpoint(dir)
	want := filepath.Join(dir, "latest-step000000000020")
	if !ok || got != want {
		t.Fatalf("findLatestCheckpoint() = %q, %v, want %q, true", got, ok, want)
	}

	if _, ok := findLatestCheckpoint(t.TempDir()); ok {
		t.Fatal("empty directory should hold no checkpoint")
	}
}

func TestNonLatestCheckpointsNotAdopted(t *testing.T) {
	dir := t.TempDir()
	checkpoints := filepath.Join(dir, "ckpt")
	if err := os.MkdirAll(filepath.Join(checkpoints, "archive-step000000000007"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configPath := writeConfigFile(t, dir, "lr: 0.3\n")
	m, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	state, err := m.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if state.Step != 0 {
		t.Fatalf("Step = %d, want fresh state", state.Step)
	}
}

func TestAtomicMoveRenames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "file.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	dst := filepath.Join(dir, "dst")
	if err := atomicMove(src, dst); err != nil {
		t.Fatalf("atomicMove() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "file.txt"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("moved file = %q, %v", data, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("src should be gone, stat error = %v", err)
	}
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	dst := filepath.Join(dir, "dst")
	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copyTree() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "nested", "file.txt"))
	if err != nil || string(data) != "x" {
		t.Fatalf("copied file = %q, %v", data, err)
	}
}

func TestManagerConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\n")
	m, err := NewStateManager(newRunState, WithInitPath(configPath), WithConfigOverrides("lr=0.5", "steps=7"))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	config, err := m.Config()
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if config.Lr != 0.5 || config.Steps != 7 {
		t.Fatalf("config = %#v, want overridden values", config)
	}
}

type ctxState struct {
	Step   int `default:"0"`
	Params Lazy[scaledParams]
}

func TestManagerContextReachesBlobLoads(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\n")
	checkpoints := filepath.Join(dir, "ckpt")
	initial := func(config *runConfig, ctx *BlobContext) (*ctxState, error) {
		return &ctxState{Step: 1, Params: LazyOf(&scaledParams{weights: []float64{1, 2}})}, nil
	}

	m, err := NewStateManager(initial, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}

	restored, err := NewStateManager(initial, WithInitPath(configPath), WithCheckpointDir(checkpoints))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	restored.SetContext("scale", 10.0)
	state, err := restored.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	params, err := state.Params.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !reflect.DeepEqual(params.weights, []float64{10, 20}) {
		t.Fatalf("weights = %v, want scaled [10 20]", params.weights)
	}
	if !params.sawConfig {
		t.Fatal("deserialization should see the loaded config on the context")
	}
}

func TestManagerLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\n")
	checkpoints := filepath.Join(dir, "ckpt")

	var kinds []EventKind
	capture := HookFunc(func(ctx context.Context, e Event) error {
		kinds = append(kinds, e.Kind)
		return nil
	})

	m, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints), WithLifecycleHooks(capture))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	if _, err := m.State(); err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if err := m.Step(); err != nil {
		t.Fatalf("Step() error: %v", err)
	}
	want := []EventKind{EventConfigLoaded, EventCheckpointSaved}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}

	kinds = nil
	restored, err := NewStateManager(newRunState, WithInitPath(configPath), WithCheckpointDir(checkpoints), WithLifecycleHooks(capture))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	if _, err := restored.State(); err != nil {
		t.Fatalf("State() error: %v", err)
	}
	want = []EventKind{EventConfigLoaded, EventCheckpointRestored}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
}

func TestManagerMigrationEvent(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "version: 0\nlearning_rate: 0.1\n")

	var events []Event
	capture := HookFunc(func(ctx context.Context, e Event) error {
		events = append(events, e)
		return nil
	})
	m, err := NewStateManager(
		func(config *trainConfig, ctx *BlobContext) (*countState, error) {
			return &countState{}, nil
		},
		WithInitPath(configPath),
		WithLifecycleHooks(capture),
	)
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	config, err := m.Config()
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if config.Lr != 0.1 {
		t.Fatalf("Lr = %v, want migrated 0.1", config.Lr)
	}

	var migration *Event
	for i := range events {
		if events[i].Kind == EventMigrationApplied {
			migration = &events[i]
		}
	}
	if migration == nil {
		t.Fatalf("events = %v, want a migration event", events)
	}
	if migration.Report == nil || len(migration.Report.Steps) != 3 {
		t.Fatalf("migration report = %#v, want three steps", migration.Report)
	}
	if migration.Report.FromVersion != 0 || migration.Report.ToVersion != 2 {
		t.Fatalf("migration versions = %d..%d, want 0..2", migration.Report.FromVersion, migration.Report.ToVersion)
	}
}

func TestManagerLoadOptions(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "lr: 0.1\nrogue: 1\n")

	strict, err := NewStateManager(newRunState, WithInitPath(configPath))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	if _, err := strict.Config(); err == nil {
		t.Fatal("Config() should reject unknown document fields")
	}

	lenient, err := NewStateManager(newRunState, WithInitPath(configPath), WithLoadOptions(IgnoreExtraFields()))
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	config, err := lenient.Config()
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if config.Lr != 0.1 {
		t.Fatalf("Lr = %v, want 0.1", config.Lr)
	}
}

func TestConfigTree(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFile(t, dir, "version: 2\nlr: 0.25\n")
	m, err := NewStateManager(
		func(config *trainConfig, ctx *BlobContext) (*countState, error) {
			return &countState{}, nil
		},
		WithInitPath(configPath),
	)
	if err != nil {
		t.Fatalf("NewStateManager() error: %v", err)
	}
	tree, err := m.ConfigTree()
	if err != nil {
		t.Fatalf("ConfigTree() error: %v", err)
	}
	if tree["version"] != 2 {
		t.Fatalf("version = %v, want 2", tree["version"])
	}
	if tree["lr"] != 0.25 {
		t.Fatalf("lr = %v, want 0.25", tree["lr"])
	}
	if tree["steps"] != 100 {
		t.Fatalf("steps = %v, want the declared default", tree["steps"])
	}
	ppo, ok := tree["ppo"].(map[string]any)
	if !ok || ppo["gamma"] != 0.99 {
		t.Fatalf("ppo = %#v, want nested defaults", tree["ppo"])
	}
}
