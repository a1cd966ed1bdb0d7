package hyperstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cswinter/hyperstate/schema"
	"github.com/cswinter/hyperstate/serde"
)

const (
	configFilename = "config.yaml"
	stateFilename  = "state.yaml"
)

// InitialState produces the starting state when no checkpoint exists.
type InitialState[C, S any] func(config *C, ctx *BlobContext) (*S, error)

// ManagerOption configures a StateManager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	initPath      string
	checkpointDir string
	checkpointKey string
	overrides     []string
	loadOpts      []LoadOption
	dumpOpts      []DumpOption
	hooks         Hooks
}

// WithInitPath points the manager at a config file or checkpoint directory
// to start from. A checkpoint in the checkpoint directory takes precedence.
func WithInitPath(path string) ManagerOption {
	return func(c *managerConfig) {
		c.initPath = path
	}
}

// WithCheckpointDir sets the directory checkpoints are written to. When it
// already holds a checkpoint, the latest one is restored.
func WithCheckpointDir(dir string) ManagerOption {
	return func(c *managerConfig) {
		c.checkpointDir = dir
	}
}

// WithCheckpointKey names the state field whose value labels each
// checkpoint. It defaults to "step" and must hold an integer.
func WithCheckpointKey(field string) ManagerOption {
	return func(c *managerConfig) {
		if field != "" {
			c.checkpointKey = field
		}
	}
}

// WithConfigOverrides applies `dotted.path=value` overrides when the config
// document is loaded.
func WithConfigOverrides(overrides ...string) ManagerOption {
	return func(c *managerConfig) {
		c.overrides = append(c.overrides, overrides...)
	}
}

// WithLoadOptions adds options applied to both the config and state loads.
func WithLoadOptions(opts ...LoadOption) ManagerOption {
	return func(c *managerConfig) {
		for _, opt := range opts {
			if opt != nil {
				c.loadOpts = append(c.loadOpts, opt)
			}
		}
	}
}

// WithDumpOptions adds options applied when checkpoints are written.
func WithDumpOptions(opts ...DumpOption) ManagerOption {
	return func(c *managerConfig) {
		for _, opt := range opts {
			if opt != nil {
				c.dumpOpts = append(c.dumpOpts, opt)
			}
		}
	}
}

// WithLifecycleHooks registers hooks notified on loads, migrations and
// checkpoints.
func WithLifecycleHooks(hooks ...Hook) ManagerOption {
	return func(c *managerConfig) {
		for _, hook := range hooks {
			if hook != nil {
				c.hooks = append(c.hooks, hook)
			}
		}
	}
}

// StateManager owns the config and state lifecycle of a long-running
// program: loading them on first access, restoring the latest checkpoint
// and writing a rolling checkpoint per step.
type StateManager[C, S any] struct {
	initial        InitialState[C, S]
	initPath       string
	checkpointDir  string
	checkpointKey  string
	overrides      []string
	loadOpts       []LoadOption
	dumpOpts       []DumpOption
	hooks          Hooks
	ctx            *BlobContext
	config         *C
	state          *S
	lastCheckpoint string
}

// NewStateManager builds a manager around an initial state constructor.
func NewStateManager[C, S any](initial InitialState[C, S], opts ...ManagerOption) (*StateManager[C, S], error) {
	if initial == nil {
		return nil, fmt.Errorf("hyperstate: initial state constructor must not be nil")
	}
	cfg := &managerConfig{checkpointKey: "step"}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	m := &StateManager[C, S]{
		initial:       initial,
		initPath:      cfg.initPath,
		checkpointKey: cfg.checkpointKey,
		overrides:     cfg.overrides,
		loadOpts:      cfg.loadOpts,
		dumpOpts:      cfg.dumpOpts,
		hooks:         cfg.hooks,
		ctx:           &BlobContext{Values: map[string]any{}},
	}
	if cfg.checkpointDir != "" {
		if err := m.SetCheckpointDir(cfg.checkpointDir); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetCheckpointDir changes the checkpoint directory, creating it if needed.
// A latest-style checkpoint already present is adopted as the restore
// source.
func (m *StateManager[C, S]) SetCheckpointDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hyperstate: creating checkpoint dir %s: %w", dir, err)
	}
	if latest, ok := findLatestCheckpoint(dir); ok && strings.HasPrefix(filepath.Base(latest), "latest") {
		m.lastCheckpoint = latest
	}
	m.checkpointDir = dir
	return nil
}

// SetContext adds a value to the blob deserialization context handed to
// Serializable components. Values set before the state is first accessed
// are visible to eager loads; later values still reach pending lazy loads.
func (m *StateManager[C, S]) SetContext(key string, value any) {
	m.ctx.Values[key] = value
}

// Config returns the managed config, loading it on first access from the
// restored checkpoint or the init path.
func (m *StateManager[C, S]) Config() (*C, error) {
	if m.config != nil {
		return m.config, nil
	}
	path := m.initPath
	if m.lastCheckpoint != "" {
		path = m.lastCheckpoint
	}
	if path != "" && isDir(path) {
		path = filepath.Join(path, configFilename)
	}

	var report *schema.UpgradeReport
	opts := append([]LoadOption{}, m.loadOpts...)
	if len(m.overrides) > 0 {
		opts = append(opts, WithOverrides(m.overrides...))
	}
	opts = append(opts, withBlobContext(m.ctx), WithUpgradeReport(&report))
	config, err := Load[C](path, opts...)
	if err != nil {
		return nil, err
	}
	m.config = config
	m.ctx.Config = config

	if m.hooks.Enabled() {
		if err := m.hooks.Notify(context.Background(), Event{Kind: EventConfigLoaded, Path: path}); err != nil {
			return nil, err
		}
		if report != nil && len(report.Steps) > 0 {
			if err := m.hooks.Notify(context.Background(), Event{Kind: EventMigrationApplied, Path: path, Report: report}); err != nil {
				return nil, err
			}
		}
	}
	return config, nil
}

// State returns the managed state, loading it on first access from the
// restored checkpoint or constructing it from the initial state function.
func (m *StateManager[C, S]) State() (*S, error) {
	if m.state != nil {
		return m.state, nil
	}
	config, err := m.Config()
	if err != nil {
		return nil, err
	}

	dir := ""
	if m.lastCheckpoint != "" {
		dir = m.lastCheckpoint
	} else if m.initPath != "" && isDir(m.initPath) {
		dir = m.initPath
	}
	if dir == "" {
		state, err := m.initial(config, m.ctx)
		if err != nil {
			return nil, fmt.Errorf("hyperstate: constructing initial state: %w", err)
		}
		if state == nil {
			return nil, fmt.Errorf("hyperstate: initial state constructor returned nil")
		}
		m.state = state
		return state, nil
	}

	opts := append([]LoadOption{}, m.loadOpts...)
	opts = append(opts, withBlobContext(m.ctx))
	state, err := Load[S](filepath.Join(dir, stateFilename), opts...)
	if err != nil {
		return nil, err
	}
	m.state = state
	if err := m.hooks.Notify(context.Background(), Event{Kind: EventCheckpointRestored, Path: dir}); err != nil {
		return nil, err
	}
	return state, nil
}

// ConfigTree returns the config as a plain value tree with its version
// stamped in.
func (m *StateManager[C, S]) ConfigTree() (map[string]any, error) {
	config, err := m.Config()
	if err != nil {
		return nil, err
	}
	var hooks []serde.EncodeHook
	if versioned, ok := versionedValue(config); ok {
		hooks = append(hooks, &versionStampHook{version: versioned.Version()})
	}
	tree, err := serde.Encode(config, serde.WithEncodeHooks(hooks...))
	if err != nil {
		return nil, err
	}
	attrs, ok := tree.(*serde.Attrs)
	if !ok {
		return nil, fmt.Errorf("hyperstate: config encoded to %T, expected a record", tree)
	}
	return attrs.Tree(), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
