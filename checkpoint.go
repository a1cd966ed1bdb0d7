package hyperstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/cswinter/hyperstate/schema"
)

// Step persists the current state as a rolling checkpoint named after the
// checkpoint key value and prunes the previous one. It is a no-op without a
// checkpoint directory.
func (m *StateManager[C, S]) Step() error {
	state, err := m.State()
	if err != nil {
		return err
	}
	if m.checkpointDir == "" {
		return nil
	}
	key, err := m.checkpointValue(state)
	if err != nil {
		return err
	}
	target := filepath.Join(m.checkpointDir, fmt.Sprintf("latest-%s%012d", m.checkpointKey, key))
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := m.Checkpoint(target); err != nil {
			return err
		}
	}
	if m.lastCheckpoint != "" && m.lastCheckpoint != target {
		if err := os.RemoveAll(m.lastCheckpoint); err != nil {
			return fmt.Errorf("hyperstate: pruning %s: %w", m.lastCheckpoint, err)
		}
	}
	m.lastCheckpoint = target
	return nil
}

// Checkpoint writes the config and state into target as one atomically
// placed directory, with blob payloads beside the documents.
func (m *StateManager[C, S]) Checkpoint(target string) error {
	config, err := m.Config()
	if err != nil {
		return err
	}
	state, err := m.State()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "hyperstate-*")
	if err != nil {
		return fmt.Errorf("hyperstate: creating staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	staged := filepath.Join(tmp, "checkpoint")
	if err := os.Mkdir(staged, 0o755); err != nil {
		return fmt.Errorf("hyperstate: creating staging dir: %w", err)
	}
	if err := Dump(config, filepath.Join(staged, configFilename), m.dumpOpts...); err != nil {
		return err
	}
	if err := Dump(state, filepath.Join(staged, stateFilename), m.dumpOpts...); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("hyperstate: creating %s: %w", filepath.Dir(target), err)
	}
	if err := atomicMove(staged, target); err != nil {
		return err
	}
	return m.hooks.Notify(context.Background(), Event{Kind: EventCheckpointSaved, Path: target})
}

// checkpointValue reads the integer checkpoint key field off the state.
func (m *StateManager[C, S]) checkpointValue(state *S) (int, error) {
	st, err := schema.StructOf[S]()
	if err != nil {
		return 0, err
	}
	field := st.Field(m.checkpointKey)
	if field == nil {
		return 0, fmt.Errorf("hyperstate: state %s has no checkpoint key field %q", st.Name, m.checkpointKey)
	}
	rv := reflect.ValueOf(state).Elem().FieldByIndex(field.GoIndex())
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	}
	return 0, fmt.Errorf("hyperstate: checkpoint key %q must be an integer, found %s", m.checkpointKey, rv.Type())
}

// findLatestCheckpoint scans dir for checkpoint directories, picking the one
// whose trailing twelve characters parse as the largest integer.
func findLatestCheckpoint(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	best := ""
	bestStep := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < 12 {
			continue
		}
		n, err := strconv.Atoi(name[len(name)-12:])
		if err != nil {
			continue
		}
		if best == "" || n > bestStep {
			best = filepath.Join(dir, name)
			bestStep = n
		}
	}
	return best, best != ""
}

// atomicMove renames src onto dst. Across filesystems, where rename fails
// with EXDEV, it copies to a uniquely named sibling of dst first so the
// final rename stays atomic even with concurrent writers.
func atomicMove(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("hyperstate: moving checkpoint into place: %w", err)
	}
	staged := fmt.Sprintf("%s.%s.tmp", dst, uuid.NewString())
	if err := copyTree(src, staged); err != nil {
		return fmt.Errorf("hyperstate: staging checkpoint copy: %w", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		return fmt.Errorf("hyperstate: moving checkpoint into place: %w", err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
