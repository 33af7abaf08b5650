// Package statefs implements the on-disk conventions shared by every
// gateway component: one JSON file per record under a per-component
// subdirectory, atomic temp+rename writes, exclusive-create lock files, and
// an append-only JSONL event log. Adapted from the atomic-write helpers in
// the teacher's internal/storage/marketfs package, generalized from a single
// flat directory to the gateway's multi-subdirectory state root.
package statefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root owns the state directory and its per-component subdirectories.
type Root struct {
	base string
}

// NewRoot creates (lazily, idempotently) the state directory rooted at base.
func NewRoot(base string) (*Root, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", base, err)
	}
	return &Root{base: base}, nil
}

// Base returns the state root path.
func (r *Root) Base() string {
	return r.base
}

// Dir returns (creating if needed) the subdirectory at the given path
// segments under the state root, e.g. Dir("builtins", "run_specs").
func (r *Root) Dir(segments ...string) (string, error) {
	dir := filepath.Join(append([]string{r.base}, segments...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}
	return dir, nil
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func recordPath(dir, key string) string {
	return filepath.Join(dir, sanitizeKey(key)+".json")
}

// WriteJSON atomically writes a record as key.json under dir: marshal, write
// to a sibling temp file, then rename. No reader ever observes a
// half-written file.
func WriteJSON(dir, key string, v interface{}) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, recordPath(dir, key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadJSON reads key.json under dir into dest. Returns os.ErrNotExist
// (wrapped) when the record is absent, which callers test with os.IsNotExist.
func ReadJSON(dir, key string, dest interface{}) error {
	path := recordPath(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("record %s is empty", key)
	}
	return json.Unmarshal(data, dest)
}

// DeleteJSON removes key.json under dir, if present.
func DeleteJSON(dir, key string) error {
	err := os.Remove(recordPath(dir, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListKeys returns the record keys (file names minus the .json suffix and
// minus in-flight temp files) present under dir.
func ListKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}
