package connections

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// fileStore persists the registry as one JSON array. Writes go to a temp
// file in the same directory and are renamed over the target.
type fileStore struct {
	path string
}

func (s *fileStore) load() ([]Connection, []byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Connection{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Connection{}, data, nil
	}
	var conns []Connection
	if err := json.Unmarshal(data, &conns); err != nil {
		return nil, nil, fmt.Errorf("decode registry %s: %w", s.path, err)
	}
	return conns, data, nil
}

func (s *fileStore) save(conns []Connection) ([]byte, error) {
	data, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".connections-*.json")
	if err != nil {
		return nil, fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return nil, fmt.Errorf("replace registry: %w", err)
	}
	return data, nil
}
