package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetaFileName is the name of the small JSON descriptor written alongside a
// snapshot's payload file, recording the log id and codec so Load never has
// to probe the payload's magic bytes.
const MetaFileName = "meta"

// Meta is the on-disk descriptor for a single snapshot directory.
type Meta struct {
	VectorIndexID uint64   `json:"vector_index_id"`
	ApplyLogIndex uint64   `json:"apply_log_index"`
	Codec         string   `json:"codec"`
	Filenames     []string `json:"filenames"`
}

// WriteMeta writes m to <dir>/meta.
func WriteMeta(dir string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}
	return nil
}

// ReadMeta reads the meta descriptor from dir.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return m, fmt.Errorf("failed to read snapshot meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to unmarshal snapshot meta: %w", err)
	}
	return m, nil
}
