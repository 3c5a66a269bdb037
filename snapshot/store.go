// Package snapshot implements the on-disk snapshot directory lifecycle for
// vector indexes: staging, atomic publish, and an in-memory catalog kept in
// sync with a fixed filesystem layout.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/registry"
	"github.com/vshard/vectorindex/sys"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/vshard/vectorindex/snapshot")

const (
	snapshotDirPrefix = "snapshot_"
	tmpDirPrefix      = "tmp_"
	// logIDDigits is the fixed width of the decimal log id embedded in a
	// snapshot directory's name, so directory listings sort lexicographically
	// in log-id order.
	logIDDigits = 20
)

// Snapshot identifies one published snapshot directory on disk.
type Snapshot struct {
	VectorIndexID uint64
	LogID         uint64
	Dir           string
}

// FormatSnapshotDirName returns the fixed-width directory name for logID.
func FormatSnapshotDirName(logID uint64) string {
	return fmt.Sprintf("%s%0*d", snapshotDirPrefix, logIDDigits, logID)
}

// ParseSnapshotDirName parses a directory name produced by
// FormatSnapshotDirName, returning ok=false for anything else (including
// tmp_ staging directories).
func ParseSnapshotDirName(name string) (logID uint64, ok bool) {
	if !strings.HasPrefix(name, snapshotDirPrefix) {
		return 0, false
	}
	digits := strings.TrimPrefix(name, snapshotDirPrefix)
	if len(digits) != logIDDigits {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatTmpDirName returns a new staging directory name, never advertised to
// readers of the catalog.
func FormatTmpDirName() string {
	return fmt.Sprintf("%s%d", tmpDirPrefix, time.Now().UnixNano())
}

// Store is the in-memory catalog of published snapshots, backed by a fixed
// directory layout under root: root/<index_id>/snapshot_<020d log id>/.
// Per-index entries are kept in an OrderedRegistry keyed by log id, so
// Last/Publish's "delete everything older" sweep never has to sort. All
// mutations are additionally serialized by a single mutex; on-disk removal
// happens synchronously as part of Delete/DeleteAll.
type Store struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	catalog map[uint64]*registry.OrderedRegistry[Snapshot] // indexID -> logID -> Snapshot
}

// NewStore creates a Store rooted at root. Call Open to populate it from
// existing on-disk state.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:    root,
		logger:  logger.With("component", "snapshot"),
		catalog: make(map[uint64]*registry.OrderedRegistry[Snapshot]),
	}
}

// IndexDir returns the directory holding every snapshot (and any in-flight
// staging directory) for indexID.
func (s *Store) IndexDir(indexID uint64) string {
	return filepath.Join(s.root, strconv.FormatUint(indexID, 10))
}

// Open scans root for existing per-index snapshot directories and registers
// them into the catalog. Directories prefixed tmp_ are in-flight writes and
// are ignored. A malformed snapshot directory is logged at Warn and skipped
// rather than aborting the scan.
func (s *Store) Open(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.Open")
	defer span.End()

	entries, err := readDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to scan snapshot root %s: %w", s.root, err)
	}

	for _, indexEntry := range entries {
		if !indexEntry.IsDir() {
			continue
		}
		indexID, err := strconv.ParseUint(indexEntry.Name(), 10, 64)
		if err != nil {
			s.logger.Warn("skipping non-index directory under snapshot root", "name", indexEntry.Name())
			continue
		}

		indexDir := filepath.Join(s.root, indexEntry.Name())
		subEntries, err := readDir(indexDir)
		if err != nil {
			s.logger.Warn("failed to scan index snapshot directory", "index_id", indexID, "error", err)
			continue
		}

		for _, sub := range subEntries {
			if !sub.IsDir() || strings.HasPrefix(sub.Name(), tmpDirPrefix) {
				continue
			}
			logID, ok := ParseSnapshotDirName(sub.Name())
			if !ok {
				s.logger.Warn("skipping unrecognized directory under index snapshot dir", "index_id", indexID, "name", sub.Name())
				continue
			}
			snap := Snapshot{VectorIndexID: indexID, LogID: logID, Dir: filepath.Join(indexDir, sub.Name())}
			if _, err := s.Add(ctx, snap); err != nil {
				s.logger.Warn("failed to register discovered snapshot", "index_id", indexID, "log_id", logID, "error", err)
			}
		}
	}
	return nil
}

// Add registers snap in the catalog, refusing a duplicate log id for the
// same index.
func (s *Store) Add(ctx context.Context, snap Snapshot) (bool, error) {
	_, span := tracer.Start(ctx, "Store.Add", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(snap.VectorIndexID)),
		attribute.Int64("log_id", int64(snap.LogID)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	byLog, ok := s.catalog[snap.VectorIndexID]
	if !ok {
		byLog = registry.NewOrdered[Snapshot]()
		s.catalog[snap.VectorIndexID] = byLog
	}
	if _, exists := byLog.Get(snap.LogID); exists {
		return false, core.NewVectorError(core.KindSnapshotExists, fmt.Sprintf("snapshot log id %d already registered for index %d", snap.LogID, snap.VectorIndexID))
	}
	byLog.Put(snap.LogID, snap)
	return true, nil
}

// Delete removes snap from the catalog and its on-disk directory
// recursively.
func (s *Store) Delete(ctx context.Context, snap Snapshot) error {
	_, span := tracer.Start(ctx, "Store.Delete", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(snap.VectorIndexID)),
		attribute.Int64("log_id", int64(snap.LogID)),
	))
	defer span.End()

	s.mu.Lock()
	if byLog, ok := s.catalog[snap.VectorIndexID]; ok {
		byLog.Erase(snap.LogID)
	}
	s.mu.Unlock()

	if err := removeAll(snap.Dir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to remove snapshot directory %s: %w", snap.Dir, err)
	}
	return nil
}

// DeleteAll removes every snapshot registered for indexID, both from the
// catalog and from disk.
func (s *Store) DeleteAll(ctx context.Context, indexID uint64) error {
	ctx, span := tracer.Start(ctx, "Store.DeleteAll", trace.WithAttributes(attribute.Int64("vector_index_id", int64(indexID))))
	defer span.End()

	for _, snap := range s.All(indexID) {
		if err := s.Delete(ctx, snap); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// Last returns the snapshot with the greatest log id for indexID.
func (s *Store) Last(indexID uint64) (Snapshot, bool) {
	s.mu.Lock()
	byLog, ok := s.catalog[indexID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	kvs := byLog.GetRangeKeyValues(0, false, 0, false, nil)
	if len(kvs) == 0 {
		return Snapshot{}, false
	}
	return kvs[len(kvs)-1].Value, true
}

// All returns every snapshot registered for indexID.
func (s *Store) All(indexID uint64) []Snapshot {
	s.mu.Lock()
	byLog, ok := s.catalog[indexID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	kvs := byLog.GetRangeKeyValues(0, false, 0, false, nil)
	out := make([]Snapshot, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, kv.Value)
	}
	return out
}

// Has reports whether indexID has a live snapshot with a log id >= logID.
func (s *Store) Has(indexID, logID uint64) bool {
	last, ok := s.Last(indexID)
	return ok && last.LogID >= logID
}

// Publish atomically renames stagingDir to its final snapshot_<logID> name,
// registers it, and deletes every strictly-older snapshot for indexID.
func (s *Store) Publish(ctx context.Context, indexID, logID uint64, stagingDir string) (err error) {
	ctx, span := tracer.Start(ctx, "Store.Publish", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(indexID)),
		attribute.Int64("log_id", int64(logID)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.Has(indexID, logID) {
		return core.ErrSnapshotExists
	}

	if err := os.MkdirAll(s.IndexDir(indexID), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	finalDir := filepath.Join(s.IndexDir(indexID), FormatSnapshotDirName(logID))
	if err := sys.Rename(stagingDir, finalDir); err != nil {
		return fmt.Errorf("failed to publish snapshot directory: %w", err)
	}

	newSnap := Snapshot{VectorIndexID: indexID, LogID: logID, Dir: finalDir}
	if _, err := s.Add(ctx, newSnap); err != nil {
		return err
	}

	for _, older := range s.All(indexID) {
		if older.LogID >= logID {
			continue
		}
		if err := s.Delete(ctx, older); err != nil {
			s.logger.Warn("failed to prune stale snapshot after publish", "index_id", indexID, "stale_log_id", older.LogID, "error", err)
		}
	}
	return nil
}
