package transport

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// parseSnapshotURI splits a "remote://<host>:<port>/<reader_id>" URI into
// its dial address and reader id.
func parseSnapshotURI(uri string) (address, readerID string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("malformed snapshot uri %q: %w", uri, err)
	}
	if u.Scheme != "remote" {
		return "", "", fmt.Errorf("unsupported snapshot uri scheme %q", u.Scheme)
	}
	readerID = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || readerID == "" {
		return "", "", fmt.Errorf("malformed snapshot uri %q: missing host or reader id", uri)
	}
	return u.Host, readerID, nil
}

// downloadAndInstall implements the receiver algorithm: it fetches every
// file meta.Filenames lists from the reader at uri into a staging directory,
// then publishes it into t.store as meta's snapshot, following steps 1-8 of
// the receiver algorithm (reject-if-already-present, stage, fetch, re-check,
// publish, and roll back the staging directory on any failure).
func (t *Transport) downloadAndInstall(ctx context.Context, uri string, meta VectorIndexSnapshotMeta) (err error) {
	ctx, span := tracer.Start(ctx, "Transport.downloadAndInstall", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(meta.VectorIndexID)),
		attribute.Int64("snapshot_log_index", int64(meta.SnapshotLogIndex)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if t.store.Has(meta.VectorIndexID, meta.SnapshotLogIndex) {
		return core.ErrSnapshotExists
	}

	if err := t.hooks.Trigger(ctx, hooks.NewPreInstallSnapshotEvent(hooks.InstallSnapshotPayload{
		VectorIndexID:    meta.VectorIndexID,
		SnapshotLogIndex: meta.SnapshotLogIndex,
		SourceURI:        uri,
	})); err != nil {
		return fmt.Errorf("PreInstallSnapshot hook vetoed index %d: %w", meta.VectorIndexID, err)
	}
	defer func() {
		_ = t.hooks.Trigger(ctx, hooks.NewPostInstallSnapshotEvent(hooks.InstallSnapshotPayload{
			VectorIndexID:    meta.VectorIndexID,
			SnapshotLogIndex: meta.SnapshotLogIndex,
			SourceURI:        uri,
		}))
	}()

	address, readerID, err := parseSnapshotURI(uri)
	if err != nil {
		return err
	}

	indexDir := t.store.IndexDir(meta.VectorIndexID)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory %s: %w", indexDir, err)
	}
	stagingDir := filepath.Join(indexDir, snapshot.FormatTmpDirName())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", stagingDir, err)
	}
	installOK := false
	defer func() {
		if !installOK {
			_ = os.RemoveAll(stagingDir)
		}
	}()

	conn, err := t.dial(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to dial snapshot source %s: %w", address, err)
	}
	defer conn.Close()
	client := &remoteReader{conn: conn}

	for _, filename := range meta.Filenames {
		if err := client.downloadFile(ctx, readerID, filename, stagingDir, t.chunkSize); err != nil {
			return fmt.Errorf("failed to download %s from %s: %w", filename, address, err)
		}
	}
	_ = client.cleanReader(ctx, readerID)

	if t.store.Has(meta.VectorIndexID, meta.SnapshotLogIndex) {
		return core.ErrSnapshotExists
	}
	if err := t.store.Publish(ctx, meta.VectorIndexID, meta.SnapshotLogIndex, stagingDir); err != nil {
		return fmt.Errorf("failed to publish downloaded snapshot for index %d: %w", meta.VectorIndexID, err)
	}
	installOK = true
	return nil
}
