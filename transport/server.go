package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vshard/vectorindex/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toRPCError renders a core.VectorError as a gRPC status carrying the
// stable wire code in its message, so a peer inspecting the error text (see
// isWireCode) can distinguish an expected outcome (already installed,
// already unneeded) from a real failure without a shared proto enum.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	var ve *core.VectorError
	if errors.As(err, &ve) {
		return grpcstatus.Error(grpccodes.FailedPrecondition, ve.Error())
	}
	return grpcstatus.Error(grpccodes.Internal, err.Error())
}

// isWireCode reports whether err's message carries the given stable wire
// code, whether it arrived as a local core.VectorError or as text inside a
// gRPC status returned by a peer.
func isWireCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), code)
}

// InstallVectorIndexSnapshot implements TransportServer: it downloads the
// snapshot advertised at req.URI and installs it locally. It serves the push
// path, when a leader pushes to this node; the pull path does not use it
// (Transport.PullFromPeers calls downloadAndInstall directly against the
// chosen peer's advertised URI instead of routing through this RPC).
func (t *Transport) InstallVectorIndexSnapshot(ctx context.Context, req *InstallVectorIndexSnapshotRequest) (*InstallVectorIndexSnapshotResponse, error) {
	ctx, span := tracer.Start(ctx, "Transport.InstallVectorIndexSnapshot", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(req.Meta.VectorIndexID)),
	))
	defer span.End()

	if err := t.downloadAndInstall(ctx, req.URI, req.Meta); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toRPCError(err)
	}
	return &InstallVectorIndexSnapshotResponse{}, nil
}

// GetVectorIndexSnapshot implements TransportServer: it reports this node's
// latest snapshot for req.VectorIndexID, registering a reader for it so the
// caller can immediately follow up with GetFile calls.
func (t *Transport) GetVectorIndexSnapshot(ctx context.Context, req *GetVectorIndexSnapshotRequest) (*GetVectorIndexSnapshotResponse, error) {
	ctx, span := tracer.Start(ctx, "Transport.GetVectorIndexSnapshot", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(req.VectorIndexID)),
	))
	defer span.End()

	snap, ok := t.store.Last(req.VectorIndexID)
	if !ok {
		return &GetVectorIndexSnapshotResponse{}, nil
	}

	filenames, err := listSnapshotFiles(snap.Dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toRPCError(fmt.Errorf("failed to list snapshot files for index %d: %w", req.VectorIndexID, err))
	}

	readerID := t.readers.register(snap.VectorIndexID, snap.LogID, snap.Dir)
	span.SetAttributes(attribute.String("reader_id", readerID))
	return &GetVectorIndexSnapshotResponse{
		URI: fmt.Sprintf("remote://%s/%s", t.cfg.ListenAddress, readerID),
		Meta: VectorIndexSnapshotMeta{
			VectorIndexID:    snap.VectorIndexID,
			SnapshotLogIndex: snap.LogID,
			Filenames:        filenames,
		},
	}, nil
}

// GetFile implements TransportServer, serving one chunk of a file out of a
// registered reader's directory.
func (t *Transport) GetFile(ctx context.Context, req *GetFileRequest) (*GetFileResponse, error) {
	_, span := tracer.Start(ctx, "Transport.GetFile", trace.WithAttributes(
		attribute.String("reader_id", req.ReaderID), attribute.String("filename", req.Filename),
	))
	defer span.End()

	fr, ok := t.readers.get(req.ReaderID)
	if !ok {
		err := fmt.Errorf("unknown reader id %q", req.ReaderID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, grpcstatus.Error(grpccodes.NotFound, err.Error())
	}

	data, eof, err := t.readers.readChunk(ctx, fr, req.Filename, req.Offset, req.Size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toRPCError(err)
	}
	return &GetFileResponse{Data: data, ReadSize: uint64(len(data)), EOF: eof}, nil
}

// CleanFileReader implements TransportServer, releasing a reader
// registration once the caller has finished pulling its files.
func (t *Transport) CleanFileReader(ctx context.Context, req *CleanFileReaderRequest) (*CleanFileReaderResponse, error) {
	_, span := tracer.Start(ctx, "Transport.CleanFileReader", trace.WithAttributes(attribute.String("reader_id", req.ReaderID)))
	defer span.End()

	t.readers.release(req.ReaderID)
	return &CleanFileReaderResponse{}, nil
}

func listSnapshotFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
