package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PushToFollowers advertises the snapshot staged at dir to every peer in
// indexID's Raft group except self, so each follower pulls it in turn.
// EVECTOR_NOT_NEED_SNAPSHOT and EVECTOR_SNAPSHOT_EXIST responses are logged
// at Info and otherwise ignored, since they mean the follower is already
// caught up rather than that the push failed.
func (t *Transport) PushToFollowers(ctx context.Context, indexID, logID uint64, dir string) error {
	ctx, span := tracer.Start(ctx, "Transport.PushToFollowers", trace.WithAttributes(
		attribute.Int64("vector_index_id", int64(indexID)), attribute.Int64("snapshot_log_index", int64(logID)),
	))
	defer span.End()

	peers, err := t.raft.Peers(ctx, indexID)
	if err != nil {
		return fmt.Errorf("failed to enumerate raft peers for index %d: %w", indexID, err)
	}
	if len(peers) == 0 {
		return nil
	}

	filenames, err := listSnapshotFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to list snapshot files in %s: %w", dir, err)
	}
	readerID := t.readers.register(indexID, logID, dir)
	uri := fmt.Sprintf("remote://%s/%s", t.cfg.ListenAddress, readerID)
	meta := VectorIndexSnapshotMeta{VectorIndexID: indexID, SnapshotLogIndex: logID, Filenames: filenames}

	for _, peer := range peers {
		if err := t.pushToPeer(ctx, peer.Address, uri, meta); err != nil {
			switch {
			case isWireCode(err, "EVECTOR_NOT_NEED_SNAPSHOT"), isWireCode(err, "EVECTOR_SNAPSHOT_EXIST"):
				t.logger.Info("peer already has this snapshot", "peer", peer.Address, "vector_index_id", indexID, "error", err)
			default:
				t.logger.Warn("failed to push snapshot to peer", "peer", peer.Address, "vector_index_id", indexID, "error", err)
			}
		}
	}
	return nil
}

func (t *Transport) pushToPeer(ctx context.Context, address, uri string, meta VectorIndexSnapshotMeta) error {
	conn, err := t.dial(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to dial peer %s: %w", address, err)
	}
	defer conn.Close()
	client := &remoteReader{conn: conn}
	return client.installVectorIndexSnapshot(ctx, &InstallVectorIndexSnapshotRequest{URI: uri, Meta: meta})
}

// PullFromPeers polls every peer in indexID's Raft group for its latest
// snapshot, downloads and installs the one with the greatest log index (if
// any peer has one), and reports whether it did so. Errors reaching an
// individual peer are logged and treated as that peer having nothing to
// offer, so one unreachable peer doesn't block recovery from the others.
func (t *Transport) PullFromPeers(ctx context.Context, indexID uint64) (bool, error) {
	ctx, span := tracer.Start(ctx, "Transport.PullFromPeers", trace.WithAttributes(attribute.Int64("vector_index_id", int64(indexID))))
	defer span.End()

	peers, err := t.raft.Peers(ctx, indexID)
	if err != nil {
		return false, fmt.Errorf("failed to enumerate raft peers for index %d: %w", indexID, err)
	}

	var bestURI string
	var bestMeta VectorIndexSnapshotMeta
	for _, peer := range peers {
		resp, err := t.pollPeer(ctx, peer.Address, indexID)
		if err != nil {
			t.logger.Warn("failed to poll peer for snapshot", "peer", peer.Address, "vector_index_id", indexID, "error", err)
			continue
		}
		if resp.Meta.SnapshotLogIndex > bestMeta.SnapshotLogIndex {
			bestURI = resp.URI
			bestMeta = resp.Meta
		}
	}
	if bestMeta.SnapshotLogIndex == 0 {
		return false, nil
	}

	if err := t.downloadAndInstall(ctx, bestURI, bestMeta); err != nil {
		return false, fmt.Errorf("failed to install snapshot pulled from %s: %w", bestURI, err)
	}
	return true, nil
}

func (t *Transport) pollPeer(ctx context.Context, address string, indexID uint64) (*GetVectorIndexSnapshotResponse, error) {
	conn, err := t.dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial peer %s: %w", address, err)
	}
	defer conn.Close()
	client := &remoteReader{conn: conn}
	return client.getVectorIndexSnapshot(ctx, &GetVectorIndexSnapshotRequest{VectorIndexID: indexID})
}
