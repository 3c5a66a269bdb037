package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vshard/vectorindex/config"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/indexmgr"
	"github.com/vshard/vectorindex/snapshot"
	"github.com/stretchr/testify/require"
)

// freeAddr reserves an ephemeral TCP port on localhost and hands back its
// address, so a test-scoped Transport can bind a real listener without a
// port collision between parallel tests.
func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

// fakeRaftGroup reports a fixed, static peer list for every region.
type fakeRaftGroup struct{ peers []indexmgr.Peer }

func (f fakeRaftGroup) Peers(ctx context.Context, regionID uint64) ([]indexmgr.Peer, error) {
	return f.peers, nil
}

// testTransport builds a Transport with a fresh snapshot store rooted at a
// temp dir and starts it listening on a freshly reserved local address.
func testTransport(t *testing.T, peers []indexmgr.Peer) (*Transport, *snapshot.Store) {
	t.Helper()
	dir := t.TempDir()
	store := snapshot.NewStore(dir, nil)
	require.NoError(t, store.Open(context.Background()))

	cfg := config.TransportConfig{
		ListenAddress:     freeAddr(t),
		ChunkSize:         64,
		DialTimeout:       "2s",
		ReaderIdleTimeout: "0s",
	}
	tr := New(cfg, store, hooks.NewHookManager(nil), fakeRaftGroup{peers: peers}, nil)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(tr.Stop)
	return tr, store
}

// publishFakeSnapshot stages a couple of small files and publishes them into
// store as vectorIndexID's snapshot at logIndex, returning the published
// directory and the file contents keyed by name.
func publishFakeSnapshot(t *testing.T, store *snapshot.Store, vectorIndexID, logIndex uint64) (string, map[string][]byte) {
	t.Helper()
	stagingDir := filepath.Join(store.IndexDir(vectorIndexID), snapshot.FormatTmpDirName())
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))

	files := map[string][]byte{
		"data":      []byte("frozen kernel bytes"),
		"meta.json": []byte(`{"applyLogIndex":` + "0" + `}`),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(stagingDir, name), content, 0o644))
	}

	require.NoError(t, store.Publish(context.Background(), vectorIndexID, logIndex, stagingDir))
	snap, ok := store.Last(vectorIndexID)
	require.True(t, ok)
	return snap.Dir, files
}
