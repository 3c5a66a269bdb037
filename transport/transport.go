package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vshard/vectorindex/config"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/indexmgr"
	"github.com/vshard/vectorindex/snapshot"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var tracer = otel.Tracer("github.com/vshard/vectorindex/transport")

// Transport serves the snapshot transfer RPCs for the node's local
// snapshots and drives the push-to-followers / pull-from-peers flows on
// behalf of indexmgr.Manager. It implements TransportServer directly.
type Transport struct {
	cfg    config.TransportConfig
	store  *snapshot.Store
	hooks  hooks.HookManager
	raft   indexmgr.RaftGroup
	logger *slog.Logger

	readers     *readerRegistry
	dialTimeout time.Duration
	chunkSize   uint64

	server *grpc.Server
}

// New constructs a Transport. hookMgr may be nil, in which case a
// no-listener manager is created (matching indexmgr.NewManager's contract)
// so PreInstallSnapshot/PostInstallSnapshot always have somewhere to fire.
func New(cfg config.TransportConfig, store *snapshot.Store, hookMgr hooks.HookManager, raft indexmgr.RaftGroup, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if hookMgr == nil {
		hookMgr = hooks.NewHookManager(logger)
	}
	chunkSize := uint64(cfg.ChunkSize)
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	idleTimeout := config.ParseDuration(cfg.ReaderIdleTimeout, 5*time.Minute, logger)
	dialTimeout := config.ParseDuration(cfg.DialTimeout, 10*time.Second, logger)
	return &Transport{
		cfg:         cfg,
		store:       store,
		hooks:       hookMgr,
		raft:        raft,
		logger:      logger.With("component", "transport"),
		readers:     newReaderRegistry(idleTimeout, logger, cfg.ChunkCacheEntries),
		dialTimeout: dialTimeout,
		chunkSize:   chunkSize,
	}
}

// Start opens a listener on cfg.ListenAddress, registers this Transport as
// the RPC handler, and begins serving in a background goroutine. It also
// starts the idle file-reader reaper.
func (t *Transport) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("transport: failed to listen on %s: %w", t.cfg.ListenAddress, err)
	}
	t.server = grpc.NewServer()
	RegisterTransportServer(t.server, t)
	t.readers.start()

	go func() {
		if err := t.server.Serve(lis); err != nil {
			t.logger.Error("transport server exited", "error", err)
		}
	}()
	t.logger.Info("transport listening", "address", t.cfg.ListenAddress)
	return nil
}

// Stop gracefully shuts down the RPC server and the reader reaper.
func (t *Transport) Stop() {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.readers.stop()
}

func (t *Transport) dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	return grpc.DialContext(dialCtx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}
