package transport

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vshard/vectorindex/cache"
	"github.com/vshard/vectorindex/registry"
	"github.com/google/uuid"
)

// defaultChunkCacheEntries is used when config.TransportConfig.ChunkCacheEntries
// is unset.
const defaultChunkCacheEntries = 256

// fileReader is a server-side handle on one snapshot directory, registered
// under a reader_id so a remote peer can pull its files in chunks before
// releasing it with CleanFileReader.
type fileReader struct {
	dir           string
	vectorIndexID uint64
	logIndex      uint64
	registeredAt  time.Time
}

// readerRegistry tracks live fileReaders by reader_id, reaping any a caller
// never explicitly released after idleTimeout.
type readerRegistry struct {
	readers     *registry.Registry[string, *fileReader]
	idleTimeout time.Duration
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup

	// chunkCache holds recently-read (file, offset, size) chunks. A
	// published snapshot's files are immutable once written, so unlike a
	// typical read cache there is no invalidation to get wrong: a hit is
	// always as correct as a fresh disk read, which is exactly what lets
	// several followers pulling the same snapshot share disk IO.
	chunkCache cache.Interface
}

func newReaderRegistry(idleTimeout time.Duration, logger *slog.Logger, chunkCacheEntries int) *readerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkCacheEntries <= 0 {
		chunkCacheEntries = defaultChunkCacheEntries
	}
	chunkCache := cache.NewLRUCache(chunkCacheEntries, nil, nil, nil)
	chunkCache.SetMetrics(new(expvar.Int), new(expvar.Int))
	return &readerRegistry{
		readers:     registry.New[string, *fileReader](),
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "transport_reader_registry"),
		stopCh:      make(chan struct{}),
		chunkCache:  chunkCache,
	}
}

// register creates a new reader_id bound to dir and returns it.
func (rr *readerRegistry) register(vectorIndexID, logIndex uint64, dir string) string {
	readerID := uuid.NewString()
	rr.readers.Put(readerID, &fileReader{
		dir:           dir,
		vectorIndexID: vectorIndexID,
		logIndex:      logIndex,
		registeredAt:  time.Now(),
	})
	return readerID
}

func (rr *readerRegistry) get(readerID string) (*fileReader, bool) {
	return rr.readers.Get(readerID)
}

func (rr *readerRegistry) release(readerID string) {
	rr.readers.Erase(readerID)
}

// start launches the idle-reaper loop; it is a no-op if idleTimeout is <= 0.
func (rr *readerRegistry) start() {
	if rr.idleTimeout <= 0 {
		return
	}
	rr.wg.Add(1)
	go rr.reapLoop()
}

func (rr *readerRegistry) stop() {
	close(rr.stopCh)
	rr.wg.Wait()
}

func (rr *readerRegistry) reapLoop() {
	defer rr.wg.Done()
	ticker := time.NewTicker(rr.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-rr.stopCh:
			return
		case <-ticker.C:
			rr.reapExpired()
		}
	}
}

func (rr *readerRegistry) reapExpired() {
	now := time.Now()
	stale := rr.readers.GetAllKeyValues(func(fr *fileReader) bool {
		return now.Sub(fr.registeredAt) > rr.idleTimeout
	})
	for _, kv := range stale {
		rr.readers.Erase(kv.Key)
		rr.logger.Warn("reaped idle file reader", "reader_id", kv.Key, "vector_index_id", kv.Value.vectorIndexID)
	}
}

// cachedChunk is the value type stored in readerRegistry.chunkCache.
type cachedChunk struct {
	data []byte
	eof  bool
}

// readChunk serves one (filename, offset, size) chunk out of fr.dir,
// consulting the idle-safe chunk cache before touching disk.
func (rr *readerRegistry) readChunk(ctx context.Context, fr *fileReader, filename string, offset, size uint64) ([]byte, bool, error) {
	if size == 0 {
		size = DefaultChunkSize
	}
	key := fmt.Sprintf("%s|%s|%d|%d", fr.dir, filename, offset, size)
	if rr.chunkCache != nil {
		if v, ok := rr.chunkCache.Get(key); ok {
			c := v.(cachedChunk)
			return c.data, c.eof, nil
		}
	}
	data, eof, err := readChunkFromDisk(fr, filename, offset, size)
	if err != nil {
		return nil, false, err
	}
	if rr.chunkCache != nil {
		rr.chunkCache.Put(key, cachedChunk{data: data, eof: eof})
	}
	return data, eof, nil
}

// readChunkFromDisk opens filename under fr.dir, reads up to size bytes
// starting at offset, and reports whether the read reached end of file.
func readChunkFromDisk(fr *fileReader, filename string, offset, size uint64) ([]byte, bool, error) {
	path := filepath.Join(fr.dir, filepath.Base(filename))
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if _, err := f.Seek(int64(offset), 0); err != nil {
		return nil, false, fmt.Errorf("failed to seek %s: %w", path, err)
	}

	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	eof := offset+uint64(n) >= uint64(info.Size())
	return buf[:n], eof, nil
}
