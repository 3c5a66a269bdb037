package compressors

import (
	"fmt"

	"github.com/vshard/vectorindex/core"
)

// ByName resolves a codec name from configuration ("zstd", "snappy", "lz4",
// "none") to a Compressor instance.
func ByName(name string) (core.Compressor, error) {
	switch name {
	case "", "none":
		return &NoCompressionCompressor{}, nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "lz4":
		return NewLz4Compressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}
