// Package checkpoint persists the last applied Raft log index for a vector
// index using an atomic write-temp-then-rename strategy, so a crash between
// writing and renaming never leaves a half-written checkpoint behind.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vshard/vectorindex/sys"
)

// FileName is the on-disk name of the checkpoint file within an index's data
// directory.
const FileName = "CHECKPOINT"

// TempFileName is the staging name used while a new checkpoint is being
// written, before the atomic rename to FileName.
const TempFileName = FileName + ".tmp"

// MagicNumber tags the checkpoint file format.
const MagicNumber uint32 = 0x43504b31 // "CPK1"

// Checkpoint records the last Raft log index this index's on-disk state
// (snapshot + replayed WAL) reflects.
type Checkpoint struct {
	ApplyLogIndex uint64
}

// Write atomically writes cp to a file in dir.
func Write(dir string, cp Checkpoint) error {
	tempPath := filepath.Join(dir, TempFileName)
	file, err := sys.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, MagicNumber); err != nil {
		file.Close()
		return fmt.Errorf("failed to write checkpoint magic number: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, cp.ApplyLogIndex); err != nil {
		file.Close()
		return fmt.Errorf("failed to write apply log index: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp checkpoint file before rename: %w", err)
	}

	finalPath := filepath.Join(dir, FileName)
	if err := sys.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename temp checkpoint file to final name: %w", err)
	}

	// NOTE: syncing the parent directory after rename is skipped: os.File.Sync
	// on a directory handle is unreliable across platforms, and Rename's
	// atomicity is the guarantee that matters here.

	return nil
}

// Read reads the checkpoint from dir. If no checkpoint file exists it returns
// a zero-value Checkpoint and ok=false, not an error.
func Read(dir string) (cp Checkpoint, ok bool, err error) {
	path := filepath.Join(dir, FileName)
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return Checkpoint{}, true, fmt.Errorf("failed to read checkpoint magic number: %w", err)
	}
	if magic != MagicNumber {
		return Checkpoint{}, true, fmt.Errorf("invalid checkpoint magic number: got %x, want %x", magic, MagicNumber)
	}

	if err := binary.Read(file, binary.LittleEndian, &cp.ApplyLogIndex); err != nil {
		return Checkpoint{}, true, fmt.Errorf("failed to read apply log index: %w", err)
	}

	return cp, true, nil
}
