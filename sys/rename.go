package sys

import (
	"io"
	"os"
)

// renameImpl is the underlying rename call, a seam so tests can force the
// cross-device-link fallback path deterministically.
var renameImpl = os.Rename

// Rename renames oldpath to newpath. If the underlying rename fails (for
// example EXDEV when the two paths are on different filesystems, or a
// transient permission error), it falls back to copying the file's contents
// to newpath and removing oldpath.
func Rename(oldpath, newpath string) error {
	if err := renameImpl(oldpath, newpath); err == nil {
		return nil
	}

	if err := copyFileContents(oldpath, newpath); err != nil {
		return err
	}
	return os.Remove(oldpath)
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
