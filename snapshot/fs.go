package snapshot

import (
	"os"
)

// The following are package-level function variables (rather than an
// interface) so tests can substitute failure injection for individual
// filesystem operations without a mock filesystem, following the same
// seam style as sys.Create/sys.Open.
var (
	removeAll = os.RemoveAll
	readDir   = os.ReadDir
)
