package paths

import (
	"fmt"
	"os"

	"github.com/airmesh/edge/internal/fsutil"
)

// ResolveDataFilePath resolves a relative path inside the given data directory while
// protecting against path traversal and symlink escapes. The confinement check itself
// is delegated to fsutil.ConfineRelPath; this adds the file-vs-directory and
// existence semantics blob storage needs on top.
// If allowMissing is true, the file does not need to exist, but its parent directory must be safe.
func ResolveDataFilePath(dataDir, relPath string, allowMissing bool) (string, error) {
	resolved, err := fsutil.ConfineRelPath(dataDir, relPath)
	if err != nil {
		return "", fmt.Errorf("resolve data file path: %w", err)
	}

	info, statErr := os.Stat(resolved)
	switch {
	case statErr == nil:
		if info.IsDir() {
			return "", fmt.Errorf("data file path points to directory: %s", relPath)
		}
	case os.IsNotExist(statErr):
		if !allowMissing {
			return "", fmt.Errorf("data file not found: %s", relPath)
		}
	default:
		return "", fmt.Errorf("stat data file: %w", statErr)
	}

	return resolved, nil
}
