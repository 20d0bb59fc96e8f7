package worker

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// binaryNameFor returns the OS-adjusted basename a worker binary must have.
func binaryNameFor(name string) string {
	return binaryName(name)
}

// FindNewestBinary walks dir recursively, keeping regular files whose
// basename equals name's OS-adjusted form, and returns the one with the
// most recent modification time. The Supervisor calls it once per worker,
// before that worker's first spawn; respawns reuse the resolved path, so a
// newer binary is picked up only after a server restart.
func FindNewestBinary(dir, name string) (string, error) {
	wantName := binaryNameFor(name)

	var newestPath string
	var newestMod int64 = -1

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip unreadable entries; the walk continues.
			return nil
		}
		if d.IsDir() || d.Name() != wantName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if mt := info.ModTime().UnixNano(); mt > newestMod {
			newestMod = mt
			newestPath = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", dir, err)
	}
	if newestPath == "" {
		return "", fmt.Errorf("no binary named %q found under %s", wantName, dir)
	}
	return newestPath, nil
}
