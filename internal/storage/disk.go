package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm"}

// DiskUsageBytes sums the on-disk size of record stores and index directories. A directory
// (a Badger store, the index dir) counts every file below it; a file (a SQLite database)
// also counts its WAL sidecars. Missing and empty paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return 0, fmt.Errorf("disk usage of %s: %w", p, err)
		}
		total += n
	}
	return total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return treeSize(p)
	}
	total := info.Size()
	for _, suffix := range sqliteSidecars {
		if s, err := os.Stat(p + suffix); err == nil && !s.IsDir() {
			total += s.Size()
		}
	}
	return total, nil
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// removed while walking, e.g. a compacted segment
			return nil
		}
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
