package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk footprint of the data directories.
type DiskUsage struct {
	DatabaseBytes int64 `json:"database_bytes"`
	SnapshotBytes int64 `json:"snapshot_bytes"`
	UploadBytes   int64 `json:"upload_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
}

// MeasureDiskUsage sums the database file (with its WAL and shm siblings), the snapshot
// directory and the upload directory. Missing paths count as zero.
func MeasureDiskUsage(databasePath, snapshotDir, uploadDir string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if u.DatabaseBytes, err = DiskUsageBytes(databasePath, databasePath+"-wal", databasePath+"-shm"); err != nil {
		return u, err
	}
	if u.SnapshotBytes, err = DiskUsageBytes(snapshotDir); err != nil {
		return u, err
	}
	if u.UploadBytes, err = DiskUsageBytes(uploadDir); err != nil {
		return u, err
	}
	u.TotalBytes = u.DatabaseBytes + u.SnapshotBytes + u.UploadBytes
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; other errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
