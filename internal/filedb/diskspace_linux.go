//go:build linux

package filedb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeDiskSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
//
// PLATFORM: Linux. Frsize is the fundamental block size; Bsize is only the
// preferred I/O size and overstates capacity on some filesystems.
func freeDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}

	bSize := uint64(stat.Bsize)
	if stat.Frsize > 0 {
		bSize = uint64(stat.Frsize)
	}
	return stat.Bavail * bSize, nil
}
