//go:build darwin

package filedb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeDiskSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func freeDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
