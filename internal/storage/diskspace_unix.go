//go:build !windows

package storage

import "syscall"

// getDiskFreeSpace returns the available disk space in bytes for the store path
func (d *Disk) getDiskFreeSpace() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.basePath, &stat); err != nil {
		return 0, err
	}
	// Bsize is int32 on some platforms
	// #nosec G115 -- overflow would require >9 exabytes free space
	return int64(stat.Bavail) * int64(stat.Bsize), nil //nolint:unconvert
}
