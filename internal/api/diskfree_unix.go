//go:build unix

package api

import "syscall"

// diskFreeGB reports free space on the filesystem holding path, rounded
// to one decimal place.
func diskFreeGB(path string) (float64, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		// A base dir that has not been created yet still has a parent
		// filesystem; fall back to the working directory.
		if err := syscall.Statfs(".", &fs); err != nil {
			return -1, err
		}
	}
	free := float64(fs.Bavail) * float64(fs.Bsize) / (1 << 30)
	return float64(int64(free*10)) / 10, nil
}
