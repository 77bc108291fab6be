package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free space floor for the data directory.
// Vector indexes and the metrics database grow past this quickly on a
// real ingest, but below it a run is guaranteed to fail.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors covers the watcher, the resident HNSW namespaces,
// and the HTTP server under modest load.
const MinFileDescriptors = 1024

// CheckDiskSpace verifies free space on the data directory's filesystem.
func (c *Checker) CheckDiskSpace() Result {
	result := Result{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.cfg.DataDir, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("statfs %s: %v", c.cfg.DataDir, err)
		return result
	}
	available := stat.Bavail * uint64(stat.Bsize)

	result.Message = fmt.Sprintf("%s free (minimum %s)",
		formatBytes(available), formatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
	} else {
		result.Status = StatusPass
	}
	return result
}

// CheckFileDescriptors verifies the soft file descriptor limit.
func (c *Checker) CheckFileDescriptors() Result {
	result := Result{Name: "file_descriptors"}

	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("getrlimit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum %d)", rlim.Cur, MinFileDescriptors)
	if rlim.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "raise it with 'ulimit -n 4096'"
	} else {
		result.Status = StatusPass
	}
	return result
}

func formatBytes(n uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
