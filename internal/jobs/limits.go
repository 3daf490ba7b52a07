package jobs

import (
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/gwlsn/vidrelay/internal/logger"
)

// FreeSpace returns the bytes available to unprivileged users on dir's filesystem.
func FreeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// warnIfLowDisk logs when dir has less than min bytes free.
// It never rejects work; the queue has no backpressure.
func warnIfLowDisk(taskID, dir string, min uint64) {
	if min == 0 || dir == "" {
		return
	}

	free, err := FreeSpace(dir)
	if err != nil {
		logger.Debug("Disk usage unavailable", "dir", dir, "error", err)
		return
	}
	if free < min {
		logger.Warn("Low disk space in work directory",
			"task_id", taskID,
			"dir", dir,
			"free", humanize.Bytes(free),
			"min_free", humanize.Bytes(min))
	}
}
