package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace reports the bytes available on the filesystem holding path.
// The closest existing parent is checked when path does not exist yet.
func FreeSpace(path string) (uint64, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := os.Stat(target); err == nil {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			break
		}
		target = parent
	}

	usage, err := disk.Usage(target)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", target, err)
	}
	return usage.Free, nil
}

// CheckFreeSpace warns when the output filesystem is below min. It never
// blocks a download.
func CheckFreeSpace(path string, min uint64, log logger.Reporter) {
	if min == 0 {
		return
	}
	free, err := FreeSpace(path)
	if err != nil {
		log.Debug("free space check skipped: %v", err)
		return
	}
	if free < min {
		log.Warn("Only %s free under %s (want at least %s)", humanize.Bytes(free), path, humanize.Bytes(min))
	}
}
