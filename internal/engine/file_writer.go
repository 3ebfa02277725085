package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/datallboy/mediagrab/internal/domain"
)

// WriteIndexed stores data as <index><ext> in dir. The bytes land in a .part
// file first and the index is only allocated once they are on disk. If the
// final rename fails the index stays issued with no file behind it, so
// readers must check the file exists rather than trust Issued alone.
func (e *Executor) WriteIndexed(dir, ext string, data []byte) (int, error) {
	tmp, err := os.CreateTemp(dir, "pending-*.part")
	if err != nil {
		return -1, fmt.Errorf("%w: create part file: %v", domain.ErrFilesystem, err)
	}
	partPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(partPath)
		return -1, fmt.Errorf("%w: write %s: %v", domain.ErrFilesystem, partPath, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(partPath)
		return -1, fmt.Errorf("%w: close %s: %v", domain.ErrFilesystem, partPath, err)
	}

	idx := e.NextIndex()
	finalPath := filepath.Join(dir, IndexedName(idx, ext))
	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return idx, fmt.Errorf("%w: rename to %s: %v", domain.ErrFilesystem, finalPath, err)
	}

	e.progress.AddBytes(int64(len(data)))
	return idx, nil
}

func IndexedName(idx int, ext string) string {
	return strconv.Itoa(idx) + ext
}
