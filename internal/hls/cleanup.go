package hls

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/datallboy/mediagrab/internal/infra/logger"
)

// tempExtensions are removed from variant directories once all variants ran
var tempExtensions = map[string]struct{}{
	SegmentExt: {},
	".m3u8":    {},
	".key":     {},
	".txt":     {},
	".part":    {},
}

// Cleanup deletes segment, key, manifest and parts-list files from every
// variant directory under outDir. Failures are logged and skipped.
func Cleanup(outDir string, log logger.Reporter) int {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Cleanup: cannot read %s: %v", outDir, err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "variant_") {
			continue
		}

		root := filepath.Join(outDir, e.Name())
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn("Cleanup: %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := tempExtensions[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
				return nil
			}
			if err := os.Remove(path); err != nil {
				log.Error("Cleanup: failed to delete %s: %v", path, err)
				return nil
			}
			removed++
			return nil
		})
		if walkErr != nil {
			log.Warn("Cleanup: walking %s: %v", root, walkErr)
		}
	}

	return removed
}
