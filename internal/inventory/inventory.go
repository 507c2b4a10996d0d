// Package inventory lists the media files a mashup can draw from.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/maauso/media-mashup/internal/media"
)

// ErrNoMediaFiles is returned when a directory holds no eligible media.
var ErrNoMediaFiles = errors.New("no media files found")

// Scan returns the eligible media files directly inside dir in name order.
// The entry named exclude (the mashup's own output) is skipped so a rerun
// never feeds the previous result back in. Returns ErrNoMediaFiles when
// nothing qualifies.
func Scan(dir, exclude string) ([]media.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	regular := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return e.Type().IsRegular() && e.Name() != exclude
	})

	files := lo.FilterMap(regular, func(e os.DirEntry, _ int) (media.File, bool) {
		return media.NewFile(filepath.Join(dir, e.Name()))
	})

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMediaFiles, dir)
	}
	return files, nil
}

// CountByKind tallies files per kind for logging.
func CountByKind(files []media.File) map[media.Kind]int {
	return lo.CountValuesBy(files, func(f media.File) media.Kind { return f.Kind })
}
