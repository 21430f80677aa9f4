package orchestrate

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/grid"
)

var (
	// basicPattern matches YYYYMM embedded in a file name, e.g.
	// "202105_era5.grid".
	basicPattern = regexp.MustCompile(`(\d{4})(\d{2})`)

	// era5Pattern matches "era5_YYYY_MM" / "ERA5-YYYYMM" style names.
	era5Pattern = regexp.MustCompile(`(?i)era5[_-](\d{4})[_-]?(\d{2})`)
)

// RawFile is one discovered raw gridded bundle and its derived unit key.
type RawFile struct {
	Path string
	Key  domain.UnitKey
}

// Discover walks inputDir for raw gridded bundles and derives each file's
// (year, month) key from its name, falling back to the directory structure.
// Files without a derivable key are skipped and logged, never fatal; the
// skipped count is reported alongside the sorted result.
func Discover(inputDir string, startYear, endYear int, logger *slog.Logger) ([]RawFile, int, error) {
	var found []RawFile
	var skipped int

	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !grid.IsGridFile(path) {
			return nil
		}

		key, ok := deriveUnitKey(path)
		if !ok {
			derr := &domain.DiscoveryError{Path: path}
			logger.Warn("skipping raw file", "error", derr)
			skipped++
			return nil
		}
		if startYear != 0 && key.Year < startYear {
			return nil
		}
		if endYear != 0 && key.Year > endYear {
			return nil
		}
		found = append(found, RawFile{Path: path, Key: key})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", inputDir, err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Key != found[j].Key {
			return found[i].Key.Less(found[j].Key)
		}
		return found[i].Path < found[j].Path
	})

	logger.Info("raw file discovery complete",
		"dir", inputDir, "found", len(found), "skipped", skipped)
	return found, skipped, nil
}

// deriveUnitKey extracts (year, month) from a raw file path: first the plain
// YYYYMM pattern, then the era5-prefixed pattern, then a directory-structure
// fallback of a 4-digit year component optionally followed by a month
// component.
func deriveUnitKey(path string) (domain.UnitKey, bool) {
	name := filepath.Base(path)

	for _, re := range []*regexp.Regexp{basicPattern, era5Pattern} {
		if m := re.FindStringSubmatch(name); m != nil {
			key := domain.UnitKey{Year: atoi(m[1]), Month: atoi(m[2])}
			if key.Valid() {
				return key, true
			}
		}
	}

	parts := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")
	for i, part := range parts {
		if len(part) != 4 {
			continue
		}
		year, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		if i+1 < len(parts) {
			if month, err := strconv.Atoi(parts[i+1]); err == nil {
				key := domain.UnitKey{Year: year, Month: month}
				if key.Valid() {
					return key, true
				}
			}
		}
	}
	return domain.UnitKey{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
