// Package sortfile rewrites joined tables in place, ordered by
// (time, latitude, longitude) ascending.
//
// Input is read in chunks, but the sort itself materializes the full row set
// in memory: resident memory scales with table size, not with the configured
// chunk size. That ceiling is a known property of this stage, kept rather
// than redesigned into an external sort.
package sortfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/table"
)

// timeLayouts are tried in order when normalizing the time column.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// timeColumns are accepted names for the time column, first match wins.
var timeColumns = []string{"time", "valid_time", "time1", "time2"}

// largeFileThreshold switches the backup copy to fixed-size block streaming.
const largeFileThreshold = 1 << 30

const copyBlockSize = 1 << 20

// Options configure one sort.
type Options struct {
	// ChunkSize bounds each CSV read and each CSV write batch.
	ChunkSize int

	// Backup copies the original into a backup/ directory next to the
	// file before sorting.
	Backup bool
}

// DefaultOptions mirror the operational defaults of the pipeline.
func DefaultOptions() Options {
	return Options{ChunkSize: 100000}
}

// Sorter sorts joined tables chronologically.
type Sorter struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Sorter. A zero ChunkSize falls back to the default.
func New(opts Options, logger *slog.Logger) *Sorter {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sorter{opts: opts, logger: logger}
}

// SortFile sorts the table at path in place. The sorted output is written to
// a temporary sibling and atomically renamed over the original, so a crash
// mid-sort never replaces a valid file with a half-written one.
func (s *Sorter) SortFile(path string) error {
	if s.opts.Backup {
		if err := s.backup(path); err != nil {
			return &domain.SortError{Path: path, Err: fmt.Errorf("backup: %w", err)}
		}
	}

	isParquet := strings.HasSuffix(path, ".parquet")

	header, rows, err := s.load(path, isParquet)
	if err != nil {
		return &domain.SortError{Path: path, Err: err}
	}

	timeIdx := findColumn(header, timeColumns)
	if timeIdx < 0 {
		return &domain.SortError{Path: path, Err: fmt.Errorf("no time column in header %v", header)}
	}
	latIdx := findColumn(header, []string{domain.ColLatitude, "lat"})
	lonIdx := findColumn(header, []string{domain.ColLongitude, "lon"})
	if latIdx < 0 || lonIdx < 0 {
		return &domain.SortError{Path: path, Err: fmt.Errorf("no coordinate columns in header %v", header)}
	}

	s.sortRows(path, rows, timeIdx, latIdx, lonIdx)

	tmp := path + ".sorted"
	compression := ""
	if strings.HasSuffix(path, ".gz") {
		compression = table.CompressionGzip
	}
	if err := s.write(tmp, header, rows, isParquet, compression); err != nil {
		os.Remove(tmp)
		return &domain.SortError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &domain.SortError{Path: path, Err: err}
	}
	return nil
}

func (s *Sorter) load(path string, isParquet bool) ([]string, [][]string, error) {
	if isParquet {
		return table.ReadParquet(path)
	}
	r, err := table.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var rows [][]string
	for {
		chunk, rerr := r.ReadChunk(s.opts.ChunkSize)
		rows = append(rows, chunk...)
		if rerr == io.EOF {
			return r.Header, rows, nil
		}
		if rerr != nil {
			return nil, nil, rerr
		}
	}
}

// sortRows orders rows by (time, latitude, longitude), all ascending. Rows
// with identical keys keep their relative input order.
func (s *Sorter) sortRows(path string, rows [][]string, timeIdx, latIdx, lonIdx int) {
	// Parse each distinct timestamp once; joined tables repeat each time
	// value across the whole spatial grid.
	parsed := make(map[string]int64)
	parseFailed := false
	timeKey := func(raw string) (int64, bool) {
		if v, ok := parsed[raw]; ok {
			return v, v != -1
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				v := t.UnixNano()
				parsed[raw] = v
				return v, true
			}
		}
		parsed[raw] = -1
		parseFailed = true
		return 0, false
	}

	cell := func(row []string, idx int) string {
		if idx < len(row) {
			return row[idx]
		}
		return ""
	}

	sort.SliceStable(rows, func(i, k int) bool {
		ti, iok := timeKey(cell(rows[i], timeIdx))
		tk, kok := timeKey(cell(rows[k], timeIdx))
		switch {
		case iok && kok && ti != tk:
			return ti < tk
		case (!iok || !kok) && cell(rows[i], timeIdx) != cell(rows[k], timeIdx):
			// Unparseable timestamps fall back to lexicographic order.
			return cell(rows[i], timeIdx) < cell(rows[k], timeIdx)
		}
		if c := compareNumeric(cell(rows[i], latIdx), cell(rows[k], latIdx)); c != 0 {
			return c < 0
		}
		return compareNumeric(cell(rows[i], lonIdx), cell(rows[k], lonIdx)) < 0
	})

	if parseFailed {
		s.logger.Warn("time column not fully parseable, used lexicographic order for unparsed values",
			"path", path)
	}
}

// compareNumeric compares two cells as floats, falling back to string
// comparison when either side does not parse.
func compareNumeric(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func (s *Sorter) write(path string, header []string, rows [][]string, isParquet bool, compression string) error {
	if isParquet {
		return table.WriteParquet(path, header, rows)
	}
	w, err := table.NewWriter(path, header, compression)
	if err != nil {
		return err
	}
	for start := 0; start < len(rows); start += s.opts.ChunkSize {
		end := min(start+s.opts.ChunkSize, len(rows))
		if err := w.Write(rows[start:end]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// backup copies path into a backup/ directory beside it. Files above the
// large-file threshold are streamed in fixed-size blocks instead of one
// buffered copy.
func (s *Sorter) backup(path string) error {
	backupDir := filepath.Join(filepath.Dir(path), "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}
	backupPath := filepath.Join(backupDir, filepath.Base(path))
	s.logger.Info("creating backup", "from", path, "to", backupPath)

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return err
	}

	st, err := src.Stat()
	if err == nil && st.Size() > largeFileThreshold {
		_, err = io.CopyBuffer(dst, src, make([]byte, copyBlockSize))
	} else {
		_, err = io.Copy(dst, src)
	}
	if err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func findColumn(header []string, candidates []string) int {
	for _, cand := range candidates {
		for i, col := range header {
			if strings.EqualFold(col, cand) {
				return i
			}
		}
	}
	return -1
}
