// Package join merges the per-variable tables of one processing unit into a
// single wide table keyed by (time, latitude, longitude).
//
// The merge is incremental: each variable's rows are streamed in bounded
// chunks into a per-variable staging file, then the staging files are merged
// onto the deduplicated coordinate frame of the base variable. Resident
// memory is bounded by the configured row threshold, not by unit size.
package join

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/table"
)

// Options configure one join run.
type Options struct {
	IncludeVars []string
	ExcludeVars []string

	// ChunkSize is the number of rows read from a table at a time.
	ChunkSize int

	// MaxMemoryRows caps rows accumulated in memory before they are
	// flushed to the variable's staging file.
	MaxMemoryRows int

	// Registry resolves column layouts for known variables; may be nil.
	Registry *domain.Registry
}

// DefaultOptions mirror the operational defaults of the pipeline.
func DefaultOptions() Options {
	return Options{ChunkSize: 10000, MaxMemoryRows: 30000}
}

// Joiner builds joined tables for processing units.
type Joiner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Joiner. Zero chunk and memory limits fall back to defaults.
func New(opts Options, logger *slog.Logger) *Joiner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10000
	}
	if opts.MaxMemoryRows <= 0 {
		opts.MaxMemoryRows = 30000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{opts: opts, logger: logger}
}

// variableMeta is the resolved layout for one variable, sampled from its
// first table segment.
type variableMeta struct {
	name    string
	files   []string
	mapping domain.ColumnMapping
}

// coordKey is the three-part join key. Keys compare as the literal strings
// written by the extractor, which is why coordinate rounding happens before
// extraction output, not here.
type coordKey struct {
	t, lat, lon string
}

// JoinUnit merges all variable tables for the unit found under processedRoot
// into a single table at outputPath (.csv or .parquet decides the encoding).
//
// Variables that cannot be mapped or loaded are skipped with a warning and
// contribute no column. The join fails only when no variable yields a base
// coordinate frame. Returns the number of rows written.
func (j *Joiner) JoinUnit(processedRoot string, unit domain.UnitKey, outputPath string) (int, error) {
	varFiles, err := DiscoverVariableTables(processedRoot, unit)
	if err != nil {
		return 0, &domain.JoinError{Unit: unit, Err: err}
	}
	if len(varFiles) == 0 {
		return 0, &domain.JoinError{Unit: unit, Err: domain.ErrNoJoinableVariables}
	}

	order := j.filterVariables(varFiles)

	metas := j.resolveMetadata(order, varFiles)
	if len(metas) == 0 {
		return 0, &domain.JoinError{Unit: unit, Err: domain.ErrNoJoinableVariables}
	}

	keys := pluralityJoinKeys(metas)
	j.logger.Info("join columns reconciled",
		"unit", unit.String(), "time", keys.Time, "lat", keys.Lat, "lon", keys.Lon)

	stagingDir := filepath.Join(filepath.Dir(outputPath), "temp_joins")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return 0, &domain.JoinError{Unit: unit, Err: err}
	}

	staged := j.stageVariables(unit, metas, stagingDir)
	if len(staged) == 0 {
		return 0, &domain.JoinError{Unit: unit, Err: domain.ErrNoJoinableVariables}
	}

	rows, err := j.merge(unit, staged, keys, outputPath)
	if err != nil {
		return 0, err
	}

	// Staging files are only removed after the final write landed.
	for _, s := range staged {
		if err := os.Remove(s.path); err != nil {
			j.logger.Warn("failed to remove staging file", "path", s.path, "error", err)
		}
	}
	if err := os.Remove(stagingDir); err != nil && !os.IsNotExist(err) {
		j.logger.Warn("failed to remove staging dir", "path", stagingDir, "error", err)
	}
	return rows, nil
}

// DiscoverVariableTables locates the table segments for every variable of a
// unit, grouped by the variable directory name.
func DiscoverVariableTables(processedRoot string, unit domain.UnitKey) (map[string][]string, error) {
	unitDir := filepath.Join(processedRoot,
		fmt.Sprintf("%d", unit.Year), fmt.Sprintf("%02d", unit.Month))

	entries, err := os.ReadDir(unitDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", unitDir, err)
	}

	varFiles := make(map[string][]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		varDir := filepath.Join(unitDir, entry.Name())
		files, err := os.ReadDir(varDir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", varDir, err)
		}
		for _, fe := range files {
			name := fe.Name()
			if strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.gz") {
				varFiles[entry.Name()] = append(varFiles[entry.Name()], filepath.Join(varDir, name))
			}
		}
		sort.Strings(varFiles[entry.Name()])
	}
	return varFiles, nil
}

// filterVariables applies include/exclude filters and fixes the discovery
// order (sorted variable names; the first surviving variable becomes the
// join base).
func (j *Joiner) filterVariables(varFiles map[string][]string) []string {
	names := make([]string, 0, len(varFiles))
	for name := range varFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if len(j.opts.IncludeVars) > 0 {
			if !contains(j.opts.IncludeVars, name) {
				continue
			}
		} else if contains(j.opts.ExcludeVars, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// resolveMetadata samples each variable's first segment and resolves its
// column mapping. Unmappable variables are excluded from the join, never
// guessed into a wrong role.
func (j *Joiner) resolveMetadata(order []string, varFiles map[string][]string) []variableMeta {
	var metas []variableMeta
	for _, name := range order {
		files := varFiles[name]
		if len(files) == 0 {
			continue
		}
		r, err := table.OpenReader(files[0])
		if err != nil {
			j.logger.Warn("cannot sample variable table", "variable", name, "error", err)
			continue
		}
		header := r.Header
		r.Close()

		mapping, err := j.opts.Registry.Resolve(name, header)
		if err != nil {
			j.logger.Warn("variable unmappable, excluded from join", "variable", name, "error", err)
			continue
		}
		metas = append(metas, variableMeta{name: name, files: files, mapping: mapping})
	}
	return metas
}

// joinKeys are the canonical column names used for the unit's join key.
type joinKeys struct {
	Time, Lat, Lon string
}

// pluralityJoinKeys picks, for each coordinate role, the literal column name
// used by the most variables. Ties resolve to the name seen first in variable
// order, keeping the choice deterministic.
func pluralityJoinKeys(metas []variableMeta) joinKeys {
	pick := func(get func(domain.ColumnMapping) string, fallback string) string {
		counts := make(map[string]int)
		var order []string
		for _, m := range metas {
			name := get(m.mapping)
			if name == "" {
				continue
			}
			if counts[name] == 0 {
				order = append(order, name)
			}
			counts[name]++
		}
		best, bestCount := fallback, 0
		for _, name := range order {
			if counts[name] > bestCount {
				best, bestCount = name, counts[name]
			}
		}
		return best
	}
	return joinKeys{
		Time: pick(func(m domain.ColumnMapping) string { return m.Time }, domain.ColTime),
		Lat:  pick(func(m domain.ColumnMapping) string { return m.Lat }, domain.ColLatitude),
		Lon:  pick(func(m domain.ColumnMapping) string { return m.Lon }, domain.ColLongitude),
	}
}

type stagedVariable struct {
	name string
	path string
}

// stageVariables streams each variable's segments into one normalized staging
// file with canonical (time, latitude, longitude, value) columns. A variable
// that fails entirely is skipped with a warning.
func (j *Joiner) stageVariables(unit domain.UnitKey, metas []variableMeta, stagingDir string) []stagedVariable {
	var staged []stagedVariable
	for _, meta := range metas {
		path := filepath.Join(stagingDir, meta.name+"_data.csv")
		n, err := j.stageOne(meta, path)
		if err != nil {
			j.logger.Warn("variable staging failed, excluded from join",
				"unit", unit.String(), "variable", meta.name, "error", err)
			os.Remove(path)
			continue
		}
		if n == 0 {
			j.logger.Warn("variable produced no rows, excluded from join",
				"unit", unit.String(), "variable", meta.name)
			os.Remove(path)
			continue
		}
		staged = append(staged, stagedVariable{name: meta.name, path: path})
	}
	return staged
}

var stagingHeader = []string{domain.ColTime, domain.ColLatitude, domain.ColLongitude, domain.ColValue}

func (j *Joiner) stageOne(meta variableMeta, stagingPath string) (int, error) {
	w, err := table.NewWriter(stagingPath, stagingHeader, "")
	if err != nil {
		return 0, err
	}

	total := 0
	pending := make([][]string, 0, j.opts.MaxMemoryRows)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := w.Write(pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for _, file := range meta.files {
		n, err := j.stageFile(meta, file, &pending, flush)
		if err != nil {
			// One bad segment does not sink the variable.
			j.logger.Warn("skipping table segment", "variable", meta.name, "file", file, "error", err)
			continue
		}
		total += n
	}
	if err := flush(); err != nil {
		w.Close()
		return total, err
	}
	return total, w.Close()
}

// stageFile reads one segment in chunks, normalizes the mapped columns, and
// appends rows to pending, flushing whenever the memory threshold is hit.
func (j *Joiner) stageFile(meta variableMeta, file string, pending *[][]string, flush func() error) (int, error) {
	r, err := table.OpenReader(file)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	mapping := meta.mapping
	idx, ok := columnIndexes(r.Header, mapping)
	if !ok {
		// Sibling chunks of one variable can disagree with the sampled
		// layout; re-detect against this segment's own header.
		redetected, derr := domain.DetectMapping(meta.name, r.Header)
		if derr != nil {
			return 0, fmt.Errorf("segment header mismatch: %w", derr)
		}
		mapping = redetected
		if idx, ok = columnIndexes(r.Header, mapping); !ok {
			return 0, fmt.Errorf("segment header %v lacks mapped columns", r.Header)
		}
	}

	total := 0
	for {
		chunk, rerr := r.ReadChunk(j.opts.ChunkSize)
		for _, row := range chunk {
			if idx.max >= len(row) {
				continue
			}
			*pending = append(*pending, []string{row[idx.time], row[idx.lat], row[idx.lon], row[idx.value]})
			total++
			if len(*pending) >= j.opts.MaxMemoryRows {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

type colIndexes struct {
	time, lat, lon, value, max int
}

func columnIndexes(header []string, m domain.ColumnMapping) (colIndexes, bool) {
	find := func(name string) int {
		for i, col := range header {
			if strings.EqualFold(col, name) {
				return i
			}
		}
		return -1
	}
	idx := colIndexes{
		time:  find(m.Time),
		lat:   find(m.Lat),
		lon:   find(m.Lon),
		value: find(m.Value),
	}
	if idx.time < 0 || idx.lat < 0 || idx.lon < 0 || idx.value < 0 {
		return colIndexes{}, false
	}
	idx.max = max(idx.time, idx.lat, idx.lon, idx.value)
	return idx, true
}

// merge builds the base coordinate frame from the first staged variable and
// left-joins every staged variable's values onto it.
func (j *Joiner) merge(unit domain.UnitKey, staged []stagedVariable, keys joinKeys, outputPath string) (int, error) {
	base := staged[0]
	frame, index, err := j.loadBaseFrame(base.path)
	if err != nil {
		return 0, &domain.JoinError{Unit: unit, Variable: base.name, Err: err}
	}
	j.logger.Info("base coordinate frame built",
		"unit", unit.String(), "base_variable", base.name, "unique_keys", len(frame))

	columns := make([][]string, 0, len(staged))
	varNames := make([]string, 0, len(staged))
	for _, s := range staged {
		col, err := j.joinColumn(s.path, frame, index)
		if err != nil {
			j.logger.Warn("variable merge failed, column dropped",
				"unit", unit.String(), "variable", s.name, "error", err)
			continue
		}
		columns = append(columns, col)
		varNames = append(varNames, s.name)
	}
	if len(columns) == 0 {
		return 0, &domain.JoinError{Unit: unit, Err: domain.ErrNoJoinableVariables}
	}

	header := append([]string{keys.Time, keys.Lat, keys.Lon}, varNames...)
	rows := make([][]string, len(frame))
	for i, k := range frame {
		row := make([]string, 0, len(header))
		row = append(row, k.t, k.lat, k.lon)
		for _, col := range columns {
			row = append(row, col[i])
		}
		rows[i] = row
	}

	if err := writeJoined(outputPath, header, rows); err != nil {
		return 0, &domain.JoinError{Unit: unit, Err: err}
	}
	return len(rows), nil
}

// loadBaseFrame reads the base staging file in chunks and deduplicates its
// coordinate tuples, preserving first-seen order.
func (j *Joiner) loadBaseFrame(path string) ([]coordKey, map[coordKey]int, error) {
	r, err := table.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var frame []coordKey
	index := make(map[coordKey]int)
	for {
		chunk, rerr := r.ReadChunk(j.opts.ChunkSize)
		for _, row := range chunk {
			if len(row) < 3 {
				continue
			}
			k := coordKey{t: row[0], lat: row[1], lon: row[2]}
			if _, seen := index[k]; !seen {
				index[k] = len(frame)
				frame = append(frame, k)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nil, rerr
		}
	}
	if len(frame) == 0 {
		return nil, nil, errors.New("base staging file is empty")
	}
	return frame, index, nil
}

// joinColumn streams one staged variable and scatters its values into a
// column aligned with the base frame. Keys absent from the frame are dropped
// (left join); frame keys the variable lacks stay empty (null).
func (j *Joiner) joinColumn(path string, frame []coordKey, index map[coordKey]int) ([]string, error) {
	r, err := table.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	col := make([]string, len(frame))
	for {
		chunk, rerr := r.ReadChunk(j.opts.ChunkSize)
		for _, row := range chunk {
			if len(row) < 4 {
				continue
			}
			if i, ok := index[coordKey{t: row[0], lat: row[1], lon: row[2]}]; ok {
				col[i] = row[3]
			}
		}
		if rerr == io.EOF {
			return col, nil
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

func writeJoined(path string, header []string, rows [][]string) error {
	if strings.HasSuffix(path, ".parquet") {
		return table.WriteParquet(path, header, rows)
	}
	return table.WriteCSV(path, header, rows, "")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
