// Package extract decodes raw gridded bundles into flat per-variable CSV
// tables, one directory per variable under the unit's processed tree.
package extract

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/grid"
	"github.com/cloudthistle/era5-etl/internal/table"
)

// TimeFormat is the timestamp layout written to all extracted tables. The
// joined output inherits it, and the downstream loaders parse it back.
const TimeFormat = "2006-01-02 15:04:05"

// metadataAttrs are per-variable constant attributes carried through from the
// bundle as columns unless pruning is enabled.
var metadataAttrs = []string{"number", "step", "surface"}

// Options configure one extraction run.
type Options struct {
	// IncludeVars restricts extraction to these variables. When empty,
	// every variable in the bundle is considered and ExcludeVars applies.
	IncludeVars []string
	ExcludeVars []string

	// ChunkSize is the number of time steps per output segment.
	ChunkSize int

	// RemoveConstantCols drops metadata columns whose value is constant
	// across the chunk; the dropped value is recoverable from the bundle.
	RemoveConstantCols bool

	// DecimalPrecision rounds latitude/longitude to this many decimal
	// places before writing. Negative means no rounding.
	DecimalPrecision int

	// Compression is "" or table.CompressionGzip.
	Compression string
}

// DefaultOptions mirror the operational defaults of the pipeline.
func DefaultOptions() Options {
	return Options{
		ChunkSize:          24,
		RemoveConstantCols: true,
		DecimalPrecision:   -1,
	}
}

// Result reports per-variable outcomes for one bundle.
type Result struct {
	Unit      domain.UnitKey
	Succeeded []string
	Failed    []string
	// Outputs maps variable name to the table segments written for it.
	Outputs map[string][]string
}

// Extractor turns raw gridded bundles into per-variable tables.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Extractor. A zero ChunkSize falls back to the default.
func New(opts Options, logger *slog.Logger) *Extractor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{opts: opts, logger: logger}
}

// ExtractFile decodes every selected variable of the bundle at path into
// tables under outputRoot/<year>/<month>/<variable>/.
//
// A decode failure on one variable is recorded and extraction continues with
// the rest. The returned error is non-nil only when zero variables decode,
// which is a unit-level failure.
func (e *Extractor) ExtractFile(path, outputRoot string, unit domain.UnitKey) (Result, error) {
	res := Result{Unit: unit, Outputs: make(map[string][]string)}

	gf, err := grid.Open(path)
	if err != nil {
		return res, fmt.Errorf("extract %s: %w", path, err)
	}

	vars := e.selectVariables(gf.Variables())
	if len(vars) == 0 {
		return res, fmt.Errorf("extract %s: no variables to process after include/exclude filters", path)
	}

	for _, name := range vars {
		outputs, err := e.extractVariable(gf, name, outputRoot, unit)
		if err != nil {
			e.logger.Warn("variable extraction failed",
				"file", path, "variable", name, "error", err)
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Succeeded = append(res.Succeeded, name)
		res.Outputs[name] = outputs
	}

	if len(res.Succeeded) == 0 {
		return res, fmt.Errorf("extract %s: all %d variables failed to decode", path, len(vars))
	}
	return res, nil
}

// selectVariables applies the include filter when present, else the exclude
// filter, preserving the bundle's discovery order.
func (e *Extractor) selectVariables(available []string) []string {
	if len(e.opts.IncludeVars) > 0 {
		var out []string
		for _, v := range available {
			if slices.Contains(e.opts.IncludeVars, v) {
				out = append(out, v)
			}
		}
		return out
	}
	var out []string
	for _, v := range available {
		if !slices.Contains(e.opts.ExcludeVars, v) {
			out = append(out, v)
		}
	}
	return out
}

func (e *Extractor) extractVariable(gf *grid.File, name, outputRoot string, unit domain.UnitKey) ([]string, error) {
	v := gf.Vars[name]
	varDir := filepath.Join(outputRoot,
		strconv.Itoa(unit.Year), fmt.Sprintf("%02d", unit.Month), name)

	header, attrCols := e.buildHeader(gf, name)

	// Static fields have no time axis and produce one unchunked table.
	if v.TimeDim == "" {
		points, err := gf.ReadChunk(name, 0, 1)
		if err != nil {
			return nil, err
		}
		base := fmt.Sprintf("%s_%s.csv", unit.Compact(), name)
		out := filepath.Join(varDir, table.CSVName(base, e.opts.Compression))
		if err := e.writeSegment(out, header, attrCols, v, points); err != nil {
			return nil, err
		}
		return []string{out}, nil
	}

	steps := gf.TimeSteps()
	var outputs []string
	for start := 0; start < steps; start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, steps)
		points, err := gf.ReadChunk(name, start, end)
		if err != nil {
			return nil, err
		}
		base := fmt.Sprintf("%s_%s_chunk_%d_%d.csv", unit.Compact(), name, start, end)
		out := filepath.Join(varDir, table.CSVName(base, e.opts.Compression))
		if err := e.writeSegment(out, header, attrCols, v, points); err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// buildHeader assembles the output header: the variable's own time dimension
// name (so downstream inference sees the bundle's naming), coordinates,
// surviving metadata columns, and the canonical value column.
func (e *Extractor) buildHeader(gf *grid.File, name string) ([]string, []string) {
	v := gf.Vars[name]

	timeCol := v.TimeDim
	if timeCol == "" {
		timeCol = domain.ColTime
	}

	var attrCols []string
	if !e.opts.RemoveConstantCols {
		for _, a := range metadataAttrs {
			if _, ok := v.Attrs[a]; ok {
				attrCols = append(attrCols, a)
			}
		}
	}

	header := []string{timeCol, domain.ColLatitude, domain.ColLongitude}
	header = append(header, attrCols...)
	header = append(header, domain.ColValue)
	return header, attrCols
}

func (e *Extractor) writeSegment(path string, header, attrCols []string, v *grid.Variable, points []grid.Point) error {
	w, err := table.NewWriter(path, header, e.opts.Compression)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(points))
	for _, p := range points {
		row := make([]string, 0, len(header))
		row = append(row,
			p.Time.UTC().Format(TimeFormat),
			formatCoord(p.Lat, e.opts.DecimalPrecision),
			formatCoord(p.Lon, e.opts.DecimalPrecision),
		)
		for _, a := range attrCols {
			row = append(row, v.Attrs[a])
		}
		row = append(row, strconv.FormatFloat(p.Value, 'g', -1, 64))
		rows = append(rows, row)
	}

	if err := w.Write(rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// formatCoord optionally rounds a coordinate to the configured precision,
// normalizing floating-point noise so keys compare equal across files.
func formatCoord(v float64, precision int) string {
	if precision >= 0 {
		scale := math.Pow10(precision)
		v = math.Round(v*scale) / scale
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
