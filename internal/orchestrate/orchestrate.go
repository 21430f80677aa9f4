// Package orchestrate discovers raw gridded bundles, groups them into
// (year, month) processing units, and drives extraction, joining, optional
// cleanup, and an optional final sort pass over bounded worker pools.
//
// Failure isolation is per task: an error (or panic) in one unit's stage is
// recorded against that unit and never stops sibling units. Unit state is
// mutated only here; the stage components report results and stay stateless.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloudthistle/era5-etl/internal/config"
	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/extract"
	"github.com/cloudthistle/era5-etl/internal/join"
	"github.com/cloudthistle/era5-etl/internal/observability"
	"github.com/cloudthistle/era5-etl/internal/sortfile"
)

// Summary is the end-of-run accounting reported to the operator.
type Summary struct {
	UnitsDiscovered int
	FilesExtracted  int
	ExtractFailures int
	UnitsJoined     int
	JoinFailures    int
	UnitsCleaned    int
	FilesSorted     int
	SortFailures    int
}

// Orchestrator coordinates the full pipeline run.
type Orchestrator struct {
	cfg       *config.Config
	extractor *extract.Extractor
	joiner    *join.Joiner
	sorter    *sortfile.Sorter
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     func() // called after the first batch completes; may be nil

	processedDir string
	joinedDir    string
	logDir       string
}

// New wires the stage components from config. The registry resolves column
// layouts for known variables and may be nil.
func New(cfg *config.Config, registry *domain.Registry, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	extractor := extract.New(extract.Options{
		IncludeVars:        cfg.IncludeVars,
		ExcludeVars:        cfg.ExcludeVars,
		ChunkSize:          cfg.ExtractChunkSize,
		RemoveConstantCols: true,
		DecimalPrecision:   cfg.DecimalPrecision,
		Compression:        cfg.Compression,
	}, logger)

	joiner := join.New(join.Options{
		IncludeVars:   cfg.IncludeVars,
		ExcludeVars:   cfg.ExcludeVars,
		ChunkSize:     cfg.JoinChunkSize,
		MaxMemoryRows: cfg.JoinMaxMemRows,
		Registry:      registry,
	}, logger)

	sorter := sortfile.New(sortfile.Options{
		ChunkSize: cfg.SortChunkSize,
		Backup:    cfg.SortBackup,
	}, logger)

	return &Orchestrator{
		cfg:          cfg,
		extractor:    extractor,
		joiner:       joiner,
		sorter:       sorter,
		logger:       logger,
		metrics:      metrics,
		processedDir: filepath.Join(cfg.OutputDir, "processed"),
		joinedDir:    filepath.Join(cfg.OutputDir, "joined"),
		logDir:       filepath.Join(cfg.OutputDir, "logs"),
	}
}

// SetReadyCallback registers a hook invoked once the first batch completes.
func (o *Orchestrator) SetReadyCallback(fn func()) { o.ready = fn }

// Run executes the whole pipeline. The context is checked between batches;
// in-flight tasks always run to completion (there is no mid-task
// cancellation). Returns the run summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	for _, dir := range []string{o.processedDir, o.joinedDir, o.logDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	files, skipped, err := Discover(o.cfg.InputDir, o.cfg.StartYear, o.cfg.EndYear, o.logger)
	if err != nil {
		return nil, err
	}
	o.metrics.FilesSkipped.Add(float64(skipped))
	if len(files) == 0 {
		return nil, fmt.Errorf("no raw files found in %s matching criteria", o.cfg.InputDir)
	}

	idx := NewUnitIndex(files, o.processedDir)
	if err := idx.LoadExisting(o.joinedDir); err != nil {
		return nil, err
	}
	o.metrics.UnitsDiscovered.Add(float64(idx.Len()))

	summary := &Summary{UnitsDiscovered: idx.Len()}

	// Units whose joined output already exists are resumed, not redone.
	var keys []domain.UnitKey
	for _, key := range idx.Keys() {
		if idx.Get(key).State == domain.StateJoined {
			summary.UnitsJoined++
			o.logger.Info("joined output exists, skipping unit", "unit", key.String())
			continue
		}
		keys = append(keys, key)
	}
	o.logger.Info("processing units discovered",
		"units", idx.Len(), "pending", len(keys), "batch_size", o.cfg.BatchSize)

	for start := 0; start < len(keys); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			o.logger.Info("run cancelled between batches", "reason", ctx.Err())
			break
		}
		end := min(start+o.cfg.BatchSize, len(keys))
		batch := keys[start:end]
		o.logger.Info("processing batch",
			"from", batch[0].String(), "to", batch[len(batch)-1].String())

		o.runBatch(batch, idx, summary)
		o.metrics.BatchesProcessed.Inc()
		if o.ready != nil {
			o.ready()
			o.ready = nil
		}

		if end < len(keys) && o.cfg.BatchDelay > 0 {
			o.logger.Info("waiting before next batch", "delay", o.cfg.BatchDelay)
			domain.Clock().Sleep(o.cfg.BatchDelay)
		}
	}

	if o.cfg.SortEnabled {
		o.runSortPass(idx, summary)
	}

	o.logSummary(summary, idx)
	return summary, nil
}

// runBatch drives one batch through extraction, joining, and cleanup.
func (o *Orchestrator) runBatch(batch []domain.UnitKey, idx *UnitIndex, summary *Summary) {
	extracted := o.extractBatch(batch, idx, summary)
	if len(extracted) == 0 {
		o.logger.Warn("no units successfully extracted in batch, skipping join stage")
		return
	}

	o.joinBatch(extracted, idx, summary)

	if !o.cfg.KeepProcessed {
		for _, key := range extracted {
			u := idx.Get(key)
			if u.State == domain.StateJoined {
				o.cleanupUnit(u, summary)
			}
		}
	}
}

// extractBatch runs one extraction task per raw file over a bounded pool and
// returns the units with at least one successfully extracted file.
func (o *Orchestrator) extractBatch(batch []domain.UnitKey, idx *UnitIndex, summary *Summary) []domain.UnitKey {
	type result struct {
		key domain.UnitKey
		err error
	}

	var mu sync.Mutex
	var results []result

	for _, key := range batch {
		idx.Get(key).State = domain.StateExtracting
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.ExtractWorkers)
	for _, key := range batch {
		for _, raw := range idx.Get(key).RawFiles {
			key, raw := key, raw
			g.Go(func() error {
				err := o.runTask("extract", key, filepath.Base(raw), func(taskLog *slog.Logger) error {
					res, err := o.extractor.ExtractFile(raw, o.processedDir, key)
					taskLog.Info("extraction finished",
						"succeeded", res.Succeeded, "failed", res.Failed)
					return err
				})
				mu.Lock()
				results = append(results, result{key: key, err: err})
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait() // tasks report through results, never through the group

	// Apply state transitions on the orchestrator side only.
	okUnits := make(map[domain.UnitKey]bool)
	failed := make(map[domain.UnitKey]error)
	for _, r := range results {
		if r.err == nil {
			summary.FilesExtracted++
			okUnits[r.key] = true
		} else {
			summary.ExtractFailures++
			if failed[r.key] == nil {
				failed[r.key] = r.err
			}
		}
	}

	var extracted []domain.UnitKey
	for _, key := range batch {
		u := idx.Get(key)
		if okUnits[key] {
			u.State = domain.StateExtracted
			extracted = append(extracted, key)
			continue
		}
		u.State = domain.StateExtractFailed
		u.Err = failed[key]
		o.logger.Error("unit extraction failed", "unit", key.String(), "error", failed[key])
	}
	return extracted
}

// joinBatch runs one join task per extracted unit over a bounded pool.
func (o *Orchestrator) joinBatch(units []domain.UnitKey, idx *UnitIndex, summary *Summary) {
	type result struct {
		key  domain.UnitKey
		path string
		err  error
	}

	var mu sync.Mutex
	var results []result

	for _, key := range units {
		idx.Get(key).State = domain.StateJoining
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.JoinWorkers)
	for _, key := range units {
		key := key
		out := o.joinedOutputPath(key)
		g.Go(func() error {
			err := o.runTask("join", key, "", func(taskLog *slog.Logger) error {
				rows, jerr := o.joiner.JoinUnit(o.processedDir, key, out)
				if jerr == nil {
					o.metrics.RowsJoined.Add(float64(rows))
					taskLog.Info("join finished", "rows", rows)
				}
				return jerr
			})
			mu.Lock()
			results = append(results, result{key: key, path: out, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // tasks report through results, never through the group

	for _, r := range results {
		u := idx.Get(r.key)
		if r.err != nil {
			u.State = domain.StateJoinFailed
			u.Err = r.err
			summary.JoinFailures++
			o.logger.Error("unit join failed", "unit", r.key.String(), "error", r.err)
			continue
		}
		u.State = domain.StateJoined
		u.JoinedPath = r.path
		summary.UnitsJoined++
	}
}

func (o *Orchestrator) joinedOutputPath(key domain.UnitKey) string {
	ext := ".parquet"
	if o.cfg.OutputFormat == "csv" {
		ext = ".csv"
	}
	return filepath.Join(o.joinedDir, fmt.Sprintf("%d", key.Year),
		"joined_"+key.Compact()+ext)
}

// cleanupUnit removes the unit's intermediate per-variable tables, but only
// after confirming the joined output actually exists on disk. Failures are
// warnings, never fatal.
func (o *Orchestrator) cleanupUnit(u *domain.Unit, summary *Summary) {
	if _, err := os.Stat(u.JoinedPath); err != nil {
		o.logger.Warn("joined output missing, skipping cleanup",
			"unit", u.Key.String(), "path", u.JoinedPath)
		return
	}
	if err := os.RemoveAll(u.ProcessedDir); err != nil {
		o.metrics.CleanupsFailed.Inc()
		o.logger.Warn("failed to remove processed data",
			"unit", u.Key.String(), "dir", u.ProcessedDir, "error", err)
		return
	}
	u.State = domain.StateCleaned
	summary.UnitsCleaned++
	o.logger.Info("removed intermediate tables", "unit", u.Key.String(), "dir", u.ProcessedDir)
}

// runSortPass sorts every joined output across all batches, each worker
// handling a fixed-size batch of files.
func (o *Orchestrator) runSortPass(idx *UnitIndex, summary *Summary) {
	paths := idx.JoinedPaths()
	if len(paths) == 0 {
		return
	}
	o.logger.Info("starting chronological sort pass",
		"files", len(paths), "workers", o.cfg.SortWorkers)

	type result struct {
		path string
		err  error
	}
	var mu sync.Mutex
	var results []result

	var g errgroup.Group
	g.SetLimit(o.cfg.SortWorkers)
	for start := 0; start < len(paths); start += o.cfg.SortBatchSize {
		end := min(start+o.cfg.SortBatchSize, len(paths))
		fileBatch := paths[start:end]
		g.Go(func() error {
			for _, p := range fileBatch {
				key, _ := parseJoinedName(filepath.Base(p))
				err := o.runTask("sort", key, "", func(taskLog *slog.Logger) error {
					return o.sorter.SortFile(p)
				})
				mu.Lock()
				results = append(results, result{path: p, err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // tasks report through results, never through the group

	for _, r := range results {
		key, ok := parseJoinedName(filepath.Base(r.path))
		var u *domain.Unit
		if ok {
			u = idx.Get(key)
		}
		if r.err != nil {
			summary.SortFailures++
			if u != nil {
				u.State = domain.StateSortFailed
				u.Err = r.err
			}
			o.logger.Error("sort failed", "path", r.path, "error", r.err)
			continue
		}
		summary.FilesSorted++
		if u != nil {
			u.State = domain.StateSorted
		}
	}
}

// runTask executes one stage task with its own log file, converts panics to
// errors so a misbehaving task cannot take down the run, and records
// per-stage metrics.
func (o *Orchestrator) runTask(stage string, key domain.UnitKey, suffix string, fn func(taskLog *slog.Logger) error) (err error) {
	start := domain.Now()

	taskLog, logErr := observability.NewTaskLog(o.logDir, stage, key, suffix)
	logger := o.logger
	if logErr != nil {
		o.logger.Warn("cannot create task log, logging to main logger only",
			"stage", stage, "unit", key.String(), "error", logErr)
	} else {
		logger = taskLog.Logger
		defer taskLog.Close()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s task panicked: %v", stage, r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
			logger.Error("task failed", "stage", stage, "unit", key.String(), "error", err)
		}
		o.metrics.TaskOutcomes.WithLabelValues(stage, outcome).Inc()
		o.metrics.StageDuration.WithLabelValues(stage).Observe(domain.Now().Sub(start).Seconds())
	}()

	logger.Info("task started", "stage", stage, "unit", key.String())
	err = fn(logger)
	return err
}

func (o *Orchestrator) logSummary(summary *Summary, idx *UnitIndex) {
	counts := idx.CountByState()
	o.logger.Info("pipeline run complete",
		"units", summary.UnitsDiscovered,
		"files_extracted", summary.FilesExtracted,
		"extract_failures", summary.ExtractFailures,
		"units_joined", summary.UnitsJoined,
		"join_failures", summary.JoinFailures,
		"units_cleaned", summary.UnitsCleaned,
		"files_sorted", summary.FilesSorted,
		"sort_failures", summary.SortFailures,
	)
	for state, n := range counts {
		o.logger.Info("final unit states", "state", state.String(), "count", n)
	}
}
