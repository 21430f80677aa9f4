// Package config loads pipeline settings from environment variables,
// applying operational defaults where unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/table"
)

// Config holds all pipeline settings.
type Config struct {
	InputDir  string
	OutputDir string

	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty disables the metrics listener

	// Variable selection. IncludeVars wins over ExcludeVars when set.
	IncludeVars []string
	ExcludeVars []string

	// Extraction.
	DecimalPrecision int // negative disables rounding
	Compression      string
	ExtractChunkSize int

	// Joining.
	OutputFormat   string // "csv" or "parquet"
	JoinChunkSize  int
	JoinMaxMemRows int

	// Worker pools.
	ExtractWorkers int
	JoinWorkers    int
	SortWorkers    int

	// Batching.
	BatchSize  int
	BatchDelay time.Duration

	// Cleanup and sorting.
	KeepProcessed bool
	SortEnabled   bool
	SortChunkSize int
	SortBackup    bool
	SortBatchSize int

	// Year-range discovery filter. Zero means unbounded on that side.
	StartYear int
	EndYear   int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		InputDir:  os.Getenv("INPUT_DIR"),
		OutputDir: os.Getenv("OUTPUT_DIR"),

		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		IncludeVars: splitList(os.Getenv("INCLUDE_VARS")),
		ExcludeVars: excludeVars(),

		Compression:  os.Getenv("COMPRESSION"),
		OutputFormat: envOrDefault("OUTPUT_FORMAT", "parquet"),

		KeepProcessed: envBool("KEEP_PROCESSED", false),
		SortEnabled:   envBool("SORT_ENABLED", false),
		SortBackup:    envBool("SORT_BACKUP", false),
	}

	var err error
	if cfg.DecimalPrecision, err = envInt("DECIMAL_PRECISION", 4); err != nil {
		return nil, err
	}
	if cfg.ExtractChunkSize, err = envPositiveInt("EXTRACT_CHUNK_SIZE", 24); err != nil {
		return nil, err
	}
	if cfg.JoinChunkSize, err = envPositiveInt("JOIN_CHUNK_SIZE", 10000); err != nil {
		return nil, err
	}
	if cfg.JoinMaxMemRows, err = envPositiveInt("JOIN_MAX_MEMORY_ROWS", 30000); err != nil {
		return nil, err
	}
	if cfg.ExtractWorkers, err = envPositiveInt("EXTRACT_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.JoinWorkers, err = envPositiveInt("JOIN_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.SortWorkers, err = envPositiveInt("SORT_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envPositiveInt("BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.SortChunkSize, err = envPositiveInt("SORT_CHUNK_SIZE", 100000); err != nil {
		return nil, err
	}
	if cfg.SortBatchSize, err = envPositiveInt("SORT_BATCH_SIZE", 1); err != nil {
		return nil, err
	}
	if cfg.StartYear, err = envInt("START_YEAR", 0); err != nil {
		return nil, err
	}
	if cfg.EndYear, err = envInt("END_YEAR", 0); err != nil {
		return nil, err
	}

	delayStr := envOrDefault("BATCH_DELAY", "0s")
	cfg.BatchDelay, err = time.ParseDuration(delayStr)
	if err != nil || cfg.BatchDelay < 0 {
		return nil, errors.New("invalid BATCH_DELAY")
	}

	if cfg.InputDir == "" {
		return nil, errors.New("INPUT_DIR is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if cfg.OutputFormat != "csv" && cfg.OutputFormat != "parquet" {
		return nil, fmt.Errorf("invalid OUTPUT_FORMAT %q (want csv or parquet)", cfg.OutputFormat)
	}
	if cfg.Compression != "" && cfg.Compression != table.CompressionGzip {
		return nil, fmt.Errorf("invalid COMPRESSION %q (want gzip or empty)", cfg.Compression)
	}
	if cfg.StartYear != 0 && cfg.EndYear != 0 && cfg.StartYear > cfg.EndYear {
		return nil, errors.New("START_YEAR must not exceed END_YEAR")
	}

	return cfg, nil
}

// excludeVars returns the configured exclude list, or the default set of
// variables with incomplete temporal coverage. The default is threaded
// through config so nothing downstream depends on ambient state.
func excludeVars() []string {
	if v, ok := os.LookupEnv("EXCLUDE_VARS"); ok {
		return splitList(v)
	}
	return domain.DefaultExcludeVariables()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envPositiveInt(key string, def int) (int, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
