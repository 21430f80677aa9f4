package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudthistle/era5-etl/internal/domain"
)

func setRequired(t *testing.T) {
	t.Setenv("INPUT_DIR", "/data/raw")
	t.Setenv("OUTPUT_DIR", "/data/out")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/raw", cfg.InputDir)
	assert.Equal(t, "/data/out", cfg.OutputDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Nil(t, cfg.IncludeVars)
	assert.Equal(t, domain.DefaultExcludeVariables(), cfg.ExcludeVars)
	assert.Equal(t, 4, cfg.DecimalPrecision)
	assert.Empty(t, cfg.Compression)
	assert.Equal(t, 24, cfg.ExtractChunkSize)
	assert.Equal(t, "parquet", cfg.OutputFormat)
	assert.Equal(t, 10000, cfg.JoinChunkSize)
	assert.Equal(t, 30000, cfg.JoinMaxMemRows)
	assert.Equal(t, 4, cfg.ExtractWorkers)
	assert.Equal(t, 2, cfg.JoinWorkers)
	assert.Equal(t, 2, cfg.SortWorkers)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Duration(0), cfg.BatchDelay)
	assert.False(t, cfg.KeepProcessed)
	assert.False(t, cfg.SortEnabled)
	assert.Equal(t, 100000, cfg.SortChunkSize)
	assert.False(t, cfg.SortBackup)
	assert.Equal(t, 1, cfg.SortBatchSize)
	assert.Zero(t, cfg.StartYear)
	assert.Zero(t, cfg.EndYear)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("INCLUDE_VARS", "u10, v10,t2m")
	t.Setenv("DECIMAL_PRECISION", "2")
	t.Setenv("COMPRESSION", "gzip")
	t.Setenv("EXTRACT_CHUNK_SIZE", "48")
	t.Setenv("OUTPUT_FORMAT", "csv")
	t.Setenv("JOIN_CHUNK_SIZE", "5000")
	t.Setenv("JOIN_MAX_MEMORY_ROWS", "10000")
	t.Setenv("EXTRACT_WORKERS", "8")
	t.Setenv("JOIN_WORKERS", "4")
	t.Setenv("SORT_WORKERS", "3")
	t.Setenv("BATCH_SIZE", "6")
	t.Setenv("BATCH_DELAY", "30s")
	t.Setenv("KEEP_PROCESSED", "true")
	t.Setenv("SORT_ENABLED", "1")
	t.Setenv("SORT_CHUNK_SIZE", "50000")
	t.Setenv("SORT_BACKUP", "true")
	t.Setenv("SORT_BATCH_SIZE", "3")
	t.Setenv("START_YEAR", "2020")
	t.Setenv("END_YEAR", "2022")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, []string{"u10", "v10", "t2m"}, cfg.IncludeVars)
	assert.Equal(t, 2, cfg.DecimalPrecision)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 48, cfg.ExtractChunkSize)
	assert.Equal(t, "csv", cfg.OutputFormat)
	assert.Equal(t, 5000, cfg.JoinChunkSize)
	assert.Equal(t, 10000, cfg.JoinMaxMemRows)
	assert.Equal(t, 8, cfg.ExtractWorkers)
	assert.Equal(t, 4, cfg.JoinWorkers)
	assert.Equal(t, 3, cfg.SortWorkers)
	assert.Equal(t, 6, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.BatchDelay)
	assert.True(t, cfg.KeepProcessed)
	assert.True(t, cfg.SortEnabled)
	assert.Equal(t, 50000, cfg.SortChunkSize)
	assert.True(t, cfg.SortBackup)
	assert.Equal(t, 3, cfg.SortBatchSize)
	assert.Equal(t, 2020, cfg.StartYear)
	assert.Equal(t, 2022, cfg.EndYear)
}

func TestLoad_EmptyExcludeOverridesDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("EXCLUDE_VARS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.ExcludeVars)
}

func TestLoad_ExplicitExcludeList(t *testing.T) {
	setRequired(t)
	t.Setenv("EXCLUDE_VARS", "tp,lsp")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"tp", "lsp"}, cfg.ExcludeVars)
}

func TestLoad_MissingInputDir(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/data/out")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INPUT_DIR")
}

func TestLoad_MissingOutputDir(t *testing.T) {
	t.Setenv("INPUT_DIR", "/data/raw")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTPUT_DIR")
}

func TestLoad_InvalidOutputFormat(t *testing.T) {
	setRequired(t)
	t.Setenv("OUTPUT_FORMAT", "xlsx")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTPUT_FORMAT")
}

func TestLoad_InvalidCompression(t *testing.T) {
	setRequired(t)
	t.Setenv("COMPRESSION", "zstd")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMPRESSION")
}

func TestLoad_InvalidBatchDelay(t *testing.T) {
	setRequired(t)
	t.Setenv("BATCH_DELAY", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_DELAY")
}

func TestLoad_NegativeBatchDelay(t *testing.T) {
	setRequired(t)
	t.Setenv("BATCH_DELAY", "-5s")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_NonPositiveWorkers(t *testing.T) {
	setRequired(t)
	t.Setenv("EXTRACT_WORKERS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTRACT_WORKERS")
}

func TestLoad_YearRangeInverted(t *testing.T) {
	setRequired(t)
	t.Setenv("START_YEAR", "2023")
	t.Setenv("END_YEAR", "2020")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "START_YEAR")
}
