package sortfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/table"
)

var joinedHeader = []string{"time", "latitude", "longitude", "t2m"}

func writeJoined(t *testing.T, name string, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, table.WriteCSV(path, joinedHeader, rows, ""))
	return path
}

func readJoined(t *testing.T, path string) [][]string {
	t.Helper()
	r, err := table.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSortFile_OrdersByTimeLatLon(t *testing.T) {
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"2021-05-01 01:00:00", "40", "-100", "282"},
		{"2021-05-01 00:00:00", "40.25", "-100", "281"},
		{"2021-05-01 00:00:00", "40", "-99.75", "280.5"},
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	})

	s := New(Options{ChunkSize: 2}, nil)
	require.NoError(t, s.SortFile(path))

	want := [][]string{
		{"2021-05-01 00:00:00", "40", "-100", "280"},
		{"2021-05-01 00:00:00", "40", "-99.75", "280.5"},
		{"2021-05-01 00:00:00", "40.25", "-100", "281"},
		{"2021-05-01 01:00:00", "40", "-100", "282"},
	}
	if diff := cmp.Diff(want, readJoined(t, path)); diff != "" {
		t.Errorf("sorted rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSortFile_NumericNotLexicographicCoordinates(t *testing.T) {
	// Lexicographically "-99.75" < "-100", numerically the reverse.
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"2021-05-01 00:00:00", "40", "-99.75", "1"},
		{"2021-05-01 00:00:00", "40", "-100", "2"},
		{"2021-05-01 00:00:00", "9.5", "-100", "3"},
	})

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	rows := readJoined(t, path)
	assert.Equal(t, "9.5", rows[0][1])
	assert.Equal(t, "-100", rows[1][2])
	assert.Equal(t, "-99.75", rows[2][2])
}

func TestSortFile_Idempotent(t *testing.T) {
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"2021-05-01 01:00:00", "40", "-100", "282"},
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	})

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))
	first := readJoined(t, path)

	require.NoError(t, s.SortFile(path))
	if diff := cmp.Diff(first, readJoined(t, path)); diff != "" {
		t.Errorf("second sort changed rows (-first +second):\n%s", diff)
	}
}

func TestSortFile_StableForEqualKeys(t *testing.T) {
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"2021-05-01 00:00:00", "40", "-100", "first"},
		{"2021-05-01 00:00:00", "40", "-100", "second"},
	})

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	rows := readJoined(t, path)
	assert.Equal(t, "first", rows[0][3])
	assert.Equal(t, "second", rows[1][3])
}

func TestSortFile_ValidTimeColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joined_202105.csv")
	require.NoError(t, table.WriteCSV(path,
		[]string{"valid_time", "lat", "lon", "sp"},
		[][]string{
			{"2021-05-01 01:00:00", "40", "-100", "2"},
			{"2021-05-01 00:00:00", "40", "-100", "1"},
		}, ""))

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	rows := readJoined(t, path)
	assert.Equal(t, "2021-05-01 00:00:00", rows[0][0])
}

func TestSortFile_UnparseableTimesFallBackLexicographic(t *testing.T) {
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"zzz", "40", "-100", "1"},
		{"aaa", "40", "-100", "2"},
		{"2021-05-01 00:00:00", "40", "-100", "3"},
	})

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	rows := readJoined(t, path)
	// Lexicographic: the ISO timestamp sorts before "aaa" and "zzz".
	assert.Equal(t, "2021-05-01 00:00:00", rows[0][0])
	assert.Equal(t, "aaa", rows[1][0])
	assert.Equal(t, "zzz", rows[2][0])
}

func TestSortFile_MissingTimeColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joined_202105.csv")
	require.NoError(t, table.WriteCSV(path,
		[]string{"latitude", "longitude", "t2m"},
		[][]string{{"40", "-100", "280"}}, ""))

	s := New(Options{ChunkSize: 100}, nil)
	err := s.SortFile(path)
	require.Error(t, err)

	var sortErr *domain.SortError
	require.ErrorAs(t, err, &sortErr)
	assert.Equal(t, path, sortErr.Path)
}

func TestSortFile_NoTemporaryLeftOnSuccess(t *testing.T) {
	path := writeJoined(t, "joined_202105.csv", [][]string{
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	})

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	_, err := os.Stat(path + ".sorted")
	assert.True(t, os.IsNotExist(err))
}

func TestSortFile_Backup(t *testing.T) {
	rows := [][]string{
		{"2021-05-01 01:00:00", "40", "-100", "282"},
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	}
	path := writeJoined(t, "joined_202105.csv", rows)

	s := New(Options{ChunkSize: 100, Backup: true}, nil)
	require.NoError(t, s.SortFile(path))

	backupPath := filepath.Join(filepath.Dir(path), "backup", filepath.Base(path))
	r, err := table.OpenReader(backupPath)
	require.NoError(t, err)
	defer r.Close()

	// The backup holds the pre-sort row order.
	got, err := r.ReadAll()
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Errorf("backup rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSortFile_GzipPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joined_202105.csv.gz")
	require.NoError(t, table.WriteCSV(path, joinedHeader, [][]string{
		{"2021-05-01 01:00:00", "40", "-100", "282"},
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	}, table.CompressionGzip))

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	// Still gzip on disk and still readable through the gzip path.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 2)
	assert.Equal(t, byte(0x1f), raw[0])

	rows := readJoined(t, path)
	assert.Equal(t, "2021-05-01 00:00:00", rows[0][0])
}

func TestSortFile_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joined_202105.parquet")
	require.NoError(t, table.WriteParquet(path, joinedHeader, [][]string{
		{"2021-05-01 01:00:00", "40", "-100", "282"},
		{"2021-05-01 00:00:00", "40", "-100", "280"},
	}))

	s := New(Options{ChunkSize: 100}, nil)
	require.NoError(t, s.SortFile(path))

	header, rows, err := table.ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	timeIdx := findColumn(header, timeColumns)
	require.GreaterOrEqual(t, timeIdx, 0)
	assert.Equal(t, "2021-05-01 00:00:00", rows[0][timeIdx])
	assert.Equal(t, "2021-05-01 01:00:00", rows[1][timeIdx])
}
