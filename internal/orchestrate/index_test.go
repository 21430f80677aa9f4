package orchestrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudthistle/era5-etl/internal/domain"
)

func TestNewUnitIndex_GroupsFilesByKey(t *testing.T) {
	files := []RawFile{
		{Path: "/raw/era5_2021_05_part1.grid", Key: domain.UnitKey{Year: 2021, Month: 5}},
		{Path: "/raw/era5_2021_05_part2.grid", Key: domain.UnitKey{Year: 2021, Month: 5}},
		{Path: "/raw/era5_2021_06.grid", Key: domain.UnitKey{Year: 2021, Month: 6}},
	}

	idx := NewUnitIndex(files, "/out/processed")
	assert.Equal(t, 2, idx.Len())

	u := idx.Get(domain.UnitKey{Year: 2021, Month: 5})
	require.NotNil(t, u)
	assert.Len(t, u.RawFiles, 2)
	assert.Equal(t, domain.StateDiscovered, u.State)
	assert.Equal(t, filepath.Join("/out/processed", "2021", "05"), u.ProcessedDir)

	assert.Nil(t, idx.Get(domain.UnitKey{Year: 2021, Month: 7}))
}

func TestUnitIndex_KeysChronological(t *testing.T) {
	idx := NewUnitIndex([]RawFile{
		{Path: "c", Key: domain.UnitKey{Year: 2022, Month: 1}},
		{Path: "a", Key: domain.UnitKey{Year: 2021, Month: 6}},
		{Path: "b", Key: domain.UnitKey{Year: 2021, Month: 12}},
	}, "/p")

	keys := idx.Keys()
	assert.Equal(t, []domain.UnitKey{{Year: 2021, Month: 6}, {Year: 2021, Month: 12}, {Year: 2022, Month: 1}}, keys)
}

func TestUnitIndex_LoadExisting(t *testing.T) {
	joined := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(joined, "2021"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(joined, "2021", "joined_202105.parquet"), nil, 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(joined, "2021", "notes.txt"), nil, 0o644))

	idx := NewUnitIndex([]RawFile{
		{Path: "a", Key: domain.UnitKey{Year: 2021, Month: 5}},
		{Path: "b", Key: domain.UnitKey{Year: 2021, Month: 6}},
	}, "/p")
	require.NoError(t, idx.LoadExisting(joined))

	u := idx.Get(domain.UnitKey{Year: 2021, Month: 5})
	assert.Equal(t, domain.StateJoined, u.State)
	assert.Equal(t, filepath.Join(joined, "2021", "joined_202105.parquet"), u.JoinedPath)

	assert.Equal(t, domain.StateDiscovered, idx.Get(domain.UnitKey{Year: 2021, Month: 6}).State)
}

func TestUnitIndex_LoadExisting_MissingRootIsFine(t *testing.T) {
	idx := NewUnitIndex(nil, "/p")
	require.NoError(t, idx.LoadExisting(filepath.Join(t.TempDir(), "absent")))
}

func TestParseJoinedName(t *testing.T) {
	tests := []struct {
		name string
		want domain.UnitKey
		ok   bool
	}{
		{"joined_202105.csv", domain.UnitKey{Year: 2021, Month: 5}, true},
		{"joined_202112.parquet", domain.UnitKey{Year: 2021, Month: 12}, true},
		{"joined_202105.csv.gz", domain.UnitKey{Year: 2021, Month: 5}, true},
		{"joined_202113.csv", domain.UnitKey{}, false},
		{"joined_21may.csv", domain.UnitKey{}, false},
		{"other_202105.csv", domain.UnitKey{}, false},
	}
	for _, tt := range tests {
		got, ok := parseJoinedName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.name)
		}
	}
}

func TestUnitIndex_CountByStateAndJoinedPaths(t *testing.T) {
	idx := NewUnitIndex([]RawFile{
		{Path: "a", Key: domain.UnitKey{Year: 2021, Month: 5}},
		{Path: "b", Key: domain.UnitKey{Year: 2021, Month: 6}},
		{Path: "c", Key: domain.UnitKey{Year: 2021, Month: 7}},
	}, "/p")

	idx.Get(domain.UnitKey{Year: 2021, Month: 6}).State = domain.StateJoined
	idx.Get(domain.UnitKey{Year: 2021, Month: 6}).JoinedPath = "/j/2021/joined_202106.csv"
	idx.Get(domain.UnitKey{Year: 2021, Month: 7}).State = domain.StateExtractFailed

	counts := idx.CountByState()
	assert.Equal(t, 1, counts[domain.StateDiscovered])
	assert.Equal(t, 1, counts[domain.StateJoined])
	assert.Equal(t, 1, counts[domain.StateExtractFailed])

	assert.Equal(t, []string{"/j/2021/joined_202106.csv"}, idx.JoinedPaths())
}
