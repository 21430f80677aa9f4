package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMapping(t *testing.T) {
	tests := []struct {
		name     string
		variable string
		header   []string
		want     ColumnMapping
	}{
		{
			name:     "canonical value column",
			variable: "t2m",
			header:   []string{"time", "latitude", "longitude", "value"},
			want:     ColumnMapping{Time: "time", Lat: "latitude", Lon: "longitude", Value: "value"},
		},
		{
			name:     "variable named column",
			variable: "t2m",
			header:   []string{"time", "latitude", "longitude", "t2m"},
			want:     ColumnMapping{Time: "time", Lat: "latitude", Lon: "longitude", Value: "t2m"},
		},
		{
			name:     "short coordinate names",
			variable: "sp",
			header:   []string{"valid_time", "lat", "lon", "sp"},
			want:     ColumnMapping{Time: "valid_time", Lat: "lat", Lon: "lon", Value: "sp"},
		},
		{
			name:     "m suffix form",
			variable: "2t",
			header:   []string{"time", "latitude", "longitude", "2tm"},
			want:     ColumnMapping{Time: "time", Lat: "latitude", Lon: "longitude", Value: "2tm"},
		},
		{
			name:     "reversed digits and letters",
			variable: "10u",
			header:   []string{"time", "latitude", "longitude", "u10"},
			want:     ColumnMapping{Time: "time", Lat: "latitude", Lon: "longitude", Value: "u10"},
		},
		{
			name:     "sole leftover after metadata",
			variable: "ssrd",
			header:   []string{"time", "latitude", "longitude", "number", "step", "surface", "radiation_down"},
			want:     ColumnMapping{Time: "time", Lat: "latitude", Lon: "longitude", Value: "radiation_down"},
		},
		{
			name:     "accumulated field time1",
			variable: "mx2t",
			header:   []string{"time1", "latitude", "longitude", "mx2t"},
			want:     ColumnMapping{Time: "time1", Lat: "latitude", Lon: "longitude", Value: "mx2t"},
		},
		{
			name:     "case insensitive match keeps header spelling",
			variable: "t2m",
			header:   []string{"Time", "Latitude", "Longitude", "T2M"},
			want:     ColumnMapping{Time: "Time", Lat: "Latitude", Lon: "Longitude", Value: "T2M"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMapping(tt.variable, tt.header)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mapping mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectMapping_AmbiguousLeftovers(t *testing.T) {
	_, err := DetectMapping("mystery", []string{"time", "latitude", "longitude", "foo", "bar"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousSchema)

	var mapErr *ColumnMappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, "mystery", mapErr.Variable)
	assert.Equal(t, "value", mapErr.Role)
}

func TestDetectMapping_MissingRole(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		role   string
	}{
		{"no time", []string{"latitude", "longitude", "t2m"}, "time"},
		{"no latitude", []string{"time", "longitude", "t2m"}, "latitude"},
		{"no longitude", []string{"time", "latitude", "t2m"}, "longitude"},
		{"no value", []string{"time", "latitude", "longitude", "number"}, "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectMapping("t2m", tt.header)
			require.Error(t, err)

			var mapErr *ColumnMappingError
			require.True(t, errors.As(err, &mapErr))
			assert.Equal(t, tt.role, mapErr.Role)
		})
	}
}

func TestReverseName(t *testing.T) {
	assert.Equal(t, "u10", reverseName("10u"))
	assert.Equal(t, "v100", reverseName("100v"))
	assert.Equal(t, "", reverseName("t2m"))
	assert.Equal(t, "", reverseName("sp"))
	assert.Equal(t, "", reverseName("100"))
}

func TestRegistry_ResolveRegistered(t *testing.T) {
	reg, err := NewRegistry(map[string]ColumnMapping{
		"swh": {Time: "time", Lat: "latitude", Lon: "longitude", Value: "wave_height"},
	})
	require.NoError(t, err)

	m, err := reg.Resolve("swh", []string{"time", "latitude", "longitude", "wave_height"})
	require.NoError(t, err)
	assert.Equal(t, "wave_height", m.Value)
}

func TestRegistry_RegisteredColumnAbsent(t *testing.T) {
	reg, err := NewRegistry(map[string]ColumnMapping{
		"swh": {Time: "time", Lat: "latitude", Lon: "longitude", Value: "wave_height"},
	})
	require.NoError(t, err)

	_, err = reg.Resolve("swh", []string{"time", "latitude", "longitude", "swh"})
	require.Error(t, err)

	var mapErr *ColumnMappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, "swh", mapErr.Variable)
}

func TestRegistry_UnregisteredFallsThrough(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	m, err := reg.Resolve("t2m", []string{"time", "latitude", "longitude", "t2m"})
	require.NoError(t, err)
	assert.Equal(t, "t2m", m.Value)
}

func TestNewRegistry_RejectsIncompleteEntry(t *testing.T) {
	_, err := NewRegistry(map[string]ColumnMapping{
		"swh": {Time: "time", Lat: "latitude"},
	})
	require.Error(t, err)

	var mapErr *ColumnMappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, "longitude", mapErr.Role)
}

func TestMetadataColumn(t *testing.T) {
	assert.True(t, MetadataColumn("number"))
	assert.True(t, MetadataColumn("Surface"))
	assert.False(t, MetadataColumn("t2m"))
}

func TestDefaultExcludeVariables(t *testing.T) {
	ex := DefaultExcludeVariables()
	assert.Contains(t, ex, "tp")
	assert.Contains(t, ex, "10fg")
	assert.NotContains(t, ex, "t2m")
}
