// Package grid reads raw gridded bundles produced by the acquisition service.
//
// A bundle is a gzip-compressed JSON document holding one month of data:
// a time axis, latitude and longitude axes, and one or more named variables
// whose values are laid out time-major (time × latitude × longitude).
// Bundles use the ".grid" extension, ".grid.gz" when compressed.
package grid

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cloudthistle/era5-etl/internal/domain"
)

// Extensions recognized as raw gridded bundles during discovery.
var Extensions = []string{".grid", ".grid.gz"}

// IsGridFile reports whether path looks like a raw gridded bundle.
func IsGridFile(path string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Variable is one named field inside a bundle.
type Variable struct {
	// Values is time-major: Values[t*nlat*nlon + i*nlon + j].
	Values []float64         `json:"values"`
	Attrs  map[string]string `json:"attrs,omitempty"`

	// TimeDim names the time dimension this variable is indexed by.
	// Empty means the variable has no time dimension (static field).
	TimeDim string `json:"time_dim,omitempty"`
}

// File is a decoded bundle. Axes are shared by all variables.
type File struct {
	Path       string               `json:"-"`
	Year       int                  `json:"year"`
	Month      int                  `json:"month"`
	Times      []time.Time          `json:"times"`
	Latitudes  []float64            `json:"latitudes"`
	Longitudes []float64            `json:"longitudes"`
	Vars       map[string]*Variable `json:"variables"`
}

// Open decodes a bundle from disk. The whole document is parsed up front;
// chunked access happens at the value-array level via ReadChunk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grid bundle: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open grid bundle %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var gf File
	if err := json.NewDecoder(r).Decode(&gf); err != nil {
		return nil, fmt.Errorf("decode grid bundle %s: %w", path, err)
	}
	gf.Path = path

	if len(gf.Latitudes) == 0 || len(gf.Longitudes) == 0 {
		return nil, fmt.Errorf("grid bundle %s: empty spatial axes", path)
	}
	return &gf, nil
}

// Variables lists the variable names present in the bundle, sorted for
// deterministic processing order.
func (f *File) Variables() []string {
	names := make([]string, 0, len(f.Vars))
	for name := range f.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeSteps returns the length of the time axis.
func (f *File) TimeSteps() int { return len(f.Times) }

// GridPoints returns the number of spatial points per time step.
func (f *File) GridPoints() int { return len(f.Latitudes) * len(f.Longitudes) }

// Point is one flattened sample of a variable.
type Point struct {
	Time  time.Time
	Lat   float64
	Lon   float64
	Value float64
}

// ReadChunk flattens one time window [start, end) of a variable into points.
// For variables without a time dimension, pass start=0, end=1; the single
// spatial field is returned with the bundle's first time step (or zero time
// when the bundle has no time axis at all).
//
// A value array whose length does not cover the requested window is a
// corrupt payload and returns a DecodeError.
func (f *File) ReadChunk(variable string, start, end int) ([]Point, error) {
	v, ok := f.Vars[variable]
	if !ok {
		return nil, &domain.DecodeError{File: f.Path, Variable: variable,
			Err: fmt.Errorf("variable not present")}
	}

	nlat, nlon := len(f.Latitudes), len(f.Longitudes)
	perStep := nlat * nlon

	if v.TimeDim == "" {
		if len(v.Values) != perStep {
			return nil, &domain.DecodeError{File: f.Path, Variable: variable,
				Err: fmt.Errorf("static field has %d values, want %d", len(v.Values), perStep)}
		}
		var ts time.Time
		if len(f.Times) > 0 {
			ts = f.Times[0]
		}
		points := make([]Point, 0, perStep)
		for i, lat := range f.Latitudes {
			for j, lon := range f.Longitudes {
				points = append(points, Point{Time: ts, Lat: lat, Lon: lon, Value: v.Values[i*nlon+j]})
			}
		}
		return points, nil
	}

	if start < 0 || end > len(f.Times) || start >= end {
		return nil, fmt.Errorf("grid chunk [%d,%d) out of range for %d time steps", start, end, len(f.Times))
	}
	if len(v.Values) < end*perStep {
		return nil, &domain.DecodeError{File: f.Path, Variable: variable,
			Err: fmt.Errorf("value array has %d entries, want at least %d", len(v.Values), end*perStep)}
	}

	points := make([]Point, 0, (end-start)*perStep)
	for t := start; t < end; t++ {
		base := t * perStep
		for i, lat := range f.Latitudes {
			for j, lon := range f.Longitudes {
				points = append(points, Point{
					Time:  f.Times[t],
					Lat:   lat,
					Lon:   lon,
					Value: v.Values[base+i*nlon+j],
				})
			}
		}
	}
	return points, nil
}
