// Command gengrid writes synthetic raw gridded bundles for pipeline test
// runs. Values are deterministic for a given (year, month, variable), so
// repeated runs produce identical fixtures.
//
// Usage:
//
//	go run ./cmd/gengrid \
//	  -out data/raw \
//	  -from 2021-01 -to 2021-03 \
//	  -vars u10,v10,t2m,lsm:static \
//	  -lat 4 -lon 4 -steps 48
//
// A variable suffixed with ":static" is written without a time dimension.
// The -corrupt flag truncates one variable's value array, which exercises
// the extractor's per-variable failure isolation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cloudthistle/era5-etl/internal/grid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for bundles")
	from := flag.String("from", "", "first month, YYYY-MM")
	to := flag.String("to", "", "last month, YYYY-MM (inclusive)")
	vars := flag.String("vars", "u10,v10,t2m", "comma-separated variables; suffix :static omits the time dimension")
	latPoints := flag.Int("lat", 4, "latitude axis length")
	lonPoints := flag.Int("lon", 4, "longitude axis length")
	steps := flag.Int("steps", 48, "time steps per bundle, hourly from the first of the month")
	corrupt := flag.String("corrupt", "", "variable whose value array is truncated")
	compress := flag.Bool("compress", true, "gzip bundles (.grid.gz)")
	flag.Parse()

	if *out == "" || *from == "" || *to == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -from, -to")
	}

	start, err := parseMonth(*from)
	if err != nil {
		return fmt.Errorf("bad -from: %w", err)
	}
	end, err := parseMonth(*to)
	if err != nil {
		return fmt.Errorf("bad -to: %w", err)
	}

	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		path, err := writeBundle(*out, m, splitVars(*vars), *latPoints, *lonPoints, *steps, *corrupt, *compress)
		if err != nil {
			return fmt.Errorf("writing bundle for %s: %w", m.Format("2006-01"), err)
		}
		log.Printf("wrote %s", path)
	}
	return nil
}

func parseMonth(s string) (time.Time, error) {
	return time.Parse("2006-01", s)
}

type varDef struct {
	name   string
	static bool
}

func splitVars(s string) []varDef {
	var defs []varDef
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, suffix, found := strings.Cut(part, ":")
		defs = append(defs, varDef{name: name, static: found && suffix == "static"})
	}
	return defs
}

func writeBundle(dir string, month time.Time, defs []varDef, nlat, nlon, steps int, corrupt string, compress bool) (string, error) {
	f := &grid.File{
		Year:  month.Year(),
		Month: int(month.Month()),
		Vars:  map[string]*grid.Variable{},
	}

	for t := 0; t < steps; t++ {
		f.Times = append(f.Times, month.Add(time.Duration(t)*time.Hour))
	}
	for i := 0; i < nlat; i++ {
		f.Latitudes = append(f.Latitudes, 40.0+0.25*float64(i))
	}
	for j := 0; j < nlon; j++ {
		f.Longitudes = append(f.Longitudes, -100.0+0.25*float64(j))
	}

	for _, d := range defs {
		n := steps * nlat * nlon
		v := &grid.Variable{TimeDim: "time"}
		if d.static {
			n = nlat * nlon
			v.TimeDim = ""
		}
		rng := rand.New(rand.NewSource(seed(month, d.name)))
		for k := 0; k < n; k++ {
			v.Values = append(v.Values, rng.Float64()*100)
		}
		if d.name == corrupt && len(v.Values) > 1 {
			v.Values = v.Values[:len(v.Values)/2]
		}
		f.Vars[d.name] = v
	}

	name := fmt.Sprintf("era5_%d_%02d.grid", f.Year, f.Month)
	if compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if compress {
		gz := gzip.NewWriter(out)
		if err := json.NewEncoder(gz).Encode(f); err != nil {
			out.Close()
			return "", err
		}
		if err := gz.Close(); err != nil {
			out.Close()
			return "", err
		}
	} else if err := json.NewEncoder(out).Encode(f); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

func seed(month time.Time, variable string) int64 {
	s := int64(month.Year())*100 + int64(month.Month())
	for _, r := range variable {
		s = s*31 + int64(r)
	}
	return s
}
