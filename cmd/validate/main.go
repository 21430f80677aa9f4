// Command validate checks the integrity of joined pipeline outputs: file
// layout, join-key uniqueness, timestamp parseability, chronological order,
// and value-column sanity.
//
// Usage:
//
//	go run ./cmd/validate -joined data/output/joined
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/table"
)

var joinedName = regexp.MustCompile(`^joined_(\d{4})(\d{2})\.(csv|csv\.gz|parquet)$`)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	joinedDir := flag.String("joined", "", "directory containing joined outputs")
	flag.Parse()

	if *joinedDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*joinedDir); code != 0 {
		os.Exit(code)
	}
}

func run(joinedDir string) int {
	fmt.Println("=== Joined Output Validation ===")
	fmt.Println()

	files, layoutPhase := discoverJoined(joinedDir)
	if len(files) == 0 && layoutPhase.passed() {
		fmt.Fprintf(os.Stderr, "FATAL: no joined outputs under %s\n", joinedDir)
		return 1
	}

	phases := []*phase{layoutPhase}
	totalRows := 0
	for _, f := range files {
		header, rows, err := load(f)
		if err != nil {
			layoutPhase.errorf("%s: unreadable: %v", f, err)
			continue
		}
		totalRows += len(rows)
		name := filepath.Base(f)
		keys, ok := locateKeys(header)
		if !ok {
			layoutPhase.errorf("%s: header %v lacks time/latitude/longitude columns", f, header)
			continue
		}
		phases = append(phases,
			validateKeys(name, keys, header, rows),
			validateOrder(name, keys, rows),
			validateValues(name, keys, header, rows),
		)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-52s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Files: %d, rows: %d\n", len(files), totalRows)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == 20 {
				fmt.Printf("  ... %d more\n", len(p.errors)-20)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// discoverJoined walks the joined tree, checking that every output file's
// name parses and agrees with its year directory.
func discoverJoined(dir string) ([]string, *phase) {
	p := &phase{name: "Phase 1: File Layout"}
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := filepath.Base(path)
		m := joinedName.FindStringSubmatch(name)
		if m == nil {
			p.errorf("%s: unexpected file name", path)
			return nil
		}
		if yearDir := filepath.Base(filepath.Dir(path)); yearDir != m[1] {
			p.errorf("%s: file year %s does not match directory %s", path, m[1], yearDir)
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		p.errorf("walk %s: %v", dir, err)
	}
	return files, p
}

func load(path string) ([]string, [][]string, error) {
	if strings.HasSuffix(path, ".parquet") {
		return table.ReadParquet(path)
	}
	r, err := table.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return r.Header, rows, nil
}

// keyCols holds the indices of the three join-key columns. Column order
// differs between CSV (keys first) and parquet (alphabetical), so keys are
// located by name.
type keyCols struct {
	time, lat, lon int
}

func locateKeys(header []string) (keyCols, bool) {
	k := keyCols{time: -1, lat: -1, lon: -1}
	for i, col := range header {
		switch {
		case k.time < 0 && domain.TimeColumn(col):
			k.time = i
		case k.lat < 0 && (strings.EqualFold(col, "latitude") || strings.EqualFold(col, "lat")):
			k.lat = i
		case k.lon < 0 && (strings.EqualFold(col, "longitude") || strings.EqualFold(col, "lon")):
			k.lon = i
		}
	}
	return k, k.time >= 0 && k.lat >= 0 && k.lon >= 0
}

func (k keyCols) isKey(i int) bool { return i == k.time || i == k.lat || i == k.lon }

// validateKeys checks the key columns: parseable timestamps, numeric
// coordinates, and a unique (time, lat, lon) tuple per row.
func validateKeys(name string, k keyCols, header []string, rows [][]string) *phase {
	p := &phase{name: fmt.Sprintf("Phase 2: Key Integrity (%s)", name)}

	if len(header) < 4 {
		p.errorf("header has %d columns, want at least time, lat, lon and one variable", len(header))
		return p
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if len(row) != len(header) {
			p.errorf("row %d: %d fields, header has %d", i, len(row), len(header))
			continue
		}
		if _, ok := parseTime(row[k.time]); !ok {
			p.errorf("row %d: unparseable timestamp %q in column %q", i, row[k.time], header[k.time])
		}
		for _, c := range []int{k.lat, k.lon} {
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				p.errorf("row %d: non-numeric %s %q", i, header[c], row[c])
			}
		}
		key := row[k.time] + "|" + row[k.lat] + "|" + row[k.lon]
		if prev, dup := seen[key]; dup {
			p.errorf("row %d: duplicate join key %s (first at row %d)", i, key, prev)
		} else {
			seen[key] = i
		}
	}
	return p
}

// validateOrder checks rows are nondecreasing by (time, lat, lon).
func validateOrder(name string, k keyCols, rows [][]string) *phase {
	p := &phase{name: fmt.Sprintf("Phase 3: Chronological Order (%s)", name)}

	var prevT time.Time
	var prevLat, prevLon float64
	for i, row := range rows {
		if len(row) <= k.time || len(row) <= k.lat || len(row) <= k.lon {
			continue
		}
		t, ok := parseTime(row[k.time])
		if !ok {
			continue
		}
		lat, _ := strconv.ParseFloat(row[k.lat], 64)
		lon, _ := strconv.ParseFloat(row[k.lon], 64)

		if i > 0 {
			switch {
			case t.Before(prevT):
				p.errorf("row %d: time %s before previous %s", i, row[k.time], prevT.Format(timeLayouts[0]))
			case t.Equal(prevT) && lat < prevLat:
				p.errorf("row %d: latitude %g decreases within time %s", i, lat, row[k.time])
			case t.Equal(prevT) && lat == prevLat && lon < prevLon:
				p.errorf("row %d: longitude %g decreases within (%s, %g)", i, lon, row[k.time], lat)
			}
		}
		prevT, prevLat, prevLon = t, lat, lon
	}
	return p
}

// validateValues checks variable columns hold numbers or empty cells.
func validateValues(name string, k keyCols, header []string, rows [][]string) *phase {
	p := &phase{name: fmt.Sprintf("Phase 4: Value Columns (%s)", name)}

	empties := make([]int, len(header))
	for i, row := range rows {
		if len(row) != len(header) {
			continue
		}
		for c := range row {
			if k.isKey(c) {
				continue
			}
			if row[c] == "" {
				empties[c]++
				continue
			}
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				p.errorf("row %d: column %q holds non-numeric %q", i, header[c], row[c])
			}
		}
	}

	for c := range header {
		if k.isKey(c) {
			continue
		}
		if len(rows) > 0 && empties[c] == len(rows) {
			p.errorf("column %q is entirely empty", header[c])
		}
	}
	return p
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
