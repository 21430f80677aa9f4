package domain

import (
	"fmt"
	"strings"
)

// Canonical column names used by joined and sorted tables. Per-variable
// tables are normalized to these names before merging.
const (
	ColTime      = "time"
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
	ColValue     = "value"
)

// ColumnMapping associates the four required roles with the literal column
// names found in one variable's table.
type ColumnMapping struct {
	Time  string
	Lat   string
	Lon   string
	Value string
}

// Complete reports whether every role is resolved.
func (m ColumnMapping) Complete() bool {
	return m.Time != "" && m.Lat != "" && m.Lon != "" && m.Value != ""
}

// MissingRole names the first unresolved role, or "" if complete.
func (m ColumnMapping) MissingRole() string {
	switch {
	case m.Time == "":
		return "time"
	case m.Lat == "":
		return "latitude"
	case m.Lon == "":
		return "longitude"
	case m.Value == "":
		return "value"
	}
	return ""
}

// Candidate names for each coordinate role, lowercase. GRIB products are not
// consistent: hourly analysis fields label time "time", some accumulated
// fields use "time1"/"time2", and newer CDS downloads use "valid_time".
var (
	timeCandidates = []string{"time", "time1", "time2", "valid_time"}
	latCandidates  = []string{"latitude", "lat"}
	lonCandidates  = []string{"longitude", "lon"}

	// metadataColumns are GRIB bookkeeping columns that never carry the
	// variable's value.
	metadataColumns = []string{"number", "step", "surface", "valid_time", "level", "heightAboveGround"}
)

// MetadataColumn reports whether name is a known non-value bookkeeping column.
func MetadataColumn(name string) bool {
	for _, m := range metadataColumns {
		if strings.EqualFold(name, m) {
			return true
		}
	}
	return false
}

// TimeColumn reports whether name is a recognized time column.
func TimeColumn(name string) bool {
	return containsFold(timeCandidates, name)
}

// CoordinateColumn reports whether name is a recognized latitude or
// longitude column.
func CoordinateColumn(name string) bool {
	return containsFold(latCandidates, name) || containsFold(lonCandidates, name)
}

// Registry maps known variable short names to their fixed column layouts.
// Registered variables bypass the generic detector entirely; lookups for
// unregistered variables fall through to DetectMapping.
type Registry struct {
	byVariable map[string]ColumnMapping
}

// NewRegistry validates and indexes the given mappings. Every registered
// mapping must be complete; a partial registration is a configuration error
// surfaced at startup, not at join time.
func NewRegistry(mappings map[string]ColumnMapping) (*Registry, error) {
	for name, m := range mappings {
		if role := m.MissingRole(); role != "" {
			return nil, &ColumnMappingError{Variable: name, Role: role,
				Err: fmt.Errorf("registry entry incomplete")}
		}
	}
	r := &Registry{byVariable: make(map[string]ColumnMapping, len(mappings))}
	for name, m := range mappings {
		r.byVariable[name] = m
	}
	return r, nil
}

// Resolve returns the mapping for a variable. Registered variables use their
// declared layout verified against the observed header; everything else goes
// through the generic detector.
func (r *Registry) Resolve(variable string, header []string) (ColumnMapping, error) {
	if r != nil {
		if m, ok := r.byVariable[variable]; ok {
			for _, col := range []string{m.Time, m.Lat, m.Lon, m.Value} {
				if !containsFold(header, col) {
					return ColumnMapping{}, &ColumnMappingError{Variable: variable, Role: col,
						Err: fmt.Errorf("registered column %q not present in table", col)}
				}
			}
			return m, nil
		}
	}
	return DetectMapping(variable, header)
}

// DetectMapping infers a ColumnMapping from a table header.
//
// Coordinate roles match the first known candidate name present. The value
// role prefers, in order: the canonical "value" column, the variable's own
// name, its lowercase form, common transformed forms (trailing "m" suffix as
// in 2t→t2m, reversed digits-letters as in 10u→u10), and finally the sole
// column left after removing coordinates and known metadata. Two or more
// leftover columns is ambiguous and reported as such, never guessed.
func DetectMapping(variable string, header []string) (ColumnMapping, error) {
	m := ColumnMapping{
		Time: firstMatch(header, timeCandidates),
		Lat:  firstMatch(header, latCandidates),
		Lon:  firstMatch(header, lonCandidates),
	}

	valueCandidates := []string{ColValue, variable, strings.ToLower(variable), variable + "m", reverseName(variable)}
	for _, cand := range valueCandidates {
		if cand == "" {
			continue
		}
		if col := exactMatch(header, cand); col != "" && col != m.Time && col != m.Lat && col != m.Lon {
			m.Value = col
			break
		}
	}

	if m.Value == "" {
		var leftovers []string
		for _, col := range header {
			if col == m.Time || col == m.Lat || col == m.Lon || MetadataColumn(col) {
				continue
			}
			leftovers = append(leftovers, col)
		}
		switch len(leftovers) {
		case 0:
			// fall through to the missing-role check below
		case 1:
			m.Value = leftovers[0]
		default:
			return ColumnMapping{}, &ColumnMappingError{Variable: variable, Role: "value",
				Err: fmt.Errorf("%w: %d candidate columns %v", ErrAmbiguousSchema, len(leftovers), leftovers)}
		}
	}

	if role := m.MissingRole(); role != "" {
		return ColumnMapping{}, &ColumnMappingError{Variable: variable, Role: role,
			Err: fmt.Errorf("no matching column in header %v", header)}
	}
	return m, nil
}

// reverseName transforms a digits-then-letters short name into its
// letters-then-digits column form: "10u" -> "u10", "100v" -> "v100".
func reverseName(variable string) string {
	i := 0
	for i < len(variable) && variable[i] >= '0' && variable[i] <= '9' {
		i++
	}
	if i == 0 || i == len(variable) {
		return ""
	}
	return variable[i:] + variable[:i]
}

func firstMatch(header []string, candidates []string) string {
	for _, cand := range candidates {
		if col := exactMatch(header, cand); col != "" {
			return col
		}
	}
	return ""
}

// exactMatch returns the header column equal to name ignoring case,
// preserving the header's own spelling.
func exactMatch(header []string, name string) string {
	for _, col := range header {
		if strings.EqualFold(col, name) {
			return col
		}
	}
	return ""
}

func containsFold(header []string, name string) bool {
	return exactMatch(header, name) != ""
}
