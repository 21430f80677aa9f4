package domain

import "fmt"

// UnitKey identifies one (year, month) processing unit.
type UnitKey struct {
	Year  int
	Month int
}

// String renders the key as "2021-05".
func (k UnitKey) String() string {
	return fmt.Sprintf("%d-%02d", k.Year, k.Month)
}

// Compact renders the key as "202105", the form used in output file names.
func (k UnitKey) Compact() string {
	return fmt.Sprintf("%d%02d", k.Year, k.Month)
}

// Valid reports whether the key holds a plausible year and month.
func (k UnitKey) Valid() bool {
	return k.Year >= 1900 && k.Year <= 2200 && k.Month >= 1 && k.Month <= 12
}

// Less orders keys chronologically.
func (k UnitKey) Less(other UnitKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// UnitState tracks a processing unit's progress through the pipeline.
type UnitState int

const (
	StateDiscovered UnitState = iota
	StateExtracting
	StateExtracted
	StateExtractFailed
	StateJoining
	StateJoined
	StateJoinFailed
	StateCleaned
	StateSorted
	StateSortFailed
)

var stateNames = map[UnitState]string{
	StateDiscovered:    "discovered",
	StateExtracting:    "extracting",
	StateExtracted:     "extracted",
	StateExtractFailed: "extract_failed",
	StateJoining:       "joining",
	StateJoined:        "joined",
	StateJoinFailed:    "join_failed",
	StateCleaned:       "cleaned",
	StateSorted:        "sorted",
	StateSortFailed:    "sort_failed",
}

func (s UnitState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further stage will run for a unit in this state.
func (s UnitState) Terminal() bool {
	switch s {
	case StateExtractFailed, StateJoinFailed, StateSortFailed, StateCleaned, StateSorted:
		return true
	}
	return false
}

// Unit is one processing unit plus the orchestrator's bookkeeping for it:
// its raw input files, current state, and the output paths it owns.
type Unit struct {
	Key      UnitKey
	State    UnitState
	RawFiles []string

	// ProcessedDir is processed/<year>/<month>, owned exclusively by this
	// unit so extraction workers never contend on a directory.
	ProcessedDir string

	// JoinedPath is set once the join stage succeeds.
	JoinedPath string

	// Err records the first stage failure, if any.
	Err error
}
