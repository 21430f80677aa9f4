package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudthistle/era5-etl/internal/domain"
)

// UnitIndex is the orchestrator's in-memory bookkeeping: one entry per
// processing unit, keyed by (year, month), holding the unit's known output
// paths and last-known state. The on-disk layout stays the source of truth;
// the index is built from a single scan so resume decisions never trigger
// repeated directory walks.
type UnitIndex struct {
	units map[domain.UnitKey]*domain.Unit
}

// NewUnitIndex groups discovered raw files into units.
func NewUnitIndex(files []RawFile, processedRoot string) *UnitIndex {
	idx := &UnitIndex{units: make(map[domain.UnitKey]*domain.Unit)}
	for _, f := range files {
		u, ok := idx.units[f.Key]
		if !ok {
			u = &domain.Unit{
				Key:   f.Key,
				State: domain.StateDiscovered,
				ProcessedDir: filepath.Join(processedRoot,
					fmt.Sprintf("%d", f.Key.Year), fmt.Sprintf("%02d", f.Key.Month)),
			}
			idx.units[f.Key] = u
		}
		u.RawFiles = append(u.RawFiles, f.Path)
	}
	return idx
}

// LoadExisting scans joinedRoot once and records already-joined outputs, so a
// resumed run knows each unit's last state without rescanning per unit.
func (idx *UnitIndex) LoadExisting(joinedRoot string) error {
	entries, err := os.ReadDir(joinedRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", joinedRoot, err)
	}

	for _, yearDir := range entries {
		if !yearDir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(joinedRoot, yearDir.Name()))
		if err != nil {
			return fmt.Errorf("scan %s: %w", yearDir.Name(), err)
		}
		for _, f := range files {
			key, ok := parseJoinedName(f.Name())
			if !ok {
				continue
			}
			if u, exists := idx.units[key]; exists {
				u.JoinedPath = filepath.Join(joinedRoot, yearDir.Name(), f.Name())
				u.State = domain.StateJoined
			}
		}
	}
	return nil
}

// parseJoinedName recovers a unit key from "joined_202105.csv" style names.
func parseJoinedName(name string) (domain.UnitKey, bool) {
	if !strings.HasPrefix(name, "joined_") {
		return domain.UnitKey{}, false
	}
	rest := strings.TrimPrefix(name, "joined_")
	if i := strings.IndexByte(rest, '.'); i > 0 {
		rest = rest[:i]
	}
	if len(rest) != 6 {
		return domain.UnitKey{}, false
	}
	key := domain.UnitKey{Year: atoi(rest[:4]), Month: atoi(rest[4:])}
	return key, key.Valid()
}

// Get returns the unit for a key, or nil.
func (idx *UnitIndex) Get(key domain.UnitKey) *domain.Unit {
	return idx.units[key]
}

// Keys returns all unit keys in chronological order.
func (idx *UnitIndex) Keys() []domain.UnitKey {
	keys := make([]domain.UnitKey, 0, len(idx.units))
	for k := range idx.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Len returns the number of tracked units.
func (idx *UnitIndex) Len() int { return len(idx.units) }

// CountByState tallies units per state.
func (idx *UnitIndex) CountByState() map[domain.UnitState]int {
	counts := make(map[domain.UnitState]int)
	for _, u := range idx.units {
		counts[u.State]++
	}
	return counts
}

// JoinedPaths returns the joined output path of every unit that reached at
// least the joined state, sorted chronologically.
func (idx *UnitIndex) JoinedPaths() []string {
	var paths []string
	for _, key := range idx.Keys() {
		u := idx.units[key]
		if u.JoinedPath != "" {
			paths = append(paths, u.JoinedPath)
		}
	}
	return paths
}
