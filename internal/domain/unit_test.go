package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitKey_Rendering(t *testing.T) {
	key := UnitKey{Year: 2021, Month: 5}
	assert.Equal(t, "2021-05", key.String())
	assert.Equal(t, "202105", key.Compact())
}

func TestUnitKey_Valid(t *testing.T) {
	tests := []struct {
		name string
		key  UnitKey
		want bool
	}{
		{"normal", UnitKey{2021, 5}, true},
		{"first month", UnitKey{1900, 1}, true},
		{"last month", UnitKey{2200, 12}, true},
		{"month zero", UnitKey{2021, 0}, false},
		{"month thirteen", UnitKey{2021, 13}, false},
		{"year too old", UnitKey{1899, 6}, false},
		{"year too far", UnitKey{2201, 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Valid())
		})
	}
}

func TestUnitKey_Less(t *testing.T) {
	assert.True(t, UnitKey{2020, 12}.Less(UnitKey{2021, 1}))
	assert.True(t, UnitKey{2021, 1}.Less(UnitKey{2021, 2}))
	assert.False(t, UnitKey{2021, 2}.Less(UnitKey{2021, 2}))
	assert.False(t, UnitKey{2022, 1}.Less(UnitKey{2021, 12}))
}

func TestUnitState_String(t *testing.T) {
	assert.Equal(t, "discovered", StateDiscovered.String())
	assert.Equal(t, "join_failed", StateJoinFailed.String())
	assert.Equal(t, "unknown(99)", UnitState(99).String())
}

func TestUnitState_Terminal(t *testing.T) {
	assert.False(t, StateDiscovered.Terminal())
	assert.False(t, StateExtracting.Terminal())
	assert.False(t, StateJoined.Terminal())
	assert.True(t, StateExtractFailed.Terminal())
	assert.True(t, StateCleaned.Terminal())
	assert.True(t, StateSorted.Terminal())
}
