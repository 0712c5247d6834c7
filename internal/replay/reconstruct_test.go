package replay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// stateEqual compares two state documents as JSON values so key order does
// not matter.
func stateEqual(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	require.NoError(t, json.Unmarshal([]byte(want), &w))
	require.NoError(t, json.Unmarshal([]byte(got), &g))
	require.Equal(t, w, g)
}

func TestApplyDelta(t *testing.T) {
	base := `{"Counter":{"count":0},"Auth":{"loggedIn":false}}`

	tests := []struct {
		name   string
		state  string
		module string
		delta  string
		want   string
	}{
		{
			name:   "replaces existing module wholesale",
			state:  base,
			module: "Counter",
			delta:  `{"count":5}`,
			want:   `{"Counter":{"count":5},"Auth":{"loggedIn":false}}`,
		},
		{
			name:   "adds absent module",
			state:  base,
			module: "Settings",
			delta:  `{"theme":"dark"}`,
			want:   `{"Counter":{"count":0},"Auth":{"loggedIn":false},"Settings":{"theme":"dark"}}`,
		},
		{
			name:   "replacement is not a field merge",
			state:  `{"Counter":{"count":1,"step":2}}`,
			module: "Counter",
			delta:  `{"count":9}`,
			want:   `{"Counter":{"count":9}}`,
		},
		{
			name:   "non-object delta values allowed",
			state:  base,
			module: "Counter",
			delta:  `42`,
			want:   `{"Counter":42,"Auth":{"loggedIn":false}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stateEqual(t, tt.want, ApplyDelta(tt.state, tt.module, tt.delta))
		})
	}
}

func TestApplyDeltaFailSoft(t *testing.T) {
	base := `{"Counter":{"count":0}}`

	tests := []struct {
		name   string
		state  string
		module string
		delta  string
	}{
		{"malformed delta", base, "Counter", `{invalid json`},
		{"blank module name", base, "", `{"count":1}`},
		{"whitespace module name", base, "  ", `{"count":1}`},
		{"malformed current state", "not-json", "Counter", `{"count":1}`},
		{"null current state", "null", "Counter", `{"count":1}`},
		{"array current state", `[1,2,3]`, "Counter", `{"count":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.state, ApplyDelta(tt.state, tt.module, tt.delta))
		})
	}
}

func timelineActions() []wire.CapturedAction {
	mk := func(module, delta string) wire.CapturedAction {
		return wire.CapturedAction{ModuleName: module, StateDeltaJSON: delta}
	}
	return []wire.CapturedAction{
		mk("Counter", `{"count":1}`),
		mk("Counter", `{"count":2}`),
		mk("Auth", `{"loggedIn":true}`),
		mk("Counter", `{"count":3}`),
	}
}

func TestReconstructAtIndex(t *testing.T) {
	initial := `{"Counter":{"count":0},"Auth":{"loggedIn":false}}`
	actions := timelineActions()

	wants := []string{
		`{"Counter":{"count":1},"Auth":{"loggedIn":false}}`,
		`{"Counter":{"count":2},"Auth":{"loggedIn":false}}`,
		`{"Counter":{"count":2},"Auth":{"loggedIn":true}}`,
		`{"Counter":{"count":3},"Auth":{"loggedIn":true}}`,
	}
	for i, want := range wants {
		stateEqual(t, want, ReconstructAtIndex(initial, actions, i))
	}
}

func TestReconstructAtIndexEmptyActions(t *testing.T) {
	initial := `{"Counter":{"count":0}}`
	for _, i := range []int{-10, 0, 7} {
		require.Equal(t, initial, ReconstructAtIndex(initial, nil, i))
	}
}

func TestReconstructAtIndexClamps(t *testing.T) {
	initial := `{"Counter":{"count":0},"Auth":{"loggedIn":false}}`
	actions := timelineActions()[:2]

	// Beyond the end clamps to the last element.
	stateEqual(t,
		`{"Counter":{"count":2},"Auth":{"loggedIn":false}}`,
		ReconstructAtIndex(initial, actions, 100))

	// Negative clamps to the first element only.
	stateEqual(t,
		`{"Counter":{"count":1},"Auth":{"loggedIn":false}}`,
		ReconstructAtIndex(initial, actions, -5))
}

func TestReconstructSkipsMalformedDeltas(t *testing.T) {
	initial := `{"Counter":{"count":0}}`
	actions := []wire.CapturedAction{
		{ModuleName: "Counter", StateDeltaJSON: `{"count":1}`},
		{ModuleName: "Counter", StateDeltaJSON: `{broken`},
		{ModuleName: "Counter", StateDeltaJSON: `{"count":3}`},
	}
	stateEqual(t, `{"Counter":{"count":3}}`, ReconstructAtIndex(initial, actions, 2))
}
