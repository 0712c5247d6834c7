// Package replay materializes historical application state by folding
// captured deltas over an initial snapshot. Both operations are pure and
// safe for concurrent use, e.g. from a UI scrubbing a timeline.
package replay

import (
	"encoding/json"
	"strings"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// ApplyDelta returns currentStateJSON with the moduleName key replaced
// wholesale by the parsed delta (added when absent). The operation is
// fail-soft: a malformed current state, a malformed delta, or a blank
// module name returns the input unchanged. State schemas are opaque here on
// purpose; nothing in this package knows application types.
func ApplyDelta(currentStateJSON, moduleName, deltaJSON string) string {
	if strings.TrimSpace(moduleName) == "" {
		return currentStateJSON
	}

	var state map[string]json.RawMessage
	if err := json.Unmarshal([]byte(currentStateJSON), &state); err != nil {
		return currentStateJSON
	}
	if state == nil {
		// "null" parses without error but is not an object.
		return currentStateJSON
	}

	if !json.Valid([]byte(deltaJSON)) {
		return currentStateJSON
	}

	state[moduleName] = json.RawMessage(deltaJSON)
	out, err := json.Marshal(state)
	if err != nil {
		return currentStateJSON
	}
	return string(out)
}

// ReconstructAtIndex returns the full state after applying actions[0..index]
// in order, starting from initialStateJSON. index is clamped into
// [0, len(actions)-1]; with no actions the initial state is returned
// unchanged. State at any scrub position is always recomputed from the same
// two inputs, never from cached mutable state.
func ReconstructAtIndex(initialStateJSON string, actions []wire.CapturedAction, index int) string {
	if len(actions) == 0 {
		return initialStateJSON
	}
	if index < 0 {
		index = 0
	}
	if index >= len(actions) {
		index = len(actions) - 1
	}

	state := initialStateJSON
	for _, a := range actions[:index+1] {
		state = ApplyDelta(state, a.ModuleName, a.StateDeltaJSON)
	}
	return state
}
