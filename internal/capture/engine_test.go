package capture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

func testAction(i int) wire.CapturedAction {
	return wire.CapturedAction{
		ActionType:     fmt.Sprintf("action-%d", i),
		ModuleName:     "Counter",
		StateDeltaJSON: fmt.Sprintf(`{"count":%d}`, i),
	}
}

func TestEngineCaptureBeforeStartIsDropped(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)

	e.CaptureAction(testAction(1))
	e.CaptureLogicStarted(wire.CapturedLogicStart{CallID: "c1"})

	h := e.History()
	require.Empty(t, h.Actions)
	require.Empty(t, h.LogicStarted)
}

func TestEngineStartResetsPriorData(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")
	e.CaptureAction(testAction(1))
	first := e.SessionID()

	e.Start("client-1", "App", "android")
	require.NotEqual(t, first, e.SessionID())
	require.Empty(t, e.History().Actions)
	require.True(t, e.IsStarted())
}

func TestEngineActionRetention(t *testing.T) {
	e := NewEngine(Config{MaxActions: 3, MaxLogicEvents: 10}, nil, nil)
	e.Start("client-1", "App", "android")

	for i := 1; i <= 5; i++ {
		e.CaptureAction(testAction(i))
	}

	h := e.History()
	require.Len(t, h.Actions, 3)
	require.Equal(t, "action-3", h.Actions[0].ActionType)
	require.Equal(t, "action-4", h.Actions[1].ActionType)
	require.Equal(t, "action-5", h.Actions[2].ActionType)
}

func TestEngineLogicRetentionEvictionOrder(t *testing.T) {
	e := NewEngine(Config{MaxActions: 10, MaxLogicEvents: 4}, nil, nil)
	e.Start("client-1", "App", "android")

	// 2 started + 2 completed + 1 failed = 5, one over budget.
	e.CaptureLogicStarted(wire.CapturedLogicStart{CallID: "s1"})
	e.CaptureLogicStarted(wire.CapturedLogicStart{CallID: "s2"})
	e.CaptureLogicCompleted(wire.CapturedLogicComplete{CallID: "c1"})
	e.CaptureLogicCompleted(wire.CapturedLogicComplete{CallID: "c2"})
	e.CaptureLogicFailed(wire.CapturedLogicFailed{CallID: "f1"})

	h := e.History()
	// The oldest start record goes first.
	require.Len(t, h.LogicStarted, 1)
	require.Equal(t, "s2", h.LogicStarted[0].CallID)
	require.Len(t, h.LogicCompleted, 2)
	require.Len(t, h.LogicFailed, 1)

	// Two more failures: the remaining start goes, then the oldest
	// completion. Failed events are evicted last.
	e.CaptureLogicFailed(wire.CapturedLogicFailed{CallID: "f2"})
	e.CaptureLogicFailed(wire.CapturedLogicFailed{CallID: "f3"})

	h = e.History()
	require.Empty(t, h.LogicStarted)
	require.Len(t, h.LogicCompleted, 1)
	require.Equal(t, "c2", h.LogicCompleted[0].CallID)
	require.Len(t, h.LogicFailed, 3)
}

func TestEngineInitialStateFirstWriterWins(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")

	e.CaptureInitialState(`{"Counter":{"count":0}}`)
	e.CaptureInitialState(`{"Counter":{"count":99}}`)
	require.Equal(t, `{"Counter":{"count":0}}`, e.InitialState())
}

func TestEngineClearKeepsSessionActive(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")
	e.CaptureAction(testAction(1))

	e.Clear()
	require.True(t, e.IsStarted())
	require.Empty(t, e.History().Actions)

	// Capture continues after Clear.
	e.CaptureAction(testAction(2))
	require.Len(t, e.History().Actions, 1)
}

func TestEngineStopDropsSubsequentCaptures(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")
	e.CaptureAction(testAction(1))

	e.Stop()
	require.False(t, e.IsStarted())
	e.CaptureAction(testAction(2))
	require.Empty(t, e.History().Actions)
}

func TestEngineHistoryIsDefensiveCopy(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")
	e.CaptureLogicStarted(wire.CapturedLogicStart{
		CallID: "c1",
		Params: map[string]string{"key": "value"},
	})

	h := e.History()
	h.LogicStarted[0].Params["key"] = "mutated"
	h.LogicStarted[0].CallID = "mutated"

	fresh := e.History()
	require.Equal(t, "c1", fresh.LogicStarted[0].CallID)
	require.Equal(t, "value", fresh.LogicStarted[0].Params["key"])
}

func TestEngineExport(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "My App", "ios")
	e.CaptureInitialState(`{"Counter":{"count":0}}`)
	e.CaptureAction(testAction(1))
	e.CaptureLogicStarted(wire.CapturedLogicStart{CallID: "call-1"})
	e.CaptureLogicCompleted(wire.CapturedLogicComplete{CallID: "call-1", ResultType: "Unit"})

	export := e.Export()
	require.Equal(t, wire.ExportVersion, export.Version)
	require.NotEmpty(t, export.SessionID)
	require.Equal(t, "client-1", export.ClientInfo.ClientID)
	require.Equal(t, "My App", export.ClientInfo.ClientName)
	require.Nil(t, export.Crash)
	require.Equal(t, `{"Counter":{"count":0}}`, export.Session.InitialStateJSON)
	require.Len(t, export.Session.Actions, 1)
	require.Equal(t, "call-1", export.Session.LogicStarted[0].CallID)
	require.Equal(t, "call-1", export.Session.LogicCompleted[0].CallID)
}

func TestEngineExportCrash(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	e.Start("client-1", "App", "android")

	cause := fmt.Errorf("load profile: %w", errors.New("connection refused"))
	export := e.ExportCrash(cause, []byte("stack trace here"))

	require.NotNil(t, export.Crash)
	require.Equal(t, "load profile: connection refused", export.Crash.Exception.Message)
	require.Equal(t, "stack trace here", export.Crash.Exception.StackTrace)
	require.NotNil(t, export.Crash.Exception.CausedBy)
	require.Equal(t, "connection refused", export.Crash.Exception.CausedBy.Message)
}

func TestEngineMirrorsToStorage(t *testing.T) {
	storage := NewMemoryStorage()
	e := NewEngine(Config{}, storage, nil)
	e.Start("client-1", "App", "android")

	e.CaptureAction(testAction(1))
	e.CaptureLogicStarted(wire.CapturedLogicStart{CallID: "c1"})

	n, err := storage.LineCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	e.Clear()
	n, err = storage.LineCount()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSessionEngineOpensStoragePerSession(t *testing.T) {
	opened := map[string]*MemoryStorage{}
	e := NewSessionEngine(Config{}, func(sessionID string) Storage {
		s := NewMemoryStorage()
		opened[sessionID] = s
		return s
	}, nil)

	e.Start("client-1", "App", "android")
	first := e.SessionID()
	e.CaptureAction(testAction(1))

	e.Start("client-1", "App", "android")
	second := e.SessionID()
	e.CaptureAction(testAction(2))
	e.CaptureAction(testAction(3))

	require.NotEqual(t, first, second)
	require.Len(t, opened, 2)

	// Each session wrote its own log; the restart did not touch the
	// first session's records.
	n, err := opened[first].LineCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = opened[second].LineCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
