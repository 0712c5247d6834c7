package capture

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// Default retention caps. Retention bounds memory on long-running sessions;
// the numbers are generous enough for a debugging timeline.
const (
	DefaultMaxActions     = 1000
	DefaultMaxLogicEvents = 3000
)

// Config bounds the engine's buffers. Zero values use the defaults.
type Config struct {
	// MaxActions bounds the action buffer, oldest evicted first.
	MaxActions int
	// MaxLogicEvents is a combined budget across the started, completed
	// and failed buffers.
	MaxLogicEvents int
}

func (c Config) withDefaults() Config {
	if c.MaxActions <= 0 {
		c.MaxActions = DefaultMaxActions
	}
	if c.MaxLogicEvents <= 0 {
		c.MaxLogicEvents = DefaultMaxLogicEvents
	}
	return c
}

// StorageOpener returns the storage backend for a newly started session,
// keyed by its generated session id.
type StorageOpener func(sessionID string) Storage

// Engine owns the current recording session: identity, typed event buffers,
// retention, and export. One instance is shared between the dispatch
// middleware and the crash handler; a single mutex covers both paths.
type Engine struct {
	cfg     Config
	log     *zap.SugaredLogger
	open    StorageOpener
	storage Storage

	mu               sync.Mutex
	started          bool
	sessionID        string
	client           wire.ClientInfo
	startTime        int64
	initialStateJSON string
	initialCaptured  bool

	actions        []wire.CapturedAction
	logicStarted   []wire.CapturedLogicStart
	logicCompleted []wire.CapturedLogicComplete
	logicFailed    []wire.CapturedLogicFailed

	appendsSinceTrim int
}

// NewEngine creates an engine over a fixed storage backend shared by every
// session. storage may be nil, in which case events are buffered in memory
// only.
func NewEngine(cfg Config, storage Storage, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		log:     log,
		storage: storage,
	}
}

// NewSessionEngine creates an engine that opens a fresh storage backend at
// every Start, so each session writes its own log. Prior session logs are
// left in place.
func NewSessionEngine(cfg Config, open StorageOpener, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:  cfg.withDefaults(),
		log:  log,
		open: open,
	}
}

// Start begins a new recording session, resetting all buffers. Restarting
// an active session clears prior data.
func (e *Engine) Start(clientID, clientName, platform string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked()
	e.started = true
	e.sessionID = uuid.NewString()
	e.startTime = time.Now().UnixMilli()
	e.client = wire.ClientInfo{
		ClientID:   clientID,
		ClientName: clientName,
		Platform:   platform,
	}
	if e.open != nil {
		e.storage = e.open(e.sessionID)
	}
	if e.storage != nil {
		if err := e.storage.Clear(); err != nil {
			e.log.Warnf("clear capture storage: %v", err)
		}
	}
	e.log.Infof("capture session %s started for %s (%s)", e.sessionID, clientID, platform)
}

// IsStarted reports whether a session is active.
func (e *Engine) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// SessionID returns the active session id, or "" before Start.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Client returns the session's client identity.
func (e *Engine) Client() wire.ClientInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// CaptureInitialState records the one-time baseline snapshot. Once captured
// the first value wins; later calls are ignored.
func (e *Engine) CaptureInitialState(stateJSON string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.initialCaptured {
		return
	}
	e.initialStateJSON = stateJSON
	e.initialCaptured = true
}

// InitialState returns the baseline snapshot, or "" when none was captured.
func (e *Engine) InitialState() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialStateJSON
}

// CaptureAction appends a dispatched action. A no-op when no session is
// active.
func (e *Engine) CaptureAction(a wire.CapturedAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.actions = append(e.actions, a)
	for len(e.actions) > e.cfg.MaxActions {
		e.actions = e.actions[1:]
	}
	e.mirrorLocked("action", a)
}

// CaptureLogicStarted appends a logic-start event.
func (e *Engine) CaptureLogicStarted(ev wire.CapturedLogicStart) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.logicStarted = append(e.logicStarted, ev)
	e.evictLogicLocked()
	e.mirrorLocked("logic-started", ev)
}

// CaptureLogicCompleted appends a logic-complete event.
func (e *Engine) CaptureLogicCompleted(ev wire.CapturedLogicComplete) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.logicCompleted = append(e.logicCompleted, ev)
	e.evictLogicLocked()
	e.mirrorLocked("logic-completed", ev)
}

// CaptureLogicFailed appends a logic-failed event.
func (e *Engine) CaptureLogicFailed(ev wire.CapturedLogicFailed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.logicFailed = append(e.logicFailed, ev)
	e.evictLogicLocked()
	e.mirrorLocked("logic-failed", ev)
}

// evictLogicLocked enforces the combined logic-event budget. Eviction
// drains the started buffer first, then completed, then failed, oldest
// element of each in turn. Start records are the least valuable once their
// matching completion or failure is retained.
func (e *Engine) evictLogicLocked() {
	total := len(e.logicStarted) + len(e.logicCompleted) + len(e.logicFailed)
	for total > e.cfg.MaxLogicEvents {
		switch {
		case len(e.logicStarted) > 0:
			e.logicStarted = e.logicStarted[1:]
		case len(e.logicCompleted) > 0:
			e.logicCompleted = e.logicCompleted[1:]
		default:
			e.logicFailed = e.logicFailed[1:]
		}
		total--
	}
}

// storageRecord is the JSONL shape mirrored to the storage backend.
type storageRecord struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Event     any    `json:"event"`
}

// mirrorLocked appends the event to durable storage. Failures are logged
// only; durability is best-effort and must never fail a capture call.
func (e *Engine) mirrorLocked(kind string, event any) {
	if e.storage == nil {
		return
	}
	raw, err := json.Marshal(storageRecord{
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		Event:     event,
	})
	if err != nil {
		e.log.Warnf("marshal %s storage record: %v", kind, err)
		return
	}
	if err := e.storage.AppendLine(string(raw)); err != nil {
		e.log.Warnf("append %s storage record: %v", kind, err)
		return
	}
	budget := e.cfg.MaxActions + e.cfg.MaxLogicEvents
	e.appendsSinceTrim++
	if e.appendsSinceTrim >= budget {
		e.appendsSinceTrim = 0
		if err := e.storage.TrimTo(budget); err != nil {
			e.log.Warnf("trim capture storage: %v", err)
		}
	}
}

// History returns an immutable snapshot of the buffers, safe to iterate
// while capture continues in the background.
func (e *Engine) History() wire.SessionHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wire.SessionHistory{
		StartTime:      e.startTime,
		Actions:        copyActions(e.actions),
		LogicStarted:   copyLogicStarts(e.logicStarted),
		LogicCompleted: append([]wire.CapturedLogicComplete(nil), e.logicCompleted...),
		LogicFailed:    append([]wire.CapturedLogicFailed(nil), e.logicFailed...),
	}
}

// Export serializes the session to the versioned export format.
func (e *Engine) Export() *wire.SessionExport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exportLocked(nil)
}

// ExportCrash serializes the session with a crash block derived from the
// error's full cause chain.
func (e *Engine) ExportCrash(cause error, stack []byte) *wire.SessionExport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exportLocked(&wire.CrashInfo{
		Timestamp: time.Now().UnixMilli(),
		Exception: wire.ExceptionFromError(cause, stack),
	})
}

func (e *Engine) exportLocked(crash *wire.CrashInfo) *wire.SessionExport {
	return &wire.SessionExport{
		Version:    wire.ExportVersion,
		SessionID:  e.sessionID,
		ExportedAt: time.Now().UnixMilli(),
		ClientInfo: e.client,
		Crash:      crash,
		Session: wire.SessionData{
			StartTime:        e.startTime,
			EndTime:          time.Now().UnixMilli(),
			InitialStateJSON: e.initialStateJSON,
			Actions:          copyActions(e.actions),
			LogicStarted:     copyLogicStarts(e.logicStarted),
			LogicCompleted:   append([]wire.CapturedLogicComplete(nil), e.logicCompleted...),
			LogicFailed:      append([]wire.CapturedLogicFailed(nil), e.logicFailed...),
		},
	}
}

// Clear empties all buffers but keeps the session active.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearBuffersLocked()
	if e.storage != nil {
		if err := e.storage.Clear(); err != nil {
			e.log.Warnf("clear capture storage: %v", err)
		}
	}
}

// Stop clears all buffers and deactivates the session. Subsequent captures
// are dropped until Start is called again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.log.Infof("capture session stopped")
}

func (e *Engine) resetLocked() {
	e.clearBuffersLocked()
	e.started = false
	e.sessionID = ""
	e.client = wire.ClientInfo{}
	e.startTime = 0
	e.initialStateJSON = ""
	e.initialCaptured = false
}

func (e *Engine) clearBuffersLocked() {
	e.actions = nil
	e.logicStarted = nil
	e.logicCompleted = nil
	e.logicFailed = nil
	e.appendsSinceTrim = 0
}

func copyActions(in []wire.CapturedAction) []wire.CapturedAction {
	return append([]wire.CapturedAction(nil), in...)
}

// copyLogicStarts deep-copies the start events including their param maps.
func copyLogicStarts(in []wire.CapturedLogicStart) []wire.CapturedLogicStart {
	out := append([]wire.CapturedLogicStart(nil), in...)
	for i := range out {
		if out[i].Params != nil {
			params := make(map[string]string, len(out[i].Params))
			for k, v := range out[i].Params {
				params[k] = v
			}
			out[i].Params = params
		}
	}
	return out
}
