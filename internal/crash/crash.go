// Package crash persists the current capture session when the host
// application panics. Capture is secondary to not masking the crash: the
// previously installed handler always runs, even when export fails.
package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// SessionExporter is the slice of the capture engine the handler needs.
type SessionExporter interface {
	Export() *wire.SessionExport
	ExportCrash(cause error, stack []byte) *wire.SessionExport
}

// Handler captures crash exports. It is an explicit, injected instance
// rather than ambient global state so tests can construct isolated ones;
// one shared handler is wired per process by the SDK.
type Handler struct {
	engine SessionExporter
	dir    string
	log    *zap.SugaredLogger

	mu        sync.Mutex
	installed bool
	// prev is the previously installed handler, invoked after capture.
	// The default re-panics so the runtime's normal crash behavior is
	// preserved.
	prev func(v any)
}

// NewHandler creates a handler writing crash artifacts into dir.
func NewHandler(engine SessionExporter, dir string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		engine: engine,
		dir:    dir,
		log:    log,
		prev:   func(v any) { panic(v) },
	}
}

// Install arms the handler, chaining any previously installed handler.
// Installing twice is a no-op; the first prev reference is kept.
func (h *Handler) Install(prev func(v any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed {
		return
	}
	h.installed = true
	if prev != nil {
		h.prev = prev
	}
}

// Installed reports whether the handler is armed.
func (h *Handler) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed
}

// Guard recovers a panic on the current goroutine and routes it through
// HandlePanic. Use as `defer handler.Guard()` at goroutine entry.
func (h *Handler) Guard() {
	if v := recover(); v != nil {
		h.HandlePanic(v)
	}
}

// HandlePanic exports the current session enriched with the panic value and
// persists it, then always forwards to the previous handler. A failure in
// the capture step itself is caught and logged.
func (h *Handler) HandlePanic(v any) {
	if h.Installed() {
		h.capture(v)
	}

	h.mu.Lock()
	prev := h.prev
	h.mu.Unlock()
	prev(v)
}

func (h *Handler) capture(v any) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("crash capture failed: %v", r)
		}
	}()

	export := h.engine.ExportCrash(toError(v), debug.Stack())
	path, err := h.persist(export, crashFilename(time.Now().UnixMilli()))
	if err != nil {
		h.log.Errorf("persist crash export: %v", err)
		return
	}
	h.log.Infof("crash session saved to %s", path)
}

// SaveSession persists a manual (non-crash) export of the current session
// using the same persistence routine.
func (h *Handler) SaveSession() (string, error) {
	export := h.engine.Export()
	return h.persist(export, sessionFilename(time.Now().UnixMilli()))
}

func (h *Handler) persist(export *wire.SessionExport, name string) (string, error) {
	data, err := export.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal session export: %w", err)
	}
	if err := os.MkdirAll(h.dir, 0o700); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write session export: %w", err)
	}
	return path, nil
}

func crashFilename(nowMs int64) string {
	return fmt.Sprintf("reaktiv_crash_%d.json", nowMs)
}

func sessionFilename(nowMs int64) string {
	return fmt.Sprintf("reaktiv_session_%d.json", nowMs)
}

// toError normalizes an arbitrary panic value into an error for the crash
// exception chain.
func toError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
