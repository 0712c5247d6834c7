// Package sdk is the host application's integration point for session
// capture, crash capture, and live debugging over the device protocol.
//
// One Session wires a single shared capture engine into both the crash
// handler and the network client; the host feeds it through the middleware
// hooks in middleware.go.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/capture"
	"github.com/syrou/reaktiv-devtools/internal/crash"
	"github.com/syrou/reaktiv-devtools/internal/device"
	"github.com/syrou/reaktiv-devtools/internal/logging"
	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// Config configures a capture session.
type Config struct {
	// ServerURL is the hub websocket endpoint (ws://host:port/path).
	// Empty disables networking; capture still works locally.
	ServerURL string
	// ClientID identifies this instance; generated when empty.
	ClientID   string
	ClientName string
	Platform   string
	// CaptureDir holds the capture log and session exports. Defaults to
	// ~/.reaktiv/captures; an unusable directory falls back to in-memory
	// capture storage.
	CaptureDir string
	// MaxActions and MaxLogicEvents bound retention; zero uses defaults.
	MaxActions     int
	MaxLogicEvents int
	// ApplyState is the host's external-state-apply hook, used while this
	// client is a listener.
	ApplyState func(stateJSON string)
	Debug      bool
}

// Session is one recording session bound to a host application.
type Session struct {
	cfg    Config
	log    *zap.SugaredLogger
	engine *capture.Engine
	crash  *crash.Handler
	client *device.Client
}

// New starts a session: the engine begins recording immediately, the crash
// handler is installed, and a device client is prepared when a server URL
// is configured. Call Connect to go live.
func New(cfg Config) (*Session, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.ClientName == "" {
		cfg.ClientName = cfg.ClientID
	}
	if cfg.CaptureDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CaptureDir = filepath.Join(home, ".reaktiv", "captures")
		}
	}

	log := logging.New(cfg.Debug)

	engine := capture.NewSessionEngine(capture.Config{
		MaxActions:     cfg.MaxActions,
		MaxLogicEvents: cfg.MaxLogicEvents,
	}, func(sessionID string) capture.Storage {
		return capture.OpenStorage(cfg.CaptureDir, sessionID, log)
	}, log)
	engine.Start(cfg.ClientID, cfg.ClientName, cfg.Platform)

	handler := crash.NewHandler(engine, cfg.CaptureDir, log)
	handler.Install(nil)

	s := &Session{
		cfg:    cfg,
		log:    log,
		engine: engine,
		crash:  handler,
	}

	if cfg.ServerURL != "" {
		client, err := device.New(device.Options{
			URL:        cfg.ServerURL,
			ClientID:   cfg.ClientID,
			ClientName: cfg.ClientName,
			Platform:   cfg.Platform,
			Engine:     engine,
			ApplyState: cfg.ApplyState,
			Log:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("sdk: %w", err)
		}
		s.client = client
	}

	return s, nil
}

// Connect joins the hub and keeps the connection alive until ctx is
// cancelled. Blocks; run it on its own goroutine. Returns an error when no
// server URL is configured.
func (s *Session) Connect(ctx context.Context) error {
	if s.client == nil {
		return errors.New("sdk: no server URL configured")
	}
	defer s.crash.Guard()
	return s.client.Run(ctx)
}

// Role returns the hub-assigned connection role.
func (s *Session) Role() wire.Role {
	if s.client == nil {
		return wire.RoleUnassigned
	}
	return s.client.Role()
}

// Guard recovers a panic on the current goroutine through the crash
// handler. Use as `defer session.Guard()` at goroutine entry.
func (s *Session) Guard() {
	s.crash.Guard()
}

// History returns an immutable snapshot of everything captured so far.
func (s *Session) History() wire.SessionHistory {
	return s.engine.History()
}

// Export serializes the session to the portable export format.
func (s *Session) Export() *wire.SessionExport {
	return s.engine.Export()
}

// SaveSession writes a manual export next to the crash artifacts and
// returns its path.
func (s *Session) SaveSession() (string, error) {
	return s.crash.SaveSession()
}

// Clear empties the capture buffers; recording continues.
func (s *Session) Clear() {
	s.engine.Clear()
}

// Close stops recording and disconnects from the hub.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	s.engine.Stop()
}
