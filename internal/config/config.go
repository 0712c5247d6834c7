package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds hub server configuration.
type Config struct {
	// Addr is the listen address for the HTTP/WebSocket server.
	Addr string
	// DatabasePath is the sqlite file holding imported ghost sessions.
	DatabasePath string
	// CaptureDir is the directory for capture logs and session exports.
	CaptureDir string
	// MaxActions bounds the per-session action buffer.
	MaxActions int
	// MaxLogicEvents is the combined logic-event budget.
	MaxLogicEvents int
	Debug          bool
	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr           *string
	DatabasePath   *string
	CaptureDir     *string
	MaxActions     *int
	MaxLogicEvents *int
	Debug          *bool
}

// Load loads configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := 9700
	if portStr := os.Getenv("REAKTIV_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid REAKTIV_PORT %q: %w", portStr, err)
		}
		port = p
	}

	addr := fmt.Sprintf(":%d", port)
	if v := os.Getenv("REAKTIV_ADDR"); v != "" {
		addr = v
	}
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := os.Getenv("REAKTIV_DB_PATH")
	if dbPath == "" {
		dbPath = "./reaktiv-devtools.db"
	}
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	captureDir := os.Getenv("REAKTIV_CAPTURE_DIR")
	if captureDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			captureDir = filepath.Join(home, ".reaktiv", "captures")
		} else {
			captureDir = "./captures"
		}
	}
	if overrides.CaptureDir != nil {
		captureDir = *overrides.CaptureDir
	}

	maxActions, err := intEnv("REAKTIV_MAX_ACTIONS", 1000)
	if err != nil {
		return nil, err
	}
	if overrides.MaxActions != nil {
		maxActions = *overrides.MaxActions
	}

	maxLogicEvents, err := intEnv("REAKTIV_MAX_LOGIC_EVENTS", 3000)
	if err != nil {
		return nil, err
	}
	if overrides.MaxLogicEvents != nil {
		maxLogicEvents = *overrides.MaxLogicEvents
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	return &Config{
		Addr:           addr,
		DatabasePath:   dbPath,
		CaptureDir:     captureDir,
		MaxActions:     maxActions,
		MaxLogicEvents: maxLogicEvents,
		Debug:          debug,
		// Observer UIs are local tools; allow any origin.
		AllowedOrigins: []string{"*"},
	}, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return v, nil
}
