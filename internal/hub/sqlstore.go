package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// SQLStore implements Store on the ghost_sessions table.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) SaveGhost(ctx context.Context, reg wire.GhostDeviceRegistration, export *wire.SessionExport) error {
	exportJSON, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("marshal ghost export: %w", err)
	}
	var crashJSON sql.NullString
	if reg.CrashException != nil {
		raw, err := json.Marshal(reg.CrashException)
		if err != nil {
			return fmt.Errorf("marshal ghost crash exception: %w", err)
		}
		crashJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO ghost_sessions (
			session_id, client_id, client_name, platform,
			start_time, end_time, event_count, logic_event_count,
			crash_exception, export
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			export = excluded.export,
			event_count = excluded.event_count,
			logic_event_count = excluded.logic_event_count,
			crash_exception = excluded.crash_exception
	`,
		reg.SessionID,
		reg.OriginalClientInfo.ClientID,
		reg.OriginalClientInfo.ClientName,
		reg.OriginalClientInfo.Platform,
		reg.SessionStartTime,
		reg.SessionEndTime,
		reg.EventCount,
		reg.LogicEventCount,
		crashJSON,
		string(exportJSON),
	)
	if err != nil {
		return fmt.Errorf("insert ghost session: %w", err)
	}
	return nil
}

func (s *SQLStore) ListGhosts(ctx context.Context) ([]wire.GhostDeviceRegistration, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, client_id, client_name, platform,
			start_time, end_time, event_count, logic_event_count, crash_exception
		FROM ghost_sessions
		ORDER BY start_time
	`)
	if err != nil {
		return nil, fmt.Errorf("query ghost sessions: %w", err)
	}
	defer rows.Close()

	var regs []wire.GhostDeviceRegistration
	for rows.Next() {
		var reg wire.GhostDeviceRegistration
		var crashJSON sql.NullString
		if err := rows.Scan(
			&reg.SessionID,
			&reg.OriginalClientInfo.ClientID,
			&reg.OriginalClientInfo.ClientName,
			&reg.OriginalClientInfo.Platform,
			&reg.SessionStartTime,
			&reg.SessionEndTime,
			&reg.EventCount,
			&reg.LogicEventCount,
			&crashJSON,
		); err != nil {
			return nil, fmt.Errorf("scan ghost session: %w", err)
		}
		if crashJSON.Valid {
			var exc wire.CrashException
			if err := json.Unmarshal([]byte(crashJSON.String), &exc); err == nil {
				reg.CrashException = &exc
			}
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (s *SQLStore) GetExport(ctx context.Context, sessionID string) (*wire.SessionExport, error) {
	var exportJSON string
	err := s.DB.QueryRowContext(ctx,
		"SELECT export FROM ghost_sessions WHERE session_id = ?", sessionID,
	).Scan(&exportJSON)
	if err != nil {
		return nil, fmt.Errorf("load ghost export: %w", err)
	}
	return wire.ParseSessionExport([]byte(exportJSON))
}

func (s *SQLStore) DeleteGhost(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx,
		"DELETE FROM ghost_sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("delete ghost session: %w", err)
	}
	return nil
}
