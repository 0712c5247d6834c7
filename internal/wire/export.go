package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ExportVersion is the current session export schema version.
const ExportVersion = "2.0"

// SessionExport is the durable/transmissible unit for a recorded session.
// It is written as a crash artifact, downloaded for manual export, and
// uploaded to register ghost devices.
type SessionExport struct {
	Version    string      `json:"version"`
	SessionID  string      `json:"sessionId"`
	ExportedAt int64       `json:"exportedAt"`
	ClientInfo ClientInfo  `json:"clientInfo"`
	Crash      *CrashInfo  `json:"crash,omitempty"`
	Session    SessionData `json:"session"`
}

// SessionData carries the recorded event lists plus the one-time baseline
// snapshot the session started from.
type SessionData struct {
	StartTime        int64                   `json:"startTime"`
	EndTime          int64                   `json:"endTime"`
	InitialStateJSON string                  `json:"initialStateJson"`
	Actions          []CapturedAction        `json:"actions"`
	LogicStarted     []CapturedLogicStart    `json:"logicStartedEvents"`
	LogicCompleted   []CapturedLogicComplete `json:"logicCompletedEvents"`
	LogicFailed      []CapturedLogicFailed   `json:"logicFailedEvents"`
}

// CrashInfo is the crash block attached to exports produced by the crash
// capture path.
type CrashInfo struct {
	Timestamp int64          `json:"timestamp"`
	Exception CrashException `json:"exception"`
}

// CrashException mirrors a language-level exception with its cause chain.
// CausedBy is serialized recursively.
type CrashException struct {
	ExceptionType string          `json:"exceptionType"`
	Message       string          `json:"message,omitempty"`
	StackTrace    string          `json:"stackTrace"`
	CausedBy      *CrashException `json:"causedBy,omitempty"`
}

// ExceptionFromError builds a CrashException from err, unwinding the wrap
// chain into CausedBy links. The stack trace is attached to the outermost
// entry only; Go errors do not carry per-frame traces.
func ExceptionFromError(err error, stack []byte) CrashException {
	exc := CrashException{
		ExceptionType: fmt.Sprintf("%T", err),
		Message:       err.Error(),
		StackTrace:    string(stack),
	}
	cur := &exc
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		next := &CrashException{
			ExceptionType: fmt.Sprintf("%T", cause),
			Message:       cause.Error(),
		}
		cur.CausedBy = next
		cur = next
	}
	return exc
}

// Marshal serializes the export as indented JSON suitable for crash
// artifacts and manual downloads.
func (e *SessionExport) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// ParseSessionExport decodes a session export document. Unknown keys are
// ignored for forward compatibility; only identity fields are validated.
func ParseSessionExport(data []byte) (*SessionExport, error) {
	var export SessionExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse session export: %w", err)
	}
	if export.Version == "" {
		return nil, fmt.Errorf("session export missing version")
	}
	if export.SessionID == "" {
		return nil, fmt.Errorf("session export missing sessionId")
	}
	return &export, nil
}
