package wire

// CapturedAction is one dispatched action together with the state delta it
// produced. The delta is the full new state of exactly one named module,
// serialized as JSON.
type CapturedAction struct {
	// ClientID identifies the instance that dispatched the action.
	ClientID string `json:"clientId"`
	// Timestamp is a wall-clock timestamp in ms since epoch.
	Timestamp int64 `json:"timestamp"`
	// ActionType is the dispatched action's type tag.
	ActionType string `json:"actionType"`
	// ActionData is a string representation of the action payload.
	ActionData string `json:"actionData"`
	// StateDeltaJSON is the new state of ModuleName after the action.
	StateDeltaJSON string `json:"stateDeltaJson"`
	// ModuleName is the state module the delta belongs to.
	ModuleName string `json:"moduleName"`
}

// CapturedLogicStart records the start of an instrumented logic method call.
// Start/Complete/Failed records are correlated by CallID; pairing is the
// instrumentation's responsibility, not enforced here.
type CapturedLogicStart struct {
	ClientID        string            `json:"clientId"`
	Timestamp       int64             `json:"timestamp"`
	CallID          string            `json:"callId"`
	LogicClass      string            `json:"logicClass"`
	MethodName      string            `json:"methodName"`
	Params          map[string]string `json:"params,omitempty"`
	SourceFile      string            `json:"sourceFile,omitempty"`
	LineNumber      int               `json:"lineNumber,omitempty"`
	GithubSourceURL string            `json:"githubSourceUrl,omitempty"`
}

// CapturedLogicComplete records a successful logic method completion.
type CapturedLogicComplete struct {
	CallID     string `json:"callId"`
	Result     string `json:"result,omitempty"`
	ResultType string `json:"resultType"`
	DurationMs int64  `json:"durationMs"`
}

// CapturedLogicFailed records a failed logic method call.
type CapturedLogicFailed struct {
	CallID           string `json:"callId"`
	ExceptionType    string `json:"exceptionType"`
	ExceptionMessage string `json:"exceptionMessage,omitempty"`
	StackTrace       string `json:"stackTrace,omitempty"`
	DurationMs       int64  `json:"durationMs"`
}

// SessionHistory is an immutable snapshot of everything captured so far.
// It never aliases the engine's live buffers.
type SessionHistory struct {
	StartTime      int64                   `json:"startTime"`
	Actions        []CapturedAction        `json:"actions"`
	LogicStarted   []CapturedLogicStart    `json:"logicStarted"`
	LogicCompleted []CapturedLogicComplete `json:"logicCompleted"`
	LogicFailed    []CapturedLogicFailed   `json:"logicFailed"`
}

// Role is a connection role on the device protocol. At most one non-ghost
// client holds RolePublisher at any time; the hub enforces this.
type Role string

const (
	RoleUnassigned   Role = "UNASSIGNED"
	RolePublisher    Role = "PUBLISHER"
	RoleListener     Role = "LISTENER"
	RoleOrchestrator Role = "ORCHESTRATOR"
)

// Valid reports whether r is one of the four wire roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUnassigned, RolePublisher, RoleListener, RoleOrchestrator:
		return true
	}
	return false
}

// ClientInfo describes a connected (or ghost) client. The export format
// embeds the identity triple only; the registry fields are omitted when
// unset.
type ClientInfo struct {
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	Platform   string `json:"platform"`
	// Role is the hub-assigned connection role.
	Role Role `json:"role,omitempty"`
	// PublisherClientID is the publisher (or ghost) this client is attached
	// to, when it is a listener.
	PublisherClientID string `json:"publisherClientId,omitempty"`
	// ConnectedAt is a wall-clock timestamp in ms since epoch.
	ConnectedAt int64 `json:"connectedAt,omitempty"`
	// IsGhost marks an imported, non-live replayable session.
	IsGhost bool `json:"isGhost,omitempty"`
}

// GhostDeviceRegistration summarizes an imported session registered as a
// virtual, replay-only client.
type GhostDeviceRegistration struct {
	SessionID          string          `json:"sessionId"`
	OriginalClientInfo ClientInfo      `json:"originalClientInfo"`
	CrashException     *CrashException `json:"crashException,omitempty"`
	EventCount         int             `json:"eventCount"`
	LogicEventCount    int             `json:"logicEventCount"`
	SessionStartTime   int64           `json:"sessionStartTime"`
	SessionEndTime     int64           `json:"sessionEndTime"`
}
