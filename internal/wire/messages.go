package wire

import (
	"encoding/json"
	"fmt"
)

// Device protocol message discriminants. Every wire message is a JSON
// object with a "type" field holding one of these values.
const (
	TypeRegister           = "register"
	TypeRoleAssignment     = "role-assignment"
	TypeRoleAck            = "role-ack"
	TypeActionDispatched   = "action-dispatched"
	TypeStateSync          = "state-sync"
	TypeClientListUpdate   = "client-list-update"
	TypeLogicStarted       = "logic-started"
	TypeLogicCompleted     = "logic-completed"
	TypeLogicFailed        = "logic-failed"
	TypeCrashReport        = "crash-report"
	TypeGhostRegister      = "ghost-register"
	TypeGhostRemove        = "ghost-remove"
	TypePublisherChanged   = "publisher-changed"
	TypeSessionHistorySync = "session-history-sync"
	TypePlaybackCommand    = "playback-command"
)

// Message is one device protocol message. The concrete type is selected by
// the wire discriminant.
type Message interface {
	MessageType() string
}

// Register announces a client to the hub. It must be the first message on a
// connection.
type Register struct {
	ClientID   string `json:"clientId"`
	Timestamp  int64  `json:"timestamp"`
	ClientName string `json:"clientName"`
	Platform   string `json:"platform"`
}

// RoleAssignment assigns a role to the client identified by ClientID.
// Clients whose id does not match must ignore it.
type RoleAssignment struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	Role      Role   `json:"role"`
	// PublisherClientID points a listener at the publisher or ghost it
	// should mirror.
	PublisherClientID string `json:"publisherClientId,omitempty"`
}

// RoleAck acknowledges an applied role assignment back to the hub.
type RoleAck struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	Role      Role   `json:"role"`
}

// ActionDispatched broadcasts one captured action from the publisher.
type ActionDispatched struct {
	ClientID  string         `json:"clientId"`
	Timestamp int64          `json:"timestamp"`
	Action    CapturedAction `json:"action"`
}

// StateSync broadcasts the publisher's (or a replayed ghost's) full state.
type StateSync struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	StateJSON string `json:"stateJson"`
}

// ClientListUpdate carries the authoritative client registry snapshot.
type ClientListUpdate struct {
	ClientID  string       `json:"clientId"`
	Timestamp int64        `json:"timestamp"`
	Clients   []ClientInfo `json:"clients"`
}

// LogicStarted relays a logic-start trace event.
type LogicStarted struct {
	ClientID  string             `json:"clientId"`
	Timestamp int64              `json:"timestamp"`
	Event     CapturedLogicStart `json:"event"`
}

// LogicCompleted relays a logic-complete trace event.
type LogicCompleted struct {
	ClientID  string                `json:"clientId"`
	Timestamp int64                 `json:"timestamp"`
	Event     CapturedLogicComplete `json:"event"`
}

// LogicFailed relays a logic-failed trace event.
type LogicFailed struct {
	ClientID  string              `json:"clientId"`
	Timestamp int64               `json:"timestamp"`
	Event     CapturedLogicFailed `json:"event"`
}

// CrashReport relays a crash observed on a live client.
type CrashReport struct {
	ClientID  string    `json:"clientId"`
	Timestamp int64     `json:"timestamp"`
	Crash     CrashInfo `json:"crash"`
}

// GhostRegister registers an imported session export as a ghost device.
type GhostRegister struct {
	ClientID  string        `json:"clientId"`
	Timestamp int64         `json:"timestamp"`
	Export    SessionExport `json:"export"`
}

// GhostRemove unregisters a ghost device by its session id.
type GhostRemove struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
}

// PublisherChanged notifies all clients that the active publisher changed.
// PublisherClientID is empty when no publisher remains.
type PublisherChanged struct {
	ClientID          string `json:"clientId"`
	Timestamp         int64  `json:"timestamp"`
	PublisherClientID string `json:"publisherClientId"`
}

// SessionHistorySync is the one-shot bulk replay a freshly promoted
// publisher sends so late-joining orchestrators can reconstruct history.
type SessionHistorySync struct {
	ClientID         string                  `json:"clientId"`
	Timestamp        int64                   `json:"timestamp"`
	StartTime        int64                   `json:"startTime"`
	InitialStateJSON string                  `json:"initialStateJson"`
	Actions          []CapturedAction        `json:"actions"`
	LogicStarted     []CapturedLogicStart    `json:"logicStartedEvents"`
	LogicCompleted   []CapturedLogicComplete `json:"logicCompletedEvents"`
	LogicFailed      []CapturedLogicFailed   `json:"logicFailedEvents"`
}

// PlaybackCommand is an orchestrator command targeting a ghost or the live
// publisher. Index is the scrub position in the target's action timeline.
type PlaybackCommand struct {
	ClientID       string `json:"clientId"`
	Timestamp      int64  `json:"timestamp"`
	TargetClientID string `json:"targetClientId"`
	Index          int    `json:"index"`
}

func (*Register) MessageType() string           { return TypeRegister }
func (*RoleAssignment) MessageType() string     { return TypeRoleAssignment }
func (*RoleAck) MessageType() string            { return TypeRoleAck }
func (*ActionDispatched) MessageType() string   { return TypeActionDispatched }
func (*StateSync) MessageType() string          { return TypeStateSync }
func (*ClientListUpdate) MessageType() string   { return TypeClientListUpdate }
func (*LogicStarted) MessageType() string       { return TypeLogicStarted }
func (*LogicCompleted) MessageType() string     { return TypeLogicCompleted }
func (*LogicFailed) MessageType() string        { return TypeLogicFailed }
func (*CrashReport) MessageType() string        { return TypeCrashReport }
func (*GhostRegister) MessageType() string      { return TypeGhostRegister }
func (*GhostRemove) MessageType() string        { return TypeGhostRemove }
func (*PublisherChanged) MessageType() string   { return TypePublisherChanged }
func (*SessionHistorySync) MessageType() string { return TypeSessionHistorySync }
func (*PlaybackCommand) MessageType() string    { return TypePlaybackCommand }

// Encode serializes a message and injects the wire discriminant.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	typ, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	obj["type"] = typ
	return json.Marshal(obj)
}

// Decode parses one wire message by its discriminant. Unknown discriminants
// are an error; callers log and drop them.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case TypeRegister:
		m = &Register{}
	case TypeRoleAssignment:
		m = &RoleAssignment{}
	case TypeRoleAck:
		m = &RoleAck{}
	case TypeActionDispatched:
		m = &ActionDispatched{}
	case TypeStateSync:
		m = &StateSync{}
	case TypeClientListUpdate:
		m = &ClientListUpdate{}
	case TypeLogicStarted:
		m = &LogicStarted{}
	case TypeLogicCompleted:
		m = &LogicCompleted{}
	case TypeLogicFailed:
		m = &LogicFailed{}
	case TypeCrashReport:
		m = &CrashReport{}
	case TypeGhostRegister:
		m = &GhostRegister{}
	case TypeGhostRemove:
		m = &GhostRemove{}
	case TypePublisherChanged:
		m = &PublisherChanged{}
	case TypeSessionHistorySync:
		m = &SessionHistorySync{}
	case TypePlaybackCommand:
		m = &PlaybackCommand{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return m, nil
}
