package device

import (
	"time"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// handleMessage runs the per-client role state machine over one incoming
// message. Transitions happen only on a RoleAssignment whose target matches
// the local client id, and re-delivery of the same assignment is
// idempotent.
func (c *Client) handleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.RoleAssignment:
		if m.ClientID != c.opts.ClientID {
			return
		}
		c.applyAssignment(m)

	case *wire.StateSync:
		// Only listeners mirror incoming state; every other role applies
		// events locally only.
		if c.Role() != wire.RoleListener {
			return
		}
		if c.opts.ApplyState != nil {
			c.opts.ApplyState(m.StateJSON)
		}

	case *wire.ClientListUpdate:
		if c.opts.OnClientList != nil {
			c.opts.OnClientList(m.Clients)
		}

	case *wire.PublisherChanged:
		c.log.Debugf("publisher changed to %q", m.PublisherClientID)

	default:
		c.log.Debugf("ignoring %s", msg.MessageType())
	}
}

// applyAssignment applies a role assignment, acknowledges it, and on a
// transition into publisher sends the one-shot session-history bulk sync so
// a freshly connected orchestrator can reconstruct history it never
// observed live.
func (c *Client) applyAssignment(m *wire.RoleAssignment) {
	if !m.Role.Valid() {
		c.log.Warnf("ignoring assignment with invalid role %q", m.Role)
		return
	}

	c.mu.Lock()
	prev := c.role
	c.role = m.Role
	c.publisherID = m.PublisherClientID
	c.mu.Unlock()

	c.Enqueue(&wire.RoleAck{
		ClientID:  c.opts.ClientID,
		Timestamp: time.Now().UnixMilli(),
		Role:      m.Role,
	})

	if m.Role == wire.RolePublisher && prev != wire.RolePublisher {
		c.sendHistorySync()
	}
}

func (c *Client) sendHistorySync() {
	h := c.opts.Engine.History()
	c.Enqueue(&wire.SessionHistorySync{
		ClientID:         c.opts.ClientID,
		Timestamp:        time.Now().UnixMilli(),
		StartTime:        h.StartTime,
		InitialStateJSON: c.opts.Engine.InitialState(),
		Actions:          h.Actions,
		LogicStarted:     h.LogicStarted,
		LogicCompleted:   h.LogicCompleted,
		LogicFailed:      h.LogicFailed,
	})
}
