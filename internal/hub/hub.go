// Package hub is the server-side arbiter for the device protocol: it owns
// the authoritative client registry, enforces the single-publisher
// invariant, relays publisher broadcasts, and hosts ghost devices.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// Sender delivers one message to a connected client. Implementations must
// be safe for concurrent use.
type Sender interface {
	Send(msg wire.Message) error
}

// Store abstracts ghost-session persistence for the hub.
type Store interface {
	SaveGhost(ctx context.Context, reg wire.GhostDeviceRegistration, export *wire.SessionExport) error
	ListGhosts(ctx context.Context) ([]wire.GhostDeviceRegistration, error)
	GetExport(ctx context.Context, sessionID string) (*wire.SessionExport, error)
	DeleteGhost(ctx context.Context, sessionID string) error
}

type entry struct {
	info wire.ClientInfo
	send Sender
}

type ghostEntry struct {
	reg    wire.GhostDeviceRegistration
	export *wire.SessionExport
}

// Hub tracks connected and ghost clients and fans out broadcasts.
type Hub struct {
	log   *zap.SugaredLogger
	store Store

	mu      sync.RWMutex
	clients map[string]*entry      // live clients by client id
	ghosts  map[string]*ghostEntry // ghosts by session id
}

// New creates a hub. store may be nil; ghosts are then in-memory only.
func New(store Store, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		log:     log,
		store:   store,
		clients: make(map[string]*entry),
		ghosts:  make(map[string]*ghostEntry),
	}
}

// Register adds a live client to the registry. Re-registering an id
// replaces the previous connection.
func (h *Hub) Register(info wire.ClientInfo, send Sender) {
	h.mu.Lock()
	info.Role = wire.RoleUnassigned
	info.ConnectedAt = time.Now().UnixMilli()
	info.IsGhost = false
	h.clients[info.ClientID] = &entry{info: info, send: send}
	h.mu.Unlock()

	h.log.Infof("client %s (%s) registered", info.ClientID, info.Platform)
	h.broadcastClientList()
}

// Unregister removes a live client, but only when send still owns the
// registry entry. A teardown from a connection that Register has since
// replaced must not remove the fresh registration. When the active publisher
// disconnects all clients are notified that no publisher remains.
func (h *Hub) Unregister(clientID string, send Sender) {
	h.mu.Lock()
	e, ok := h.clients[clientID]
	if ok && e.send != send {
		h.mu.Unlock()
		h.log.Debugf("ignoring unregister of %s from a replaced connection", clientID)
		return
	}
	wasPublisher := ok && e.info.Role == wire.RolePublisher
	delete(h.clients, clientID)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.log.Infof("client %s unregistered", clientID)
	if wasPublisher {
		h.broadcast(&wire.PublisherChanged{
			Timestamp:         time.Now().UnixMilli(),
			PublisherClientID: "",
		}, "")
	}
	h.broadcastClientList()
}

// AssignRole assigns a role to a live client. Assigning the publisher role
// atomically demotes any current publisher to listener before promoting the
// target, preserving at most one live publisher.
func (h *Hub) AssignRole(targetID string, role wire.Role, publisherID string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	h.mu.Lock()
	target, ok := h.clients[targetID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown client %q", targetID)
	}

	var demoted *entry
	if role == wire.RolePublisher {
		for id, e := range h.clients {
			if id != targetID && e.info.Role == wire.RolePublisher {
				e.info.Role = wire.RoleListener
				e.info.PublisherClientID = targetID
				demoted = e
				break
			}
		}
	}
	target.info.Role = role
	target.info.PublisherClientID = publisherID
	h.mu.Unlock()

	now := time.Now().UnixMilli()
	if demoted != nil {
		h.sendTo(demoted, &wire.RoleAssignment{
			ClientID:          demoted.info.ClientID,
			Timestamp:         now,
			Role:              wire.RoleListener,
			PublisherClientID: targetID,
		})
	}
	h.sendTo(target, &wire.RoleAssignment{
		ClientID:          targetID,
		Timestamp:         now,
		Role:              role,
		PublisherClientID: publisherID,
	})
	if role == wire.RolePublisher {
		h.broadcast(&wire.PublisherChanged{
			Timestamp:         now,
			PublisherClientID: targetID,
		}, "")
	}
	h.broadcastClientList()
	return nil
}

// HandleMessage processes one decoded message from a connected client.
func (h *Hub) HandleMessage(fromID string, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.RoleAck:
		h.log.Debugf("client %s acknowledged role %s", fromID, m.Role)

	case *wire.ActionDispatched, *wire.StateSync, *wire.LogicStarted,
		*wire.LogicCompleted, *wire.LogicFailed, *wire.SessionHistorySync:
		h.relayFromPublisher(fromID, msg)

	case *wire.CrashReport:
		// Crashes are relayed regardless of role.
		h.broadcastToObservers(msg, fromID)

	case *wire.GhostRegister:
		if _, err := h.RegisterGhost(context.Background(), &m.Export); err != nil {
			h.log.Warnf("ghost register from %s failed: %v", fromID, err)
		}

	case *wire.GhostRemove:
		if err := h.RemoveGhost(context.Background(), m.SessionID); err != nil {
			h.log.Warnf("ghost remove from %s failed: %v", fromID, err)
		}

	case *wire.PlaybackCommand:
		h.handlePlayback(fromID, m)

	default:
		h.log.Debugf("ignoring %s from %s", msg.MessageType(), fromID)
	}
}

// relayFromPublisher fans a publisher broadcast out to every listener and
// orchestrator. Broadcasts from anyone else are dropped.
func (h *Hub) relayFromPublisher(fromID string, msg wire.Message) {
	h.mu.RLock()
	from, ok := h.clients[fromID]
	isPublisher := ok && from.info.Role == wire.RolePublisher
	h.mu.RUnlock()

	if !isPublisher {
		h.log.Debugf("dropping %s from non-publisher %s", msg.MessageType(), fromID)
		return
	}
	h.broadcastToObservers(msg, fromID)
}

// handlePlayback routes an orchestrator command to its target: a ghost is
// replayed server-side, a live publisher receives the command directly.
func (h *Hub) handlePlayback(fromID string, m *wire.PlaybackCommand) {
	h.mu.RLock()
	from, ok := h.clients[fromID]
	isOrchestrator := ok && from.info.Role == wire.RoleOrchestrator
	h.mu.RUnlock()

	if !isOrchestrator {
		h.log.Debugf("dropping playback command from non-orchestrator %s", fromID)
		return
	}

	if sessionID, ok := h.ghostSession(m.TargetClientID); ok {
		if err := h.SeekGhost(sessionID, m.Index); err != nil {
			h.log.Warnf("ghost seek failed: %v", err)
		}
		return
	}

	h.mu.RLock()
	target, ok := h.clients[m.TargetClientID]
	h.mu.RUnlock()
	if !ok {
		h.log.Warnf("playback target %q not found", m.TargetClientID)
		return
	}
	h.sendTo(target, m)
}

// Clients returns a registry snapshot: live clients plus ghosts.
func (h *Hub) Clients() []wire.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]wire.ClientInfo, 0, len(h.clients)+len(h.ghosts))
	for _, e := range h.clients {
		out = append(out, e.info)
	}
	for _, g := range h.ghosts {
		out = append(out, ghostClientInfo(g.reg))
	}
	return out
}

func (h *Hub) broadcastClientList() {
	h.broadcast(&wire.ClientListUpdate{
		Timestamp: time.Now().UnixMilli(),
		Clients:   h.Clients(),
	}, "")
}

// broadcast sends to every live client except skipID.
func (h *Hub) broadcast(msg wire.Message, skipID string) {
	h.mu.RLock()
	targets := make([]*entry, 0, len(h.clients))
	for id, e := range h.clients {
		if id != skipID {
			targets = append(targets, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range targets {
		h.sendTo(e, msg)
	}
}

// broadcastToObservers sends to listeners and orchestrators only.
func (h *Hub) broadcastToObservers(msg wire.Message, skipID string) {
	h.mu.RLock()
	targets := make([]*entry, 0, len(h.clients))
	for id, e := range h.clients {
		if id == skipID {
			continue
		}
		if e.info.Role == wire.RoleListener || e.info.Role == wire.RoleOrchestrator {
			targets = append(targets, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range targets {
		h.sendTo(e, msg)
	}
}

// sendTo delivers best-effort; a failed send is logged, never propagated.
func (h *Hub) sendTo(e *entry, msg wire.Message) {
	if err := e.send.Send(msg); err != nil {
		h.log.Warnf("send %s to %s: %v", msg.MessageType(), e.info.ClientID, err)
	}
}
