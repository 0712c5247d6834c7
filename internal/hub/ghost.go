package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syrou/reaktiv-devtools/internal/replay"
	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// ghostIDPrefix namespaces ghost client ids so they cannot collide with
// live clients.
const ghostIDPrefix = "ghost-"

// GhostClientID returns the registry client id for a ghost session.
func GhostClientID(sessionID string) string {
	return ghostIDPrefix + sessionID
}

// RegisterGhost imports a previously exported session as a virtual,
// replay-only client. The export is persisted when a store is configured,
// so ghosts survive hub restarts.
func (h *Hub) RegisterGhost(ctx context.Context, export *wire.SessionExport) (wire.GhostDeviceRegistration, error) {
	if export == nil || export.SessionID == "" {
		return wire.GhostDeviceRegistration{}, fmt.Errorf("ghost export missing session id")
	}

	reg := registrationFromExport(export)
	if h.store != nil {
		if err := h.store.SaveGhost(ctx, reg, export); err != nil {
			return wire.GhostDeviceRegistration{}, fmt.Errorf("persist ghost session: %w", err)
		}
	}

	h.mu.Lock()
	h.ghosts[export.SessionID] = &ghostEntry{reg: reg, export: export}
	h.mu.Unlock()

	h.log.Infof("ghost session %s registered (%d actions)", export.SessionID, reg.EventCount)
	h.broadcastClientList()
	return reg, nil
}

// RemoveGhost unregisters a ghost session and deletes its persisted export.
func (h *Hub) RemoveGhost(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	_, ok := h.ghosts[sessionID]
	delete(h.ghosts, sessionID)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown ghost session %q", sessionID)
	}
	if h.store != nil {
		if err := h.store.DeleteGhost(ctx, sessionID); err != nil {
			return fmt.Errorf("delete ghost session: %w", err)
		}
	}
	h.log.Infof("ghost session %s removed", sessionID)
	h.broadcastClientList()
	return nil
}

// LoadGhosts re-registers persisted ghost sessions, typically at startup.
func (h *Hub) LoadGhosts(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	regs, err := h.store.ListGhosts(ctx)
	if err != nil {
		return fmt.Errorf("list ghost sessions: %w", err)
	}
	for _, reg := range regs {
		export, err := h.store.GetExport(ctx, reg.SessionID)
		if err != nil {
			h.log.Warnf("load ghost %s: %v", reg.SessionID, err)
			continue
		}
		h.mu.Lock()
		h.ghosts[reg.SessionID] = &ghostEntry{reg: reg, export: export}
		h.mu.Unlock()
	}
	h.log.Infof("loaded %d ghost session(s)", len(regs))
	return nil
}

// GhostExport returns the stored export for a ghost session.
func (h *Hub) GhostExport(sessionID string) (*wire.SessionExport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.ghosts[sessionID]
	if !ok {
		return nil, false
	}
	return g.export, true
}

// Ghosts returns the registrations of all known ghost sessions.
func (h *Hub) Ghosts() []wire.GhostDeviceRegistration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]wire.GhostDeviceRegistration, 0, len(h.ghosts))
	for _, g := range h.ghosts {
		out = append(out, g.reg)
	}
	return out
}

// SeekGhost reconstructs the ghost's state at the scrub index and
// broadcasts it to the listeners attached to that ghost. Ghosts never
// mutate; every seek recomputes from the bundled session data.
func (h *Hub) SeekGhost(sessionID string, index int) error {
	h.mu.RLock()
	g, ok := h.ghosts[sessionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown ghost session %q", sessionID)
	}

	state := replay.ReconstructAtIndex(
		g.export.Session.InitialStateJSON,
		g.export.Session.Actions,
		index,
	)
	sync := &wire.StateSync{
		ClientID:  GhostClientID(sessionID),
		Timestamp: time.Now().UnixMilli(),
		StateJSON: state,
	}

	h.mu.RLock()
	targets := make([]*entry, 0, len(h.clients))
	for _, e := range h.clients {
		if e.info.Role == wire.RoleListener && e.info.PublisherClientID == GhostClientID(sessionID) {
			targets = append(targets, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range targets {
		h.sendTo(e, sync)
	}
	return nil
}

// ghostSession resolves a playback target to a ghost session id. Targets
// may use the ghost client id or the bare session id.
func (h *Hub) ghostSession(targetID string) (string, bool) {
	sessionID := strings.TrimPrefix(targetID, ghostIDPrefix)
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.ghosts[sessionID]
	return sessionID, ok
}

func registrationFromExport(export *wire.SessionExport) wire.GhostDeviceRegistration {
	reg := wire.GhostDeviceRegistration{
		SessionID:          export.SessionID,
		OriginalClientInfo: export.ClientInfo,
		EventCount:         len(export.Session.Actions),
		LogicEventCount:    len(export.Session.LogicStarted) + len(export.Session.LogicCompleted) + len(export.Session.LogicFailed),
		SessionStartTime:   export.Session.StartTime,
		SessionEndTime:     export.Session.EndTime,
	}
	if export.Crash != nil {
		exc := export.Crash.Exception
		reg.CrashException = &exc
	}
	return reg
}

func ghostClientInfo(reg wire.GhostDeviceRegistration) wire.ClientInfo {
	info := reg.OriginalClientInfo
	info.ClientID = GhostClientID(reg.SessionID)
	info.Role = wire.RoleUnassigned
	info.ConnectedAt = reg.SessionStartTime
	info.IsGhost = true
	return info
}
