// Package device implements the instrumented application's side of the
// device protocol: the websocket connection to the hub and the per-client
// role state machine that gates what gets broadcast and applied.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/capture"
	"github.com/syrou/reaktiv-devtools/internal/wire"
)

const (
	defaultSendBuffer   = 256
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

// Options configures a device client.
type Options struct {
	// URL is the hub websocket endpoint (ws://host:port/path).
	URL string
	// ClientID, ClientName and Platform identify this instance.
	ClientID   string
	ClientName string
	Platform   string
	// Engine is the shared capture engine; its history feeds the one-shot
	// bulk sync on publisher promotion.
	Engine *capture.Engine
	// ApplyState is the host's external-state-apply hook, invoked for
	// incoming StateSync while the client is a listener.
	ApplyState func(stateJSON string)
	// OnClientList, when set, receives registry snapshots from the hub.
	OnClientList func(clients []wire.ClientInfo)
	Log          *zap.SugaredLogger

	// SendBuffer bounds the outbound queue; sends beyond it are dropped.
	SendBuffer   int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client is one connection to the hub. Captured events are only forwarded
// while the hub has assigned it the publisher role.
type Client struct {
	opts Options
	log  *zap.SugaredLogger

	mu          sync.RWMutex
	role        wire.Role
	publisherID string
	connected   bool

	outbound  chan wire.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a client. It does not connect; call Run.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("device: missing hub URL")
	}
	if opts.ClientID == "" {
		return nil, errors.New("device: missing client id")
	}
	if opts.Engine == nil {
		return nil, errors.New("device: missing capture engine")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	return &Client{
		opts:     opts,
		log:      opts.Log,
		role:     wire.RoleUnassigned,
		outbound: make(chan wire.Message, opts.SendBuffer),
		closed:   make(chan struct{}),
	}, nil
}

// Role returns the current connection role.
func (c *Client) Role() wire.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Connected reports whether a hub connection is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run connects to the hub and keeps the connection alive with backed-off
// retries until ctx is cancelled or Close is called. A cancelled connect
// attempt leaves the client unassigned.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectMin
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warnf("hub connect failed, retrying in %v: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.closed:
				return nil
			}
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
			continue
		}

		backoff = c.opts.ReconnectMin
		c.serve(ctx, conn)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}
		c.log.Infof("hub connection lost, reconnecting")
	}
}

// serve runs one connection: registers, pumps the outbound queue, and
// dispatches incoming messages until the connection drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	c.setConnected(true)
	defer func() {
		c.setConnected(false)
		// Role assignments do not survive a connection; a reconnected
		// client stays unassigned until a new assignment arrives.
		c.setRole(wire.RoleUnassigned, "")
	}()

	c.Enqueue(&wire.Register{
		ClientID:   c.opts.ClientID,
		Timestamp:  time.Now().UnixMilli(),
		ClientName: c.opts.ClientName,
		Platform:   c.opts.Platform,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx, conn)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("hub read error: %v", err)
			}
			break
		}
		msg, err := wire.Decode(data)
		if err != nil {
			c.log.Warnf("dropping undecodable hub message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}

	conn.Close()
	<-writerDone
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case msg := <-c.outbound:
			data, err := wire.Encode(msg)
			if err != nil {
				c.log.Warnf("encode %s: %v", msg.MessageType(), err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warnf("send %s: %v", msg.MessageType(), err)
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// Enqueue schedules a message for delivery. Sends are fire-and-forget: a
// full queue drops the message with a log line rather than blocking the
// capture path that triggered it.
func (c *Client) Enqueue(msg wire.Message) {
	select {
	case c.outbound <- msg:
	default:
		c.log.Warnf("outbound queue full; dropping %s", msg.MessageType())
	}
}

// PublishAction forwards a captured action and the resulting full state.
// A no-op unless this client is the publisher.
func (c *Client) PublishAction(a wire.CapturedAction, fullStateJSON string) {
	if c.Role() != wire.RolePublisher {
		return
	}
	now := time.Now().UnixMilli()
	c.Enqueue(&wire.ActionDispatched{ClientID: c.opts.ClientID, Timestamp: now, Action: a})
	c.Enqueue(&wire.StateSync{ClientID: c.opts.ClientID, Timestamp: now, StateJSON: fullStateJSON})
}

// PublishLogicStarted forwards a logic-start trace while publisher.
func (c *Client) PublishLogicStarted(ev wire.CapturedLogicStart) {
	if c.Role() != wire.RolePublisher {
		return
	}
	c.Enqueue(&wire.LogicStarted{ClientID: c.opts.ClientID, Timestamp: time.Now().UnixMilli(), Event: ev})
}

// PublishLogicCompleted forwards a logic-complete trace while publisher.
func (c *Client) PublishLogicCompleted(ev wire.CapturedLogicComplete) {
	if c.Role() != wire.RolePublisher {
		return
	}
	c.Enqueue(&wire.LogicCompleted{ClientID: c.opts.ClientID, Timestamp: time.Now().UnixMilli(), Event: ev})
}

// PublishLogicFailed forwards a logic-failed trace while publisher.
func (c *Client) PublishLogicFailed(ev wire.CapturedLogicFailed) {
	if c.Role() != wire.RolePublisher {
		return
	}
	c.Enqueue(&wire.LogicFailed{ClientID: c.opts.ClientID, Timestamp: time.Now().UnixMilli(), Event: ev})
}

// ReportCrash forwards a crash report regardless of role; a crashing
// listener is still worth knowing about.
func (c *Client) ReportCrash(info wire.CrashInfo) {
	c.Enqueue(&wire.CrashReport{ClientID: c.opts.ClientID, Timestamp: time.Now().UnixMilli(), Crash: info})
}

// Close tears the connection down. The client stays closed; create a new
// one to reconnect.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *Client) setRole(role wire.Role, publisherID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.publisherID = publisherID
}
