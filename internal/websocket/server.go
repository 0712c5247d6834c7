// Package websocket hosts the hub's device protocol endpoint.
package websocket

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syrou/reaktiv-devtools/internal/hub"
	"github.com/syrou/reaktiv-devtools/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Observer UIs connect from arbitrary origins.
		return true
	},
}

// Server upgrades device connections and bridges them into the hub.
type Server struct {
	hub *hub.Hub
	log *zap.SugaredLogger
}

func NewServer(h *hub.Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{hub: h, log: log}
}

// HandleWebSocket is the gin handler for the device protocol endpoint. The
// first message on a connection must be a Register; everything after is
// routed through the hub until the connection drops.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	clientID := ""
	sender := &connSender{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warnf("websocket read: %v", err)
			}
			break
		}

		msg, err := wire.Decode(data)
		if err != nil {
			s.log.Warnf("dropping undecodable message: %v", err)
			continue
		}

		if clientID == "" {
			reg, ok := msg.(*wire.Register)
			if !ok {
				s.log.Warnf("dropping %s before registration", msg.MessageType())
				continue
			}
			clientID = reg.ClientID
			s.hub.Register(wire.ClientInfo{
				ClientID:   reg.ClientID,
				ClientName: reg.ClientName,
				Platform:   reg.Platform,
			}, sender)
			continue
		}

		s.hub.HandleMessage(clientID, msg)
	}

	if clientID != "" {
		s.hub.Unregister(clientID, sender)
	}
}

// connSender adapts one gorilla connection to the hub's Sender. Writes are
// serialized; gorilla connections do not allow concurrent writers.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
