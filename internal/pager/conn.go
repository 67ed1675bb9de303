package pager

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Devices connect from the embedded terminal UI; origin is enforced
	// by the CORS layer on the HTTP side.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is one connected pager device. Outbound pages go through a
// buffered send channel; a full buffer drops the connection rather than
// blocking the service.
type Conn struct {
	identity Identity
	svc      *Service
	ws       *websocket.Conn
	send     chan []byte
}

// envelope wraps every websocket frame in both directions.
type envelope struct {
	Type  string             `json:"type"`
	ID    string             `json:"id,omitempty"`
	Event *models.PagerEvent `json:"event,omitempty"`
	OK    *bool              `json:"ok,omitempty"`
}

// Deliver queues a page for the device. Reports false when the send
// buffer is full, which the service treats as a dead connection.
func (c *Conn) Deliver(evt *models.PagerEvent) bool {
	frame, err := json.Marshal(envelope{Type: "pager", Event: evt})
	if err != nil {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// readPump consumes inbound frames. The only client-initiated frame is
// an ack: {"type":"ack","id":"..."}.
func (c *Conn) readPump() {
	defer func() {
		c.svc.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("pager read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var frame envelope
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type == "ack" && frame.ID != "" {
			ok := c.svc.AckFrom(c.identity, frame.ID)
			ack, _ := json.Marshal(envelope{Type: "ack", ID: frame.ID, OK: &ok})
			select {
			case c.send <- ack:
			default:
			}
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve upgrades an HTTP request to a pager websocket, registers the
// connection under its identity, and runs the pumps until it closes.
// Buffered pages for the identity are replayed before live traffic.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, identity Identity) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Conn{
		identity: identity,
		svc:      s,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
	}

	go c.writePump()
	s.Register(identity, c)
	go c.readPump()
	return nil
}
