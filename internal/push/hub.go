// Package push forwards event-bus traffic to WebSocket clients. Clients
// join the room for one job and receive jobProgress, jobCompleted and
// jobFailed frames.
package push

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mediascribe/internal/events"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// frame is the wire shape pushed to clients.
type frame struct {
	Event     string `json:"event"` // jobProgress | jobCompleted | jobFailed
	JobID     string `json:"job_id"`
	Progress  int    `json:"progress"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func eventName(kind events.Kind) string {
	switch kind {
	case events.KindCompleted:
		return "jobCompleted"
	case events.KindFailed:
		return "jobFailed"
	default:
		return "jobProgress"
	}
}

// Hub rooms WebSocket connections by job id and bridges the event bus into
// those rooms.
type Hub struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}

	stop func()
}

type client struct {
	conn *websocket.Conn
	send chan frame
}

// NewHub creates a hub and starts bridging from the bus.
func NewHub(bus *events.Bus, originOK func(origin string) bool) *Hub {
	h := &Hub{
		bus:   bus,
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if originOK == nil {
					return true
				}
				return originOK(r.Header.Get("Origin"))
			},
		},
	}

	ch, cancel := bus.Subscribe("", 256)
	h.stop = cancel
	go func() {
		for ev := range ch {
			h.broadcast(ev)
		}
	}()
	return h
}

// Close stops the bridge. Open connections drain on their own.
func (h *Hub) Close() {
	if h.stop != nil {
		h.stop()
	}
}

func (h *Hub) broadcast(ev events.Event) {
	room := "job-" + ev.JobID
	f := frame{
		Event:     eventName(ev.Kind),
		JobID:     ev.JobID,
		Progress:  ev.Progress,
		Status:    ev.Status,
		Message:   ev.Message,
		Timestamp: ev.Timestamp.UnixMilli(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- f:
		default:
			// slow client, drop the frame
		}
	}
}

// ServeJob upgrades the request and joins the connection to the job's room.
func (h *Hub) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan frame, 32)}
	room := "job-" + jobID

	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c, room)
}

func (h *Hub) readPump(c *client, room string) {
	defer func() {
		h.mu.Lock()
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only listen; any read error ends the session
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
