package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BossHoder/kollector/internal/models"
	"github.com/BossHoder/kollector/internal/telemetry"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	sendBuffer       = 16
)

// Broadcaster admits authenticated websocket connections, groups them into
// per-identity rooms, and fans completion events out to a room. Room
// membership is mutated only by each connection's own connect/disconnect
// path; Emit takes a read lock.
type Broadcaster struct {
	signingKey []byte
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*connection]struct{}
}

type connection struct {
	id       string
	ownerID  string
	joinedAt time.Time
	ws       *websocket.Conn
	send     chan []byte
}

// NewBroadcaster builds a hub verifying handshake tokens with the shared API
// signing key.
func NewBroadcaster(signingKey []byte) *Broadcaster {
	return &Broadcaster{
		signingKey: signingKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*connection]struct{}),
	}
}

func roomKey(ownerID string) string { return "user:" + ownerID }

// handshake is the first client frame. The token travels in the payload, not
// in an HTTP header; that detail is load-bearing for client compatibility.
type handshake struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// Handler upgrades the connection and runs the handshake: the client must
// send {"auth":{"token":...}} within the handshake window or be rejected.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
		var hs handshake
		if err := ws.ReadJSON(&hs); err != nil || hs.Auth.Token == "" {
			reject(ws, CodeAuthenticationRequired)
			return
		}

		ownerID, err := verifyToken(b.signingKey, hs.Auth.Token)
		if err != nil {
			reject(ws, rejectionCode(err))
			return
		}

		conn := &connection{
			id:       uuid.New().String(),
			ownerID:  ownerID,
			joinedAt: time.Now(),
			ws:       ws,
			send:     make(chan []byte, sendBuffer),
		}
		b.join(conn)
		telemetry.ConnectionsGauge.Inc()
		log.Printf("realtime connected conn=%s owner=%s", conn.id, ownerID)

		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = ws.WriteJSON(map[string]string{"event": "connected", "connectionId": conn.id})

		go conn.writePump()
		conn.readPump()

		b.leave(conn)
		telemetry.ConnectionsGauge.Dec()
		log.Printf("realtime disconnected conn=%s owner=%s", conn.id, ownerID)
	}
}

func reject(ws *websocket.Conn, code string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteJSON(map[string]string{"event": "error", "code": code})
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	_ = ws.Close()
}

func (b *Broadcaster) join(c *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := roomKey(c.ownerID)
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*connection]struct{})
	}
	b.rooms[room][c] = struct{}{}
}

func (b *Broadcaster) leave(c *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := roomKey(c.ownerID)
	delete(b.rooms[room], c)
	if len(b.rooms[room]) == 0 {
		delete(b.rooms, room)
	}
	close(c.send)
}

// RoomSize reports how many connections are joined for an identity.
func (b *Broadcaster) RoomSize(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomKey(ownerID)])
}

// Emit delivers an event to every connection in the identity's room. A nil
// broadcaster (transport never initialized) is a logged no-op: completion
// events must never crash the worker.
func (b *Broadcaster) Emit(ownerID string, event models.CompletionEvent) {
	if b == nil {
		log.Printf("event emit skipped owner=%s: broadcaster not initialized", ownerID)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal event asset=%s: %v", event.AssetID, err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.rooms[roomKey(ownerID)] {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop rather than block the pipeline.
			log.Printf("event dropped conn=%s owner=%s: send buffer full", c.id, ownerID)
		}
	}
}

// Shutdown closes every connection; clients are expected to re-handshake.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	conns := make([]*connection, 0)
	for _, room := range b.rooms {
		for c := range room {
			conns = append(conns, c)
		}
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// readPump drains client frames until the connection drops. Inbound content
// is ignored; reads exist to detect disconnects and handle pongs.
func (c *connection) readPump() {
	defer c.ws.Close()
	c.ws.SetReadLimit(1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
