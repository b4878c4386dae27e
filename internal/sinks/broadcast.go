package sinks

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/juki-j/claudeminer/internal/session"
)

// ErrTooManyConnections is returned by AddClient once the configured
// connection cap is reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster is the coordinator's lifecycle-event sink: every
// session-terminated event, and every session-created/status-changed event
// for a session IsListable accepts, goes out immediately to every
// connected client; created/status-changed events for other sessions are
// not sent (§5: "thread-safe and
// non-blocking from the Coordinator's perspective"), plus a periodic full
// snapshot so late-joining clients converge without waiting for the next
// transition.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	maxConns       int
	store          *session.Store
	memoryLookup   func(pid uint32) uint64
	snapshotTicker *time.Ticker
	seq            atomic.Uint64
	logger         *log.Logger
}

// NewBroadcaster constructs a Broadcaster over store. memoryLookup supplies
// the memory_bytes field of each MinerView (typically backed by gopsutil);
// pass nil to always report 0.
func NewBroadcaster(store *session.Store, snapshotInterval time.Duration, maxConns int, memoryLookup func(uint32) uint64, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	b := &Broadcaster{
		clients:      make(map[*client]bool),
		maxConns:     maxConns,
		store:        store,
		memoryLookup: memoryLookup,
		logger:       logger,
	}
	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()
	return b
}

func (b *Broadcaster) memFor(pid uint32) uint64 {
	if b.memoryLookup == nil {
		return 0
	}
	return b.memoryLookup(pid)
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	b.clients[c] = true
	b.mu.Unlock()

	b.SendSnapshot(c)
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// SessionCreated implements coordinator.Sink.
func (b *Broadcaster) SessionCreated(s *session.Session) {
	if !IsListable(s) {
		return
	}
	b.broadcast(WSMessage{
		Type:    MsgCreated,
		Payload: CreatedPayload{Session: NewMinerView(s, b.memFor(s.PID))},
	})
}

// StatusChanged implements coordinator.Sink.
func (b *Broadcaster) StatusChanged(s *session.Session, old session.Status) {
	if !IsListable(s) {
		return
	}
	b.broadcast(WSMessage{
		Type: MsgStatusChanged,
		Payload: StatusChangedPayload{
			SessionID: s.SessionID,
			OldStatus: old.String(),
			Session:   NewMinerView(s, b.memFor(s.PID)),
		},
	})
}

// SessionTerminated implements coordinator.Sink.
func (b *Broadcaster) SessionTerminated(sessionID string) {
	b.broadcast(WSMessage{
		Type:    MsgTerminated,
		Payload: TerminatedPayload{SessionID: sessionID},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	var views []MinerView
	for _, s := range b.store.GetAll() {
		if !IsListable(s) {
			continue
		}
		views = append(views, NewMinerView(s, b.memFor(s.PID)))
	}
	return WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{Sessions: views}}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Printf("[sinks] broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			b.logger.Printf("[sinks] client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// SendSnapshot sends a sequenced snapshot to a single client.
func (b *Broadcaster) SendSnapshot(c *client) {
	msg := b.snapshotMessage()
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Printf("[sinks] snapshot marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Stop halts the periodic snapshot ticker.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
