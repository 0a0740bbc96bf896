package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the client limit is
// reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

// SnapshotSource provides the full state sent on connect and periodically.
type SnapshotSource interface {
	Snapshot() session.Snapshot
	Health() []monitor.SignalHealth
}

// client is one WebSocket connection. send is never closed; removal closes
// done instead.
type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.b.RemoveClient(c)
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans engine changes out to WebSocket clients. It implements
// monitor.Observer; its observer methods only marshal and enqueue, so they
// are safe to call under the engine lock.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	source         SnapshotSource
	throttle       time.Duration
	snapshotTicker *time.Ticker
	done           chan struct{}
	stopOnce       sync.Once
	seq            atomic.Uint64

	privacyMu sync.RWMutex
	privacy   *session.PrivacyFilter

	// flushMu orders everything that reaches the wire: pending batches,
	// immediate messages and their sequence numbers.
	flushMu         sync.Mutex
	pendingEvents   []session.Event
	pendingCounters session.Counters
	sessionID       string
	candidateName   string
	flushTimer      *time.Timer

	droppedClients int64
	lastDropLog    time.Time
}

// NewBroadcaster returns a running broadcaster. maxConns <= 0 means no
// limit.
func NewBroadcaster(source SnapshotSource, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		source:   source,
		throttle: throttle,
		done:     make(chan struct{}),
		privacy:  &session.PrivacyFilter{},
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetConfig applies new batching, snapshot and connection limits. A lower
// maxConns only affects new connections.
func (b *Broadcaster) SetConfig(throttle, snapshotInterval time.Duration, maxConns int) {
	b.flushMu.Lock()
	b.throttle = throttle
	b.flushMu.Unlock()

	b.mu.Lock()
	b.maxConns = maxConns
	b.mu.Unlock()

	if snapshotInterval > 0 {
		b.snapshotTicker.Reset(snapshotInterval)
	}
}

// SetPrivacyFilter replaces the filter applied to everything broadcast.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.privacyMu.Lock()
	b.privacy = f
	b.privacyMu.Unlock()
}

func (b *Broadcaster) privacyFilter() *session.PrivacyFilter {
	b.privacyMu.RLock()
	defer b.privacyMu.RUnlock()
	return b.privacy
}

// FilterSnapshot applies the privacy filter to s.
func (b *Broadcaster) FilterSnapshot(s session.Snapshot) session.Snapshot {
	return b.privacyFilter().Apply(s)
}

// AddClient registers conn and queues a snapshot as its first message. The
// snapshot carries the sequence number current when it was read, so anything
// broadcast before the client was registered shows up as a gap.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	seq := b.seq.Load()
	var payload SnapshotPayload
	if b.source != nil {
		payload = b.snapshotPayload()
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b)
	b.clients[c] = true
	b.mu.Unlock()

	if b.source == nil {
		return c, nil
	}
	data, err := b.marshal(MsgSnapshot, seq, payload)
	if err != nil {
		return c, nil
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}
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

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// SessionChanged flushes events of the previous state first so clients see
// lifecycle changes in log order.
func (b *Broadcaster) SessionChanged(s session.Session, counters session.Counters) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if b.stopped() {
		return
	}

	b.flushLocked()
	b.sessionID = s.ID
	b.candidateName = s.CandidateName
	b.broadcastLocked(MsgSession, SessionPayload{
		Session:  *b.privacyFilter().ApplySession(&s),
		Counters: counters,
	})
}

func (b *Broadcaster) EventAppended(ev session.Event, counters session.Counters) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if b.stopped() {
		return
	}

	b.pendingCounters = counters
	masked, ok := b.privacyFilter().MaskEvent(ev, b.candidateName)
	if ok {
		b.pendingEvents = append(b.pendingEvents, masked)
		if masked.IsAlert {
			b.broadcastLocked(MsgAlert, AlertPayload{SessionID: b.sessionID, Event: masked})
		}
	}
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) HealthChanged(h monitor.SignalHealth) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if b.stopped() {
		return
	}
	b.broadcastLocked(MsgSourceHealth, h)
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if b.stopped() {
		return
	}
	b.flushLocked()
}

// flushLocked sends pending events as one batch. Caller must hold flushMu.
func (b *Broadcaster) flushLocked() {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	events := b.pendingEvents
	b.pendingEvents = nil
	if len(events) == 0 {
		return
	}
	b.broadcastLocked(MsgEvents, EventsPayload{
		SessionID: b.sessionID,
		Events:    events,
		Counters:  b.pendingCounters,
	})
}

func (b *Broadcaster) snapshotPayload() SnapshotPayload {
	return SnapshotPayload{
		Snapshot:     b.FilterSnapshot(b.source.Snapshot()),
		SourceHealth: b.source.Health(),
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			if b.source == nil || b.ClientCount() == 0 {
				continue
			}
			// Read the engine before taking flushMu: observer calls take
			// flushMu while the engine lock is held.
			payload := b.snapshotPayload()
			b.flushMu.Lock()
			b.flushLocked()
			b.broadcastLocked(MsgSnapshot, payload)
			b.flushMu.Unlock()
		}
	}
}

func (b *Broadcaster) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Stop halts the snapshot loop and any pending flush. Clients stay
// connected but nothing more is sent to them.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.done)
		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()
	})
}

func (b *Broadcaster) marshal(t MessageType, seq uint64, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(WSMessage{Type: t, Seq: seq, Payload: payload})
	if err != nil {
		log.Printf("[ws] marshal %s: %v", t, err)
	}
	return data, err
}

// broadcastLocked sends to every client without blocking. Caller must hold
// flushMu so sequence numbers reach the wire in order.
func (b *Broadcaster) broadcastLocked(t MessageType, payload interface{}) {
	data, err := b.marshal(t, b.seq.Add(1), payload)
	if err != nil {
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
			// Client can't keep up, disconnect it
			b.RemoveClient(c)
			b.logSlowClient()
		}
	}
}

// logSlowClient logs disconnected slow clients at most once per 10s.
func (b *Broadcaster) logSlowClient() {
	b.droppedClients++
	now := time.Now()
	if b.lastDropLog.IsZero() || now.Sub(b.lastDropLog) >= 10*time.Second {
		log.Printf("[ws] disconnected %d slow client(s)", b.droppedClients)
		b.droppedClients = 0
		b.lastDropLog = now
	}
}
