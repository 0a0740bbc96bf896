// Package client talks to the examwatchd HTTP and WebSocket API and turns
// server messages into Bubble Tea messages.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// envelope is ws.WSMessage with the payload left undecoded.
type envelope struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient manages the WebSocket connection to examwatchd.
type WSClient struct {
	url   string
	token string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings with the close handshake
	conn    *websocket.Conn
	seq     uint64
	synced  bool // a snapshot has been received on this connection
	gaps    int
	pingCtx context.CancelFunc
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token}
}

// --- Bubble Tea messages ---

type WSConnectedMsg struct{}

type WSDisconnectedMsg struct{ Err error }

// WSSnapshotMsg delivers the full session state.
type WSSnapshotMsg struct{ Payload ws.SnapshotPayload }

// WSEventsMsg delivers a batch of appended events.
type WSEventsMsg struct{ Payload ws.EventsPayload }

// WSSessionMsg reports a session start or stop.
type WSSessionMsg struct{ Payload ws.SessionPayload }

// WSAlertMsg is sent once per alert event, ahead of its batch.
type WSAlertMsg struct{ Payload ws.AlertPayload }

type WSSourceHealthMsg struct{ Payload monitor.SignalHealth }

// WSGapMsg reports missed messages; state is stale until the next snapshot.
// Next is the message that revealed the gap.
type WSGapMsg struct {
	Expected, Got uint64
	Next          tea.Msg
}

type WSErrorMsg struct{ Payload ws.ErrorPayload }

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff until it succeeds or ctx is cancelled.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			header := http.Header{}
			if c.token != "" {
				header.Set("Authorization", "Bearer "+c.token)
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
			if err != nil {
				log.Printf("ws dial error: %v (retry in %v)", err, delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.synced = false
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads until the next message
// worth dispatching. It should be re-issued after each message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg envelope
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			gap := c.track(msg)
			teaMsg := dispatch(msg)
			if gap != nil {
				gap.Next = teaMsg
				return *gap
			}
			if teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// track records msg's sequence number and reports a gap. A snapshot
// resynchronises, so gaps are only reported between snapshots.
func (c *WSClient) track(msg envelope) *WSGapMsg {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Type == ws.MsgSnapshot {
		c.seq = msg.Seq
		c.synced = true
		return nil
	}
	var gap *WSGapMsg
	if c.synced && msg.Seq != c.seq+1 {
		c.gaps++
		c.synced = false
		gap = &WSGapMsg{Expected: c.seq + 1, Got: msg.Seq}
	}
	c.seq = msg.Seq
	return gap
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and drops the connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
	}
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	conn.Close()
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Gaps returns how many sequence gaps have been seen.
func (c *WSClient) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

func dispatch(msg envelope) tea.Msg {
	switch msg.Type {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSnapshotMsg{Payload: p}
		}
	case ws.MsgEvents:
		var p ws.EventsPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSEventsMsg{Payload: p}
		}
	case ws.MsgSession:
		var p ws.SessionPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSessionMsg{Payload: p}
		}
	case ws.MsgAlert:
		var p ws.AlertPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSAlertMsg{Payload: p}
		}
	case ws.MsgSourceHealth:
		var p monitor.SignalHealth
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSourceHealthMsg{Payload: p}
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSErrorMsg{Payload: p}
		}
	}
	return nil
}
