package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingEvery    = 30 * time.Second
	readLimit    = 4096
)

// Broadcaster pushes progress frames to connected websocket clients.
//
// It is latest-value-wins rather than a general fan-out queue: a
// backtest emits snapshots far faster than a dashboard needs frames,
// and every snapshot supersedes the one before it. Offer overwrites a
// single pending frame, and the run loop sends whatever is newest when
// it wakes — a slow client skips stale frames instead of accumulating
// a backlog or being disconnected for lagging.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	latest  []byte
	haveNew bool

	wake chan struct{}
}

// NewBroadcaster creates a broadcaster with no clients. Call Run to
// start frame delivery.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger: logger.With("component", "monitor-broadcast"),
		conns:  make(map[*websocket.Conn]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Offer records snapshot as the newest frame and nudges the run loop.
// It never blocks, so it is safe to call from the engine's progress
// callbacks.
func (b *Broadcaster) Offer(snapshot ProgressSnapshot) {
	frame, err := json.Marshal(Event{Type: "progress", Timestamp: time.Now(), Data: snapshot})
	if err != nil {
		b.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	b.mu.Lock()
	b.latest = frame
	b.haveNew = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Attach sends conn the newest frame, if any, then registers it for
// future frames and starts the read loop that detaches it on close.
func (b *Broadcaster) Attach(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)

	b.mu.Lock()
	frame := b.latest
	b.mu.Unlock()
	if frame != nil {
		if err := b.write(conn, websocket.TextMessage, frame); err != nil {
			conn.Close()
			return
		}
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	count := len(b.conns)
	b.mu.Unlock()
	b.logger.Info("client connected", "count", count)

	go func() {
		// The dashboard is read-only; this loop exists only to notice
		// the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.detach(conn)
				return
			}
		}
	}()
}

// Run delivers coalesced frames and keepalive pings until ctx ends,
// then closes every client.
func (b *Broadcaster) Run(ctx context.Context) error {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return nil
		case <-b.wake:
			b.push()
		case <-ping.C:
			b.each(func(conn *websocket.Conn) error {
				return b.write(conn, websocket.PingMessage, nil)
			})
		}
	}
}

// push sends the newest frame to every client if one arrived since the
// last push.
func (b *Broadcaster) push() {
	b.mu.Lock()
	if !b.haveNew {
		b.mu.Unlock()
		return
	}
	b.haveNew = false
	frame := b.latest
	b.mu.Unlock()

	b.each(func(conn *websocket.Conn) error {
		return b.write(conn, websocket.TextMessage, frame)
	})
}

// each applies send to every registered client, detaching any whose
// write fails. Writes happen outside the registry lock; only the run
// loop goroutine writes to attached clients, so writes never race.
func (b *Broadcaster) each(send func(*websocket.Conn) error) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		if err := send(conn); err != nil {
			b.detach(conn)
		}
	}
}

func (b *Broadcaster) write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

func (b *Broadcaster) detach(conn *websocket.Conn) {
	b.mu.Lock()
	_, registered := b.conns[conn]
	delete(b.conns, conn)
	count := len(b.conns)
	b.mu.Unlock()

	conn.Close()
	if registered {
		b.logger.Info("client disconnected", "count", count)
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for _, conn := range conns {
		b.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}
