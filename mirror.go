package main

// Frame mirror: publishes every rendered frame to a remote viewer over
// WebSocket.
//
// Each viewer connection runs a ping ticker and a pong watchdog (read
// deadline) on top of TCP keepalive. A background reader has to run for the
// pong handler to fire.
//
// Publishing never retries inline. A failed dial or write drops the
// connection and the next attempt waits out a jittered backoff, so a dead
// viewer costs the acquisition loop at most one write deadline per attempt.

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	mirrorWriteTimeout     = 2 * time.Second
	mirrorDialTimeout      = 5 * time.Second
	mirrorInitialBackoff   = 500 * time.Millisecond
	mirrorMaxBackoff       = 5 * time.Second
	mirrorBackoffFactor    = 1.7
	mirrorBackoffJitterMax = 250 * time.Millisecond
)

type outFrame struct {
	T       string `json:"t"`
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	TS      int64  `json:"ts"`
	Width   int    `json:"width"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Samples []int  `json:"samples"`
}

// viewerConn is one live connection to a viewer. The first read, ping or
// write failure is latched and the connection is unusable from then on.
type viewerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writers (frames and pings)

	done     chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
}

func dialViewer(ctx context.Context, wsURL string, pingEvery, pongWait time.Duration) (*viewerConn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	d := websocket.Dialer{
		HandshakeTimeout: mirrorDialTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   mirrorDialTimeout,
			KeepAlive: 15 * time.Second,
		}).DialContext,
	}

	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	c := &viewerConn{
		conn: conn,
		done: make(chan struct{}),
		lost: make(chan struct{}),
	}

	// Viewers only send control frames, but they have to be read for the
	// pong handler to run.
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop(pingEvery)
	return c, nil
}

func (c *viewerConn) fail(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = err
		close(c.lost)
	})
}

// failure returns the latched error, or nil while the connection is healthy.
func (c *viewerConn) failure() error {
	select {
	case <-c.lost:
		return c.lostErr
	default:
		return nil
	}
}

func (c *viewerConn) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

func (c *viewerConn) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *viewerConn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.lost:
			return
		case <-t.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("heatmap"), time.Now().Add(mirrorWriteTimeout))
			c.mu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// sendFrame writes one frame message. A failed write is latched like any
// other connection failure.
func (c *viewerConn) sendFrame(msg *outFrame) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(mirrorWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// frameMirror owns at most one viewer connection and its reconnect backoff.
type frameMirror struct {
	url       string
	id        string
	pingEvery time.Duration
	pongWait  time.Duration
	log       *slog.Logger

	conn    *viewerConn
	seq     uint64
	backoff time.Duration
	retryAt time.Time
}

func newFrameMirror(wsURL string, pingSeconds, pongTimeoutSeconds float64, log *slog.Logger) *frameMirror {
	return &frameMirror{
		url:       wsURL,
		id:        uuid.NewString(),
		pingEvery: time.Duration(float64(time.Second) * math.Max(1, pingSeconds)),
		pongWait:  time.Duration(float64(time.Second) * math.Max(2, pongTimeoutSeconds)),
		log:       log,
		backoff:   mirrorInitialBackoff,
	}
}

// Publish sends f to the viewer, connecting first if needed.
func (m *frameMirror) Publish(ctx context.Context, f Frame, b Bounds) {
	if m.conn != nil {
		if err := m.conn.failure(); err != nil {
			m.drop(err)
		}
	}
	if m.conn == nil && !m.connect(ctx) {
		return
	}

	m.seq++
	msg := outFrame{
		T:       "frame",
		ID:      m.id,
		Seq:     m.seq,
		TS:      time.Now().UnixMilli(),
		Width:   f.Width,
		Samples: f.Samples,
	}
	if b.Seen() {
		msg.Min, msg.Max = b.Min, b.Max
	}
	if err := m.conn.sendFrame(&msg); err != nil {
		m.drop(err)
	}
}

func (m *frameMirror) connect(ctx context.Context) bool {
	if time.Now().Before(m.retryAt) {
		return false
	}
	dialCtx, cancel := context.WithTimeout(ctx, mirrorDialTimeout)
	defer cancel()

	conn, err := dialViewer(dialCtx, m.url, m.pingEvery, m.pongWait)
	if err != nil {
		j := time.Duration(rand.Int63n(int64(mirrorBackoffJitterMax)))
		m.retryAt = time.Now().Add(m.backoff + j)
		m.log.Warn("mirror: connect failed", "url", m.url, "error", err, "retry_in", m.backoff+j)
		m.backoff = time.Duration(math.Min(float64(mirrorMaxBackoff), float64(m.backoff)*mirrorBackoffFactor))
		return false
	}
	m.log.Info("mirror: connected", "url", m.url, "session", m.id)
	m.conn = conn
	m.backoff = mirrorInitialBackoff
	return true
}

func (m *frameMirror) drop(err error) {
	m.log.Warn("mirror: disconnected", "url", m.url, "frames_sent", m.seq, "error", err)
	m.conn.Close()
	m.conn = nil
	m.retryAt = time.Now().Add(m.backoff)
}

func (m *frameMirror) Close() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}
