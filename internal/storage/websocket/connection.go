package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OCAP2/vcd/pkg/streaming"
	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	minBackoff   = time.Second
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	dialTimeout  = 10 * time.Second
)

var dialer = &ws.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: dialTimeout,
}

// connection owns the socket of a streaming backend. Only the write loop
// writes to the socket; every sender goes through sendCh.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when conn is replaced
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	target string // dial URL with the secret query applied

	// start_document message, replayed first after a reconnect
	cachedStartMsg []byte

	// backoff bounds, overridden in tests
	minBackoff time.Duration
	maxBackoff time.Duration

	dropped    metric.Int64Counter
	reconnects metric.Int64Counter

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	meter := otel.Meter("github.com/OCAP2/vcd/internal/storage/websocket")
	dropped, err := meter.Int64Counter("vcd.stream.dropped",
		metric.WithDescription("Messages dropped because the send queue was full"))
	if err != nil {
		logger.Warn("Failed to create counter", "name", "vcd.stream.dropped", "error", err)
	}
	reconnects, err := meter.Int64Counter("vcd.stream.reconnects",
		metric.WithDescription("Successful WebSocket reconnects"))
	if err != nil {
		logger.Warn("Failed to create counter", "name", "vcd.stream.reconnects", "error", err)
	}

	return &connection{
		sendCh:     make(chan []byte, sendChSize),
		ackCh:      make(chan streaming.AckMessage, ackChSize),
		done:       make(chan struct{}),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		dropped:    dropped,
		reconnects: reconnects,
		logger:     logger,
	}
}

// streamURL appends the shared secret to rawURL as a query parameter.
func streamURL(rawURL, secret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", rawURL)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	target, err := streamURL(rawURL, secret)
	if err != nil {
		return err
	}
	c.target = target

	conn, _, err := dialer.Dial(c.target, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.start(conn)
	return nil
}

// start installs conn and runs one read loop and one write loop on it.
func (c *connection) start(conn *ws.Conn) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
}

// writeLoop drains sendCh onto conn. It returns on shutdown, when conn is
// replaced, or on a write error after handing over to reconnect.
func (c *connection) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := write(conn, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// readLoop routes server acks to ackCh until conn fails.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}

		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect replaces the failed socket. Both loops may report the same
// failure; only the first caller for a given socket redials. On success the
// cached start_document message is replayed before any queued message.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.minBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, _, err := dialer.Dial(c.target, nil)
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		c.mu.Lock()
		cached := c.cachedStartMsg
		c.mu.Unlock()

		if cached != nil {
			if err := write(conn, cached); err != nil {
				c.logger.Warn("Failed to replay start_document after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		if c.reconnects != nil {
			c.reconnects.Add(context.Background(), 1)
		}
		c.start(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		if c.dropped != nil {
			c.dropped.Add(context.Background(), 1)
		}
	}
}

// sendAndWait sends data and blocks until the server acknowledges with a
// matching ack message or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}
