// Package transport provides the Twilio Media Streams telephony channel.
//
// A Connection delivers inbound Media Streams messages unparsed so the
// caller decides how to treat malformed input, and writes the three
// outbound shapes Twilio accepts: media, mark and clear.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Receive and the send methods once the connection
// is closed or the peer disconnected.
var ErrClosed = errors.New("media stream closed")

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 * 1024
	incomingBuffer      = 256
)

// Provider accepts Twilio Media Streams websocket connections.
type Provider struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	readLimit    int64
	logger       *slog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	writeTimeout time.Duration
	readLimit    int64
	logger       *slog.Logger
	checkOrigin  func(r *http.Request) bool
}

// WithWriteTimeout bounds every outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = fn
	}
}

// New creates a new Media Streams provider.
func New(opts ...Option) *Provider {
	cfg := &options{
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		checkOrigin:  func(r *http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Provider{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.checkOrigin,
		},
		writeTimeout: cfg.writeTimeout,
		readLimit:    cfg.readLimit,
		logger:       cfg.logger,
		connections:  make(map[string]*Connection),
	}
}

// Name returns the transport name.
func (p *Provider) Name() string {
	return "twilio-media-streams"
}

// HandleWebSocket upgrades an incoming Twilio request and starts reading
// from it. This should be called from your HTTP handler.
func (p *Provider) HandleWebSocket(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	wsConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	wsConn.SetReadLimit(p.readLimit)

	conn := newConnection(uuid.NewString(), wsConn, p.writeTimeout)
	conn.remoteAddr = wsConn.RemoteAddr()
	conn.onClose = func() {
		p.mu.Lock()
		delete(p.connections, conn.id)
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.connections[conn.id] = conn
	p.mu.Unlock()

	go conn.readLoop(p.logger.With("conn_id", conn.id))

	return conn, nil
}

// Len returns the number of open connections.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close closes every open connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		conns = append(conns, conn)
	}
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

// wsConn is the subset of *websocket.Conn a Connection uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one Twilio Media Stream.
type Connection struct {
	id           string
	ws           wsConn
	writeTimeout time.Duration
	incoming     chan []byte
	done         chan struct{}
	writeMu      sync.Mutex
	closeOnce    sync.Once
	onClose      func()
	remoteAddr   net.Addr

	mu      sync.RWMutex
	readErr error
}

func newConnection(id string, ws wsConn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Connection{
		id:           id,
		ws:           ws,
		writeTimeout: writeTimeout,
		incoming:     make(chan []byte, incomingBuffer),
		done:         make(chan struct{}),
	}
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the remote address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// readLoop reads messages from the WebSocket until it fails, then closes
// the incoming queue so Receive reports ErrClosed.
func (c *Connection) readLoop(logger *slog.Logger) {
	defer close(c.incoming)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("media stream read failed", "error", err)
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

// Receive returns the next raw inbound message. It returns ctx.Err() when
// ctx ends first and ErrClosed once the stream is gone.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.incoming:
		if !ok {
			return nil, c.closedErr()
		}
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) closedErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}

// SendMedia sends a base64 audio payload to the caller.
func (c *Connection) SendMedia(streamSID, payload string) error {
	return c.writeJSON(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     outboundPayload{Payload: payload},
	})
}

// SendMark sends a mark message for playback synchronization.
func (c *Connection) SendMark(streamSID, name string) error {
	return c.writeJSON(outboundMark{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      markMessage{Name: name},
	})
}

// Clear clears the audio buffered for playback.
func (c *Connection) Clear(streamSID string) error {
	return c.writeJSON(outboundClear{
		Event:     EventClear,
		StreamSID: streamSID,
	})
}

func (c *Connection) writeJSON(v any) error {
	if c.Closed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}
