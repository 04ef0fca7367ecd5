// Package realtime provides a websocket client for the Azure OpenAI
// realtime API.
//
// A Conn delivers engine events unparsed (see ParseServerEvent) and sends
// client events as JSON text frames.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned once the engine connection is closed.
var ErrClosed = errors.New("realtime connection closed")

const (
	defaultAPIVersion       = "2024-10-01-preview"
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultReadLimit        = 4 << 20
	incomingBuffer          = 256
)

// Config configures the engine connection.
type Config struct {
	// Endpoint is the resource host, e.g. "my-resource.openai.azure.com".
	// A scheme prefix is tolerated and stripped.
	Endpoint   string
	Deployment string
	APIVersion string
	APIKey     string

	// URL overrides the URL derived from Endpoint/Deployment/APIVersion.
	URL string

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Logger           *slog.Logger
}

// Address returns the websocket URL of the realtime endpoint.
func (c Config) Address() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	host := strings.TrimSuffix(c.Endpoint, "/")
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	if host == "" {
		return "", errors.New("realtime endpoint is required")
	}
	if c.Deployment == "" {
		return "", errors.New("realtime deployment is required")
	}
	version := c.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	q := url.Values{}
	q.Set("api-version", version)
	q.Set("deployment", c.Deployment)

	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/openai/realtime",
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one realtime engine session.
type Conn struct {
	ws           wsConn
	writeTimeout time.Duration
	incoming     chan []byte
	done         chan struct{}
	writeMu      sync.Mutex
	closeOnce    sync.Once

	mu      sync.RWMutex
	readErr error
}

// Dial connects to the realtime endpoint and starts reading events.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("api-key", cfg.APIKey)
	}

	ws, resp, err := dialer.DialContext(ctx, addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	ws.SetReadLimit(readLimit)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := newConn(ws, cfg.WriteTimeout)
	go c.readLoop(logger)
	return c, nil
}

func newConn(ws wsConn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		incoming:     make(chan []byte, incomingBuffer),
		done:         make(chan struct{}),
	}
}

func (c *Conn) readLoop(logger *slog.Logger) {
	defer close(c.incoming)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("realtime read failed", "error", err)
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

// Receive returns the next raw engine event.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.incoming:
		if !ok {
			c.mu.RLock()
			defer c.mu.RUnlock()
			if c.readErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
			}
			return nil, ErrClosed
		}
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes one client event as JSON.
func (c *Conn) Send(event any) error {
	if c.Closed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if err := c.ws.WriteJSON(event); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Closed reports whether the connection was closed locally or the engine
// hung up.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr != nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
