package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialMediaStream starts a server that upgrades with p and returns the
// client side of the stream plus the server side Connection.
func dialMediaStream(t *testing.T, p *Provider) (*websocket.Conn, *Connection) {
	t.Helper()

	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.HandleWebSocket(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-connCh:
		return client, conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
		return nil, nil
	}
}

func TestConnectionReceive(t *testing.T) {
	p := New()
	client, conn := dialMediaStream(t, p)
	defer conn.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","start":{"streamSid":"MZ1"}}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := conn.Receive(ctx)
	require.NoError(t, err)

	ev, err := ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "MZ1", ev.(StartEvent).StreamSID)
	assert.Equal(t, 1, p.Len())
}

func TestConnectionReceiveHonorsContext(t *testing.T) {
	_, conn := dialMediaStream(t, New())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectionReceiveAfterPeerDisconnect(t *testing.T) {
	client, conn := dialMediaStream(t, New())
	defer conn.Close()

	require.NoError(t, client.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Receive(ctx)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestConnectionOutboundShapes(t *testing.T) {
	client, conn := dialMediaStream(t, New())
	defer conn.Close()

	require.NoError(t, conn.SendMedia("MZ1", "AAEC"))
	require.NoError(t, conn.SendMark("MZ1", "responsePart-1"))
	require.NoError(t, conn.Clear("MZ1"))

	want := []map[string]any{
		{"event": "media", "streamSid": "MZ1", "media": map[string]any{"payload": "AAEC"}},
		{"event": "mark", "streamSid": "MZ1", "mark": map[string]any{"name": "responsePart-1"}},
		{"event": "clear", "streamSid": "MZ1"},
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, w := range want {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, w, got)
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	p := New()
	_, conn := dialMediaStream(t, p)

	require.NoError(t, conn.Close())
	assert.NotPanics(t, func() { _ = conn.Close() })
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, p.Len())

	assert.ErrorIs(t, conn.SendMedia("MZ1", "AA=="), ErrClosed)

	_, err := conn.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProviderCloseClosesConnections(t *testing.T) {
	p := New()
	_, conn := dialMediaStream(t, p)

	require.NoError(t, p.Close())
	assert.True(t, conn.Closed())
}
