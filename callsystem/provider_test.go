package callsystem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/agentplexus/omnivoice/callsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTwilio records the forms posted to the Calls resource.
type fakeTwilio struct {
	mu    sync.Mutex
	forms map[string][]url.Values
}

func (f *fakeTwilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.forms[r.URL.Path] = append(f.forms[r.URL.Path], r.PostForm)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/Calls.json"):
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"CAout","status":"queued"}`)
	case strings.Contains(r.URL.Path, "/Calls/CAmissing"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":20404,"message":"not found","status":404}`)
	case r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"sid":"CAremote","status":"in-progress","direction":"inbound","from":"+1555","to":"+1666"}`)
	default:
		_, _ = io.WriteString(w, `{"sid":"CAx","status":"completed"}`)
	}
}

func (f *fakeTwilio) posted(path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func newTestProvider(t *testing.T, opts ...Option) (*Provider, *fakeTwilio) {
	t.Helper()
	api := &fakeTwilio{forms: map[string][]url.Values{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithAccountSID("AC1"),
		WithAuthToken("token"),
		WithAPIBaseURL(srv.URL),
		WithWebhookURL("https://relay.example.com"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	p, err := New(opts...)
	require.NoError(t, err)
	return p, api
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(WithAccountSID("AC1"))
	require.Error(t, err)
}

func TestMakeCall(t *testing.T) {
	p, api := newTestProvider(t, WithPhoneNumber("+15550199"))

	call, err := p.MakeCall(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "CAout", call.ID())
	assert.Equal(t, callsystem.Outbound, call.Direction())
	assert.Equal(t, callsystem.StatusRinging, call.Status())

	forms := api.posted("/Accounts/AC1/Calls.json")
	require.Len(t, forms, 1)
	form := forms[0]
	assert.Equal(t, "+15550100", form.Get("To"))
	assert.Equal(t, "+15550199", form.Get("From"))
	assert.Contains(t, form.Get("Twiml"), `<Stream url="wss://relay.example.com/media-stream">`)
	assert.Contains(t, form.Get("Twiml"), `<Pause length="1">`)
	assert.Equal(t, "https://relay.example.com/call-status", form.Get("StatusCallback"))

	calls, err := p.ListCalls(context.Background())
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestMakeCallWithoutFromNumber(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.MakeCall(context.Background(), "+15550100")
	assert.ErrorIs(t, err, ErrNoFromNumber)
}

func TestHandleIncomingWebhook(t *testing.T) {
	p, _ := newTestProvider(t)

	var seen string
	p.OnIncomingCall(func(call callsystem.Call) error {
		seen = call.ID()
		return nil
	})

	call, doc, err := p.HandleIncomingWebhook("CAin", "+1555", "+1666", "tunnel.example.net")
	require.NoError(t, err)
	assert.Equal(t, "CAin", seen)
	assert.Equal(t, callsystem.Inbound, call.Direction())
	assert.Contains(t, doc, `<Stream url="wss://tunnel.example.net/media-stream">`)

	p.OnIncomingCall(func(callsystem.Call) error { return errors.New("rejected") })
	_, _, err = p.HandleIncomingWebhook("CAin2", "+1555", "+1666", "")
	require.Error(t, err)
}

func TestHandleStatusCallback(t *testing.T) {
	p, _ := newTestProvider(t)
	call, _, err := p.HandleIncomingWebhook("CA1", "+1555", "+1666", "")
	require.NoError(t, err)

	assert.False(t, p.HandleStatusCallback("CA1", "in-progress"))
	assert.Equal(t, callsystem.StatusAnswered, call.Status())

	assert.True(t, p.HandleStatusCallback("CA1", "completed"))
	assert.Equal(t, callsystem.StatusEnded, call.Status())

	calls, _ := p.ListCalls(context.Background())
	assert.Empty(t, calls)

	assert.True(t, p.HandleStatusCallback("CAunknown", "busy"))
}

func TestStreamStarted(t *testing.T) {
	p, _ := newTestProvider(t)
	p.StreamStarted("CAnew")

	call, err := p.GetCall(context.Background(), "CAnew")
	require.NoError(t, err)
	assert.Equal(t, callsystem.StatusAnswered, call.Status())
}

func TestGetCallFetchesUntracked(t *testing.T) {
	p, _ := newTestProvider(t)

	call, err := p.GetCall(context.Background(), "CAremote")
	require.NoError(t, err)
	assert.Equal(t, callsystem.Inbound, call.Direction())
	assert.Equal(t, callsystem.StatusAnswered, call.Status())
}

func TestHangupCall(t *testing.T) {
	p, api := newTestProvider(t)
	call, _, err := p.HandleIncomingWebhook("CA7", "+1555", "+1666", "")
	require.NoError(t, err)

	require.NoError(t, call.Hangup(context.Background()))
	assert.Equal(t, callsystem.StatusEnded, call.Status())

	forms := api.posted("/Accounts/AC1/Calls/CA7.json")
	require.Len(t, forms, 1)
	assert.Equal(t, "completed", forms[0].Get("Status"))

	err = p.HangupCall(context.Background(), "CAmissing")
	require.Error(t, err)
}

func TestCloseHangsUpTrackedCalls(t *testing.T) {
	p, api := newTestProvider(t)
	_, _, err := p.HandleIncomingWebhook("CA8", "+1555", "+1666", "")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Len(t, api.posted("/Accounts/AC1/Calls/CA8.json"), 1)
}

func TestMapCallStatus(t *testing.T) {
	tests := map[string]callsystem.CallStatus{
		"queued":      callsystem.StatusRinging,
		"ringing":     callsystem.StatusRinging,
		"in-progress": callsystem.StatusAnswered,
		"completed":   callsystem.StatusEnded,
		"busy":        callsystem.StatusBusy,
		"no-answer":   callsystem.StatusNoAnswer,
		"failed":      callsystem.StatusFailed,
		"canceled":    callsystem.StatusFailed,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapCallStatus(in), in)
	}
}

func TestMakeStreamCallUsesHost(t *testing.T) {
	p, api := newTestProvider(t, WithPhoneNumber("+15550199"))

	_, err := p.MakeStreamCall(context.Background(), "abc.ngrok.app", "+15550100")
	require.NoError(t, err)

	form := api.posted("/Accounts/AC1/Calls.json")[0]
	assert.Contains(t, form.Get("Twiml"), `<Stream url="wss://abc.ngrok.app/media-stream">`)
	assert.Equal(t, "https://abc.ngrok.app/call-status", form.Get("StatusCallback"))
}
