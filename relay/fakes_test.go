package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errLegClosed = errors.New("leg closed")

type sentFrame struct {
	Kind      string
	StreamSID string
	Value     string
}

// fakeTelephony feeds scripted messages to the relay and records what it
// sends back.
type fakeTelephony struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []sentFrame
	sendErr error
	closes  int
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeTelephony) push(msg string) { f.in <- []byte(msg) }

func (f *fakeTelephony) hangup() { f.once.Do(func() { close(f.closed) }) }

func (f *fakeTelephony) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return nil, errLegClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTelephony) record(frame sentFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTelephony) SendMedia(streamSID, payload string) error {
	return f.record(sentFrame{Kind: "media", StreamSID: streamSID, Value: payload})
}

func (f *fakeTelephony) SendMark(streamSID, name string) error {
	return f.record(sentFrame{Kind: "mark", StreamSID: streamSID, Value: name})
}

func (f *fakeTelephony) Clear(streamSID string) error {
	return f.record(sentFrame{Kind: "clear", StreamSID: streamSID})
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.hangup()
	return nil
}

func (f *fakeTelephony) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTelephony) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTelephony) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeEngine plays the realtime side. Every sent event is decoded into a
// generic map so tests can inspect it by type.
type fakeEngine struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []map[string]any
	sendErr error
	closes  int
	notify  chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		notify: make(chan string, 256),
	}
}

func (f *fakeEngine) push(msg string) { f.in <- []byte(msg) }

func (f *fakeEngine) hangup() { f.once.Do(func() { close(f.closed) }) }

func (f *fakeEngine) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return nil, errLegClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeEngine) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	f.mu.Unlock()

	typ, _ := m["type"].(string)
	select {
	case f.notify <- typ:
	default:
	}
	return nil
}

func (f *fakeEngine) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.hangup()
	return nil
}

func (f *fakeEngine) events() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.sent...)
}

func (f *fakeEngine) eventsOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, e := range f.events() {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEngine) types() []string {
	var out []string
	for _, e := range f.events() {
		t, _ := e["type"].(string)
		out = append(out, t)
	}
	return out
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeSource struct {
	template     map[string]any
	instructions string
	templateErr  error
	instrErr     error
}

func (s *fakeSource) SessionTemplate(context.Context) (map[string]any, error) {
	if s.templateErr != nil {
		return nil, s.templateErr
	}
	return s.template, nil
}

func (s *fakeSource) Instructions(context.Context) (string, error) {
	if s.instrErr != nil {
		return "", s.instrErr
	}
	return s.instructions, nil
}

func defaultSource() *fakeSource {
	return &fakeSource{
		template: map[string]any{
			"modalities":         []any{"audio", "text"},
			"input_audio_format": "g711_ulaw",
			"turn_detection":     map[string]any{"type": "server_vad"},
		},
		instructions: "You are a helpful agent.",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
