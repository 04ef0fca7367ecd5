// Package relay is the duplex media-relay controller for one call.
//
// A Relay bootstraps the engine session, then runs two pumps until the
// call ends: the inbound pump moves caller audio from the telephony leg to
// the engine, and the outbound pump moves assistant audio back, issuing
// playback marks and truncating the assistant when the caller barges in.
// Either pump, the caller, the engine, or Stop can end the call; Run then
// joins both pumps and closes both legs exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentplexus/voicerelay/realtime"
	"github.com/agentplexus/voicerelay/transport"
)

const (
	defaultPollInterval   = time.Second
	defaultClosingMessage = "close the call now with the customer"
)

// Report summarizes a finished call.
type Report struct {
	CallID     string
	StreamSID  string
	CallSID    string
	Reason     string
	Transcript []TranscriptEntry
	Duration   time.Duration
}

// FormatTranscript renders the transcript one utterance per line.
func (r Report) FormatTranscript() string {
	var b strings.Builder
	for _, e := range r.Transcript {
		label := "CUSTOMER"
		if e.Speaker == SpeakerAgent {
			label = "AGENT"
		}
		fmt.Fprintf(&b, "%s TRANSCRIPT: %s\n", label, e.Text)
	}
	return b.String()
}

// Relay connects one telephony leg to one engine leg.
type Relay struct {
	telephony Telephony
	engine    Engine
	source    SessionSource
	state     *State
	shutdown  *Shutdown
	logger    *slog.Logger

	callID         string
	tunables       Tunables
	pollInterval   time.Duration
	closingMessage string
	timingMath     bool
	onStart        func(transport.StartEvent)
	onEnd          func(Report)
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithCallID tags logs and the report with an identifier for this call.
func WithCallID(id string) Option {
	return func(r *Relay) {
		r.callID = id
	}
}

// WithTunables sets the engine settings merged at bootstrap.
func WithTunables(t Tunables) Option {
	return func(r *Relay) {
		r.tunables = t
	}
}

// WithPollInterval bounds each inbound wait so the pump notices shutdown.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithClosingMessage sets the text sent to the engine when the call ends.
func WithClosingMessage(text string) Option {
	return func(r *Relay) {
		r.closingMessage = text
	}
}

// WithTimingMath logs the barge-in timing calculations at debug level.
func WithTimingMath(enabled bool) Option {
	return func(r *Relay) {
		r.timingMath = enabled
	}
}

// OnStart is called from the inbound pump when the stream starts.
func OnStart(fn func(transport.StartEvent)) Option {
	return func(r *Relay) {
		r.onStart = fn
	}
}

// OnEnd is called once after both legs are closed.
func OnEnd(fn func(Report)) Option {
	return func(r *Relay) {
		r.onEnd = fn
	}
}

// New creates a Relay for one call.
func New(telephony Telephony, engine Engine, source SessionSource, opts ...Option) *Relay {
	r := &Relay{
		telephony:      telephony,
		engine:         engine,
		source:         source,
		state:          NewState(),
		shutdown:       NewShutdown(),
		pollInterval:   defaultPollInterval,
		closingMessage: defaultClosingMessage,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.callID != "" {
		r.logger = r.logger.With("call_id", r.callID)
	}
	return r
}

// State returns the session state.
func (r *Relay) State() *State {
	return r.state
}

// Stop ends the call from outside the relay, e.g. on a status callback.
func (r *Relay) Stop(reason string) {
	if reason == "" {
		reason = ReasonStopped
	}
	if r.shutdown.Trigger(reason) {
		r.logger.Info("relay stop requested", "reason", reason)
	}
}

// Done is closed once the call is ending.
func (r *Relay) Done() <-chan struct{} {
	return r.shutdown.Done()
}

// Run bootstraps the session and relays until the call ends. Both legs are
// closed when Run returns. The only error returned is a bootstrap failure.
func (r *Relay) Run(ctx context.Context) error {
	started := time.Now()

	if err := Bootstrap(ctx, r.engine, r.source, r.tunables, r.logger); err != nil {
		r.logger.Error("session bootstrap failed", "error", err)
		r.shutdown.Trigger(ReasonBootstrapFailed)
		r.teardown(started, false)
		return err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return r.receiveFromTelephony(pumpCtx) })
	g.Go(func() error { return r.sendToTelephony(pumpCtx) })
	r.logger.Info("relay pumps started")

	select {
	case <-r.shutdown.Done():
	case <-ctx.Done():
		r.shutdown.Trigger(ReasonCanceled)
	}
	r.logger.Info("shutdown triggered, closing connections", "reason", r.shutdown.Reason())

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("relay pump failed", "error", err)
	}

	r.teardown(started, true)
	return nil
}

// pumpExited makes sure a pump that stops on its own ends the call.
func (r *Relay) pumpExited(ctx context.Context) {
	if ctx.Err() != nil {
		r.shutdown.Trigger(ReasonCanceled)
		return
	}
	r.shutdown.Trigger(ReasonPumpExited)
}

// teardown sends the courtesy message if the engine is still open, closes
// both legs and reports the call.
func (r *Relay) teardown(started time.Time, courtesy bool) {
	if err := r.telephony.Close(); err != nil {
		r.logger.Warn("failed to close telephony connection", "error", err)
	} else {
		r.logger.Info("telephony connection closed")
	}

	if courtesy && r.closingMessage != "" && !r.engine.Closed() {
		if err := r.engine.Send(realtime.NewUserText(r.closingMessage)); err != nil {
			r.logger.Warn("failed to send closing message", "error", err)
		}
	}
	if err := r.engine.Close(); err != nil {
		r.logger.Warn("failed to close engine connection", "error", err)
	} else {
		r.logger.Info("engine connection closed")
	}

	snap := r.state.Snapshot()
	report := Report{
		CallID:     r.callID,
		StreamSID:  snap.StreamSID,
		CallSID:    snap.CallSID,
		Reason:     r.shutdown.Reason(),
		Transcript: snap.Transcript,
		Duration:   time.Since(started),
	}
	r.logger.Info("call ended",
		"stream_sid", report.StreamSID,
		"call_sid", report.CallSID,
		"reason", report.Reason,
		"duration", report.Duration.Round(time.Millisecond),
		"utterances", len(report.Transcript),
		"transcript", report.FormatTranscript(),
	)

	if r.onEnd != nil {
		r.onEnd(report)
	}
}
