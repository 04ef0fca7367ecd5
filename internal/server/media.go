package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentplexus/voicerelay/relay"
	"github.com/agentplexus/voicerelay/transport"
)

// hangupTimeout bounds the REST hangup issued after the engine ends a call.
const hangupTimeout = 10 * time.Second

// handleMediaStream upgrades Twilio's media stream, opens an engine
// session, and relays the call until it ends.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.baseCtx.Err() != nil || !s.relays.reserve() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer s.relays.release()

	callID := uuid.NewString()
	logger := s.logger.With("call_id", callID)

	conn, err := s.cfg.Media.HandleWebSocket(w, r)
	if err != nil {
		logger.Error("media stream upgrade failed", "error", err)
		return
	}
	logger.Info("client connected", "remote_addr", conn.RemoteAddr().String())

	ctx := s.baseCtx
	engine, err := s.cfg.Dial(ctx)
	if err != nil {
		logger.Error("failed to connect to engine", "error", err)
		_ = conn.Close()
		return
	}

	var rl *relay.Relay
	rl = relay.New(conn, engine, s.cfg.Session,
		relay.WithLogger(s.logger),
		relay.WithCallID(callID),
		relay.WithTunables(s.cfg.Tunables),
		relay.WithPollInterval(s.cfg.PollInterval),
		relay.WithTimingMath(s.logger.Enabled(ctx, slog.LevelDebug)),
		relay.OnStart(func(ev transport.StartEvent) {
			s.relays.bind(ev.CallSID, rl)
			s.cfg.Calls.StreamStarted(ev.CallSID)
		}),
		relay.OnEnd(s.callEnded),
	)

	s.relays.add(callID, rl)
	defer func() { s.relays.remove(callID, rl.State().CallSID()) }()

	if err := rl.Run(ctx); err != nil {
		logger.Error("relay failed", "error", err)
	}
}

// callEnded hangs up the phone call when the engine ended the
// conversation; every other ending already means the call is over.
func (s *Server) callEnded(report relay.Report) {
	if report.Reason != relay.ReasonEngineHangup || report.CallSID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := s.cfg.Calls.HangupCall(ctx, report.CallSID); err != nil {
		s.logger.Warn("failed to hang up call", "call_id", report.CallID, "call_sid", report.CallSID, "error", err)
	}
}
