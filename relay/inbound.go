package relay

import (
	"context"
	"errors"

	"github.com/agentplexus/voicerelay"
	"github.com/agentplexus/voicerelay/realtime"
	"github.com/agentplexus/voicerelay/transport"
)

// receiveFromTelephony is the inbound pump. Each wait is bounded by the
// poll interval so the pump notices shutdown even when the caller is
// silent.
func (r *Relay) receiveFromTelephony(ctx context.Context) error {
	defer r.pumpExited(ctx)
	r.logger.Info("started receiving from telephony")

	for !r.shutdown.Requested() {
		waitCtx, cancel := context.WithTimeout(ctx, r.pollInterval)
		data, err := r.telephony.Receive(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			r.logger.Warn("telephony disconnected", "stream_sid", r.state.StreamSID(), "error", err)
			r.shutdown.Trigger(ReasonTelephonyDisconnected)
			return nil
		}

		r.handleTelephonyMessage(data)
	}
	return nil
}

func (r *Relay) handleTelephonyMessage(data []byte) {
	ev, err := transport.ParseEvent(data)
	if err != nil {
		r.logger.Warn("dropping malformed telephony message", "stream_sid", r.state.StreamSID(), "error", err)
		return
	}

	switch ev := ev.(type) {
	case transport.MediaEvent:
		r.forwardCallerAudio(ev)

	case transport.StartEvent:
		if !r.state.StartStream(ev.StreamSID, ev.CallSID) {
			r.logger.Warn("ignoring start for a second stream",
				"stream_sid", r.state.StreamSID(), "new_stream_sid", ev.StreamSID)
			return
		}
		r.logger.Info("incoming stream started", "stream_sid", ev.StreamSID, "call_sid", ev.CallSID)
		if !supportedMediaFormat(ev.MediaFormat) {
			r.logger.Warn("unexpected media format, engine expects g711 ulaw at 8kHz",
				"encoding", ev.MediaFormat.Encoding, "sample_rate", ev.MediaFormat.SampleRate)
		}
		if r.onStart != nil {
			r.onStart(ev)
		}

	case transport.MarkEvent:
		name, ok := r.state.AckMark()
		if !ok {
			r.logger.Debug("mark acknowledged with no pending marks", "mark", ev.Name)
			return
		}
		if ev.Name != "" && ev.Name != name {
			r.logger.Debug("mark acknowledged out of order", "expected", name, "got", ev.Name)
		}

	case transport.HangupEvent:
		r.logger.Info("received hangup from telephony", "event", ev.Reason, "stream_sid", r.state.StreamSID())
		r.shutdown.Trigger(ReasonCallerHangup)

	case transport.DTMFEvent:
		r.logger.Info("received dtmf", "digit", ev.Digit)

	case transport.ConnectedEvent:
		r.logger.Debug("media stream connected", "protocol", ev.Protocol, "version", ev.Version)

	default:
		r.logger.Debug("ignoring telephony event", "event", ev.EventType())
	}
}

// supportedMediaFormat reports whether the stream carries audio the engine
// session is configured for. An absent format is assumed to be the default.
func supportedMediaFormat(f transport.MediaFormat) bool {
	if f.Encoding != "" && f.Encoding != voicerelay.AudioEncodingMulaw {
		return false
	}
	return f.SampleRate == 0 || f.SampleRate == voicerelay.DefaultSampleRate
}

func (r *Relay) forwardCallerAudio(ev transport.MediaEvent) {
	if r.engine.Closed() {
		r.logger.Debug("engine closed, dropping caller audio")
		return
	}

	if latest, advanced := r.state.ObserveTimestamp(ev.Timestamp); !advanced {
		r.logger.Debug("stale media timestamp", "timestamp", ev.Timestamp, "latest", latest)
	}

	if r.shutdown.Requested() {
		return
	}
	if err := r.engine.Send(realtime.NewInputAudioBufferAppend(ev.Payload)); err != nil {
		r.logger.Error("failed to append caller audio", "stream_sid", r.state.StreamSID(), "error", err)
		r.shutdown.Trigger(ReasonEngineDisconnected)
	}
}
