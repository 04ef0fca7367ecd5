package relay

import (
	"context"
	"encoding/base64"

	"github.com/agentplexus/voicerelay"
	"github.com/agentplexus/voicerelay/realtime"
)

// sendToTelephony is the outbound pump. It returns when the engine leg
// closes, the call ends, or ctx is canceled.
func (r *Relay) sendToTelephony(ctx context.Context) error {
	defer r.pumpExited(ctx)
	r.logger.Info("started sending to telephony")

	for {
		data, err := r.engine.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("engine connection closed", "stream_sid", r.state.StreamSID(), "error", err)
			r.shutdown.Trigger(ReasonEngineDisconnected)
			return nil
		}

		if r.shutdown.Requested() {
			r.logger.Info("shutdown detected, stopping outbound pump")
			return nil
		}

		if !r.handleEngineMessage(data) {
			return nil
		}
	}
}

// handleEngineMessage acts on one engine event and reports whether the
// pump should keep running.
func (r *Relay) handleEngineMessage(data []byte) bool {
	ev, err := realtime.ParseServerEvent(data)
	if err != nil {
		r.logger.Error("failed to decode engine message", "stream_sid", r.state.StreamSID(), "error", err)
		return true
	}

	if realtime.IsLogged(ev.EventType()) {
		r.logger.Info("received engine event", "type", ev.EventType())
	}

	switch ev := ev.(type) {
	case realtime.AudioDelta:
		return r.forwardAssistantAudio(ev)

	case realtime.ContentPartDone:
		r.state.AppendTranscript(SpeakerAgent, ev.Transcript)
		r.logger.Info("agent transcript", "text", ev.Transcript)

	case realtime.SpeechStarted:
		r.logger.Info("caller speech started")
		if r.state.InFlight() {
			return r.interrupt()
		}

	case realtime.InputTranscriptCompleted:
		r.state.AppendTranscript(SpeakerCaller, ev.Transcript)
		r.logger.Info("caller transcript", "text", ev.Transcript)

	case realtime.FunctionCallArgumentsDone:
		if ev.Name != voicerelay.HangupFunctionName {
			r.logger.Debug("ignoring function call", "name", ev.Name)
			return true
		}
		args, err := ev.DecodeArguments()
		if err != nil {
			r.logger.Warn("hangup arguments are not valid JSON", "error", err)
		}
		r.logger.Info("engine requested hangup", "name", ev.Name, "args", args)
		r.shutdown.Trigger(ReasonEngineHangup)
		return false

	case realtime.ErrorEvent:
		r.logger.Error("engine reported error",
			"stream_sid", r.state.StreamSID(), "code", ev.Code, "kind", ev.Kind, "message", ev.Message)
	}
	return true
}

// forwardAssistantAudio relays one audio delta to the caller and follows it
// with a playback mark.
func (r *Relay) forwardAssistantAudio(ev realtime.AudioDelta) bool {
	audio, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		r.logger.Error("invalid audio delta", "item_id", ev.ItemID, "error", err)
		return true
	}

	streamSID := r.state.StreamSID()
	if streamSID == "" {
		r.logger.Debug("dropping assistant audio before stream start", "item_id", ev.ItemID)
		return true
	}

	if err := r.telephony.SendMedia(streamSID, base64.StdEncoding.EncodeToString(audio)); err != nil {
		r.logger.Warn("failed to send audio to telephony", "stream_sid", streamSID, "error", err)
		r.shutdown.Trigger(ReasonTelephonyDisconnected)
		return false
	}

	if start, began := r.state.BeginAudio(ev.ItemID); began && r.timingMath {
		r.logger.Debug("response start timestamp set", "start_ms", start, "item_id", ev.ItemID)
	}

	name := r.state.PushMark()
	if err := r.telephony.SendMark(streamSID, name); err != nil {
		r.logger.Warn("failed to send mark to telephony", "stream_sid", streamSID, "error", err)
		r.shutdown.Trigger(ReasonTelephonyDisconnected)
		return false
	}
	return true
}
