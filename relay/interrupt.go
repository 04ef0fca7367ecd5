package relay

import "github.com/agentplexus/voicerelay/realtime"

// interrupt handles caller barge-in. The turn is cut from the state in one
// step, then the engine is told how much audio was heard and the caller's
// playback buffer is cleared. Send failures are logged; the pumps detect a
// dead leg on their own.
func (r *Relay) interrupt() bool {
	cut, ok := r.state.Interrupt()
	if !ok {
		return true
	}

	if r.timingMath {
		r.logger.Debug("elapsed time for truncation",
			"latest_ms", cut.Latest, "start_ms", cut.Start, "elapsed_ms", cut.ElapsedMS)
	}
	r.logger.Info("interrupting response", "item_id", cut.ItemID, "audio_end_ms", cut.ElapsedMS)

	if r.shutdown.Requested() {
		return false
	}

	if cut.ItemID != "" {
		if err := r.engine.Send(realtime.NewConversationItemTruncate(cut.ItemID, cut.ElapsedMS)); err != nil {
			r.logger.Error("failed to send truncate to engine", "item_id", cut.ItemID, "error", err)
		}
	}

	if err := r.telephony.Clear(cut.StreamSID); err != nil {
		r.logger.Warn("failed to send clear to telephony", "stream_sid", cut.StreamSID, "error", err)
	}

	r.logger.Info("cleared pending marks and reset turn")
	return true
}
