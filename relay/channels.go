package relay

import (
	"context"

	"github.com/agentplexus/voicerelay/realtime"
	"github.com/agentplexus/voicerelay/transport"
)

// Verify interface compliance at compile time.
var (
	_ Telephony = (*transport.Connection)(nil)
	_ Engine    = (*realtime.Conn)(nil)
)

// Telephony is the call leg: Twilio Media Streams in production.
type Telephony interface {
	// Receive returns the next raw inbound message, ctx.Err() when ctx
	// ends first, or another error once the leg is gone.
	Receive(ctx context.Context) ([]byte, error)
	SendMedia(streamSID, payload string) error
	SendMark(streamSID, name string) error
	Clear(streamSID string) error
	Close() error
}

// Engine is the realtime AI leg.
type Engine interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(event any) error
	Closed() bool
	Close() error
}
