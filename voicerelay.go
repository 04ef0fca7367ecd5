// Package voicerelay bridges a Twilio Media Streams call leg and an Azure
// OpenAI realtime session, relaying audio and turn-taking events in both
// directions.
//
// The module is organized as:
//   - relay: the duplex media-relay controller (pumps, barge-in, shutdown)
//   - transport: the Twilio Media Streams telephony channel
//   - realtime: the Azure OpenAI realtime engine channel
//   - callsystem: PSTN call placement and call registry
//   - twiml: TwiML documents for incoming-call webhooks
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID            - Twilio Account SID
//	TWILIO_AUTH_TOKEN             - Twilio Auth Token
//	AZURE_OPENAI_ENDPOINT         - realtime resource host (no scheme)
//	AZURE_OPENAI_DEPLOYMENT_NAME  - realtime deployment
//	AZURE_OPENAI_API_KEY          - API key
//
// # Quick Start
//
//	voicerelay serve --addr :8080
package voicerelay

// Version is the module version.
const Version = "0.1.0"

// Twilio API constants.
const (
	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

	// MediaStreamPath is the HTTP path Twilio connects its Media Stream to.
	MediaStreamPath = "/media-stream"

	// IncomingCallPath is the TwiML webhook path for answered calls.
	IncomingCallPath = "/incoming-call"

	// CallStatusPath receives Twilio status callbacks.
	CallStatusPath = "/call-status"
)

// Audio format constants for Media Streams.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz) Twilio streams.
	AudioEncodingMulaw = "audio/x-mulaw"

	// DefaultSampleRate is the default sample rate for Twilio audio (8kHz).
	DefaultSampleRate = 8000
)

// Call status constants.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// IsTerminalStatus reports whether a Twilio call status ends the call.
func IsTerminalStatus(status string) bool {
	switch status {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// HangupFunctionName is the engine tool name that ends the call.
const HangupFunctionName = "hangup_call"
