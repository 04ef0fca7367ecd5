// Package callsystem places and tracks PSTN calls whose audio is streamed
// to the relay. Provider implements the omnivoice callsystem.CallSystem
// interface on top of the Twilio REST API.
package callsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentplexus/omnivoice/agent"
	"github.com/agentplexus/omnivoice/callsystem"
	omnitransport "github.com/agentplexus/omnivoice/transport"

	"github.com/agentplexus/voicerelay"
	"github.com/agentplexus/voicerelay/internal/client"
	"github.com/agentplexus/voicerelay/twiml"
)

// Verify interface compliance at compile time.
var (
	_ callsystem.CallSystem = (*Provider)(nil)
	_ callsystem.Call       = (*Call)(nil)
)

// ErrNoFromNumber is returned when a call is placed without a caller ID.
var ErrNoFromNumber = errors.New("from number is required (use WithFrom or set a default phone number)")

// answerPause is how long Twilio waits before connecting the stream.
const answerPause = 1

// Provider places outbound calls, answers inbound ones with stream TwiML,
// and keeps a registry of live calls keyed by call SID.
type Provider struct {
	client      *client.Client
	logger      *slog.Logger
	handler     callsystem.CallHandler
	config      callsystem.CallSystemConfig
	defaultFrom string

	mu    sync.RWMutex
	calls map[string]*Call
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	accountSID  string
	authToken   string
	phoneNumber string
	webhookURL  string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(o *options) {
		o.accountSID = sid
	}
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) Option {
	return func(o *options) {
		o.authToken = token
	}
}

// WithPhoneNumber sets the default caller ID for outbound calls.
func WithPhoneNumber(number string) Option {
	return func(o *options) {
		o.phoneNumber = number
	}
}

// WithWebhookURL sets the public base URL of this service, e.g.
// https://relay.example.com. Stream and status callback URLs derive from it.
func WithWebhookURL(url string) Option {
	return func(o *options) {
		o.webhookURL = url
	}
}

// WithAPIBaseURL overrides the Twilio REST API base URL.
func WithAPIBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	twilioClient, err := client.New(client.Config{
		AccountSID: cfg.accountSID,
		AuthToken:  cfg.authToken,
		BaseURL:    cfg.baseURL,
		HTTPClient: cfg.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio client: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		client:      twilioClient,
		logger:      logger,
		defaultFrom: cfg.phoneNumber,
		calls:       make(map[string]*Call),
		config: callsystem.CallSystemConfig{
			AccountSID:  cfg.accountSID,
			AuthToken:   cfg.authToken,
			PhoneNumber: cfg.phoneNumber,
			WebhookURL:  cfg.webhookURL,
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "twilio"
}

// Configure replaces the call system configuration.
func (p *Provider) Configure(config callsystem.CallSystemConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.config = config
	if config.PhoneNumber != "" {
		p.defaultFrom = config.PhoneNumber
	}
	return nil
}

// OnIncomingCall sets the handler run for each inbound call webhook.
func (p *Provider) OnIncomingCall(handler callsystem.CallHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// StreamTwiML returns the TwiML that connects a call to the media stream
// on host. An empty host falls back to the configured webhook URL.
func (p *Provider) StreamTwiML(host string) string {
	if host == "" {
		p.mu.RLock()
		host = p.config.WebhookURL
		p.mu.RUnlock()
	}
	return twiml.MediaStream(twiml.StreamURL(host), answerPause, nil).String()
}

func (p *Provider) statusCallbackURL(host string) string {
	base := host
	if base == "" {
		p.mu.RLock()
		base = p.config.WebhookURL
		p.mu.RUnlock()
	}

	if base == "" {
		return ""
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + voicerelay.CallStatusPath
}

// MakeCall places an outbound call whose audio is streamed to the relay
// at the configured webhook URL.
func (p *Provider) MakeCall(ctx context.Context, to string, opts ...callsystem.CallOption) (callsystem.Call, error) {
	return p.MakeStreamCall(ctx, "", to, opts...)
}

// MakeStreamCall places an outbound call whose audio is streamed to the
// relay on host. An empty host uses the configured webhook URL.
func (p *Provider) MakeStreamCall(ctx context.Context, host, to string, opts ...callsystem.CallOption) (callsystem.Call, error) {
	callOpts := &callsystem.CallOptions{}
	for _, opt := range opts {
		opt(callOpts)
	}

	p.mu.RLock()
	from := callOpts.From
	if from == "" {
		from = p.defaultFrom
	}
	p.mu.RUnlock()
	if from == "" {
		return nil, ErrNoFromNumber
	}

	params := &client.CreateCallParams{
		To:                   to,
		From:                 from,
		Twiml:                p.StreamTwiML(host),
		StatusCallback:       callOpts.StatusCallback,
		StatusCallbackMethod: http.MethodPost,
		StatusCallbackEvent:  []string{"initiated", "ringing", "answered", "completed"},
		Timeout:              callOpts.Timeout,
		Record:               callOpts.Record,
	}
	if params.StatusCallback == "" {
		params.StatusCallback = p.statusCallbackURL(host)
	}
	if callOpts.MachineDetect {
		params.MachineDetection = "Enable"
	}

	twilioCall, err := p.client.CreateCall(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to make call: %w", err)
	}

	call := p.register(&Call{
		id:        twilioCall.SID,
		direction: callsystem.Outbound,
		status:    mapCallStatus(twilioCall.Status),
		from:      from,
		to:        to,
		startTime: time.Now(),
	})
	p.logger.Info("call initiated", "call_sid", call.id, "to", to)
	return call, nil
}

// GetCall returns a tracked call, or fetches it from Twilio.
func (p *Provider) GetCall(ctx context.Context, callID string) (callsystem.Call, error) {
	p.mu.RLock()
	call, ok := p.calls[callID]
	p.mu.RUnlock()
	if ok {
		return call, nil
	}

	twilioCall, err := p.client.FetchCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &Call{
		id:        twilioCall.SID,
		direction: mapDirection(twilioCall.Direction),
		status:    mapCallStatus(twilioCall.Status),
		from:      twilioCall.From,
		to:        twilioCall.To,
		provider:  p,
	}, nil
}

// ListCalls lists tracked calls that have not ended.
func (p *Provider) ListCalls(ctx context.Context) ([]callsystem.Call, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	calls := make([]callsystem.Call, 0, len(p.calls))
	for _, call := range p.calls {
		calls = append(calls, call)
	}
	return calls, nil
}

// Close hangs up every tracked call.
func (p *Provider) Close() error {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]*Call)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for id, call := range calls {
		if _, err := p.client.HangupCall(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("hangup %s: %w", id, err))
			continue
		}
		call.setStatus(callsystem.StatusEnded)
	}
	return errors.Join(errs...)
}

// HandleIncomingWebhook registers an inbound call, runs the incoming call
// handler, and returns the TwiML that connects it to the media stream.
func (p *Provider) HandleIncomingWebhook(callSID, from, to, host string) (callsystem.Call, string, error) {
	call := p.register(&Call{
		id:        callSID,
		direction: callsystem.Inbound,
		status:    callsystem.StatusRinging,
		from:      from,
		to:        to,
		startTime: time.Now(),
	})

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if handler != nil {
		if err := handler(call); err != nil {
			return nil, "", err
		}
	}
	return call, p.StreamTwiML(host), nil
}

// HandleStatusCallback applies a Twilio status callback. It reports
// whether the status ends the call; ended calls leave the registry.
func (p *Provider) HandleStatusCallback(callSID, status string) bool {
	terminal := voicerelay.IsTerminalStatus(status)

	p.mu.Lock()
	call, ok := p.calls[callSID]
	if ok && terminal {
		delete(p.calls, callSID)
	}
	p.mu.Unlock()

	if ok {
		call.setStatus(mapCallStatus(status))
	}
	p.logger.Info("call status updated", "call_sid", callSID, "status", status, "tracked", ok)
	return terminal
}

// StreamStarted marks a call as answered once its media stream starts.
// Calls placed outside this process are registered on first sight.
func (p *Provider) StreamStarted(callSID string) {
	if callSID == "" {
		return
	}
	p.mu.RLock()
	call, ok := p.calls[callSID]
	p.mu.RUnlock()

	if !ok {
		call = p.register(&Call{
			id:        callSID,
			direction: callsystem.Inbound,
			startTime: time.Now(),
		})
	}
	call.setStatus(callsystem.StatusAnswered)
}

// HangupCall ends a call over REST, tracked or not.
func (p *Provider) HangupCall(ctx context.Context, callSID string) error {
	p.mu.Lock()
	call, ok := p.calls[callSID]
	delete(p.calls, callSID)
	p.mu.Unlock()

	if _, err := p.client.HangupCall(ctx, callSID); err != nil {
		return fmt.Errorf("failed to hangup: %w", err)
	}
	if ok {
		call.setStatus(callsystem.StatusEnded)
	}
	p.logger.Info("call hung up", "call_sid", callSID)
	return nil
}

func (p *Provider) register(call *Call) *Call {
	call.provider = p
	p.mu.Lock()
	p.calls[call.id] = call
	p.mu.Unlock()
	return call
}

// Call is a tracked Twilio call.
type Call struct {
	id        string
	direction callsystem.CallDirection
	from      string
	to        string
	startTime time.Time
	provider  *Provider

	mu      sync.RWMutex
	status  callsystem.CallStatus
	endTime time.Time
	agent   agent.Session
}

// ID returns the call SID.
func (c *Call) ID() string {
	return c.id
}

// Direction returns inbound or outbound.
func (c *Call) Direction() callsystem.CallDirection {
	return c.direction
}

// Status returns the current call status.
func (c *Call) Status() callsystem.CallStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// From returns the caller ID.
func (c *Call) From() string {
	return c.from
}

// To returns the called number.
func (c *Call) To() string {
	return c.to
}

// StartTime returns when the call was first seen.
func (c *Call) StartTime() time.Time {
	return c.startTime
}

// Duration returns how long the call has lasted, or lasted if it ended.
func (c *Call) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startTime.IsZero() {
		return 0
	}
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Answer marks an inbound call answered. Twilio answers on our behalf when
// it fetches the stream TwiML.
func (c *Call) Answer(ctx context.Context) error {
	c.setStatus(callsystem.StatusAnswered)
	return nil
}

// Hangup ends the call.
func (c *Call) Hangup(ctx context.Context) error {
	return c.provider.HangupCall(ctx, c.id)
}

// Transport returns nil: call audio is carried by the media stream relay,
// not an omnivoice transport.
func (c *Call) Transport() omnitransport.Connection {
	return nil
}

// AttachAgent attaches and starts an omnivoice agent session.
func (c *Call) AttachAgent(ctx context.Context, session agent.Session) error {
	c.mu.Lock()
	c.agent = session
	c.mu.Unlock()
	return session.Start(ctx)
}

// DetachAgent stops the attached agent session, if any.
func (c *Call) DetachAgent(ctx context.Context) error {
	c.mu.Lock()
	session := c.agent
	c.agent = nil
	c.mu.Unlock()

	if session != nil {
		return session.Stop(ctx)
	}
	return nil
}

func (c *Call) setStatus(status callsystem.CallStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if isEnded(status) && c.endTime.IsZero() {
		c.endTime = time.Now()
	}
}

func isEnded(status callsystem.CallStatus) bool {
	switch status {
	case callsystem.StatusEnded, callsystem.StatusBusy, callsystem.StatusNoAnswer, callsystem.StatusFailed:
		return true
	}
	return false
}

// mapCallStatus maps a Twilio call status to the omnivoice status.
func mapCallStatus(status string) callsystem.CallStatus {
	switch status {
	case voicerelay.CallStatusQueued, voicerelay.CallStatusRinging:
		return callsystem.StatusRinging
	case voicerelay.CallStatusInProgress:
		return callsystem.StatusAnswered
	case voicerelay.CallStatusCompleted:
		return callsystem.StatusEnded
	case voicerelay.CallStatusBusy:
		return callsystem.StatusBusy
	case voicerelay.CallStatusNoAnswer:
		return callsystem.StatusNoAnswer
	case voicerelay.CallStatusFailed, voicerelay.CallStatusCanceled:
		return callsystem.StatusFailed
	default:
		return callsystem.StatusRinging
	}
}

func mapDirection(dir string) callsystem.CallDirection {
	if dir == "inbound" {
		return callsystem.Inbound
	}
	return callsystem.Outbound
}
