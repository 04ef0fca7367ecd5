// Package client is a small Twilio REST client covering the Calls resource.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentplexus/voicerelay"
)

// ErrMissingCredentials is returned by New when the account SID or auth
// token is empty.
var ErrMissingCredentials = errors.New("twilio account SID and auth token are required")

// Client talks to the Twilio REST API with basic auth.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = voicerelay.DefaultAPIBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// AccountSID returns the account SID.
func (c *Client) AccountSID() string {
	return c.accountSID
}

// Call is a Twilio call resource.
type Call struct {
	SID         string `json:"sid"`
	AccountSID  string `json:"account_sid"`
	To          string `json:"to"`
	From        string `json:"from"`
	Status      string `json:"status"`
	Direction   string `json:"direction"`
	Duration    string `json:"duration"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	AnsweredBy  string `json:"answered_by"`
	DateCreated string `json:"date_created"`
}

// CreateCallParams are the parameters for placing a call. Exactly one of
// URL or Twiml should be set.
type CreateCallParams struct {
	To                   string
	From                 string
	URL                  string
	Twiml                string
	StatusCallback       string
	StatusCallbackMethod string
	StatusCallbackEvent  []string
	Timeout              time.Duration
	MachineDetection     string
	Record               bool
}

func (p *CreateCallParams) values() url.Values {
	data := url.Values{}
	data.Set("To", p.To)
	data.Set("From", p.From)
	if p.URL != "" {
		data.Set("Url", p.URL)
	}
	if p.Twiml != "" {
		data.Set("Twiml", p.Twiml)
	}
	if p.StatusCallback != "" {
		data.Set("StatusCallback", p.StatusCallback)
		if p.StatusCallbackMethod != "" {
			data.Set("StatusCallbackMethod", p.StatusCallbackMethod)
		}
		for _, ev := range p.StatusCallbackEvent {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if p.Timeout > 0 {
		data.Set("Timeout", strconv.Itoa(int(p.Timeout.Seconds())))
	}
	if p.MachineDetection != "" {
		data.Set("MachineDetection", p.MachineDetection)
	}
	if p.Record {
		data.Set("Record", "true")
		data.Set("RecordingChannels", "dual")
	}
	return data
}

// CreateCall places an outbound call.
func (c *Client) CreateCall(ctx context.Context, params *CreateCallParams) (*Call, error) {
	if params.To == "" || params.From == "" {
		return nil, errors.New("create call: to and from are required")
	}

	var call Call
	if err := c.post(ctx, c.callsURL(""), params.values(), &call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	return &call, nil
}

// FetchCall retrieves a call by SID.
func (c *Client) FetchCall(ctx context.Context, callSID string) (*Call, error) {
	var call Call
	if err := c.get(ctx, c.callsURL(callSID), &call); err != nil {
		return nil, fmt.Errorf("fetch call %s: %w", callSID, err)
	}
	return &call, nil
}

// UpdateCallParams are the parameters for modifying a live call.
type UpdateCallParams struct {
	Twiml  string
	Status string
}

// UpdateCall redirects or ends a live call.
func (c *Client) UpdateCall(ctx context.Context, callSID string, params *UpdateCallParams) (*Call, error) {
	data := url.Values{}
	if params.Twiml != "" {
		data.Set("Twiml", params.Twiml)
	}
	if params.Status != "" {
		data.Set("Status", params.Status)
	}

	var call Call
	if err := c.post(ctx, c.callsURL(callSID), data, &call); err != nil {
		return nil, fmt.Errorf("update call %s: %w", callSID, err)
	}
	return &call, nil
}

// HangupCall ends a live call.
func (c *Client) HangupCall(ctx context.Context, callSID string) (*Call, error) {
	return c.UpdateCall(ctx, callSID, &UpdateCallParams{Status: voicerelay.CallStatusCompleted})
}

func (c *Client) callsURL(callSID string) string {
	if callSID == "" {
		return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	}
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, url.PathEscape(callSID))
}

// Error is an error response from the Twilio API.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "voicerelay/"+voicerelay.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
