// Package twiml builds the TwiML documents returned to Twilio webhooks.
package twiml

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/agentplexus/voicerelay"
)

// Verb is a TwiML instruction that can appear in a Response.
type Verb interface {
	verb()
}

// Response represents a TwiML <Response> document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []Verb
}

// NewResponse returns a document containing verbs in order.
func NewResponse(verbs ...Verb) *Response {
	return &Response{Verbs: verbs}
}

// Append adds verbs to the end of the document.
func (r *Response) Append(verbs ...Verb) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Marshal renders the document with an XML header.
func (r *Response) Marshal() (string, error) {
	b, err := xml.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal twiml: %w", err)
	}
	return xml.Header + string(b), nil
}

// String renders the document, or an empty <Response/> if it cannot be
// encoded.
func (r *Response) String() string {
	s, err := r.Marshal()
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return s
}

// Pause represents a TwiML <Pause> element.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Say represents a TwiML <Say> element.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Hangup represents a TwiML <Hangup> element.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Connect represents a TwiML <Connect> element.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Action  string   `xml:"action,attr,omitempty"`
	Stream  *Stream
}

// Stream represents a bidirectional Media Stream inside <Connect>.
type Stream struct {
	XMLName        xml.Name    `xml:"Stream"`
	URL            string      `xml:"url,attr"`
	Name           string      `xml:"name,attr,omitempty"`
	StatusCallback string      `xml:"statusCallback,attr,omitempty"`
	Parameters     []Parameter `xml:"Parameter"`
}

// Parameter is a custom key/value passed to the stream's start event.
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (Pause) verb()   {}
func (Say) verb()     {}
func (Hangup) verb()  {}
func (Connect) verb() {}

// StreamURL returns the websocket URL Twilio should stream a call to.
// Any scheme on host is replaced with wss.
func StreamURL(host string) string {
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimSuffix(host, "/")
	return "wss://" + host + voicerelay.MediaStreamPath
}

// MediaStream returns the document that answers a call, waits
// pauseSeconds, and connects the call audio to streamURL. Parameters are
// emitted in key order.
func MediaStream(streamURL string, pauseSeconds int, params map[string]string) *Response {
	stream := &Stream{URL: streamURL}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stream.Parameters = append(stream.Parameters, Parameter{Name: k, Value: params[k]})
	}

	resp := NewResponse()
	if pauseSeconds > 0 {
		resp.Append(Pause{Length: pauseSeconds})
	}
	return resp.Append(Connect{Stream: stream})
}

// Reject returns a document that speaks message, if any, and hangs up.
func Reject(message string) *Response {
	resp := NewResponse()
	if message != "" {
		resp.Append(Say{Text: message})
	}
	return resp.Append(Hangup{})
}
