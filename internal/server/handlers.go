package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentplexus/voicerelay/internal/chat"
	"github.com/agentplexus/voicerelay/twiml"
)

// rejectMessage is spoken to callers whose incoming call is refused.
const rejectMessage = "Sorry, this number cannot take your call right now. Goodbye."

// errorResponse is the body of every error reply.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "voice relay is running"})
}

// handleIncomingCall answers Twilio's voice webhook with TwiML that
// connects the call to the media stream.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	callSID := r.Form.Get("CallSid")

	_, doc, err := s.cfg.Calls.HandleIncomingWebhook(callSID, r.Form.Get("From"), r.Form.Get("To"), s.publicHost(r))
	if err != nil {
		s.logger.Warn("incoming call rejected", "call_sid", callSID, "error", err)
		doc, merr := twiml.Reject(rejectMessage).Marshal()
		if merr != nil {
			writeError(w, http.StatusInternalServerError, "failed to build response")
			return
		}
		writeXML(w, doc)
		return
	}

	s.logger.Info("incoming call", "call_sid", callSID, "host", s.publicHost(r))
	writeXML(w, doc)
}

func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// handleCallStatus applies a Twilio status callback and ends the relay of
// a call that is over.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	if callSID == "" || status == "" {
		writeError(w, http.StatusBadRequest, "CallSid and CallStatus are required")
		return
	}

	if s.cfg.Calls.HandleStatusCallback(callSID, status) {
		if rl, ok := s.relays.lookup(callSID); ok {
			rl.Stop("call " + status)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type callRequest struct {
	ToPhone string `json:"to_phone"`
}

type callResponse struct {
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToPhone == "" {
		s.logger.Warn("missing to_phone in call request")
		writeError(w, http.StatusBadRequest, "Phone number ('to_phone') is required.")
		return
	}

	user, _, _ := r.BasicAuth()
	s.logger.Info("initiating call", "user", user, "to", req.ToPhone)

	call, err := s.cfg.Calls.MakeStreamCall(r.Context(), s.publicHost(r), req.ToPhone)
	if err != nil {
		s.logger.Error("failed to initiate call", "to", req.ToPhone, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.logger.Info("call initiated", "call_sid", call.ID())
	writeJSON(w, http.StatusOK, callResponse{Message: "Call initiated", CallSID: call.ID()})
}

type chatRequest struct {
	LastMessage     string `json:"last_message"`
	MessagesHistory string `json:"masseges_history"`
	History         string `json:"messages_history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	history := req.MessagesHistory
	if history == "" {
		history = req.History
	}
	s.logger.Debug("chat request", "last_message", req.LastMessage, "history", history)

	reply, err := s.cfg.Chat.Complete(r.Context(), req.LastMessage)
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, "Field 'last_message' is required.")
		return
	case err != nil:
		s.logger.Error("chat completion failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
