package relay

import (
	"fmt"
	"sync"
)

// Speaker identifies who said a transcript entry.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// TranscriptEntry is one finished utterance.
type TranscriptEntry struct {
	Speaker Speaker
	Text    string
}

// markPrefix names playback checkpoints; a sequence number is appended.
const markPrefix = "responsePart"

// turn is an assistant response whose audio is being played. The item id
// and start timestamp are only ever set or cleared together.
type turn struct {
	itemID string
	start  int64
}

// State is the per-call session record shared by both pumps. Every method
// is one atomic transition; no lock is held across a send.
type State struct {
	mu sync.Mutex

	streamSID  string
	callSID    string
	latest     int64
	turn       *turn
	marks      []string
	markSeq    int
	transcript []TranscriptEntry
}

// NewState returns an empty session state.
func NewState() *State {
	return &State{}
}

// StartStream records the stream identity and clears any turn in flight.
// It returns false, leaving the state untouched, if a different stream was
// already started.
func (s *State) StartStream(streamSID, callSID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamSID != "" && s.streamSID != streamSID {
		return false
	}
	s.streamSID = streamSID
	if callSID != "" {
		s.callSID = callSID
	}
	s.turn = nil
	return true
}

// StreamSID returns the stream identifier, or "" before the stream starts.
func (s *State) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// CallSID returns the call identifier reported by the start event.
func (s *State) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// ObserveTimestamp advances the inbound clock to ts. Older timestamps are
// ignored so the clock never moves backward; advanced reports whether ts
// was accepted.
func (s *State) ObserveTimestamp(ts int64) (latest int64, advanced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts < s.latest {
		return s.latest, false
	}
	s.latest = ts
	return s.latest, true
}

// LatestTimestamp returns the inbound clock in milliseconds.
func (s *State) LatestTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// BeginAudio records that assistant audio for itemID was played. A delta
// carrying an item id not seen before starts a turn at the current inbound
// clock; deltas for the current item keep its start. It returns the turn
// start and whether this call started the turn.
func (s *State) BeginAudio(itemID string) (start int64, began bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turn == nil {
		if itemID == "" {
			return 0, false
		}
		s.turn = &turn{itemID: itemID, start: s.latest}
		return s.turn.start, true
	}
	if itemID != "" && itemID != s.turn.itemID {
		s.turn = &turn{itemID: itemID, start: s.latest}
		return s.turn.start, true
	}
	return s.turn.start, false
}

// InFlight reports whether an assistant turn is being played.
func (s *State) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn != nil
}

// PushMark appends a new playback checkpoint and returns its name.
func (s *State) PushMark() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSeq++
	name := fmt.Sprintf("%s-%d", markPrefix, s.markSeq)
	s.marks = append(s.marks, name)
	return name
}

// AckMark pops the oldest pending checkpoint. An acknowledgment with no
// pending checkpoint is ignored and reports false.
func (s *State) AckMark() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.marks) == 0 {
		return "", false
	}
	name := s.marks[0]
	s.marks = s.marks[1:]
	return name, true
}

// PendingMarks returns the unacknowledged checkpoints, oldest first.
func (s *State) PendingMarks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marks...)
}

// Interruption describes a truncated assistant turn.
type Interruption struct {
	StreamSID string
	ItemID    string
	Latest    int64
	Start     int64
	ElapsedMS int64
}

// Interrupt ends the turn in flight if it has unacknowledged audio. It
// computes how much of the turn the caller heard, clears the turn and all
// pending checkpoints, and reports false when there is nothing to cut.
func (s *State) Interrupt() (Interruption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.marks) == 0 || s.turn == nil {
		return Interruption{}, false
	}

	elapsed := s.latest - s.turn.start
	if elapsed < 0 {
		elapsed = 0
	}
	cut := Interruption{
		StreamSID: s.streamSID,
		ItemID:    s.turn.itemID,
		Latest:    s.latest,
		Start:     s.turn.start,
		ElapsedMS: elapsed,
	}

	s.turn = nil
	s.marks = nil
	return cut, true
}

// AppendTranscript adds an utterance to the call transcript.
func (s *State) AppendTranscript(speaker Speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{Speaker: speaker, Text: text})
}

// Transcript returns a copy of the transcript.
func (s *State) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	StreamSID       string
	CallSID         string
	LatestTimestamp int64
	ItemID          string
	ResponseStart   int64
	InFlight        bool
	PendingMarks    []string
	Transcript      []TranscriptEntry
}

// Snapshot copies the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		StreamSID:       s.streamSID,
		CallSID:         s.callSID,
		LatestTimestamp: s.latest,
		PendingMarks:    append([]string(nil), s.marks...),
		Transcript:      append([]TranscriptEntry(nil), s.transcript...),
	}
	if s.turn != nil {
		snap.InFlight = true
		snap.ItemID = s.turn.itemID
		snap.ResponseStart = s.turn.start
	}
	return snap
}
