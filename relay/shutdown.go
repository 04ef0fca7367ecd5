package relay

import "sync"

// Reasons a call ends.
const (
	ReasonCallerHangup          = "caller hangup"
	ReasonEngineHangup          = "engine hangup"
	ReasonTelephonyDisconnected = "telephony disconnected"
	ReasonEngineDisconnected    = "engine disconnected"
	ReasonBootstrapFailed       = "bootstrap failed"
	ReasonCanceled              = "canceled"
	ReasonStopped               = "stopped"
	ReasonPumpExited            = "pump exited"
)

// Shutdown is the single cancellation signal of a call. Only the first
// Trigger has an effect.
type Shutdown struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason string
}

// NewShutdown returns an untriggered signal.
func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Trigger sets the signal and reports whether this call was the one that
// set it.
func (s *Shutdown) Trigger(reason string) bool {
	triggered := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		triggered = true
	})
	return triggered
}

// Requested reports whether the signal is set.
func (s *Shutdown) Requested() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is set.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// Reason returns the reason passed to the first Trigger.
func (s *Shutdown) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}
