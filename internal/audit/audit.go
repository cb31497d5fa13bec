package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types. A registration id is the subject until confirm succeeds;
// from then on it is the account id.
const (
	Register         = "register"
	Secure           = "secure"
	Confirm          = "confirm"
	ConfirmResent    = "confirm_resent"
	LoginSuccess     = "login_success"
	LoginFailure     = "login_failure"
	LoginRateLimited = "login_rate_limited"
	Logout           = "logout"
	MFARotated       = "mfa_rotated"
	TokenCreated     = "token_created"
	TokenDeleted     = "token_deleted"
)

const (
	SubjectRegistration = "registration"
	SubjectAccount      = "account"
)

// SubjectKind reports whether the subject of an event of eventType is a
// registration or an account id. Unknown types report "".
func SubjectKind(eventType string, success bool) string {
	switch eventType {
	case Register, Secure, ConfirmResent:
		return SubjectRegistration
	case Confirm:
		if success {
			return SubjectAccount
		}
		return SubjectRegistration
	case LoginSuccess, LoginFailure, LoginRateLimited, Logout, MFARotated, TokenCreated, TokenDeleted:
		return SubjectAccount
	}
	return ""
}

// Event is one audit record. Secrets, password hashes and one-time codes
// never appear in an event; Metadata carries only labels such as a failure
// reason or a token name.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	Subject     string            `json:"subject,omitempty"`
	SubjectKind string            `json:"subject_kind,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	ClientIP    string            `json:"client_ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Reason returns the failure reason label, if any.
func (e Event) Reason() string {
	return e.Metadata["reason"]
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// MultiSink hands each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// ChannelSink hands events to a reader through a buffered channel. Emit
// blocks while the buffer is full until ctx is done.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per event, newline terminated.
// Writes are serialized so lines never interleave.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}
