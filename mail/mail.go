// Package mail defines the outbound email contract used for registration
// confirmation and ships two senders: SMTP for deployments and a log sender
// for development and tests.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ErrInvalidMessage is returned for messages without a recipient or body.
var ErrInvalidMessage = errors.New("mail: invalid message")

// Message is one outbound email. Text is required; HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Validate rejects messages that cannot be delivered.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.ContainsAny(m.To, "\r\n") {
		return ErrInvalidMessage
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return ErrInvalidMessage
	}
	if m.Text == "" && m.HTML == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to a structured logger instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg at info level.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail: message",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}

// Outbox records messages in memory. Useful in tests and examples.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// Send records msg, or returns the error set with Fail.
func (o *Outbox) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.messages = append(o.messages, msg)
	return nil
}

// Fail makes subsequent sends return err; nil restores delivery.
func (o *Outbox) Fail(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Last returns the most recent message.
func (o *Outbox) Last() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return Message{}, false
	}
	return o.messages[len(o.messages)-1], true
}
