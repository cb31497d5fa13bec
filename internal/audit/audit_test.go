package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, typ := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	d.Close()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-sink.Events():
			if got.EventType != want {
				t.Fatalf("expected %s, got %s", want, got.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherBoundedFlush(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, FlushTimeout: 10 * time.Millisecond}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	d.Close()
	close(sink.release)
	<-d.finished

	if d.Delivered() != 1 || d.Dropped() != 2 {
		t.Fatalf("expected 1 delivered and 2 dropped, got %d and %d", d.Delivered(), d.Dropped())
	}
}

func TestDispatcherCountsDelivered(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Close()

	if d.Delivered() != 2 {
		t.Fatalf("expected 2 delivered, got %d", d.Delivered())
	}
	ev := <-sink.Events()
	if ev.Timestamp.IsZero() {
		t.Fatal("expected timestamp stamped on delivery")
	}
}

func TestJSONWriterSinkAndMultiSink(t *testing.T) {
	var a, b bytes.Buffer
	sink := MultiSink{NewJSONWriterSink(&a), nil, NewJSONWriterSink(&b)}
	sink.Emit(context.Background(), Event{EventType: "login_success", Subject: "acct1", Success: true})

	for _, buf := range []*bytes.Buffer{&a, &b} {
		line := strings.TrimSpace(buf.String())
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if ev.EventType != "login_success" || ev.Subject != "acct1" || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "opentoken.audit" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "acct1" {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.EventType != "logout" {
			return errors.New("unexpected event type " + ev.EventType)
		}
		return nil
	})

	sink := NewKafkaSink(producer, "opentoken.audit", slog.Default())
	sink.Emit(context.Background(), Event{EventType: "logout", Subject: "acct1"})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaSinkLogsFailures(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	var logs bytes.Buffer
	sink := NewKafkaSink(producer, "opentoken.audit", slog.New(slog.NewTextHandler(&logs, nil)))
	sink.Emit(context.Background(), Event{EventType: "register"})
	_ = sink.Close()

	if !strings.Contains(logs.String(), "kafka publish failed") {
		t.Fatalf("expected failure logged, got %q", logs.String())
	}
}

func TestDialKafkaRequiresConfig(t *testing.T) {
	if _, err := DialKafka(KafkaConfig{}, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestSubjectKindFollowsConfirmOutcome(t *testing.T) {
	tests := []struct {
		eventType string
		success   bool
		want      string
	}{
		{Register, true, SubjectRegistration},
		{Secure, false, SubjectRegistration},
		{Confirm, false, SubjectRegistration},
		{Confirm, true, SubjectAccount},
		{LoginRateLimited, false, SubjectAccount},
		{TokenDeleted, true, SubjectAccount},
		{"unknown", true, ""},
	}
	for _, tc := range tests {
		if got := SubjectKind(tc.eventType, tc.success); got != tc.want {
			t.Fatalf("SubjectKind(%s, %v) = %q, want %q", tc.eventType, tc.success, got, tc.want)
		}
	}
}

func TestJSONWriterSinkCarriesClientIPAndReason(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{
		EventType:   LoginFailure,
		Subject:     "acct1",
		SubjectKind: SubjectAccount,
		ClientIP:    "203.0.113.7",
		Error:       "invalid_credentials",
		Metadata:    map[string]string{"reason": "mfa"},
	})

	if !strings.HasSuffix(buf.String(), "}\n") {
		t.Fatalf("expected newline terminated record, got %q", buf.String())
	}
	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ClientIP != "203.0.113.7" || ev.SubjectKind != SubjectAccount || ev.Reason() != "mfa" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if strings.Contains(buf.String(), `"session_id"`) {
		t.Fatalf("expected empty session id omitted, got %q", buf.String())
	}
}
