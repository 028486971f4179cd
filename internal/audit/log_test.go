package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskhub.org/internal/auth"
)

type sinkStub struct {
	entries []auth.AccessLogEntry
	err     error
}

func (s *sinkStub) AppendAccessLog(_ context.Context, e *auth.AccessLogEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *e)
	return nil
}

func TestRecordFillsAndPersists(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sink := &sinkStub{}
	r := NewRecorder(sink, WithClock(func() time.Time { return now }), WithLogger(zerolog.New(&buf)))

	ctx := WithCorrelationID(context.Background(), "corr-123")
	r.Record(ctx, auth.AccessLogEntry{Action: auth.ActionLogin, UserID: "user-42", Succeeded: true, Detail: auth.DetailOK})

	if len(sink.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(sink.entries))
	}
	got := sink.entries[0]
	if got.ID == "" || !got.Timestamp.Equal(now) {
		t.Fatalf("entry not filled: %+v", got)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["event"] != "LOGIN" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["correlation_id"] != "corr-123" || line["user_id"] != "user-42" {
		t.Fatalf("context fields missing: %v", line)
	}
}

func TestRecordSwallowsSinkFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := &sinkStub{err: errors.New("disk full")}
	r := NewRecorder(sink, WithLogger(zerolog.New(&buf)))

	r.Record(context.Background(), auth.AccessLogEntry{Action: auth.ActionLogin, Detail: auth.DetailUnknownUser})

	if r.Failures() != 1 {
		t.Fatalf("expected one failure, got %d", r.Failures())
	}
	if !strings.Contains(buf.String(), "access log write failed") {
		t.Fatalf("failure not logged: %s", buf.String())
	}
}

func TestRecordKeepsProvidedIdentity(t *testing.T) {
	sink := &sinkStub{}
	r := NewRecorder(sink, WithLogger(zerolog.Nop()))
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	r.Record(context.Background(), auth.AccessLogEntry{ID: "fixed", Action: auth.ActionLogout, Timestamp: at})

	if sink.entries[0].ID != "fixed" || !sink.entries[0].Timestamp.Equal(at) {
		t.Fatalf("provided fields overwritten: %+v", sink.entries[0])
	}
	if WithCorrelationID(context.Background(), "  ") != context.Background() {
		t.Fatal("blank correlation id should leave the context untouched")
	}
}
