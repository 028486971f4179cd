package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/ids"
	"taskhub.org/internal/obs"
)

type ctxKey string

const correlationIDKey ctxKey = "audit_correlation_id"

// WithCorrelationID attaches an identifier that groups audit events of one
// user action (for example a login followed by its session start).
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder persists access log entries through an auth.AccessLog and mirrors
// them to the structured log. A failed write is logged and counted, never
// returned.
type Recorder struct {
	sink auth.AccessLog
	now  func() time.Time
	log  zerolog.Logger

	mu     sync.Mutex
	failed int
}

var _ auth.AccessRecorder = (*Recorder)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) {
		r.log = l
	}
}

// NewRecorder returns a Recorder writing to sink. A nil sink only logs.
func NewRecorder(sink auth.AccessLog, opts ...Option) *Recorder {
	r := &Recorder{
		sink: sink,
		now:  time.Now,
		log:  obs.Component("audit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record implements auth.AccessRecorder.
func (r *Recorder) Record(ctx context.Context, entry auth.AccessLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.Timestamp)
	}

	ev := r.log.Info().
		Str("type", "audit").
		Str("event", string(entry.Action)).
		Str("entry_id", entry.ID).
		Bool("succeeded", entry.Succeeded).
		Str("detail", entry.Detail).
		Time("ts", entry.Timestamp)
	if entry.UserID != "" {
		ev = ev.Str("user_id", entry.UserID)
	}
	if cid := correlationIDFromContext(ctx); cid != "" {
		ev = ev.Str("correlation_id", cid)
	}
	ev.Send()

	if r.sink == nil {
		return
	}
	if err := r.sink.AppendAccessLog(ctx, &entry); err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		obs.ObserveAuditWriteFailure()
		r.log.Warn().Err(err).Str("entry_id", entry.ID).Str("event", string(entry.Action)).Msg("access log write failed")
	}
}

// Failures returns how many writes were swallowed since construction.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
