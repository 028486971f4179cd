package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions controls the process logger.
type LogOptions struct {
	// Level is one of trace, debug, info, warn, error. Unknown values mean info.
	Level string
	// Pretty switches to human readable console output.
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	loggerMu   sync.RWMutex
	loggerOnce sync.Once
	logger     zerolog.Logger
)

// InitLogger configures the shared logger. Call it before anything logs: the
// first of InitLogger or Logger fixes the configuration.
func InitLogger(opts LogOptions) zerolog.Logger {
	loggerOnce.Do(func() {
		setLogger(newLogger(opts))
	})
	return Logger()
}

// Logger returns the shared structured logger, initialising it with defaults
// when InitLogger has not been called.
func Logger() zerolog.Logger {
	loggerOnce.Do(func() {
		setLogger(newLogger(LogOptions{}))
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

func setLogger(l zerolog.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func newLogger(opts LogOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a configuration string to a zerolog level.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
