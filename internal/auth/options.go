package auth

import (
	"time"

	"github.com/rs/zerolog"

	"taskhub.org/internal/obs"
)

const defaultRoleCacheSize = 64

// Option configures the services in this package.
type Option func(*options)

type options struct {
	now       func() time.Time
	log       zerolog.Logger
	limiter   *AttemptLimiter
	cacheSize int
	matrix    Matrix
}

func buildOptions(component string, opts []Option) options {
	o := options{
		now:       time.Now,
		log:       obs.Component(component),
		cacheSize: defaultRoleCacheSize,
		matrix:    DefaultMatrix(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithAttemptLimiter enables per-email login throttling.
func WithAttemptLimiter(l *AttemptLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithRoleCacheSize bounds the role id cache of a RoleDirectory.
func WithRoleCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithMatrix replaces the resource table used by an Authorizer.
func WithMatrix(m Matrix) Option {
	return func(o *options) {
		if m != nil {
			o.matrix = m
		}
	}
}
