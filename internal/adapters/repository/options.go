package repository

import "github.com/okian/strokeauth/pkg/logger"

const defaultAttemptRetention = 10000

type options struct {
	logger           logger.Logger
	attemptRetention int
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAttemptRetention bounds how many attempts the memory store keeps.
// The SQLite store keeps everything.
func WithAttemptRetention(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attemptRetention = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: logger.Nop(), attemptRetention: defaultAttemptRetention}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
