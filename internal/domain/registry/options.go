package registry

import "log/slog"

const defaultMailboxSize = 256

type options struct {
	logger      *slog.Logger
	mailboxSize int
}

// Option defines a functional configuration type for the registry components.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		mailboxSize: defaultMailboxSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the base logger; each component derives its own "component" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMailboxSize sets the [BACKPRESSURE] threshold of the lane.
// Producers block once this many closures are waiting.
func WithMailboxSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.mailboxSize = size
		}
	}
}
