package gx

import "log/slog"

// BarrierPolicy decides what happens when a barrier is queued into a full
// batch.
type BarrierPolicy uint8

const (
	// BarrierAutoFlush flushes the full batch as one native call before
	// queuing the new barrier. This is the default.
	BarrierAutoFlush BarrierPolicy = iota

	// BarrierStrict panics with ErrBarrierOverflow. Use it to find code
	// that forgets to flush bulk transitions.
	BarrierStrict
)

// String returns the policy name.
func (p BarrierPolicy) String() string {
	if p == BarrierStrict {
		return "strict"
	}
	return "autoflush"
}

// Option configures a System or a context during creation. Options given to
// New become the defaults of every context the system creates.
//
// Example:
//
//	sys, err := gx.New(dev, heaps, gx.WithBarrierPolicy(gx.BarrierStrict))
//	cc, err := sys.NewComputeContext(gx.WithLabel("particles"))
type Option func(*options)

// options holds optional configuration.
type options struct {
	barrierPolicy BarrierPolicy
	label         string
	logger        *slog.Logger
}

// defaultOptions returns the default options.
func defaultOptions() options {
	return options{
		barrierPolicy: BarrierAutoFlush,
	}
}

func (o options) with(opts []Option) options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBarrierPolicy sets the overflow policy of the barrier batch.
func WithBarrierPolicy(p BarrierPolicy) Option {
	return func(o *options) {
		o.barrierPolicy = p
	}
}

// WithLabel sets a debug label. Contexts pass it to their command lists.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithLogger overrides the package logger for one context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
