package relay

import "time"

const defaultDrainTimeout = 200 * time.Millisecond

// ErrorAction defines the action to take when a line cannot be relayed.
type ErrorAction int

const (
	// Disconnect stops the relay.
	Disconnect ErrorAction = iota
	// Continue drops the offending line and keeps relaying.
	Continue
)

// options holds the configuration for a relay.
type options struct {
	logger Logger

	// onError is called for lines that fail to decode or exceed the line limit.
	// Returns Disconnect to stop the relay, Continue to drop the line.
	onError func(error) ErrorAction

	// drainTimeout bounds the wait for pumps after the relay starts stopping.
	drainTimeout time.Duration
}

// Option is a function that configures relay options.
type Option func(*options)

// OnErrorOption returns an Option that sets the error callback.
// Read and write failures always stop the relay; the callback only decides
// what happens to invalid lines.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// DrainTimeoutOption returns an Option that sets how long Run waits for a
// blocked receive to return after the endpoints are closed.
func DrainTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.drainTimeout = d
	}
}

// checkOptions sets default values for relay options.
func checkOptions(opts *options) {
	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.drainTimeout <= 0 {
		opts.drainTimeout = defaultDrainTimeout
	}
}
