package jsonl

// Default configuration values.
const (
	// defaultBufferSize is the read buffer size used by the convenience constructors.
	defaultBufferSize = 4096
)

// options holds the configuration for a connection.
type options struct {
	maxLineLength int  // maximum size of a single record, 0 for no limit
	bufferSize    int  // size of the read buffer built by convenience constructors
	autoFlush     bool // flush the sink after every send
}

// Option is a function that configures connection options.
type Option func(*options)

// MaxLineLengthOption returns an Option that limits the size of a received record.
// Longer records fail with ErrLineTooLong and are skipped up to the next newline.
// Zero or a negative size disables the limit.
func MaxLineLengthOption(size int) Option {
	return func(o *options) {
		o.maxLineLength = size
	}
}

// BufferSizeOption returns an Option that sets the read buffer size used when a
// constructor wraps a raw stream in a *bufio.Reader. It has no effect on New.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// AutoFlushOption returns an Option that flushes the sink after every successful send.
func AutoFlushOption(enabled bool) Option {
	return func(o *options) {
		o.autoFlush = enabled
	}
}

func newOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for connection options.
func checkOptions(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxLineLength < 0 {
		opts.maxLineLength = 0
	}
}
