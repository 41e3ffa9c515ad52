package jsonl

import (
	"bufio"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Connection pairs a Source and a Sink so they travel together.
//
// Each call is independent: no partial message survives between calls, and
// the outcome depends only on the state of the underlying streams. A
// Connection is not safe for concurrent use by multiple goroutines; callers
// that share one must serialize access themselves.
type Connection struct {
	source Source
	sink   Sink
	opts   options
}

// New creates a connection that reads from source and writes to sink.
func New(source Source, sink Sink, opt ...Option) *Connection {
	return &Connection{
		source: source,
		sink:   sink,
		opts:   newOptions(opt),
	}
}

// newStreamConnection buffers r for line reads and adapts w into a Sink.
func newStreamConnection(r io.Reader, w io.Writer, opt []Option) *Connection {
	opts := newOptions(opt)
	return &Connection{
		source: bufio.NewReaderSize(r, opts.bufferSize),
		sink:   AsSink(w),
		opts:   opts,
	}
}

// NewStdio creates a connection that reads from the process's standard input
// and writes to its standard output.
func NewStdio(opt ...Option) *Connection {
	return newStreamConnection(os.Stdin, os.Stdout, opt)
}

// NewCommand creates a connection to a child process: the command's standard
// output is the source and its standard input is the sink. The pipes are
// requested here, so cmd must not have been started; starting and waiting for
// it remain the caller's job. Closing the sink (it implements io.Closer)
// closes the child's standard input.
func NewCommand(cmd *exec.Cmd, opt ...Option) (*Connection, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithMessage(err, "jsonl: stdin pipe")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, errors.WithMessage(err, "jsonl: stdout pipe")
	}

	return newStreamConnection(stdout, stdin, opt), nil
}

// NewConn creates a connection over a network stream. net.Conn permits one
// reader and one writer at the same time, so the read and write sides use the
// same conn independently.
func NewConn(conn net.Conn, opt ...Option) *Connection {
	return newStreamConnection(conn, conn, opt)
}

// NewTCP is NewConn for a *net.TCPConn.
func NewTCP(conn *net.TCPConn, opt ...Option) *Connection {
	return NewConn(conn, opt...)
}

// NewStream creates a connection over a single duplex stream that does not
// offer independent read and write handles. Both roles go through a
// SharedStream. The stream stays owned by the caller.
func NewStream(rw io.ReadWriter, opt ...Option) *Connection {
	shared := NewSharedStream(rw)
	return newStreamConnection(shared.Clone(), shared, opt)
}

// Receive reads the next record and decodes it into v.
// See the package-level Receive for the end of stream rules.
func (c *Connection) Receive(v any) error {
	return receive(c.source, v, c.opts.maxLineLength)
}

// Send encodes v as one record. The sink is flushed only when
// AutoFlushOption is set; otherwise call Flush.
func (c *Connection) Send(v any) error {
	if err := Send(c.sink, v); err != nil {
		return err
	}

	if c.opts.autoFlush {
		if err := c.sink.Flush(); err != nil {
			return writeError(err)
		}
	}
	return nil
}

// Flush flushes the sink's buffer. Errors come unchanged from the sink.
func (c *Connection) Flush() error {
	return c.sink.Flush()
}

// Source returns the connection's source.
func (c *Connection) Source() Source {
	return c.source
}

// Sink returns the connection's sink.
func (c *Connection) Sink() Sink {
	return c.sink
}

// Recv receives the next record on c as a T.
func Recv[T any](c *Connection) (T, error) {
	var v T
	err := c.Receive(&v)
	return v, err
}
