package jsonl

import (
	"io"

	"github.com/pkg/errors"
)

// Sentinels for classifying failures with errors.Is.
// A *ReceiveError matches ErrRead or ErrDecode, a *SendError matches ErrEncode or ErrWrite.
var (
	// ErrRead matches receive failures caused by the source.
	ErrRead = errors.New("jsonl: read failure")
	// ErrDecode matches receive failures caused by a line that is not valid JSON for the target.
	ErrDecode = errors.New("jsonl: decode failure")
	// ErrEncode matches send failures caused by a value that cannot be represented as JSON.
	ErrEncode = errors.New("jsonl: encode failure")
	// ErrWrite matches send failures caused by the sink.
	ErrWrite = errors.New("jsonl: write failure")
)

var (
	// ErrLineTooLong is returned when a record exceeds the configured maximum line length.
	ErrLineTooLong = errors.New("line too long")
	// ErrInvalidUTF8 is returned when a received line or an encoded value is not valid UTF-8 text.
	ErrInvalidUTF8 = errors.New("not valid UTF-8")
	// ErrStreamClosed is returned when operating on a released SharedStream handle.
	ErrStreamClosed = errors.New("shared stream closed")
)

// ReceiveKind classifies a ReceiveError.
type ReceiveKind int

const (
	// ReadFailure means the source could not produce a line.
	ReadFailure ReceiveKind = iota + 1
	// DecodeFailure means a line was produced but is not valid JSON,
	// or does not match the shape of the target value.
	DecodeFailure
)

func (k ReceiveKind) String() string {
	switch k {
	case ReadFailure:
		return "read"
	case DecodeFailure:
		return "decode"
	default:
		return "unknown"
	}
}

// ReceiveError is returned by every receive operation.
type ReceiveError struct {
	Kind ReceiveKind
	Err  error

	// eof is set when the source was exhausted before any byte of the line was read.
	eof bool
}

func readError(err error) *ReceiveError {
	return &ReceiveError{Kind: ReadFailure, Err: err}
}

func decodeError(err error, eof bool) *ReceiveError {
	return &ReceiveError{Kind: DecodeFailure, Err: err, eof: eof}
}

func (e *ReceiveError) Error() string {
	switch e.Kind {
	case ReadFailure:
		return "jsonl: failed reading message data from source: " + e.Err.Error()
	case DecodeFailure:
		return "jsonl: failed deserializing JSON: " + e.Err.Error()
	default:
		return "jsonl: receive: " + e.Err.Error()
	}
}

// Unwrap exposes the underlying cause. A decode failure on an exhausted
// source also unwraps to io.EOF.
func (e *ReceiveError) Unwrap() []error {
	if e.eof {
		return []error{e.Err, io.EOF}
	}
	return []error{e.Err}
}

// Cause returns the underlying error, for github.com/pkg/errors.Cause.
func (e *ReceiveError) Cause() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *ReceiveError) Is(target error) bool {
	switch target {
	case ErrRead:
		return e.Kind == ReadFailure
	case ErrDecode:
		return e.Kind == DecodeFailure
	}
	return false
}

// SendKind classifies a SendError.
type SendKind int

const (
	// EncodeFailure means the value could not be turned into JSON text.
	EncodeFailure SendKind = iota + 1
	// WriteFailure means the sink rejected the write.
	WriteFailure
)

func (k SendKind) String() string {
	switch k {
	case EncodeFailure:
		return "encode"
	case WriteFailure:
		return "write"
	default:
		return "unknown"
	}
}

// SendError is returned by every send operation.
type SendError struct {
	Kind SendKind
	Err  error
}

func encodeError(err error) *SendError {
	return &SendError{Kind: EncodeFailure, Err: err}
}

func writeError(err error) *SendError {
	return &SendError{Kind: WriteFailure, Err: err}
}

func (e *SendError) Error() string {
	switch e.Kind {
	case EncodeFailure:
		return "jsonl: failed serializing JSON: " + e.Err.Error()
	case WriteFailure:
		return "jsonl: failed writing message data to sink: " + e.Err.Error()
	default:
		return "jsonl: send: " + e.Err.Error()
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// Cause returns the underlying error, for github.com/pkg/errors.Cause.
func (e *SendError) Cause() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrEncode:
		return e.Kind == EncodeFailure
	case ErrWrite:
		return e.Kind == WriteFailure
	}
	return false
}
