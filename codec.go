// Package jsonl implements JSON Lines message framing over byte streams.
// Each message is a single JSON value encoded as UTF-8 text and terminated by
// one newline. The package reads and writes messages against any buffered
// line source and any writable sink, and bundles the two into a Connection.
//
// The package never logs, retries or closes the streams it is given.
// Every failure is returned to the caller as a *ReceiveError or *SendError.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const delim = '\n'

var newline = []byte{delim}

// Source is a byte stream that can be read one line at a time.
// *bufio.Reader implements it. ReadSlice follows the bufio.Reader contract:
// it returns bufio.ErrBufferFull when the line does not fit the buffer and
// io.EOF, together with any trailing bytes, at end of stream.
type Source interface {
	ReadSlice(delim byte) (line []byte, err error)
}

// Sink is a byte stream that accepts writes and an explicit flush.
// *bufio.Writer implements it.
type Sink interface {
	io.Writer
	Flush() error
}

// AsSink returns w as a Sink. Writers that already have a Flush method are
// returned unchanged; any other writer gets a no-op Flush. The returned Sink
// also implements io.Closer when w does.
func AsSink(w io.Writer) Sink {
	if s, ok := w.(Sink); ok {
		return s
	}
	if c, ok := w.(io.WriteCloser); ok {
		return nopFlushCloser{c}
	}
	return nopFlusher{w}
}

type nopFlusher struct{ io.Writer }

func (nopFlusher) Flush() error { return nil }

type nopFlushCloser struct{ io.WriteCloser }

func (nopFlushCloser) Flush() error { return nil }

// Receive reads one line from src and decodes it into v, which must be a
// non-nil pointer.
//
// The line is every byte up to and including the next newline. If the stream
// ends after some bytes without a newline, those bytes are decoded as the
// final record. If the stream ends before any byte is read, the empty line
// fails to decode; the returned error then also matches io.EOF. A line that
// is not valid UTF-8 fails to decode with ErrInvalidUTF8.
func Receive(src Source, v any) error {
	return receive(src, v, 0)
}

// ReceiveValue reads one line from src and decodes it as a T.
func ReceiveValue[T any](src Source) (T, error) {
	var v T
	err := Receive(src, &v)
	return v, err
}

func receive(src Source, v any, limit int) error {
	line, err := readLine(src, limit)
	if err != nil && err != io.EOF {
		return readError(err)
	}

	exhausted := err == io.EOF && len(line) == 0

	// encoding/json would replace invalid bytes with U+FFFD instead of failing.
	if !utf8.Valid(line) {
		return decodeError(ErrInvalidUTF8, false)
	}

	if err := json.Unmarshal(line, v); err != nil {
		return decodeError(err, exhausted)
	}
	return nil
}

// readLine returns the next line including its delimiter. At end of stream it
// returns the trailing bytes along with io.EOF. With a positive limit, a line
// longer than limit bytes (not counting the delimiter) is discarded up to the
// next delimiter and ErrLineTooLong is returned.
func readLine(src Source, limit int) ([]byte, error) {
	var line []byte
	for {
		frag, err := src.ReadSlice(delim)
		if limit > 0 && contentLen(line, frag) > limit {
			if err == bufio.ErrBufferFull {
				discardLine(src)
			}
			return nil, errors.WithMessagef(ErrLineTooLong, "line exceeds %d bytes", limit)
		}

		switch {
		case err == bufio.ErrBufferFull:
			line = append(line, frag...)
		case line == nil:
			// frag aliases the source buffer; it is decoded before the next read.
			return frag, err
		default:
			return append(line, frag...), err
		}
	}
}

func contentLen(line, frag []byte) int {
	n := len(line) + len(frag)
	if len(frag) > 0 && frag[len(frag)-1] == delim {
		n--
	}
	return n
}

func discardLine(src Source) {
	for {
		if _, err := src.ReadSlice(delim); err != bufio.ErrBufferFull {
			return
		}
	}
}

// Send encodes v as JSON text and writes it to dst followed by a single
// newline. The text and the newline are written separately; dst is not
// flushed.
func Send(dst io.Writer, v any) error {
	text, err := encode(v)
	if err != nil {
		return encodeError(err)
	}

	if _, err := dst.Write(text); err != nil {
		return writeError(err)
	}
	if _, err := dst.Write(newline); err != nil {
		return writeError(err)
	}
	return nil
}

// encode returns the compact JSON text for v. encoding/json escapes control
// characters, so the text never contains a raw newline.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	text := bytes.TrimSuffix(buf.Bytes(), newline)
	if !utf8.Valid(text) {
		return nil, ErrInvalidUTF8
	}
	return text, nil
}
