package jsonl

import (
	"bytes"
	"io"

	"github.com/gorilla/websocket"
)

// NewWebSocket creates a connection over a WebSocket. Incoming data frames
// are read as one continuous byte stream, so records may span frames. Each
// outgoing record, newline included, is sent as one text frame once its
// newline is written; Flush sends any incomplete remainder.
//
// A normal or going-away close from the peer reads as end of stream.
func NewWebSocket(ws *websocket.Conn, opt ...Option) *Connection {
	return newStreamConnection(&wsReader{conn: ws}, &wsWriter{conn: ws}, opt)
}

type wsReader struct {
	conn *websocket.Conn
	r    io.Reader // current frame
}

func (r *wsReader) Read(p []byte) (int, error) {
	for {
		if r.r == nil {
			_, frame, err := r.conn.NextReader()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			if err != nil {
				return 0, err
			}
			r.r = frame
		}

		n, err := r.r.Read(p)
		if err == io.EOF {
			r.r = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

type wsWriter struct {
	conn *websocket.Conn
	buf  []byte
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, delim)
		if i < 0 {
			return len(p), nil
		}

		err := w.conn.WriteMessage(websocket.TextMessage, w.buf[:i+1])
		w.buf = append(w.buf[:0], w.buf[i+1:]...)
		if err != nil {
			return 0, err
		}
	}
}

func (w *wsWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	err := w.conn.WriteMessage(websocket.TextMessage, w.buf)
	w.buf = w.buf[:0]
	return err
}
