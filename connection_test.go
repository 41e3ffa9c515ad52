package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	// Connect client in goroutine
	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	// Accept server side
	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// flushRecorder counts flushes and fails them on demand.
type flushRecorder struct {
	bytes.Buffer
	flushes  int
	flushErr error
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return f.flushErr
}

func TestNew(t *testing.T) {
	src := newSource("")
	sink := &flushRecorder{}

	conn := New(src, sink)

	if conn.Source() != Source(src) {
		t.Error("source not set correctly")
	}
	if conn.Sink() != Sink(sink) {
		t.Error("sink not set correctly")
	}
	if conn.opts.bufferSize != defaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", conn.opts.bufferSize, defaultBufferSize)
	}
}

func TestConnection_SendReceive(t *testing.T) {
	sink := &flushRecorder{}
	conn := New(newSource("{\"id\":1,\"text\":\"in\"}\n"), sink)

	msg, err := Recv[testMessage](conn)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.ID != 1 || msg.Text != "in" {
		t.Errorf("got %+v", msg)
	}

	if err := conn.Send(testMessage{ID: 2, Text: "out"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := sink.String(); got != "{\"id\":2,\"text\":\"out\"}\n" {
		t.Errorf("sink = %q", got)
	}
	if sink.flushes != 0 {
		t.Errorf("flushes = %d, want 0 without AutoFlushOption", sink.flushes)
	}

	if err := conn.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.flushes != 1 {
		t.Errorf("flushes = %d, want 1", sink.flushes)
	}
}

func TestConnection_BufferedSinkNeedsFlush(t *testing.T) {
	var out bytes.Buffer
	conn := New(newSource(""), bufio.NewWriter(&out))

	if err := conn.Send(1); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("data visible before Flush: %q", out.String())
	}

	if err := conn.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := out.String(); got != "1\n" {
		t.Errorf("out = %q, want %q", got, "1\n")
	}
}

func TestConnection_AutoFlush(t *testing.T) {
	var out bytes.Buffer
	conn := New(newSource(""), bufio.NewWriter(&out), AutoFlushOption(true))

	if err := conn.Send("x"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := out.String(); got != "\"x\"\n" {
		t.Errorf("out = %q, want %q", got, "\"x\"\n")
	}
}

func TestConnection_AutoFlushError(t *testing.T) {
	flushErr := errors.New("flush failed")
	conn := New(newSource(""), &flushRecorder{flushErr: flushErr}, AutoFlushOption(true))

	err := conn.Send(1)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if !errors.Is(err, flushErr) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestConnection_FlushError(t *testing.T) {
	flushErr := errors.New("flush failed")
	conn := New(newSource(""), &flushRecorder{flushErr: flushErr})

	if err := conn.Flush(); err != flushErr {
		t.Errorf("expected flush error unchanged, got %v", err)
	}
}

func TestConnection_EncodeFailureWritesNothing(t *testing.T) {
	sink := &flushRecorder{}
	conn := New(newSource(""), sink, AutoFlushOption(true))

	if err := conn.Send(make(chan int)); !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if sink.Len() != 0 || sink.flushes != 0 {
		t.Errorf("sink touched: %q, %d flushes", sink.String(), sink.flushes)
	}
}

func TestConnection_MaxLineLength(t *testing.T) {
	conn := New(newSource("\"too long\"\n\"ok\"\n"), &flushRecorder{}, MaxLineLengthOption(5))

	_, err := Recv[string](conn)
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	s, err := Recv[string](conn)
	if err != nil || s != "ok" {
		t.Errorf("got (%q, %v), want (\"ok\", nil)", s, err)
	}
}

func TestConnection_IndependentCalls(t *testing.T) {
	conn := New(newSource("oops\n[1]\n"), &flushRecorder{})

	if _, err := Recv[[]int](conn); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	v, err := Recv[[]int](conn)
	if err != nil || len(v) != 1 || v[0] != 1 {
		t.Errorf("got (%v, %v), want ([1], nil)", v, err)
	}
}

func TestNewTCP(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewTCP(serverConn)
	client := NewTCP(clientConn)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			msg, err := Recv[testMessage](server)
			if err != nil {
				done <- err
				return
			}
			msg.Text = strings.ToUpper(msg.Text)
			if err := server.Send(msg); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i, text := range []string{"a", "b", "c"} {
		if err := client.Send(testMessage{ID: i, Text: text}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		reply, err := Recv[testMessage](client)
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if reply.ID != i || reply.Text != strings.ToUpper(text) {
			t.Errorf("reply = %+v", reply)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server")
	}
}

func TestNewTCP_PeerClosed(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()

	server := NewTCP(serverConn)
	clientConn.Close()

	_, err := Recv[testMessage](server)
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestNewConn_Pipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	left := NewConn(a)
	right := NewConn(b)

	go func() {
		_ = left.Send(map[string]string{"hello": "world"})
	}()

	got, err := Recv[map[string]string](right)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if got["hello"] != "world" {
		t.Errorf("got %v", got)
	}
}

func TestNewStream(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	local := NewStream(a, BufferSizeOption(64))
	peer := NewConn(b)

	if refs := local.Sink().(*SharedStream).Refs(); refs != 2 {
		t.Errorf("Refs = %d, want 2", refs)
	}

	go func() {
		n, err := Recv[int](peer)
		if err == nil {
			_ = peer.Send(n * 2)
		}
	}()

	if err := local.Send(21); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	n, err := Recv[int](local)
	if err != nil || n != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", n, err)
	}
}

func TestNewCommand(t *testing.T) {
	path, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	cmd := exec.Command(path)
	conn, err := NewCommand(cmd)
	if err != nil {
		t.Fatalf("NewCommand failed: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := conn.Send(testMessage{ID: 5, Text: "echo"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg, err := Recv[testMessage](conn)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.ID != 5 || msg.Text != "echo" {
		t.Errorf("got %+v", msg)
	}

	if err := conn.Sink().(io.Closer).Close(); err != nil {
		t.Fatalf("closing stdin failed: %v", err)
	}
	if _, err := Recv[testMessage](conn); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after child exit, got %v", err)
	}
	if err := cmd.Wait(); err != nil {
		t.Errorf("Wait failed: %v", err)
	}
}

func TestNewCommand_StdinAlreadySet(t *testing.T) {
	cmd := exec.Command("cat")
	cmd.Stdin = strings.NewReader("")

	if _, err := NewCommand(cmd); err == nil {
		t.Error("expected error when Stdin is already set")
	}
}
