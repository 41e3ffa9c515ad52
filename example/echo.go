package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Zereker/jsonl"
)

// Server echoes every JSON Lines record back to the client that sent it.
type Server struct {
	connID int64

	sync.RWMutex
	connections map[int64]*net.TCPConn
}

func newServer() *Server {
	return &Server{connections: make(map[int64]*net.TCPConn)}
}

func (s *Server) Handle(conn *net.TCPConn) {
	connID := atomic.AddInt64(&s.connID, 1)
	s.addConn(connID, conn)
	defer s.deleteConn(connID)

	c := jsonl.NewTCP(conn, jsonl.MaxLineLengthOption(64*1024))
	for {
		var msg json.RawMessage
		err := c.Receive(&msg)
		switch {
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, jsonl.ErrDecode), errors.Is(err, jsonl.ErrLineTooLong):
			slog.Warn("invalid line", "connID", connID, "error", err)
			_ = c.Send(map[string]string{"error": err.Error()})
			continue
		case err != nil:
			slog.Error("receive failed", "connID", connID, "error", err)
			return
		}

		if err := c.Send(msg); err != nil {
			slog.Error("send failed", "connID", connID, "error", err)
			return
		}
	}
}

func (s *Server) addConn(connID int64, conn *net.TCPConn) {
	s.Lock()
	defer s.Unlock()

	slog.Info("add new conn", "connID", connID, "addr", conn.RemoteAddr())
	s.connections[connID] = conn
}

func (s *Server) deleteConn(connID int64) {
	s.Lock()
	defer s.Unlock()

	if conn, ok := s.connections[connID]; ok {
		conn.Close()
		delete(s.connections, connID)
	}
}

func (s *Server) closeAll() {
	s.Lock()
	defer s.Unlock()

	for _, conn := range s.connections {
		conn.Close()
	}
}

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	if err != nil {
		panic(err)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		slog.Error("failed to listen", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	server := newServer()
	go func() {
		<-ctx.Done()
		listener.Close()
		server.closeAll()
	}()

	slog.Info("server start", "addr", addr.String())
	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("accept error", "error", err)
			}
			return
		}
		go server.Handle(conn)
	}
}
