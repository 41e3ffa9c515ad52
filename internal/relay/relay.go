// Package relay copies JSON Lines messages between two connections in both
// directions, validating every line on the way through.
package relay

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/jsonl"
)

// Endpoint is one side of a relay.
type Endpoint struct {
	// Name identifies the endpoint in logs and errors.
	Name string
	Conn *jsonl.Connection
	// CloseWrite, if set, is called once the other endpoint reaches end of
	// stream, so the peer behind this endpoint sees end of stream as well.
	CloseWrite func() error
	// Close, if set, is called when the relay stops. It should unblock a
	// pending receive on Conn. When it does not, as with os.Stdin on most
	// platforms, Run gives up on that receive after the drain timeout.
	Close func() error
}

// Stats counts relayed and dropped messages.
type Stats struct {
	Forward  int64 // messages relayed from the first endpoint to the second
	Backward int64 // messages relayed from the second endpoint to the first
	Dropped  int64 // invalid lines skipped by a Continue decision
}

// Relay pumps messages between two endpoints.
type Relay struct {
	a, b   Endpoint
	logger Logger
	opts   options

	forward   atomic.Int64
	backward  atomic.Int64
	dropped   atomic.Int64
	closeOnce sync.Once
}

// New creates a relay between a and b.
func New(a, b Endpoint, opt ...Option) *Relay {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return &Relay{
		a:      a,
		b:      b,
		logger: opts.logger,
		opts:   opts,
	}
}

// Run relays a->b and b->a until both directions reach end of stream, one
// direction fails, or the context is canceled. The endpoints are closed when
// Run returns.
//
// Once a direction fails or ctx is canceled, Run closes both endpoints and
// waits at most the drain timeout for the pumps to return. A pump still
// blocked after that is abandoned and Run returns the stopping error.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "a", r.a.Name, "b", r.b.Name)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return r.pump(child, r.a, r.b, &r.forward)
	})

	group.Go(func() error {
		return r.pump(child, r.b, r.a, &r.backward)
	})

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-child.Done():
		// A failed or canceled direction leaves the other blocked in a receive.
		r.close()

		timer := time.NewTimer(r.opts.drainTimeout)
		defer timer.Stop()

		select {
		case err = <-done:
		case <-timer.C:
			err = context.Cause(child)
			r.logger.Warn("abandoning blocked receive", "timeout", r.opts.drainTimeout, "error", err.Error())
		}
	}
	r.close()

	stats := r.Stats()
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Info("relay stopped with error", "error", err.Error(),
			"forward", stats.Forward, "backward", stats.Backward, "dropped", stats.Dropped)
	} else {
		r.logger.Info("relay stopped",
			"forward", stats.Forward, "backward", stats.Backward, "dropped", stats.Dropped)
	}

	return err
}

// Stats returns the current counters. Safe to call while Run is active.
func (r *Relay) Stats() Stats {
	return Stats{
		Forward:  r.forward.Load(),
		Backward: r.backward.Load(),
		Dropped:  r.dropped.Load(),
	}
}

// pump relays messages from one endpoint to the other until end of stream or an error.
func (r *Relay) pump(ctx context.Context, from, to Endpoint, relayed *atomic.Int64) error {
	for {
		var msg json.RawMessage
		err := from.Conn.Receive(&msg)

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF):
			r.logger.Debug("end of stream", "from", from.Name)
			return closeWrite(to)
		case droppable(err) && r.opts.onError(err) == Continue:
			r.dropped.Add(1)
			r.logger.Warn("dropping line", "from", from.Name, "error", err.Error())
			continue
		default:
			r.logger.Debug("receive error", "from", from.Name, "error", err.Error())
			return errors.WithMessagef(err, "receive from %s", from.Name)
		}

		if err := to.Conn.Send(msg); err != nil {
			r.logger.Debug("send error", "to", to.Name, "error", err.Error())
			return errors.WithMessagef(err, "send to %s", to.Name)
		}

		if err := to.Conn.Flush(); err != nil {
			r.logger.Debug("flush error", "to", to.Name, "error", err.Error())
			return errors.WithMessagef(err, "flush %s", to.Name)
		}

		relayed.Add(1)
	}
}

// droppable reports whether err concerns a single line rather than the stream.
func droppable(err error) bool {
	return errors.Is(err, jsonl.ErrDecode) || errors.Is(err, jsonl.ErrLineTooLong)
}

func closeWrite(e Endpoint) error {
	if e.CloseWrite == nil {
		return nil
	}
	return errors.WithMessagef(e.CloseWrite(), "close write side of %s", e.Name)
}

// close closes both endpoints once.
func (r *Relay) close() {
	r.closeOnce.Do(func() {
		for _, e := range []Endpoint{r.a, r.b} {
			if e.Close == nil {
				continue
			}
			if err := e.Close(); err != nil {
				r.logger.Debug("close error", "endpoint", e.Name, "error", err.Error())
			}
		}
	})
}
