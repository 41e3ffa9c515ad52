// Command jsonlpipe relays JSON Lines between its standard input/output and
// either a child process or a TCP peer, checking that every line is valid JSON.
//
//	jsonlpipe [flags] -- command [args...]
//	jsonlpipe [flags] -addr host:port
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/Zereker/jsonl"
	"github.com/Zereker/jsonl/internal/relay"
)

type config struct {
	addr        string
	maxLine     int
	skipInvalid bool
	verbose     bool
	command     []string
}

func parseFlags(args []string, output io.Writer) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("jsonlpipe", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", "", "relay to a TCP peer at host:port instead of a command")
	fs.IntVar(&cfg.maxLine, "max-line", 1024*1024, "maximum record size in bytes, 0 for no limit")
	fs.BoolVar(&cfg.skipInvalid, "skip-invalid", false, "drop invalid lines instead of stopping")
	fs.BoolVar(&cfg.verbose, "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.command = fs.Args()

	switch {
	case cfg.addr == "" && len(cfg.command) == 0:
		return cfg, errors.New("either -addr or a command is required")
	case cfg.addr != "" && len(cfg.command) > 0:
		return cfg, errors.New("-addr and a command are mutually exclusive")
	}
	return cfg, nil
}

func (c config) connOptions() []jsonl.Option {
	return []jsonl.Option{jsonl.MaxLineLengthOption(c.maxLine)}
}

func (c config) relayOptions(logger *slog.Logger) []relay.Option {
	opts := []relay.Option{relay.LoggerOption(logger)}
	if c.skipInvalid {
		opts = append(opts, relay.OnErrorOption(func(error) relay.ErrorAction {
			return relay.Continue
		}))
	}
	return opts
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "jsonlpipe:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second signal kills the process if shutdown hangs.
	context.AfterFunc(ctx, stop)

	if cfg.addr != "" {
		err = runTCP(ctx, cfg, logger)
	} else {
		err = runCommand(ctx, cfg, logger)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func stdioEndpoint(cfg config) relay.Endpoint {
	return relay.Endpoint{
		Name:  "stdio",
		Conn:  jsonl.NewStdio(cfg.connOptions()...),
		Close: os.Stdin.Close,
	}
}

func runTCP(ctx context.Context, cfg config, logger *slog.Logger) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr)
	if err != nil {
		return errors.WithMessagef(err, "dial %s", cfg.addr)
	}
	tcp := conn.(*net.TCPConn)
	logger.Info("connected", "addr", tcp.RemoteAddr())

	peer := relay.Endpoint{
		Name:       cfg.addr,
		Conn:       jsonl.NewTCP(tcp, cfg.connOptions()...),
		CloseWrite: tcp.CloseWrite,
		Close:      tcp.Close,
	}

	return relay.New(stdioEndpoint(cfg), peer, cfg.relayOptions(logger)...).Run(ctx)
}

func runCommand(ctx context.Context, cfg config, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, cfg.command[0], cfg.command[1:]...)
	cmd.Stderr = os.Stderr

	conn, err := jsonl.NewCommand(cmd, cfg.connOptions()...)
	if err != nil {
		return err
	}
	stdin := conn.Sink().(io.Closer)

	if err := cmd.Start(); err != nil {
		return errors.WithMessagef(err, "start %s", cfg.command[0])
	}
	logger.Info("started child", "command", cfg.command[0], "pid", cmd.Process.Pid)

	// Closing stdin makes a well-behaved child exit, which ends its stdout.
	child := relay.Endpoint{
		Name:       cfg.command[0],
		Conn:       conn,
		CloseWrite: stdin.Close,
		Close:      stdin.Close,
	}

	relayErr := relay.New(stdioEndpoint(cfg), child, cfg.relayOptions(logger)...).Run(ctx)
	waitErr := cmd.Wait()
	if relayErr != nil {
		return relayErr
	}
	return errors.WithMessagef(waitErr, "wait %s", cfg.command[0])
}
