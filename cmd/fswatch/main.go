package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Build information.
var (
	Version = "(development build)"
)

// errStop is a terminal error for indicating program should quit.
var errStop = errors.New("stop")

func main() {
	m := NewMain()
	if err := m.Run(context.Background(), os.Args[1:]); errors.Is(err, flag.ErrHelp) || errors.Is(err, errStop) {
		os.Exit(1)
	} else if err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}

// Main represents the main program execution.
type Main struct{}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{}
}

// Run executes the program.
func (m *Main) Run(ctx context.Context, args []string) (err error) {
	// Extract command name.
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "watch":
		c := NewWatchCommand()
		if err := c.ParseFlags(ctx, args); err != nil {
			return err
		}

		// Setup signal handler.
		signalCh := signalChan()

		if err := c.Run(ctx); err != nil {
			return err
		}

		// Wait for signal or the exec subprocess to stop the program.
		select {
		case err = <-c.execCh:
			slog.Info("subprocess exited, fswatch shutting down")
		case sig := <-signalCh:
			slog.Info("signal received, fswatch shutting down")

			if c.cmd != nil {
				slog.Info("sending signal to exec process")
				if err := c.cmd.Process.Signal(sig); err != nil {
					return fmt.Errorf("cannot signal exec process: %w", err)
				}

				slog.Info("waiting for exec process to close")
				if err := <-c.execCh; err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("subprocess returned error", "error", err)
				}
			}
		}

		if e := c.Close(); e != nil && err == nil {
			err = e
		}
		slog.Info("fswatch shut down")
		return err

	case "version":
		return (&VersionCommand{}).Run(ctx, args)

	case "":
		m.Usage()
		return flag.ErrHelp
	default:
		if cmd == "help" || cmd == "-h" || cmd == "--help" {
			m.Usage()
			return flag.ErrHelp
		}
		return fmt.Errorf("unknown command %q: run 'fswatch help' for usage", cmd)
	}
}

// Usage prints the help screen to STDOUT.
func (m *Main) Usage() {
	fmt.Println(`
fswatch is a tool for watching file sets and reporting changes.

Usage:

	fswatch <command> [arguments]

The commands are:

	watch        watch glob patterns and report file events
	version      prints the binary version
`[1:])
}

func signalChan() <-chan os.Signal {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}

// VersionCommand prints the build version.
type VersionCommand struct{}

func (c *VersionCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("fswatch-version", flag.ContinueOnError)
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println(Version)

	return nil
}

func (c *VersionCommand) Usage() {
	fmt.Println(`
Prints the version.

Usage:

	fswatch version
`[1:])
}
