package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-shellwords"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fswatcher "github.com/mysticatea/fs-watcher"
)

// WatchCommand represents the command to watch glob patterns and report
// file events.
type WatchCommand struct {
	Config Config

	watcher *fswatcher.GlobWatcher

	// Subprocess started via the "exec" config option, if any.
	cmd    *exec.Cmd
	execCh chan error

	wg sync.WaitGroup
}

// NewWatchCommand returns a new instance of WatchCommand.
func NewWatchCommand() *WatchCommand {
	return &WatchCommand{
		execCh: make(chan error),
	}
}

// ParseFlags parses the CLI flags & config file.
func (c *WatchCommand) ParseFlags(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("fswatch-watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	cwd := fs.String("cwd", "", "base directory for relative patterns")
	poll := fs.Bool("poll", false, "use the polling engine")
	pollingInterval := fs.Duration("polling-interval", 0, "polling engine sampling interval")
	debounceInterval := fs.Duration("debounce-interval", 0, "native engine debounce window")
	execCmd := fs.String("exec", "", "subcommand to run alongside the watcher")
	addr := fs.String("addr", "", "bind address for serving metrics")
	var excludes stringSliceFlag
	fs.Var(&excludes, "exclude", "exclude pattern (repeatable)")
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *configPath != "" {
		if c.Config, err = ReadConfigFile(*configPath); err != nil {
			return err
		}
	} else {
		c.Config = DefaultConfig()
	}

	// Flags override the config file; -exclude values are appended to its
	// excludes.
	if args := fs.Args(); len(args) > 0 {
		c.Config.Includes = args
	}
	if len(excludes) > 0 {
		c.Config.Excludes = append(c.Config.Excludes, excludes...)
	}
	if *cwd != "" {
		c.Config.CWD = *cwd
	}
	if *poll {
		c.Config.Poll = true
	}
	if *pollingInterval > 0 {
		c.Config.PollingInterval = pollingInterval.String()
	}
	if *debounceInterval > 0 {
		c.Config.DebounceInterval = debounceInterval.String()
	}
	if *execCmd != "" {
		c.Config.Exec = *execCmd
	}
	if *addr != "" {
		c.Config.Addr = *addr
	}

	if len(c.Config.Includes) == 0 {
		return fmt.Errorf("at least one include pattern required")
	}

	// Patterns prefixed with "!" are excludes at the public surface.
	var includes []string
	for _, pattern := range c.Config.Includes {
		if len(pattern) > 0 && pattern[0] == '!' {
			c.Config.Excludes = append(c.Config.Excludes, pattern[1:])
		} else {
			includes = append(includes, pattern)
		}
	}
	c.Config.Includes = includes

	return nil
}

// Run opens the watcher and starts the reporting loop, the metrics server,
// and the exec subprocess.
func (c *WatchCommand) Run(ctx context.Context) (err error) {
	pollingInterval, err := c.Config.pollingInterval()
	if err != nil {
		return err
	}
	debounceInterval, err := c.Config.debounceInterval()
	if err != nil {
		return err
	}

	cwd := c.Config.CWD
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	w, err := fswatcher.NewGlobWatcher(fswatcher.GlobOptions{
		Includes:         c.Config.Includes,
		Excludes:         c.Config.Excludes,
		CWD:              cwd,
		Poll:             c.Config.Poll,
		PollingInterval:  pollingInterval,
		DebounceInterval: debounceInterval,
	})
	if err != nil {
		return err
	}
	if err := w.Open(ctx); err != nil {
		return err
	}
	c.watcher = w

	engine := "native"
	if c.Config.Poll {
		engine = "poll"
	}
	slog.Info("watching",
		"includes", c.Config.Includes,
		"excludes", c.Config.Excludes,
		"engine", engine,
		"files", len(w.Stats()))

	c.wg.Add(2)
	go c.reportEvents()
	go c.reportErrors()

	// Serve metrics over HTTP if enabled.
	if c.Config.Addr != "" {
		hostport := c.Config.Addr
		if host, port, _ := net.SplitHostPort(c.Config.Addr); port == "" {
			return fmt.Errorf("must specify port for bind address: %q", c.Config.Addr)
		} else if host == "" {
			hostport = net.JoinHostPort("localhost", port)
		}

		slog.Info("serving metrics on", "url", fmt.Sprintf("http://%s/metrics", hostport))
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(c.Config.Addr, nil); err != nil {
				slog.Error("cannot start metrics server", "error", err)
			}
		}()
	}

	// Parse exec command args & start subprocess.
	if c.Config.Exec != "" {
		execArgs, err := shellwords.Parse(c.Config.Exec)
		if err != nil {
			return fmt.Errorf("cannot parse exec command: %w", err)
		}

		c.cmd = exec.Command(execArgs[0], execArgs[1:]...)
		c.cmd.Env = os.Environ()
		c.cmd.Stdout = os.Stdout
		c.cmd.Stderr = os.Stderr
		if err := c.cmd.Start(); err != nil {
			return fmt.Errorf("cannot start exec command: %w", err)
		}
		go func() { c.execCh <- c.cmd.Wait() }()
	}

	return nil
}

// Close closes the watcher.
func (c *WatchCommand) Close() (err error) {
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	c.wg.Wait()
	return err
}

func (c *WatchCommand) reportEvents() {
	defer c.wg.Done()
	for ev := range c.watcher.Events() {
		switch ev.Type {
		case fswatcher.EventAdd:
			slog.Info("file added", "path", ev.Path, "size", humanize.Bytes(uint64(ev.Info.Size)))
		case fswatcher.EventRemove:
			slog.Info("file removed", "path", ev.Path)
		case fswatcher.EventChange:
			slog.Info("file changed", "path", ev.Path, "size", humanize.Bytes(uint64(ev.Info.Size)))
		}
	}
}

func (c *WatchCommand) reportErrors() {
	defer c.wg.Done()
	for err := range c.watcher.Errors() {
		slog.Error("watch error", "error", err)
	}
}

// Usage prints the help message to STDOUT.
func (c *WatchCommand) Usage() {
	fmt.Printf(`
The watch command watches a set of files selected by glob patterns and
reports add, remove & change events as they occur.

Usage:

	fswatch watch [arguments] PATTERN [PATTERN...]

Patterns use POSIX globs including "**" and brace alternation. A pattern
prefixed with "!" is an exclude.

Arguments:

	-config PATH
	    Specifies the configuration file.

	-cwd PATH
	    Base directory for relative patterns. Defaults to the working
	    directory.

	-exclude PATTERN
	    Adds an exclude pattern. May be repeated.

	-poll
	    Uses the polling engine instead of native change notifications.

	-polling-interval DURATION
	    Sampling interval of the polling engine. Defaults to %s.

	-debounce-interval DURATION
	    Merge window of the native engine. Defaults to %s.

	-exec CMD
	    Executes a subcommand. fswatch shuts down when the subcommand exits.

	-addr :PORT
	    Serves Prometheus metrics on the given bind address.

`[1:], fswatcher.DefaultPollingInterval, fswatcher.DefaultDebounceInterval)
}

// stringSliceFlag collects repeated flag values.
type stringSliceFlag []string

func (f *stringSliceFlag) String() string { return fmt.Sprint([]string(*f)) }

func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}
