package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/unitherd/unitherd/internal/config"
	"github.com/unitherd/unitherd/internal/history"
	"github.com/unitherd/unitherd/internal/history/factory"
	"github.com/unitherd/unitherd/internal/logger"
	"github.com/unitherd/unitherd/internal/process"
	"github.com/unitherd/unitherd/internal/supervisor"
	"github.com/unitherd/unitherd/internal/template"
	"github.com/unitherd/unitherd/pkg/client"
)

// command binds the CLI handlers to the shared global flags. Every
// invocation builds its state fresh: one-shot commands and a running
// serve instance coordinate through the on-disk registry, not through
// shared memory.
type command struct {
	flags *GlobalFlags
}

// loadConfig merges config file and directory flags, flags winning.
func (c *command) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.flags.BaseDir != "" {
		cfg.BaseDir = c.flags.BaseDir
	}
	if c.flags.ServicesDir != "" {
		cfg.ServicesDir = c.flags.ServicesDir
	}
	if c.flags.LogDir != "" {
		cfg.LogDir = c.flags.LogDir
	}
	if c.flags.RunDir != "" {
		cfg.RunDir = c.flags.RunDir
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// supervisor builds the local supervisor with logging and history sinks
// wired. The returned cleanup releases sinks and the log file writer.
func (c *command) supervisor() (*supervisor.Supervisor, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger setup: %w", err)
	}
	sup, err := supervisor.New(cfg)
	if err != nil {
		closeQuiet(logCloser)
		return nil, nil, err
	}

	var sinks []history.Sink
	for _, dsn := range cfg.History.DSNs {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			slog.Warn("history sink unavailable", "dsn", dsn, "error", err)
			continue
		}
		sinks = append(sinks, sink)
	}
	sup.SetHistorySinks(sinks...)

	cleanup := func() {
		sup.Close()
		closeQuiet(logCloser)
	}
	return sup, cleanup, nil
}

// remote returns the API client when --api-url was given.
func (c *command) remote() *client.Client {
	if c.flags.APIUrl == "" {
		return nil
	}
	return client.New(client.Config{BaseURL: c.flags.APIUrl})
}

// Run is the bare invocation: start everything, then monitor until the
// process is interrupted. Unit-level launch failures do not prevent
// monitoring; missing dependencies and broken configuration do.
func (c *command) Run(ctx context.Context) error {
	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.StartAll(ctx); err != nil {
		if errors.Is(err, process.ErrMissingDependency) || errors.Is(err, config.ErrConfiguration) {
			return err
		}
		slog.Warn("some units failed to start, monitoring the rest", "error", err)
	}
	return sup.Monitor(ctx)
}

// Start starts one unit, or every declared unit when name is empty.
func (c *command) Start(ctx context.Context, name string) error {
	if api := c.remote(); api != nil {
		return api.Start(ctx, name)
	}
	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()
	if name == "" {
		return sup.StartAll(ctx)
	}
	return sup.Start(ctx, name)
}

// Stop stops one unit, or every unit when name is empty.
func (c *command) Stop(ctx context.Context, name string) error {
	if api := c.remote(); api != nil {
		return api.Stop(ctx, name)
	}
	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()
	if name == "" {
		return sup.StopAll(ctx)
	}
	return sup.Stop(ctx, name)
}

// Restart restarts one unit, or every unit when name is empty.
func (c *command) Restart(ctx context.Context, name string) error {
	if api := c.remote(); api != nil {
		return api.Restart(ctx, name)
	}
	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()
	if name == "" {
		return sup.RestartAll(ctx)
	}
	return sup.Restart(ctx, name)
}

// Reload reconciles the declared set against the live set.
func (c *command) Reload(ctx context.Context) error {
	if api := c.remote(); api != nil {
		return api.Reload(ctx)
	}
	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()
	if err := sup.Reload(ctx); err != nil {
		return err
	}
	rows, err := sup.Status()
	if err != nil {
		return err
	}
	return printRows(os.Stdout, rows, false)
}

// Status prints the state of every known unit.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	var rows []supervisor.Row
	if api := c.remote(); api != nil {
		remote, err := api.Status(ctx)
		if err != nil {
			return err
		}
		for _, r := range remote {
			rows = append(rows, supervisor.Row{Name: r.Name, Pid: r.Pid, Running: r.Running, Hint: r.Hint})
		}
	} else {
		sup, cleanup, err := c.supervisor()
		if err != nil {
			return err
		}
		defer cleanup()
		rows, err = sup.Status()
		if err != nil {
			return err
		}
	}
	return printRows(os.Stdout, rows, f.JSON)
}

// Logs prints the tail of unit log streams and then follows them until
// interrupted, unless --no-follow asked for the tail alone.
func (c *command) Logs(ctx context.Context, name string, f LogsFlags) error {
	if api := c.remote(); api != nil {
		// The remote API serves tails only; there is no stream to follow.
		if name == "" {
			return errors.New("a unit name is required with --api-url")
		}
		lines, err := api.Logs(ctx, name, f.Lines)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	}

	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	names := []string{name}
	if name == "" {
		specs, err := sup.Units()
		if err != nil {
			return err
		}
		names = names[:0]
		for _, sp := range specs {
			names = append(names, sp.Name)
		}
	}

	prefix := len(names) > 1
	for _, n := range names {
		lines, err := sup.TailLogs(n, f.Lines)
		if err != nil {
			if name != "" {
				return fmt.Errorf("no log stream for unit %q: %w", n, err)
			}
			continue
		}
		for _, l := range lines {
			if prefix {
				fmt.Printf("[%s] %s\n", n, l)
			} else {
				fmt.Println(l)
			}
		}
	}
	if f.NoFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sup.FollowLogs(ctx, os.Stdout, names)
	return nil
}

// Template renders a unit file preset to stdout or a file.
func (c *command) Template(f TemplateFlags) error {
	g := template.NewGenerator()
	name := f.Name
	if name == "" {
		name = f.Type + "-sample"
	}
	u, err := g.Generate(template.Type(f.Type), name)
	if err != nil {
		return err
	}
	out := u.Render()

	if f.Output == "" {
		fmt.Print(out)
		return nil
	}
	if !f.Force {
		if _, err := os.Stat(f.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.Output)
		}
	}
	if dir := filepath.Dir(f.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(f.Output, []byte(out), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", f.Output)
	return nil
}

// printRows renders status rows as an aligned table, or JSON.
func printRows(w io.Writer, rows []supervisor.Row, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATE\tPID\tHINT")
	for _, r := range rows {
		state, pid := "stopped", ""
		if r.Running {
			state = "running"
			pid = fmt.Sprintf("%d", r.Pid)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, state, pid, r.Hint)
	}
	return tw.Flush()
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
