// Command unitherd supervises the units declared in a services
// directory: it starts them in file-name order, keeps restartable ones
// alive, and offers one-shot lifecycle commands against the same
// on-disk registry a running instance uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	logsFlags := &LogsFlags{}
	serveFlags := &ServeFlags{}
	templateFlags := &TemplateFlags{}

	c := &command{flags: globalFlags}

	root := createRootCommand(c, globalFlags)
	root.AddCommand(
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createReloadCommand(c),
		createStatusCommand(c, statusFlags),
		createLogsCommand(c, logsFlags),
		createServeCommand(c, serveFlags),
		createTemplateCommand(c, templateFlags),
	)
	return root
}

// createRootCommand creates the root command. Bare `unitherd` starts
// every declared unit and then monitors them until interrupted.
func createRootCommand(c *command, flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "unitherd",
		Short: "Unit supervisor for a directory of declared services",
		Long: `Unitherd reads KEY=VALUE unit files from a services directory and
supervises the long-running processes they declare. File name order is
start order; stop order is the reverse.

Examples:
  unitherd                          # start all units, monitor until Ctrl-C
  unitherd start web                # start one unit
  unitherd status --json            # machine-readable status
  unitherd reload                   # reconcile declared vs. running units
  unitherd logs web -f              # follow one unit's output
  unitherd serve --daemon           # background instance with HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to unitherd.toml (optional)")
	pf.StringVar(&flags.BaseDir, "base-dir", "", "base directory (default: working directory)")
	pf.StringVar(&flags.ServicesDir, "services-dir", "", "unit file directory (default: <base>/services)")
	pf.StringVar(&flags.LogDir, "log-dir", "", "unit log directory (default: <base>/log)")
	pf.StringVar(&flags.RunDir, "run-dir", "", "registry directory (default: <base>/run)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "drive a remote serve instance instead of acting locally (e.g. http://host:8420/unitherd)")

	return root
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start [name]",
		Short: "Start all units, or one by name",
		Long: `Start every declared unit in file-name order, or a single unit.
Starting a unit that is already running is a no-op.

Examples:
  unitherd start
  unitherd start web`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), optionalName(args))
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop all units, or one by name",
		Long: `Stop every unit in reverse file-name order, or a single unit.
Stop is best effort and idempotent: a stopped unit stays stopped.

Examples:
  unitherd stop
  unitherd stop web`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), optionalName(args))
		},
	}
}

func createRestartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart [name]",
		Short: "Restart all units, or one by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), optionalName(args))
		},
	}
}

func createReloadCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reconcile declared units against running units",
		Long: `Compare the services directory with the currently running set:
units that are no longer declared are stopped, newly declared units are
started, and units present in both are left untouched even when their
declaration changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reload(cmd.Context())
		},
	}
}

func createStatusCommand(c *command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every known unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print status rows as JSON")
	return cmd
}

func createLogsCommand(c *command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [name]",
		Short: "Follow unit log streams",
		Long: `Print the tail of one unit's log stream, or of every declared
unit when no name is given, then keep following until interrupted;
multiple units are multiplexed with [name] prefixes. --no-follow prints
the tail and exits.

Examples:
  unitherd logs
  unitherd logs web -n 200
  unitherd logs web --no-follow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), optionalName(args), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.NoFollow, "no-follow", false, "print the tail and exit instead of following")
	cmd.Flags().IntVarP(&flags.Lines, "lines", "n", DefaultLogLines, "number of trailing lines to print before following")
	return cmd
}

func createServeCommand(c *command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor with an HTTP API",
		Long: `Start every declared unit, monitor them, and expose the lifecycle
operations over HTTP (plus Prometheus metrics on /metrics). Listen
address, base path and TLS come from the config file and can be
overridden by flags.

Examples:
  unitherd serve
  unitherd serve --api :8420
  unitherd serve --daemon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "api", "", "API listen address (default from config, :8420)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "API base path (default from config, /unitherd)")
	cmd.Flags().BoolVar(&flags.Daemon, "daemon", false, "detach and run in the background")
	return cmd
}

func createTemplateCommand(c *command, flags *TemplateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Scaffold a unit file",
		Long: `Write a unit file preset for a common service shape. The result
is a starting point: edit CMD and the environment before dropping the
file into the services directory.

Supported types: web, api, worker, database, simple.

Examples:
  unitherd template --type web --name storefront
  unitherd template --type worker --name mailer -o services/30-mailer.unit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Template(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "", "template type (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "unit name (default: <type>-sample)")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing output file")
	if err := cmd.MarkFlagRequired("type"); err != nil {
		panic(err)
	}
	return cmd
}

func optionalName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
