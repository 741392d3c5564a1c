package cmds

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-delve/jobctl/pkg/config"
	"github.com/go-delve/jobctl/pkg/jobctl"
	"github.com/go-delve/jobctl/pkg/logflags"
	"github.com/go-delve/jobctl/pkg/terminal"
	"github.com/go-delve/jobctl/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// tty is the terminal new inferiors are started on.
	tty string
	// managedTTY logs the lifecycle of debugger-created terminals.
	managedTTY bool
	// noJobControl disables job control even when the terminal supports it.
	noJobControl bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const jobctlCommandLongDesc = `jobctl runs programs as inferiors of an interactive debugger.

Each inferior is started on its own terminal when the platform supports
pseudo-terminals, or shares the terminal of the debugger otherwise. The
debugger hands the terminal to the inferior running in the foreground and
takes it back, with its own settings, when the inferior stops or exits.

Pass flags to the program you are running using ` + "`--`" + `, for example:

` + "`jobctl exec ./hello -- server --config conf/config.toml`"

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main jobctl root command.
	rootCommand = &cobra.Command{
		Use:   "jobctl",
		Short: "jobctl runs programs under an interactive multi-inferior debugger.",
		Long:  jobctlCommandLongDesc,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(nil, false, conf))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (debugger, terminal, managedtty, eventloop, proc).`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed before the first prompt.")
	rootCommand.PersistentFlags().StringVar(&tty, "tty", "", "TTY to use for the inferiors.")
	rootCommand.PersistentFlags().BoolVar(&managedTTY, "managed-tty", false, "Log the lifecycle of debugger-created terminals.")
	rootCommand.PersistentFlags().BoolVar(&noJobControl, "no-job-control", false, "Do not hand the terminal to running inferiors.")

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/program> [-- args]",
		Short: "Start a program as the first inferior and begin a session.",
		Long: `Start a program as the first inferior and begin a session.

The program runs in the foreground until it stops or exits, then the
debugger prompt is shown.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a program")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args, true, conf))
		},
	}
	rootCommand.AddCommand(execCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jobctl\n%s\n", version.JobctlVersion)
			if log {
				fmt.Print(version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// capabilities returns what the debugger's terminal supports. Command line
// flags are stored in conf, which overrides the probe.
func capabilities(flags *pflag.FlagSet) jobctl.Capabilities {
	caps := jobctl.Probe()
	if noJobControl {
		// The config file is applied on top of the probe, the flag wins
		// over both.
		off := false
		conf.JobControl = &off
	}
	if flags.Changed("tty") {
		conf.InferiorTTY = tty
	}
	if managedTTY {
		conf.DebugManagedTTY = true
	}
	return caps
}

func execute(processArgs []string, runFirst bool, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	term, err := terminal.New(conf, capabilities(rootCommand.PersistentFlags()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	term.InitFile = initFile
	term.Args = processArgs
	term.RunFirst = runFirst

	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
