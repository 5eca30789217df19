// Package cmds builds the elfscope command tree.
package cmds

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elfscope/elfscope/cmd/elfscope/cmds/helphelpers"
	"github.com/elfscope/elfscope/pkg/config"
	"github.com/elfscope/elfscope/pkg/logflags"
	"github.com/elfscope/elfscope/pkg/target"
	"github.com/elfscope/elfscope/pkg/terminal"
	"github.com/elfscope/elfscope/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// flavour overrides the configured assembly syntax for this run.
	flavour string
	// noDemangle prints raw linker names everywhere.
	noDemangle bool
	// noColor disables ANSI colors even on a terminal.
	noColor bool
	// initFile is the path to an initialization command file.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

// fileEnvVar names the file argument fallback. It is read only here,
// in the command layer; the engine always receives an explicit buffer.
const fileEnvVar = "ELFSCOPE_FILE"

const elfscopeCommandLongDesc = `Elfscope is an inspector for ELF binaries.

It shows the file, program and section header tables, lists and filters
symbols, disassembles functions and decodes call frame and exception
handling metadata, without running the binary.

Pass the file to inspect as the first argument, or set ` + fileEnvVar + `
to inspect the same file across several invocations.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main elfscope root command.
	rootCommand = &cobra.Command{
		Use:   "elfscope <file>",
		Short: "Elfscope is an inspector for ELF binaries.",
		Long:  elfscopeCommandLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replRun(cmd, args)
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'elfscope help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'elfscope help log').")
	rootCommand.PersistentFlags().StringVar(&flavour, "flavour", "", "Assembly syntax: gnu, intel or go. Overrides the configured value.")
	rootCommand.PersistentFlags().BoolVar(&noDemangle, "no-demangle", false, "Print raw linker names.")
	rootCommand.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable ANSI colors.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed before the first prompt.")

	// One shot subcommands. Each loads the file, runs the matching
	// terminal command once and exits; flag parsing stops at the first
	// positional argument so the terminal command sees its own options.
	for _, sub := range []struct{ use, short string }{
		{"header <file>", "Print the file header."},
		{"ph <file>", "Print the program header table."},
		{"sh <file> [pattern]", "Print the section header table."},
		{"section <file> <name>", "Print the contents of one section."},
		{"sym <file> [filters]", "List symbols."},
		{"fn <file> <name|0xaddr>", "Disassemble a function."},
		{"eh <file> [<name|0xaddr>]", "Show exception handling and unwind data."},
		{"summary <file>", "Print an overview of the file."},
	} {
		name := strings.SplitN(sub.use, " ", 2)[0]
		cmd := &cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Long: sub.short + `

Same syntax as the interactive command; 'elfscope repl <file>' then
'help ` + name + `' shows the full documentation. The file argument can be
omitted when ` + fileEnvVar + ` is set.`,
			RunE: oneShot(name),
		}
		cmd.Flags().SetInterspersed(false)
		rootCommand.AddCommand(cmd)
	}

	// 'repl' subcommand, the explicit spelling of the root command.
	replCommand := &cobra.Command{
		Use:   "repl <file>",
		Short: "Inspect a file interactively.",
		Long: `Inspect a file interactively.

Opens the file and starts the prompt. This is also what running
elfscope with only a file argument does.`,
		RunE: replRun,
	}
	rootCommand.AddCommand(replCommand)

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run <script.star> <file>",
		Short: "Execute a starlark script against a file.",
		Long: `Execute a starlark script against a file.

The script runs in the same environment as the interactive 'source'
command: engine queries are available as builtins and command_ prefixed
functions register new commands. See Documentation/cli/starlark.md.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a script")
			}
			return nil
		},
		RunE: runRun,
	}
	rootCommand.AddCommand(runCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Elfscope\n%s\n", version.ElfscopeVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print build information")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	elffile		Log structural parsing
	symtab		Log symbol table construction
	frame		Log call frame information decoding
	lsda		Log exception table decoding
	disasm		Log disassembly
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	helpFunc := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		helpFunc(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// resolveFile splits the file to open from the remaining arguments,
// falling back to the environment when no argument carries it.
func resolveFile(args []string, getenv func(string) string) (string, []string, error) {
	if path := getenv(fileEnvVar); path != "" {
		return path, args, nil
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("no file argument and %s is not set", fileEnvVar)
	}
	return args[0], args[1:], nil
}

// open loads and parses the file named by args/environment.
func open(args []string) (*target.Target, []string, error) {
	path, rest, err := resolveFile(args, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	buf, err := loadFile(path)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := target.Open(path, buf)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return tgt, rest, nil
}

// runConf applies the command line overrides to the loaded config.
func runConf() *config.Config {
	c := conf
	if c == nil {
		c = &config.Config{}
	}
	if flavour != "" {
		c.DisassemblyFlavour = flavour
	}
	if noDemangle {
		f := false
		c.Demangle = &f
	}
	if noColor {
		f := false
		c.UseColors = &f
	}
	return c
}

func replRun(cmd *cobra.Command, args []string) error {
	status, err := func() (int, error) {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			return 1, err
		}
		defer logflags.Close()

		tgt, rest, err := open(args)
		if err != nil {
			return 1, err
		}
		if len(rest) > 0 {
			return 1, fmt.Errorf("too many arguments: %q", rest)
		}

		t := terminal.New(tgt, runConf())
		t.InitFile = initFile
		return t.Run()
	}()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if status != 0 {
		os.Exit(status)
	}
	return nil
}

// oneShot returns the RunE implementation for a single terminal
// command: open the file, run the command, exit.
func oneShot(name string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			return err
		}
		defer logflags.Close()

		tgt, rest, err := open(args)
		if err != nil {
			return err
		}

		t := terminal.New(tgt, runConf())
		defer t.Close()
		cmdstr := name
		if len(rest) > 0 {
			cmdstr += " " + strings.Join(rest, " ")
		}
		return t.Call(cmdstr)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	tgt, rest, err := open(args[1:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("too many arguments: %q", rest)
	}

	t := terminal.New(tgt, runConf())
	defer t.Close()
	return t.Call("source " + args[0])
}
