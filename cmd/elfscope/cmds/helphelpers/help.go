package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// We do this because not all flags associated with the root command are
// valid for all subcommands but we don't want to move them out of the root
// command and into subcommands, since that would change how cobra parses
// the command line.
//
// For example:
//
//	elfscope --flavour intel fn ./bin main
//
// must parse successfully even though the flavour flag only matters to
// the 'fn' subcommand.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "help", "version", "log":
		hideAllFlags(cmd)
	case "header", "ph", "sh", "section", "summary":
		hideFlag(cmd, "flavour")
		hideFlag(cmd, "no-demangle")
		hideFlag(cmd, "init")
	case "sym", "eh":
		hideFlag(cmd, "flavour")
		hideFlag(cmd, "init")
	case "fn":
		hideFlag(cmd, "init")
	case "run":
		hideFlag(cmd, "init")
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	flag := cmd.InheritedFlags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
	}
}
