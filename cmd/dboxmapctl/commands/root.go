package commands

import (
	"github.com/spf13/cobra"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/cmdutil"
	gccmd "github.com/cobaltmail/dboxmap/cmd/dboxmapctl/commands/gc"
	lookupcmd "github.com/cobaltmail/dboxmap/cmd/dboxmapctl/commands/lookup"
	refcountcmd "github.com/cobaltmail/dboxmap/cmd/dboxmapctl/commands/refcount"
	statcmd "github.com/cobaltmail/dboxmap/cmd/dboxmapctl/commands/stat"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "dboxmapctl",
	Short: "Inspect and operate on a shared-message map index",
	Long: `dboxmapctl is an operator tool for the shared-message map: a
deduplicated, refcounted index from a logical message body to its physical
location in one of a small number of append-only multi-files.

Use "dboxmapctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cmdutil.BindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(lookupcmd.Cmd)
	rootCmd.AddCommand(refcountcmd.Cmd)
	rootCmd.AddCommand(gccmd.Cmd)
	rootCmd.AddCommand(statcmd.Cmd)
}
