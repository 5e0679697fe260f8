// Command dboxmapctl is an operator tool for inspecting and maintaining a
// shared-message map index out of band from the server process embedding
// it.
package main

import (
	"fmt"
	"os"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.Version = version
	commands.Commit = commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
