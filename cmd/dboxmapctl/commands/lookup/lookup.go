// Package lookup implements the "lookup" dboxmapctl command.
package lookup

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/cmdutil"
)

// Cmd resolves a map_uid to its physical file location.
var Cmd = &cobra.Command{
	Use:   "lookup <map_uid>",
	Short: "Resolve a map_uid to its (file_id, offset, size)",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	uid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid map_uid %q: %w", args[0], err)
	}

	m, _, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	rec, found, err := m.Lookup(uint32(uid)).Unwrap()
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(cmd.OutOrStdout(), "map_uid %d: not found\n", uid)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "map_uid=%d file_id=%d offset=%d size=%d\n",
		uid, rec.FileID, rec.Offset, rec.Size)
	return nil
}
