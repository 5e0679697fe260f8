// Package refcount implements the "refcount" dboxmapctl command group.
package refcount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/cmdutil"
)

// Cmd is the parent command for refcount mutation.
var Cmd = &cobra.Command{
	Use:   "refcount",
	Short: "Apply refcount deltas or bulk-expunge by file_id",
}

var updateCmd = &cobra.Command{
	Use:   "update <map_uid>[,<map_uid>...] <diff>",
	Short: "Apply a ±N refcount delta to one or more map_uids",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdate,
}

var removeFileCmd = &cobra.Command{
	Use:   "remove-file <file_id>",
	Short: "Expunge every live entry pointing at file_id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoveFile,
}

func init() {
	Cmd.AddCommand(updateCmd)
	Cmd.AddCommand(removeFileCmd)
}

func parseUIDs(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid map_uid %q: %w", p, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	uids, err := parseUIDs(args[0])
	if err != nil {
		return err
	}
	diff, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid diff %q: %w", args[1], err)
	}

	m, _, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	rt := m.BeginRefcountTxn(false)
	defer rt.Free()

	if err := rt.UpdateRefcounts(uids, int32(diff)); err != nil {
		return fmt.Errorf("updating refcounts: %w", err)
	}
	if err := rt.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "applied diff=%d to %d uid(s)\n", diff, len(uids))
	return nil
}

func runRemoveFile(cmd *cobra.Command, args []string) error {
	fileID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid file_id %q: %w", args[0], err)
	}

	m, _, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	rt := m.BeginRefcountTxn(false)
	defer rt.Free()

	if err := rt.RemoveFileID(uint32(fileID)); err != nil {
		return fmt.Errorf("removing file_id %d: %w", fileID, err)
	}
	if err := rt.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed all entries for file_id=%d\n", fileID)
	return nil
}
