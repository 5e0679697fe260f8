// Package stat implements the "stat" dboxmapctl command.
package stat

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/cmdutil"
)

// Cmd prints summary information about a storage root's map index.
var Cmd = &cobra.Command{
	Use:   "stat",
	Short: "Print summary information about the map index",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	m, cfg, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	validity, err := m.GetUidValidity()
	if err != nil {
		return fmt.Errorf("reading uid_validity: %w", err)
	}

	zeroRef, err := m.GetZeroRefFiles()
	if err != nil {
		return fmt.Errorf("scanning for zero-ref files: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "storage_dir:       %s\n", cfg.Storage.Dir)
	fmt.Fprintf(cmd.OutOrStdout(), "uid_validity:      %d\n", validity)
	fmt.Fprintf(cmd.OutOrStdout(), "zero_ref_files:    %d\n", len(zeroRef))
	return nil
}
