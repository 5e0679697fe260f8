// Package gc implements the "gc" dboxmapctl command group: listing and
// cold-archiving zero-refcount multi-files.
package gc

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cobaltmail/dboxmap/cmd/dboxmapctl/cmdutil"
	"github.com/cobaltmail/dboxmap/pkg/archiver"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile/fs"
)

// Cmd is the parent command for garbage collection operations.
var Cmd = &cobra.Command{
	Use:   "gc",
	Short: "List or archive zero-refcount multi-files",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List file_ids with every entry at refcount zero",
	RunE:  runList,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload every zero-refcount multi-file to S3, then unlink and expunge it",
	RunE:  runArchive,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(archiveCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	m, _, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	fileIDs, err := m.GetZeroRefFiles()
	if err != nil {
		return fmt.Errorf("scanning for zero-ref files: %w", err)
	}
	if len(fileIDs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no zero-refcount files")
		return nil
	}
	for _, id := range fileIDs {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	m, cfg, err := cmdutil.OpenMap(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if !cfg.Archiver.Enabled {
		return fmt.Errorf("archiver is disabled in configuration (archiver.enabled=false)")
	}

	ctx := context.Background()
	arc, err := archiver.NewFromConfig(ctx, archiver.Config{
		Bucket: cfg.Archiver.Bucket,
		Prefix: cfg.Archiver.Prefix,
		Region: cfg.Archiver.Region,
	})
	if err != nil {
		return fmt.Errorf("building archiver: %w", err)
	}

	fileIDs, err := m.GetZeroRefFiles()
	if err != nil {
		return fmt.Errorf("scanning for zero-ref files: %w", err)
	}
	if len(fileIDs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to archive")
		return nil
	}

	files := fs.NewManager(cfg.Storage.Dir)
	archived := 0
	for _, fileID := range fileIDs {
		if err := archiveOne(ctx, arc, files, fileID); err != nil {
			return fmt.Errorf("archiving file_id=%d: %w", fileID, err)
		}

		rt := m.BeginRefcountTxn(false)
		if err := rt.RemoveFileID(fileID); err != nil {
			rt.Free()
			return fmt.Errorf("expunging file_id=%d after archive: %w", fileID, err)
		}
		if err := rt.Commit(); err != nil {
			rt.Free()
			return fmt.Errorf("committing expunge for file_id=%d: %w", fileID, err)
		}
		rt.Free()
		archived++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "archived and removed %d file(s)\n", archived)
	return nil
}

func archiveOne(ctx context.Context, arc *archiver.Archiver, files dboxfile.FileManager, fileID uint32) error {
	f, err := files.OpenMulti(fileID)
	if err != nil {
		return fmt.Errorf("opening file_id=%d: %w", fileID, err)
	}
	defer f.Close()

	info, err := os.Stat(f.Path())
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.Path(), err)
	}

	body, err := os.Open(f.Path())
	if err != nil {
		return fmt.Errorf("opening body %s: %w", f.Path(), err)
	}
	defer body.Close()

	if err := arc.Archive(ctx, fileID, body, info.Size()); err != nil {
		return err
	}
	return f.Unlink()
}
