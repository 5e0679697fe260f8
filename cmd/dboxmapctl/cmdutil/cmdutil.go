// Package cmdutil holds the config-loading and Map-opening plumbing shared
// by every dboxmapctl subcommand.
package cmdutil

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cobaltmail/dboxmap/pkg/config"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile/fs"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex/badger"
	"github.com/cobaltmail/dboxmap/pkg/dboxmap"
	"github.com/cobaltmail/dboxmap/pkg/dboxstorage"
)

// Flags holds the global flags the root command parses before any
// subcommand runs.
var Flags struct {
	ConfigPath string
}

// BindGlobalFlags registers the persistent flags every subcommand reads
// through Flags.
func BindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&Flags.ConfigPath, "config", "", "path to dboxmapctl config file")
	fs.String("storage.dir", "", "storage root directory")
}

// OpenMap loads configuration from Flags plus cmd's own flags, and returns
// an opened Map ready for a single command invocation. The caller must
// Close it.
func OpenMap(cmd *cobra.Command) (*dboxmap.Map, *config.Config, error) {
	cfg, err := config.Load(Flags.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	index := badger.New(cfg.Storage.Dir)
	files := fs.NewManager(cfg.Storage.Dir)
	storage := dboxstorage.New(cfg.Storage.Dir, uint32(cfg.Storage.RotateSize), cfg.Storage.RotateDays)

	m := dboxmap.New(index, files, storage)
	if err := m.Open(true); err != nil {
		return nil, nil, fmt.Errorf("opening map at %s: %w", cfg.Storage.Dir, err)
	}
	return m, cfg, nil
}
