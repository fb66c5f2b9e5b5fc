package main

import (
	"github.com/ninnikukawaii/Defrag/internal/config"
	"github.com/ninnikukawaii/Defrag/internal/xlog"
	"github.com/ninnikukawaii/Defrag/volume"
	"github.com/spf13/afero"
)

// openVolume opens path on the real OS filesystem with the env-driven
// defaults from internal/config, applying the process-wide log level
// (DEFRAG_LOG_LEVEL, overridden by -v/-q) before doing anything else so
// Open's own diagnostics (FAT disagreement, orphaned long names) are
// visible when asked for.
func openVolume(path string, table int) (*volume.Volume, error) {
	cfg := config.Load()
	level := cfg.LogLevel
	if verbosity > 0 || quiet {
		level = verboseLevel()
	}
	xlog.Configure(level)

	preferred := cfg.DefaultTable
	if table != 0 {
		preferred = table
	}

	return volume.Open(afero.NewOsFs(), path, volume.Options{
		JournalSuffix:  cfg.JournalSuffix,
		PreferredTable: preferred,
	})
}

// countFiles walks the whole tree under root and returns the number of
// non-directory, non-volume-label entries plus the number of directories
// (root itself excluded), for the info command's summary line.
func countFiles(v *volume.Volume) (files, dirs int, err error) {
	var walk func(dirHead uint32) error
	walk = func(dirHead uint32) error {
		entries, err := v.WalkDirectory(dirHead)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Entry.IsVolumeLabel() {
				continue
			}
			if e.Entry.ShortName == "." || e.Entry.ShortName == ".." {
				continue
			}
			if e.Entry.IsDirectory() {
				dirs++
				if err := walk(e.Entry.FirstCluster); err != nil {
					return err
				}
				continue
			}
			files++
		}
		return nil
	}

	if err := walk(v.RootDirHead()); err != nil {
		return 0, 0, err
	}
	return files, dirs, nil
}
