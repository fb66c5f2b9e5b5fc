// Command defrag is the CLI surface for the core packages: it opens a
// volume, drives the relocator/fragmentator/error-creator, and reports
// results, but implements none of that logic itself.
package main

import (
	"fmt"
	"os"

	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/spf13/cobra"
)

// Exit codes per the CLI contract: 0 success, 1 user error, 2 corrupt
// image / manual intervention required, 3 I/O error.
const (
	exitOK      = 0
	exitUsage   = 1
	exitCorrupt = 2
	exitIO      = 3
)

var (
	verbosity int
	quiet     bool
)

func main() {
	root := &cobra.Command{
		Use:           "defrag",
		Short:         "Analyze and defragment FAT12/FAT16/FAT32 volume images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all but error output")

	root.AddCommand(infoCmd(), fragCmd(), defragCmd(), errorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitFor(err))
	}
}

// exitFor maps a returned error to one of the four documented exit codes.
// A plain pflag/cobra usage error (no checkpoint.Kind attached) falls back
// to exitUsage.
func exitFor(err error) int {
	fmt.Fprintln(os.Stderr, "defrag:", err)

	switch checkpoint.KindOf(err) {
	case checkpoint.KindIoError:
		return exitIO
	case checkpoint.KindFormatError, checkpoint.KindCorruptChain, checkpoint.KindCorruptJournal:
		return exitCorrupt
	case checkpoint.KindBusy, checkpoint.KindNoSpace:
		return exitUsage
	default:
		return exitUsage
	}
}

func verboseLevel() string {
	switch {
	case verbosity >= 2:
		return "trace"
	case verbosity == 1:
		return "debug"
	default:
		return "info"
	}
}
