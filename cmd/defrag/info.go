package main

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/ninnikukawaii/Defrag/checkpoint"
	"github.com/ninnikukawaii/Defrag/fatfs/codec"
	"github.com/ninnikukawaii/Defrag/volume"
	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	var (
		contents bool
		showAll  bool
		table    int
		extract  string
	)

	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Report volume geometry, free space, and file count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], table)
			if err != nil {
				return err
			}
			defer v.Close()

			if extract != "" {
				return extractFile(v, extract)
			}

			bp := v.Boot()
			fm := v.FreeMap()

			fmt.Printf("variant:        %s\n", bp.Variant)
			fmt.Printf("bytes/sector:   %d\n", bp.BytesPerSector)
			fmt.Printf("sectors/cluster: %d\n", bp.SectorsPerCluster)
			fmt.Printf("clusters:       %d (%s - %s)\n", fm.LastDataCluster()-fm.FirstDataCluster()+1, humanize.Comma(int64(fm.FirstDataCluster())), humanize.Comma(int64(fm.LastDataCluster())))
			fmt.Printf("free clusters:  %s\n", humanize.Comma(int64(fm.FreeCount())))
			fmt.Printf("free bytes:     %s\n", humanize.Bytes(uint64(fm.FreeCount())*uint64(bp.BytesPerCluster())))

			files, dirs, err := countFiles(v)
			if err != nil {
				return err
			}
			fmt.Printf("files:          %d\n", files)
			fmt.Printf("directories:    %d\n", dirs)

			if contents {
				fmt.Println()
				return printTree(v, v.RootDirHead(), "/", showAll)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&contents, "contents", false, "list the full directory tree")
	cmd.Flags().BoolVar(&showAll, "show-hidden", false, "include hidden and system entries in --contents")
	cmd.Flags().IntVar(&table, "table", 0, "which FAT table to trust on mismatch (0 or 1)")
	cmd.Flags().StringVar(&extract, "extract", "", "extract the named file's contents to stdout")

	return cmd
}

func printTree(v *volume.Volume, dirHead uint32, prefix string, showAll bool) error {
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
		if !showAll && e.Entry.Attr&(codec.AttrHidden|codec.AttrSystem) != 0 {
			continue
		}

		name := e.LongName
		if name == "" {
			name = e.Entry.ShortName
		}
		full := path.Join(prefix, name)

		if e.Entry.IsDirectory() {
			fmt.Printf("%s/\n", full)
			if err := printTree(v, e.Entry.FirstCluster, full, showAll); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("%s\t%s\n", full, humanize.Bytes(uint64(e.Entry.FileSize)))
	}
	return nil
}

func extractFile(v *volume.Volume, name string) error {
	fs := volume.NewFS(v)
	h, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer h.Close()

	stat, err := h.Stat()
	if err != nil {
		return err
	}
	if stat.IsDir() {
		return checkpoint.From(fmt.Errorf("defrag: %q is a directory", name))
	}

	_, err = io.Copy(os.Stdout, io.NewSectionReader(readerAt{h}, 0, stat.Size()))
	return err
}

// readerAt adapts FileHandle's ReadAt to io.ReaderAt for io.NewSectionReader.
type readerAt struct {
	h *volume.FileHandle
}

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	return r.h.ReadAt(p, off)
}
