package main

import (
	"fmt"

	"github.com/ninnikukawaii/Defrag/fragment"
	"github.com/spf13/cobra"
)

func errorCmd() *cobra.Command {
	var (
		table     int
		oneTable  bool
		badBlock  bool
		selfLoop  bool
		intersect bool
	)

	cmd := &cobra.Command{
		Use:   "error <image>",
		Short: "Inject known structural defects for recovery-tool testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], table)
			if err != nil {
				return err
			}
			defer v.Close()

			if !oneTable && !badBlock && !selfLoop && !intersect {
				oneTable, badBlock, selfLoop, intersect = true, true, true, true
			}

			ec := fragment.NewErrorCreator(v)

			if oneTable {
				f, err := ec.CreateFileInOnlyOneTable(0)
				if err != nil {
					return err
				}
				fmt.Printf("created %s: allocated in only one FAT table\n", f.Entry.ShortName)
			}
			if badBlock {
				f, err := ec.CreateFileWithBadCluster()
				if err != nil {
					return err
				}
				fmt.Printf("created %s: second cluster marked bad\n", f.Entry.ShortName)
			}
			if selfLoop {
				f, err := ec.CreateFileWithSelfLoop()
				if err != nil {
					return err
				}
				fmt.Printf("created %s: head cluster points at itself\n", f.Entry.ShortName)
			}
			if intersect {
				a, b, err := ec.CreateIntersectingFiles()
				if err != nil {
					return err
				}
				fmt.Printf("created %s and %s: chains share a tail cluster\n", a.Entry.ShortName, b.Entry.ShortName)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&table, "table", 0, "which FAT table to trust on mismatch (0 or 1)")
	cmd.Flags().BoolVar(&oneTable, "one-table", false, "create a file allocated in only one FAT table")
	cmd.Flags().BoolVar(&badBlock, "bad-cluster", false, "create a file with a cluster marked bad")
	cmd.Flags().BoolVar(&selfLoop, "self-loop", false, "create a file whose chain loops on itself")
	cmd.Flags().BoolVar(&intersect, "intersect", false, "create two files whose chains cross")

	return cmd
}
