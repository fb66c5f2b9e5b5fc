package main

import (
	"fmt"

	"github.com/ninnikukawaii/Defrag/relocator"
	"github.com/spf13/cobra"
)

func defragCmd() *cobra.Command {
	var (
		table     int
		levelOnly bool
		run       bool
	)

	cmd := &cobra.Command{
		Use:   "defrag <image>",
		Short: "Report fragmentation and/or relocate files onto contiguous clusters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], table)
			if err != nil {
				return err
			}
			defer v.Close()

			if levelOnly || !run {
				pct, err := relocator.FragmentationLevel(v)
				if err != nil {
					return err
				}
				fmt.Printf("fragmentation: %.2f%%\n", pct)
				return nil
			}

			report, err := relocator.Run(v)
			if err != nil {
				return err
			}
			fmt.Printf("relocated:           %d\n", report.Relocated)
			fmt.Printf("already contiguous:  %d\n", report.SkippedAlreadyContiguous)
			if len(report.NoSpace) > 0 {
				fmt.Printf("no space for:        %v\n", report.NoSpace)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&table, "table", 0, "which FAT table to trust on mismatch (0 or 1)")
	cmd.Flags().BoolVar(&levelOnly, "level", false, "only report the fragmentation percentage, don't relocate")
	cmd.Flags().BoolVar(&run, "run", true, "actually relocate files (disable with --run=false to only report)")

	return cmd
}
