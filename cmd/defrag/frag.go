package main

import (
	"fmt"

	"github.com/ninnikukawaii/Defrag/fragment"
	"github.com/spf13/cobra"
)

func fragCmd() *cobra.Command {
	var table int

	cmd := &cobra.Command{
		Use:   "frag <image>",
		Short: "Scatter every file's clusters across the volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], table)
			if err != nil {
				return err
			}
			defer v.Close()

			report, err := fragment.Run(v)
			if err != nil {
				return err
			}
			fmt.Printf("clusters misplaced: %d\n", report.Misplaced)
			return nil
		},
	}

	cmd.Flags().IntVar(&table, "table", 0, "which FAT table to trust on mismatch (0 or 1)")
	return cmd
}
