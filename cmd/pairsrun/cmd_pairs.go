package main

import (
	"github.com/spf13/cobra"
)

func newPairsListCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the pair list and the configured selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, selected, err := loadPairs(state.config)
			if err != nil {
				return err
			}
			printPairList(cmd.OutOrStdout(), all, selected)
			return nil
		},
	}
}
