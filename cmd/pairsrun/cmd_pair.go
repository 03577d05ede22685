package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	atomicio "github.com/sawpanic/pairsrun/internal/io"
	"github.com/sawpanic/pairsrun/internal/pairs"
)

func newPairCmd(state *cliState) *cobra.Command {
	var ledgerPath string

	cmd := &cobra.Command{
		Use:   "pair <ticker1> <ticker2>",
		Short: "Backtest a single pair and print its yearly segments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), state.config)
			if err != nil {
				return err
			}
			defer svc.Close()

			pair := pairs.Pair{
				ID: strings.ToUpper(args[0] + "/" + args[1]),
				X:  strings.ToUpper(args[0]),
				Y:  strings.ToUpper(args[1]),
			}

			runner := pairtrade.NewRunner(&pairtrade.RunnerConfig{
				Engine:  state.config.Engine,
				Workers: 2,
			}, svc.feed)

			result, _, err := runner.RunPair(cmd.Context(), pair)
			if err != nil {
				if pairtrade.ErrorKind(err) == "ledger_invariant" {
					return &ledgerInvariantError{pairs: []string{pair.ID}}
				}
				return err
			}

			printSegmentTable(cmd.OutOrStdout(), result)

			if ledgerPath != "" {
				if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
					return fmt.Errorf("failed to create ledger directory: %w", err)
				}
				err := atomicio.WriteWithAtomic(ledgerPath, func(w io.Writer) error {
					return pairtrade.WriteLedger(w, result.Rows)
				})
				if err != nil {
					return err
				}
				log.Info().Str("path", ledgerPath).Int("rows", len(result.Rows)).Msg("Ledger written")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "write the daily ledger CSV to this path")
	return cmd
}
