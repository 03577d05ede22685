package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	"github.com/sawpanic/pairsrun/internal/pairs"
)

// printRunSummary writes the per-pair table and the portfolio statistics
func printRunSummary(out io.Writer, result *pairtrade.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PAIR\tX\tY\tSEGMENTS\tTRADES\tRETURN\tSHARPE")
	for _, p := range result.Pairs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.3f\t%.3f\n",
			p.Pair.ID, p.Pair.X, p.Pair.Y, len(p.Segments), p.Trades, p.TotalReturn, p.Sharpe)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t%s\t\n", f.Pair.ID, f.Pair.X, f.Pair.Y, f.Kind)
	}
	w.Flush()

	if book := result.Portfolio; book != nil {
		fmt.Fprintf(out, "\nTotal return: %.3f\n", book.TotalReturn)
		fmt.Fprintf(out, "Annualized volatility: %.3f\n", book.Volatility)
		fmt.Fprintf(out, "Annualized Sharpe: %.3f\n", book.Sharpe)
	}
	if result.OutputDir != "" {
		fmt.Fprintf(out, "Artifacts: %s\n", result.OutputDir)
	}
}

// printSegmentTable writes one line per trading year of a single pair
func printSegmentTable(out io.Writer, result *pairtrade.PairResult) {
	if !result.Traded() {
		fmt.Fprintf(out, "%s: not enough history to trade\n", result.Pair)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "YEAR\tSTART\tDAYS\tENTRIES\tEXITS\tRETURN\tSHARPE")
	for i, s := range result.Segments {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%.3f\t%.3f\n",
			i, segmentStart(s), s.End-s.Start, s.Entries, s.Exits, s.TotalReturn, s.Sharpe)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%s total return %.3f, Sharpe %.3f\n", result.Pair, result.TotalReturn, result.Sharpe)
}

func segmentStart(s pairtrade.SegmentResult) string {
	if s.StartDate.IsZero() {
		return fmt.Sprintf("day %d", s.Start)
	}
	return s.StartDate.Format(time.DateOnly)
}

// printPairList writes the pair list, marking the selected rows
func printPairList(out io.Writer, all, selected []pairs.Pair) {
	chosen := make(map[string]bool, len(selected))
	for _, p := range selected {
		chosen[p.ID] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tX\tY\tSELECTED")
	for _, p := range all {
		mark := ""
		if chosen[p.ID] {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.X, p.Y, mark)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d of %d pairs selected\n", len(selected), len(all))
}
