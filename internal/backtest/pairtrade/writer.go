package pairtrade

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	atomicio "github.com/sawpanic/pairsrun/internal/io"
)

// ErrRunNotFound is returned when no artifacts exist for a run ID
var ErrRunNotFound = errors.New("pairtrade: run not found")

// LatestRun is the directory mirroring the summary of the most recent run
const LatestRun = "latest"

// Writer handles writing backtest artifacts to disk, one directory per run
type Writer struct {
	outputDir string
}

// ArtifactPaths lists the files written for a run
type ArtifactPaths struct {
	ResultsJSONL string `json:"results"`
	ReportMD     string `json:"report"`
	SummaryJSON  string `json:"summary"`
	PortfolioCSV string `json:"portfolio"`
	LedgerDir    string `json:"ledgers"`
	OutputDir    string `json:"output_dir"`
}

// Summary is the compact run description written to summary.json
type Summary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Pairs       int            `json:"pairs"`
	Traded      int            `json:"traded"`
	Failed      int            `json:"failed"`
	TotalReturn float64        `json:"total_return"`
	Volatility  float64        `json:"annualized_volatility"`
	Sharpe      float64        `json:"annualized_sharpe"`
	PerPair     []PairSummary  `json:"per_pair"`
	Artifacts   *ArtifactPaths `json:"artifacts"`
}

// PairSummary is one pair's line in the summary
type PairSummary struct {
	ID             string    `json:"id"`
	X              string    `json:"x"`
	Y              string    `json:"y"`
	TotalReturn    float64   `json:"total_return"`
	Sharpe         float64   `json:"sharpe"`
	Trades         int       `json:"trades"`
	SegmentReturns []float64 `json:"segment_returns"`
	SegmentSharpes []float64 `json:"segment_sharpes"`
}

// NewWriter creates a new artifact writer rooted at outputDir
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// GetOutputDir returns the directory holding runID's artifacts
func (w *Writer) GetOutputDir(runID string) string {
	return filepath.Join(w.outputDir, runID)
}

// GetArtifactPaths returns the paths of all generated artifacts
func (w *Writer) GetArtifactPaths(runID string) *ArtifactPaths {
	dir := w.GetOutputDir(runID)
	return &ArtifactPaths{
		ResultsJSONL: filepath.Join(dir, "results.jsonl"),
		ReportMD:     filepath.Join(dir, "report.md"),
		SummaryJSON:  filepath.Join(dir, "summary.json"),
		PortfolioCSV: filepath.Join(dir, "portfolio.csv"),
		LedgerDir:    filepath.Join(dir, "ledgers"),
		OutputDir:    dir,
	}
}

// WriteAll writes every artifact of a finished run
func (w *Writer) WriteAll(results *RunResult) error {
	if err := w.WriteResults(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := w.WriteLedgers(results); err != nil {
		return fmt.Errorf("failed to write ledgers: %w", err)
	}
	if err := w.WritePortfolio(results); err != nil {
		return fmt.Errorf("failed to write portfolio: %w", err)
	}
	if err := w.WriteReport(results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := w.WriteSummaryJSON(results); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// WriteResults writes one JSON line per pair followed by the run itself
func (w *Writer) WriteResults(results *RunResult) error {
	lines := make([][]byte, 0, len(results.Pairs)+1)
	for _, pair := range results.Pairs {
		data, err := json.Marshal(pair)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", pair.Pair.ID, err)
		}
		lines = append(lines, data)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	lines = append(lines, data)

	return atomicio.WriteLinesAtomic(w.GetArtifactPaths(results.RunID).ResultsJSONL, lines)
}

// ledgerHeader names the ledger CSV columns
var ledgerHeader = []string{
	"date", "x", "y", "spread", "hr", "half_life", "zScore",
	"long entry", "long exit", "num units long",
	"short entry", "short exit", "num units short",
	"numUnits", "investment", "actual_spread", "actual_port_rets", "cumulative value",
}

// WriteLedgers writes the daily ledger of every traded pair as CSV
func (w *Writer) WriteLedgers(results *RunResult) error {
	dir := w.GetArtifactPaths(results.RunID).LedgerDir
	for _, pair := range results.Pairs {
		if !pair.Traded() {
			continue
		}
		path := filepath.Join(dir, LedgerFileName(pair))
		if err := atomicio.WriteWithAtomic(path, func(out io.Writer) error {
			return WriteLedger(out, pair.Rows)
		}); err != nil {
			return fmt.Errorf("%s: %w", pair.Pair.ID, err)
		}
	}
	return nil
}

// WriteLedger writes rows as a ledger table
func WriteLedger(out io.Writer, rows []Row) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(ledgerHeader); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			formatDate(row.Date, row.Index),
			formatFloat(row.X),
			formatFloat(row.Y),
			formatFloat(row.Spread),
			formatFloat(row.HedgeRatio),
			strconv.Itoa(row.HalfLife),
			formatFloat(row.ZScore),
			strconv.FormatBool(row.Events.LongEntry),
			strconv.FormatBool(row.Events.LongExit),
			strconv.Itoa(row.State.Long),
			strconv.FormatBool(row.Events.ShortEntry),
			strconv.FormatBool(row.Events.ShortExit),
			strconv.Itoa(row.State.Short),
			strconv.Itoa(row.NumUnits),
			formatFloat(row.Ledger.Investment),
			formatFloat(row.Ledger.ActualSpread),
			formatFloat(row.Ledger.Return),
			formatFloat(row.Ledger.Value),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WritePortfolio writes the aggregate curve next to every pair's curve
func (w *Writer) WritePortfolio(results *RunResult) error {
	path := w.GetArtifactPaths(results.RunID).PortfolioCSV
	return atomicio.WriteWithAtomic(path, func(out io.Writer) error {
		cw := csv.NewWriter(out)

		header := []string{"date", "portfolio", "active_pairs"}
		for _, pair := range results.Pairs {
			header = append(header, pair.Pair.ID)
		}
		if err := cw.Write(header); err != nil {
			return err
		}

		book := results.Portfolio
		if book == nil {
			return errors.New("run has no portfolio")
		}
		for t := range book.Values {
			record := []string{
				formatDate(results.Date(t), t),
				formatFloat(book.Values[t]),
				strconv.Itoa(book.Active[t]),
			}
			for _, pair := range results.Pairs {
				record = append(record, formatFloat(pair.Values[t]))
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}

		cw.Flush()
		return cw.Error()
	})
}

// WriteReport writes a markdown report
func (w *Writer) WriteReport(results *RunResult) error {
	return atomicio.WriteFileAtomic(w.GetArtifactPaths(results.RunID).ReportMD, []byte(w.generateMarkdownReport(results)))
}

// generateMarkdownReport generates the complete markdown report
func (w *Writer) generateMarkdownReport(results *RunResult) string {
	var report strings.Builder
	paths := w.GetArtifactPaths(results.RunID)

	report.WriteString("# Pairs Backtest Report\n\n")
	report.WriteString(fmt.Sprintf("**Run**: `%s`\n", results.RunID))
	report.WriteString(fmt.Sprintf("**Generated**: %s\n", results.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	report.WriteString(fmt.Sprintf("**Configuration**: TradingYear=%d, Lookback=%d, Entry=%.2f, Exit=%.2f, Delta=%g\n\n",
		results.Config.TradingYear, results.Config.Lookback,
		results.Config.Thresholds.Entry, results.Config.Thresholds.Exit, results.Config.Regression.Delta))

	report.WriteString("## Portfolio\n\n")
	if book := results.Portfolio; book != nil {
		report.WriteString(fmt.Sprintf("- **Total Return**: %.3f\n", book.TotalReturn))
		report.WriteString(fmt.Sprintf("- **Annualized Volatility**: %.3f\n", book.Volatility))
		report.WriteString(fmt.Sprintf("- **Annualized Sharpe**: %.3f\n", book.Sharpe))
	}
	report.WriteString(fmt.Sprintf("- **Pairs**: %d selected, %d traded, %d failed\n\n",
		results.PairsTotal, results.PairsTraded, len(results.Failures)))

	report.WriteString("## Pairs\n\n")
	report.WriteString("| Pair | X | Y | Segments | Trades | Total Return | Sharpe |\n")
	report.WriteString("|------|---|---|---------:|-------:|-------------:|-------:|\n")
	for _, pair := range results.Pairs {
		report.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %.3f | %.3f |\n",
			pair.Pair.ID, pair.Pair.X, pair.Pair.Y, len(pair.Segments), pair.Trades, pair.TotalReturn, pair.Sharpe))
	}
	report.WriteString("\n")

	for _, pair := range results.Pairs {
		if !pair.Traded() {
			continue
		}
		report.WriteString(fmt.Sprintf("### %s segments\n\n", pair.Pair.ID))
		report.WriteString("| # | Start | Days | Return | Sharpe | Entries |\n")
		report.WriteString("|---|-------|-----:|-------:|-------:|--------:|\n")
		for i, segment := range pair.Segments {
			report.WriteString(fmt.Sprintf("| %d | %s | %d | %.3f | %.3f | %d |\n",
				i, formatDate(segment.StartDate, segment.Start), segment.End-segment.Start,
				segment.TotalReturn, segment.Sharpe, segment.Entries))
		}
		report.WriteString("\n")
	}

	if len(results.Failures) > 0 {
		report.WriteString("## Failures\n\n")
		for _, failure := range results.Failures {
			report.WriteString(fmt.Sprintf("- **%s** (%s/%s): %s\n", failure.Pair.ID, failure.Pair.X, failure.Pair.Y, failure.Error))
		}
		report.WriteString("\n")
	}

	report.WriteString("## Artifact Paths\n\n")
	report.WriteString(fmt.Sprintf("- **Results JSONL**: `%s`\n", paths.ResultsJSONL))
	report.WriteString(fmt.Sprintf("- **Portfolio CSV**: `%s`\n", paths.PortfolioCSV))
	report.WriteString(fmt.Sprintf("- **Ledgers**: `%s`\n", paths.LedgerDir))
	report.WriteString(fmt.Sprintf("- **Output Directory**: `%s`\n", paths.OutputDir))

	return report.String()
}

// BuildSummary condenses a run for summary.json and the HTTP API
func (w *Writer) BuildSummary(results *RunResult) *Summary {
	summary := &Summary{
		RunID:      results.RunID,
		StartedAt:  results.StartedAt,
		FinishedAt: results.FinishedAt,
		Pairs:      results.PairsTotal,
		Traded:     results.PairsTraded,
		Failed:     len(results.Failures),
		PerPair:    make([]PairSummary, 0, len(results.Pairs)),
		Artifacts:  w.GetArtifactPaths(results.RunID),
	}
	if book := results.Portfolio; book != nil {
		summary.TotalReturn = round3(book.TotalReturn)
		summary.Volatility = round3(book.Volatility)
		summary.Sharpe = round3(book.Sharpe)
	}

	for _, pair := range results.Pairs {
		ps := PairSummary{
			ID:             pair.Pair.ID,
			X:              pair.Pair.X,
			Y:              pair.Pair.Y,
			TotalReturn:    round3(pair.TotalReturn),
			Sharpe:         round3(pair.Sharpe),
			Trades:         pair.Trades,
			SegmentReturns: make([]float64, len(pair.Segments)),
			SegmentSharpes: make([]float64, len(pair.Segments)),
		}
		for i, segment := range pair.Segments {
			ps.SegmentReturns[i] = round3(segment.TotalReturn)
			ps.SegmentSharpes[i] = round3(segment.Sharpe)
		}
		summary.PerPair = append(summary.PerPair, ps)
	}

	return summary
}

// WriteSummaryJSON writes summary.json to the run directory and to latest/
func (w *Writer) WriteSummaryJSON(results *RunResult) error {
	data, err := json.MarshalIndent(w.BuildSummary(results), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	return atomicio.FanoutWrite([]string{
		w.GetArtifactPaths(results.RunID).SummaryJSON,
		filepath.Join(w.outputDir, LatestRun, "summary.json"),
	}, append(data, '\n'))
}

// ReadSummary loads the summary of a previous run; runID may be LatestRun
func (w *Writer) ReadSummary(runID string) (*Summary, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}

	data, err := os.ReadFile(filepath.Join(w.outputDir, runID, "summary.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("corrupt summary for %s: %w", runID, err)
	}
	return &summary, nil
}

// LedgerFileName is the CSV file name of a pair's ledger
func LedgerFileName(pair *PairResult) string {
	name := strings.ToLower(strings.ReplaceAll(pair.Pair.ID, " ", "_"))
	return fmt.Sprintf("%s_%s_%s.csv", name, pair.Pair.X, pair.Pair.Y)
}

func formatDate(date time.Time, index int) string {
	if date.IsZero() {
		return strconv.Itoa(index)
	}
	return date.Format("2006-01-02")
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
