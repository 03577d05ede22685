package prices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVFeed reads one "<dir>/<SYMBOL>.csv" file per ticker with at least a date
// and a close column.
type CSVFeed struct {
	dir         string
	dateFormats []string
}

// NewCSVFeed creates a feed over the daily price directory
func NewCSVFeed(dir string) *CSVFeed {
	return &CSVFeed{
		dir: dir,
		dateFormats: []string{
			"2006-01-02",
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006/01/02",
			"01/02/2006",
		},
	}
}

// Path returns the file the feed reads for symbol
func (f *CSVFeed) Path(symbol string) string {
	return filepath.Join(f.dir, symbol+".csv")
}

// Load reads the ticker's file. Rows with an unparseable date are skipped; an
// empty or non-numeric close is kept as a missing price.
func (f *CSVFeed) Load(ctx context.Context, symbol string) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}

	file, err := os.Open(f.Path(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Series{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return Series{}, fmt.Errorf("failed to open price file: %w", err)
	}
	defer file.Close()

	series, err := f.read(file, symbol)
	if err != nil {
		return Series{}, fmt.Errorf("%s: %w", f.Path(symbol), err)
	}
	return series, nil
}

func (f *CSVFeed) read(r io.Reader, symbol string) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Series{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := mapColumns(header)
	dateIdx, hasDate := columns["date"]
	closeIdx, hasClose := columns["close"]
	if !hasClose {
		return Series{}, fmt.Errorf("CSV missing required 'close' column")
	}

	series := Series{Symbol: symbol}
	if hasDate {
		series.Dates = make([]time.Time, 0)
	}

	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("failed to read CSV row: %w", err)
		}

		if hasDate {
			if dateIdx >= len(record) {
				skipped++
				continue
			}
			date, err := f.parseDate(record[dateIdx])
			if err != nil {
				skipped++
				continue
			}
			series.Dates = append(series.Dates, date)
		}

		price := math.NaN()
		if closeIdx < len(record) {
			price = parsePrice(record[closeIdx])
		}
		series.Close = append(series.Close, price)
	}

	if skipped > 0 {
		log.Debug().Str("symbol", symbol).Int("skipped", skipped).Msg("Skipped CSV rows with unreadable dates")
	}

	if err := series.Validate(); err != nil {
		return Series{}, err
	}
	return series, nil
}

// mapColumns creates a mapping from normalised column names to indices
func mapColumns(header []string) map[string]int {
	columns := make(map[string]int)
	for i, column := range header {
		name := normalizeColumnName(column)
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}
	return columns
}

func normalizeColumnName(column string) string {
	switch strings.ToLower(strings.TrimSpace(column)) {
	case "date", "datetime", "timestamp", "ts", "time", "day":
		return "date"
	case "close", "close_price", "closing_price", "px_last":
		return "close"
	default:
		return strings.ToLower(strings.TrimSpace(column))
	}
}

func (f *CSVFeed) parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, format := range f.dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse date: %s", value)
}

func parsePrice(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return math.NaN()
	}
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(price, 0) {
		return math.NaN()
	}
	return price
}
