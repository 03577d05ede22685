// Package pairs loads the curated list of co-integrated ticker pairs.
package pairs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Pair names the two legs of a spread. X is the regressor leg (first ticker in
// the list), Y the response leg.
type Pair struct {
	ID string `json:"id" yaml:"id" db:"pair_id"`
	X  string `json:"x" yaml:"x" db:"ticker_x"`
	Y  string `json:"y" yaml:"y" db:"ticker_y"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s (%s/%s)", p.ID, p.X, p.Y)
}

// PairID is the identifier the list assigns to the pair on row i
func PairID(i int) string {
	return "Pair " + strconv.Itoa(i)
}

// LoadCSV reads a pair list with one pair per row. The first two ticker columns
// are recognised by name ("S1 ticker", "S2 ticker" and common variants).
func LoadCSV(path string) ([]Pair, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pair list: %w", err)
	}
	defer file.Close()

	return ReadCSV(file)
}

// ReadCSV parses a pair list from r
func ReadCSV(r io.Reader) ([]Pair, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read pair list header: %w", err)
	}

	xCol, yCol := -1, -1
	for i, column := range header {
		switch normalizeColumnName(column) {
		case "x":
			xCol = i
		case "y":
			yCol = i
		}
	}
	if xCol < 0 || yCol < 0 {
		return nil, fmt.Errorf("pair list needs two ticker columns, got header %v", header)
	}

	var list []Pair
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pair list row %d: %w", row, err)
		}

		x := strings.TrimSpace(record[xCol])
		y := strings.TrimSpace(record[yCol])
		if x == "" || y == "" {
			return nil, fmt.Errorf("pair list row %d has an empty ticker", row)
		}

		list = append(list, Pair{ID: PairID(row), X: x, Y: y})
	}

	return list, nil
}

// normalizeColumnName maps header variants onto the two leg names
func normalizeColumnName(column string) string {
	key := strings.ToLower(strings.Join(strings.Fields(column), ""))
	switch key {
	case "s1ticker", "s1", "ticker1", "symbol1", "stock1", "x":
		return "x"
	case "s2ticker", "s2", "ticker2", "symbol2", "stock2", "y":
		return "y"
	default:
		return key
	}
}

// Select returns the pairs at the chosen row indices in the order given. A nil
// or empty selection keeps every pair.
func Select(all []Pair, chosen []int) ([]Pair, error) {
	if len(chosen) == 0 {
		return append([]Pair(nil), all...), nil
	}

	seen := make(map[int]bool, len(chosen))
	selected := make([]Pair, 0, len(chosen))
	for _, idx := range chosen {
		if idx < 0 || idx >= len(all) {
			return nil, fmt.Errorf("pair index %d out of range [0, %d)", idx, len(all))
		}
		if seen[idx] {
			return nil, fmt.Errorf("pair index %d selected twice", idx)
		}
		seen[idx] = true
		selected = append(selected, all[idx])
	}

	return selected, nil
}

// FromMap builds a list from an identifier → (x, y) mapping, ordered by the
// numeric suffix of the identifier when there is one.
func FromMap(m map[string][2]string) []Pair {
	list := make([]Pair, 0, len(m))
	for id, legs := range m {
		list = append(list, Pair{ID: id, X: legs[0], Y: legs[1]})
	}

	sort.Slice(list, func(i, j int) bool {
		ni, iok := idSuffix(list[i].ID)
		nj, jok := idSuffix(list[j].ID)
		if iok && jok && ni != nj {
			return ni < nj
		}
		return list[i].ID < list[j].ID
	})

	return list
}

// Symbols returns every distinct ticker in first-seen order
func Symbols(list []Pair) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, p := range list {
		for _, s := range []string{p.X, p.Y} {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}

func idSuffix(id string) (int, bool) {
	fields := strings.Fields(id)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	return n, err == nil
}
