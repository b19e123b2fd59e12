// Package importer loads legacy history.csv exports into the ledger.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/louisbranch/cueledger/internal/ledger"
)

// ErrMissingColumn indicates the CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Row is one parsed legacy match. The legacy export carries Elo snapshot
// columns too, but those are recomputed from scratch after import, so only
// the identifying fields are kept.
type Row struct {
	Date       time.Time
	Player1    string
	Player2    string
	WinnerSide int
}

var requiredColumns = []string{"Date", "Player1", "Player2", "Winner"}

// Parse reads a legacy history.csv export. The header must name Date,
// Player1, Player2, and Winner; other columns are ignored. Winner must match
// one of the two player names.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv: %w", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row, err := parseRecord(record, columns)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(record []string, columns map[string]int) (Row, error) {
	field := func(name string) string {
		i := columns[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := parseDate(field("Date"))
	if err != nil {
		return Row{}, err
	}
	row := Row{
		Date:    date,
		Player1: field("Player1"),
		Player2: field("Player2"),
	}
	if row.Player1 == "" || row.Player2 == "" {
		return Row{}, fmt.Errorf("blank player name")
	}
	switch field("Winner") {
	case row.Player1:
		row.WinnerSide = 1
	case row.Player2:
		row.WinnerSide = 2
	default:
		return Row{}, fmt.Errorf("winner %q is not a listed player", field("Winner"))
	}
	return row, nil
}

var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// Run parses r and records every row into the given season in file order,
// then recomputes all ratings so the snapshot columns of the legacy export
// are rebuilt deterministically. It returns the number of matches imported.
func Run(ctx context.Context, store ledger.Store, r io.Reader, seasonID int64) (int, error) {
	rows, err := Parse(r)
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		nm := ledger.NewMatch{
			SeasonID:   seasonID,
			Date:       row.Date,
			Side1:      []string{row.Player1},
			Side2:      []string{row.Player2},
			WinnerSide: row.WinnerSide,
		}
		if _, err := store.RecordMatch(ctx, nm); err != nil {
			return i, fmt.Errorf("import match %d: %w", i+1, err)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := store.RecomputeAllRatings(ctx); err != nil {
		return len(rows), fmt.Errorf("recompute after import: %w", err)
	}
	return len(rows), nil
}
