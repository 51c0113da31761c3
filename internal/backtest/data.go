package backtest

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// Required CSV columns. Header matching is case-insensitive.
var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

// Accepted date layouts for the Date column.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads an OHLCV series from a CSV file with columns
// Date,Open,High,Low,Close,Volume. Any row error fails the whole load; there
// are no partial backtests. The returned bars are non-empty and ascending by
// time.
func LoadCSV(path, symbol string) ([]types.Bar, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open duckdb", err)
	}
	defer db.Close()

	// all_varchar defers parsing so malformed cells surface with their row
	// number instead of a reader-level error.
	query := fmt.Sprintf(
		"SELECT * FROM read_csv(%s, header=true, all_varchar=true)",
		quoteDuckDBString(path),
	)

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreQueryFailed, err, "failed to read csv %s", path)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to read csv header", err)
	}

	index, err := columnIndex(columns)
	if err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, 1024)
	values := make([]sql.NullString, len(columns))
	scan := make([]any, len(columns))

	for i := range values {
		scan[i] = &values[i]
	}

	// Data rows start at line 2; line 1 is the header.
	line := 1

	for rows.Next() {
		line++

		if err := rows.Scan(scan...); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeStoreQueryFailed, err, "line %d: failed to scan row", line)
		}

		bar, err := parseBar(values, index, symbol, line)
		if err != nil {
			return nil, err
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreQueryFailed, err, "failed to read csv %s", path)
	}

	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeBacktestNoData, "csv %s contains no data rows", path)
	}

	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, errors.Newf(errors.ErrCodeBacktestDataError,
				"line %d: bars must be strictly ascending by date (%s is not after %s)",
				i+2, bars[i].Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}

	return bars, nil
}

// columnIndex maps each required column to its position in the header,
// ignoring case. A missing column fails the load.
func columnIndex(columns []string) (map[string]int, error) {
	index := make(map[string]int, len(columns))
	for i, column := range columns {
		index[strings.ToLower(strings.TrimSpace(column))] = i
	}

	for _, required := range requiredColumns {
		if _, ok := index[required]; !ok {
			return nil, errors.Newf(errors.ErrCodeBacktestDataError,
				"csv is missing required column %q (have: %s)", required, strings.Join(columns, ", "))
		}
	}

	return index, nil
}

func parseBar(values []sql.NullString, index map[string]int, symbol string, line int) (types.Bar, error) {
	field := func(name string) string {
		return strings.TrimSpace(values[index[name]].String)
	}

	at, err := parseDate(field("date"))
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeBacktestDataError, err,
			"line %d: unparseable date %q", line, field("date"))
	}

	bar := types.Bar{Symbol: symbol, Time: at}

	for name, target := range map[string]*float64{
		"open":   &bar.Open,
		"high":   &bar.High,
		"low":    &bar.Low,
		"close":  &bar.Close,
		"volume": &bar.Volume,
	} {
		value, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return types.Bar{}, errors.Newf(errors.ErrCodeBacktestDataError,
				"line %d: invalid %s value %q", line, name, field(name))
		}

		*target = value
	}

	return bar, nil
}

func parseDate(value string) (time.Time, error) {
	var lastErr error

	for _, layout := range dateLayouts {
		at, err := time.Parse(layout, value)
		if err == nil {
			return at.UTC(), nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}

// quoteDuckDBString single-quotes a SQL string literal.
func quoteDuckDBString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
