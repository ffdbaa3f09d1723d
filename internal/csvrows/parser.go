// Package csvrows turns an uploaded CSV into typed rows.
//
// The parser is best-effort: a row with the wrong number of columns or a
// non-numeric id is skipped, never fatal. Columns are episode_id,
// character_id, character_name, location_id. The first non-blank line is a
// header when at least two of its tokens name an expected column; a header
// that names all four columns may reorder them.
package csvrows

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

// Columns is the expected column order.
var Columns = []string{"episode_id", "character_id", "character_name", "location_id"}

const (
	colEpisode = iota
	colCharacter
	colName
	colLocation
)

// headerMatchThreshold is how many known column names make a line a header.
const headerMatchThreshold = 2

// Result is the outcome of one data line. Exactly one of Row and Err is set.
type Result struct {
	Line int
	Row  core.Row
	Err  error
}

// OK reports whether the line produced a row.
func (r Result) OK() bool { return r.Err == nil }

// ParseStats summarizes a parse.
type ParseStats struct {
	HasHeader bool
	Kept      int
	Skipped   int
	Bytes     int64
}

// ParseFile parses the CSV at path. A missing or empty file yields no rows
// and no error.
func ParseFile(ctx context.Context, path string) ([]core.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	return Parse(ctx, f)
}

// Parse reads rows from r, keeping only the lines that parsed.
func Parse(ctx context.Context, r io.Reader) ([]core.Row, error) {
	results, stats, err := ParseResults(ctx, r)
	if err != nil {
		return nil, err
	}

	rows := make([]core.Row, 0, stats.Kept)
	for _, res := range results {
		if res.OK() {
			rows = append(rows, res.Row)
		}
	}

	logging.FromContext(ctx).Debug("csv parsed",
		"rows", stats.Kept,
		"skipped", stats.Skipped,
		"header", stats.HasHeader,
		"bytes", stats.Bytes,
	)
	return rows, nil
}

// ParseResults reads every data line from r and reports each outcome.
// Only I/O failures and cancellation are returned as errors.
func ParseResults(ctx context.Context, r io.Reader) ([]Result, ParseStats, error) {
	var stats ParseStats

	src, counter, err := wrap(r)
	if err != nil {
		return nil, stats, fmt.Errorf("read upload: %w", err)
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var (
		results []Result
		order   = []int{colEpisode, colCharacter, colName, colLocation}
		width   = len(Columns)
		first   = true
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			results = append(results, Result{Line: parseErr.Line, Err: err})
			stats.Skipped++
			first = false
			continue
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read upload: %w", err)
		}

		if blankRecord(record) {
			continue
		}

		if first {
			first = false
			if isHeader(record) {
				stats.HasHeader = true
				if mapped, ok := headerOrder(record); ok {
					order, width = mapped, len(record)
				}
				continue
			}
		}

		line, _ := cr.FieldPos(0)
		row, err := parseRecord(record, order, width)
		results = append(results, Result{Line: line, Row: row, Err: err})
		if err != nil {
			stats.Skipped++
		} else {
			stats.Kept++
		}
	}

	stats.Bytes = counter.n
	return results, stats, nil
}

// blankRecord reports whether every field is whitespace. encoding/csv only
// drops truly empty lines.
func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), `"`))
}

// isHeader reports whether at least two distinct known column names appear
// among the record's tokens.
func isHeader(record []string) bool {
	seen := make(map[string]bool, len(Columns))
	for _, tok := range record {
		tok = normalizeToken(tok)
		if slices.Contains(Columns, tok) {
			seen[tok] = true
		}
	}
	return len(seen) >= headerMatchThreshold
}

// headerOrder maps each expected column to its index in a header naming all
// four columns exactly once.
func headerOrder(record []string) ([]int, bool) {
	order := make([]int, len(Columns))
	for i := range order {
		order[i] = -1
	}
	for idx, tok := range record {
		col := slices.Index(Columns, normalizeToken(tok))
		if col < 0 {
			continue
		}
		if order[col] != -1 {
			return nil, false
		}
		order[col] = idx
	}
	if slices.Contains(order, -1) {
		return nil, false
	}
	return order, true
}

// parseRecord converts one record of width fields. order[c] is the field
// index of column c.
func parseRecord(record []string, order []int, width int) (core.Row, error) {
	if len(record) != width {
		return core.Row{}, fmt.Errorf("expected %d columns, got %d", width, len(record))
	}

	var (
		row core.Row
		err error
	)
	if row.EpisodeID, err = parseID(record[order[colEpisode]], Columns[colEpisode]); err != nil {
		return core.Row{}, err
	}
	if row.CharacterID, err = parseID(record[order[colCharacter]], Columns[colCharacter]); err != nil {
		return core.Row{}, err
	}
	if row.LocationID, err = parseID(record[order[colLocation]], Columns[colLocation]); err != nil {
		return core.Row{}, err
	}
	row.CharacterName = strings.TrimSpace(record[order[colName]])
	return row, nil
}

func parseID(field, column string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", column, field)
	}
	return id, nil
}
