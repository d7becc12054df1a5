// internal/framework/table.go
package framework

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrRowOutOfRange is returned for a row index outside the table.
	ErrRowOutOfRange = errors.New("framework row index out of range")
	// ErrInvalidScore is returned for a score outside MinScore..MaxScore.
	ErrInvalidScore = errors.New("score out of range")
)

// Maturity scores run from 1 to 4.
const (
	MinScore = 1
	MaxScore = 4
)

// Output column headers appended when the input lacks them.
const (
	HeaderScore    = "Score"
	HeaderNotes    = "Notes"
	HeaderEvidence = "Evidence"
)

// Columns holds the position of each known column in the header, or -1.
type Columns struct {
	Index        int
	L1           int
	L2           int
	Description  int
	ScoringGuide int
	Score        int
	Notes        int
	Evidence     int
}

// Row is a read-only view of one framework row. Index is the zero-based data
// row position the model uses to address it.
type Row struct {
	Index        int
	ID           string
	L1           string
	L2           string
	Description  string
	ScoringGuide string
	Score        string
	Notes        string
	Evidence     string
}

// Table is the scoring framework loaded from a spreadsheet. Descriptive cells
// are never modified; only the score, notes and evidence cells are written.
type Table struct {
	header  []string
	cells   [][]string
	cols    Columns
	updated map[int]struct{}
}

var headerAliases = map[string][]string{
	"index":         {"index", "#", "id", "row", "no", "number"},
	"l1":            {"l1", "l1 category", "category", "level 1"},
	"l2":            {"l2", "l2 dimension", "dimension", "sub category", "level 2"},
	"description":   {"description", "dimension description", "details"},
	"scoring_guide": {"scoring guide", "scoring", "guide", "scoring criteria"},
	"score":         {"score", "maturity score"},
	"notes":         {"notes", "scoring notes", "comments"},
	"evidence":      {"evidence", "evidence link", "relevant link", "link"},
}

var nonWord = regexp.MustCompile(`[^a-z0-9#]+`)

func normalizeHeader(h string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(h), " "))
}

// NewTable builds a table from a header and data rows. The header is widened
// to the longest row, rows are padded to the header width and missing output
// columns are appended.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{
		header:  append([]string(nil), header...),
		updated: make(map[int]struct{}),
	}

	// Trailing blank rows are not data.
	for len(rows) > 0 && isBlank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}

	// Cells past the header keep their position under blank column names, so
	// the output columns never land on user data.
	for _, r := range rows {
		if w := dataWidth(r); w > len(t.header) {
			t.header = append(t.header, make([]string, w-len(t.header))...)
		}
	}
	width := len(t.header)

	t.cols = detectColumns(t.header)
	if t.cols.Score < 0 {
		t.cols.Score = t.appendColumn(HeaderScore)
	}
	if t.cols.Notes < 0 {
		t.cols.Notes = t.appendColumn(HeaderNotes)
	}
	if t.cols.Evidence < 0 {
		t.cols.Evidence = t.appendColumn(HeaderEvidence)
	}

	t.cells = make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, len(t.header))
		copy(row[:width], r)
		t.cells[i] = row
	}
	return t
}

// dataWidth is the record length without trailing blank cells.
func dataWidth(r []string) int {
	n := len(r)
	for n > 0 && strings.TrimSpace(r[n-1]) == "" {
		n--
	}
	return n
}

func (t *Table) appendColumn(name string) int {
	t.header = append(t.header, name)
	return len(t.header) - 1
}

func detectColumns(header []string) Columns {
	found := map[string]int{}
	for i, h := range header {
		norm := normalizeHeader(h)
		for key, aliases := range headerAliases {
			if _, done := found[key]; done {
				continue
			}
			for _, a := range aliases {
				if norm == a {
					found[key] = i
					break
				}
			}
		}
	}
	// Looser prefix match for headers such as "L1 - Experience Area".
	for i, h := range header {
		norm := normalizeHeader(h)
		for _, key := range []string{"l1", "l2"} {
			if _, done := found[key]; !done && strings.HasPrefix(norm, key+" ") {
				found[key] = i
			}
		}
	}

	col := func(key string) int {
		if i, ok := found[key]; ok {
			return i
		}
		return -1
	}
	return Columns{
		Index:        col("index"),
		L1:           col("l1"),
		L2:           col("l2"),
		Description:  col("description"),
		ScoringGuide: col("scoring_guide"),
		Score:        col("score"),
		Notes:        col("notes"),
		Evidence:     col("evidence"),
	}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.cells)
}

// Columns returns the detected column layout.
func (t *Table) Columns() Columns {
	return t.cols
}

// Header returns a copy of the header, including appended output columns.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// Records returns a copy of the header followed by every data row.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.cells)+1)
	out = append(out, t.Header())
	for _, r := range t.cells {
		out = append(out, append([]string(nil), r...))
	}
	return out
}

// Row returns row i.
func (t *Table) Row(i int) (Row, error) {
	if err := t.checkRange(i); err != nil {
		return Row{}, err
	}
	c := t.cells[i]
	cell := func(col int) string {
		if col < 0 {
			return ""
		}
		return c[col]
	}
	return Row{
		Index:        i,
		ID:           cell(t.cols.Index),
		L1:           cell(t.cols.L1),
		L2:           cell(t.cols.L2),
		Description:  cell(t.cols.Description),
		ScoringGuide: cell(t.cols.ScoringGuide),
		Score:        cell(t.cols.Score),
		Notes:        cell(t.cols.Notes),
		Evidence:     cell(t.cols.Evidence),
	}, nil
}

// Rows returns every row in order.
func (t *Table) Rows() []Row {
	rows := make([]Row, 0, len(t.cells))
	for i := range t.cells {
		r, _ := t.Row(i)
		rows = append(rows, r)
	}
	return rows
}

// SetScore writes the output fields of row i. A later write to the same row
// replaces an earlier one. Nothing is changed when validation fails.
func (t *Table) SetScore(i, score int, notes, evidence string) error {
	if err := t.checkRange(i); err != nil {
		return err
	}
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %d is not between %d and %d", ErrInvalidScore, score, MinScore, MaxScore)
	}
	c := t.cells[i]
	c[t.cols.Score] = strconv.Itoa(score)
	c[t.cols.Notes] = notes
	c[t.cols.Evidence] = evidence
	t.updated[i] = struct{}{}
	return nil
}

// Updated returns the indices of rows written since load, ascending.
func (t *Table) Updated() []int {
	out := make([]int, 0, len(t.updated))
	for i := range t.updated {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (t *Table) checkRange(i int) error {
	if i < 0 || i >= len(t.cells) {
		if len(t.cells) == 0 {
			return fmt.Errorf("%w: %d (table is empty)", ErrRowOutOfRange, i)
		}
		return fmt.Errorf("%w: %d is not between 0 and %d", ErrRowOutOfRange, i, len(t.cells)-1)
	}
	return nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
