package fec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	// ErrEmpty is returned when the input holds no tabular content.
	ErrEmpty = errors.New("fec: no tabular content")
	// ErrNoEntries is returned when no row could be read as an entry.
	ErrNoEntries = errors.New("fec: no entries")
)

// delimiters in order of preference when counts tie.
var delimiters = []rune{';', '\t', '|', ','}

// minSeparators is how many delimiters a line needs to count as a table row.
const minSeparators = 4

var markdownRule = regexp.MustCompile(`^\|?\s*:?-{3,}`)

// Clean strips markdown code fences and any prose surrounding the table.
func Clean(raw string) string {
	s := strings.Trim(strings.ReplaceAll(raw, "\r\n", "\n"), " \n")
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = ""
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = rest
	}

	var rows []string
	started := false
	for _, line := range strings.Split(s, "\n") {
		// tabs are kept: a leading tab is an empty first column
		line = strings.Trim(line, " \r")
		if markdownRule.MatchString(line) {
			continue
		}
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1 {
			line = strings.TrimSpace(line[1 : len(line)-1])
		}
		if tabular(line) {
			started = true
			rows = append(rows, line)
			continue
		}
		if started && line != "" {
			// prose after the table ends it
			break
		}
	}
	return strings.Join(rows, "\n")
}

func tabular(line string) bool {
	for _, d := range delimiters {
		if strings.Count(line, string(d)) >= minSeparators {
			return true
		}
	}
	return false
}

func detectDelimiter(line string) rune {
	best, bestCount := delimiters[0], -1
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// normalizeColumn folds a header cell so that "Journal_Code", "journal code"
// and "JournalCode" all match.
func normalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'*`)
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(s)
}

var columnIndex = func() map[string]string {
	m := make(map[string]string, len(Fields))
	for _, f := range Fields {
		m[normalizeColumn(f.Name)] = f.Name
	}
	return m
}()

// headerColumns maps each cell of a header line to a FEC column name. ok is
// false when the line does not look like a header.
func headerColumns(cells []string) (columns []string, ok bool) {
	columns = make([]string, len(cells))
	known := 0
	for i, c := range cells {
		if name, found := columnIndex[normalizeColumn(c)]; found {
			columns[i] = name
			known++
		}
	}
	return columns, known >= 3
}

// Parse reads model output into a Document. Unreadable rows are skipped and
// reported in Warnings; the call only fails when nothing usable remains.
func Parse(raw string) (*Document, error) {
	cleaned := Clean(raw)
	if cleaned == "" {
		return nil, ErrEmpty
	}

	header, _, _ := strings.Cut(cleaned, "\n")
	doc := &Document{Delimiter: detectDelimiter(header)}

	r := csv.NewReader(strings.NewReader(cleaned))
	r.Comma = doc.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = doc.Delimiter != '\t'

	columns := ColumnNames()
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("ligne %d: %v", row, err))
			continue
		}
		if row == 1 {
			if cols, ok := headerColumns(record); ok {
				columns = cols
				doc.HasHeader = true
				continue
			}
		}
		if blank(record) {
			continue
		}

		entry, err := readEntry(record, columns)
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("ligne %d: %v", row, err))
			continue
		}
		entry.Row = row
		doc.Entries = append(doc.Entries, entry)
	}

	if len(doc.Entries) == 0 {
		return doc, ErrNoEntries
	}
	return doc, nil
}

func readEntry(record, columns []string) (Entry, error) {
	var e Entry
	for i, cell := range record {
		if i >= len(columns) {
			break
		}
		value := strings.TrimSpace(cell)
		switch columns[i] {
		case "":
		case "Debit":
			a, err := ParseAmount(value)
			if err != nil {
				return e, fmt.Errorf("Debit: %w", err)
			}
			e.Debit = a
		case "Credit":
			a, err := ParseAmount(value)
			if err != nil {
				return e, fmt.Errorf("Credit: %w", err)
			}
			e.Credit = a
		default:
			e.set(columns[i], value)
		}
	}
	return e, nil
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
