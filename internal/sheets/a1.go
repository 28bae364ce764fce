package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ColumnLetter converts a 1-based column index to its letters (1 -> A, 27 -> AA).
func ColumnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// columnIndex is the inverse of ColumnLetter. It returns 0 for invalid input.
func columnIndex(letters string) int {
	n := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return 0
		}
		n = n*26 + int(r-'A'+1)
	}
	return n
}

// SheetRange builds "title!from:to". Either bound may be empty.
func SheetRange(title, from, to string) string {
	name := quoteTitle(title)
	switch {
	case from == "":
		return name
	case to == "":
		return name + "!" + from
	default:
		return name + "!" + from + ":" + to
	}
}

func quoteTitle(title string) string {
	for _, r := range title {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "'" + strings.ReplaceAll(title, "'", "''") + "'"
		}
	}
	return title
}

// cellRef is a parsed A1 bound; zero Col or Row means open-ended.
type cellRef struct {
	Col int
	Row int
}

// a1Range is a parsed "title!A1:B2" range.
type a1Range struct {
	Sheet string
	Start cellRef
	End   cellRef
}

func parseRange(rng string) (a1Range, error) {
	var out a1Range

	title, cells := rng, ""
	if strings.HasPrefix(rng, "'") {
		end := strings.LastIndex(rng, "'")
		if end == 0 {
			return out, fmt.Errorf("unterminated sheet name in %q", rng)
		}
		title = strings.ReplaceAll(rng[1:end], "''", "'")
		cells = strings.TrimPrefix(rng[end+1:], "!")
	} else if i := strings.Index(rng, "!"); i >= 0 {
		title, cells = rng[:i], rng[i+1:]
	}
	if title == "" {
		return out, fmt.Errorf("missing sheet name in %q", rng)
	}
	out.Sheet = title

	if cells == "" {
		out.Start = cellRef{Col: 1, Row: 1}
		return out, nil
	}

	from, to, hasTo := strings.Cut(cells, ":")
	start, err := parseCell(from)
	if err != nil {
		return out, err
	}
	if start.Col == 0 {
		start.Col = 1
	}
	if start.Row == 0 {
		start.Row = 1
	}
	out.Start = start

	if hasTo {
		end, err := parseCell(to)
		if err != nil {
			return out, err
		}
		out.End = end
	} else {
		out.End = start
	}
	return out, nil
}

func parseCell(s string) (cellRef, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	var ref cellRef
	if i > 0 {
		ref.Col = columnIndex(s[:i])
	}
	if i < len(s) {
		row, err := strconv.Atoi(s[i:])
		if err != nil || row < 1 {
			return ref, fmt.Errorf("invalid cell reference %q", s)
		}
		ref.Row = row
	}
	if ref.Col == 0 && ref.Row == 0 {
		return ref, fmt.Errorf("invalid cell reference %q", s)
	}
	return ref, nil
}
