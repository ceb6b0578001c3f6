package spreadsheet

import (
	"iter"
	"strconv"
	"strings"
)

// grid bounds, A1 to ZZZ1000000
const (
	MaxRows = 1000000
	MaxCols = 18278
)

// Sref is the canonical uppercase address of a cell ("A1"). it is the only
// key used for storage and dependency edges.
type Sref string

// Ref is a 1-based grid coordinate
type Ref struct {
	Row int
	Col int
}

// Sref returns the canonical address of the ref
func (r Ref) Sref() Sref {
	return ToSref(r)
}

func (r Ref) String() string {
	return string(ToSref(r))
}

// Valid reports whether the ref lies inside the grid
func (r Ref) Valid() bool {
	return r.Row >= 1 && r.Row <= MaxRows && r.Col >= 1 && r.Col <= MaxCols
}

// Range is a rectangle of cells, always normalized so From is the top-left
// corner and To the bottom-right one.
type Range struct {
	From Ref
	To   Ref
}

// NewRange builds a normalized range from any two corners
func NewRange(a, b Ref) Range {
	return Range{
		From: Ref{Row: min(a.Row, b.Row), Col: min(a.Col, b.Col)},
		To:   Ref{Row: max(a.Row, b.Row), Col: max(a.Col, b.Col)},
	}
}

// GridRange covers the whole sheet
func GridRange() Range {
	return Range{From: Ref{Row: 1, Col: 1}, To: Ref{Row: MaxRows, Col: MaxCols}}
}

func (rng Range) String() string {
	return string(ToSref(rng.From)) + ":" + string(ToSref(rng.To))
}

// Rows returns the number of rows spanned by the range
func (rng Range) Rows() int {
	return rng.To.Row - rng.From.Row + 1
}

// Cols returns the number of columns spanned by the range
func (rng Range) Cols() int {
	return rng.To.Col - rng.From.Col + 1
}

// Contains is InRange with the range as receiver
func (rng Range) Contains(ref Ref) bool {
	return InRange(ref, rng)
}

// Refs iterates every ref of the range in row-major order
func (rng Range) Refs() iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for row := rng.From.Row; row <= rng.To.Row; row++ {
			for col := rng.From.Col; col <= rng.To.Col; col++ {
				if !yield(Ref{Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// InRange checks both axes inclusively
func InRange(ref Ref, rng Range) bool {
	return ref.Row >= rng.From.Row && ref.Row <= rng.To.Row &&
		ref.Col >= rng.From.Col && ref.Col <= rng.To.Col
}

// ColumnLabel converts a 1-based column index to its letters (1 -> A,
// 27 -> AA).
func ColumnLabel(col int) string {
	if col < 1 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for col > 0 {
		rem := (col - 1) % 26
		i--
		buf[i] = byte('A' + rem)
		col = (col - 1) / 26
	}
	return string(buf[i:])
}

// ColumnIndex converts column letters to a 1-based index, case-insensitive.
func ColumnIndex(label string) (int, error) {
	if label == "" {
		return 0, &ReferenceError{Input: label, Reason: "missing column letters"}
	}
	col := 0
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'A' && c <= 'Z':
			col = col*26 + int(c-'A') + 1
		case c >= 'a' && c <= 'z':
			col = col*26 + int(c-'a') + 1
		default:
			return 0, &ReferenceError{Input: label, Reason: "column must be letters"}
		}
		if col > MaxCols {
			return 0, &ReferenceError{Input: label, Reason: "column out of bounds"}
		}
	}
	return col, nil
}

// ToSref is the inverse of ParseRef
func ToSref(ref Ref) Sref {
	return Sref(ColumnLabel(ref.Col) + strconv.Itoa(ref.Row))
}

// ParseRef parses an address like "A1", "aa10" or "$B$2" into a Ref.
func ParseRef(s string) (Ref, error) {
	ref, _, _, err := parseRefParts(s)
	return ref, err
}

// parseRefParts parses an address and also reports which axes carried a "$"
// absolute marker.
func parseRefParts(s string) (ref Ref, absCol, absRow bool, err error) {
	i := 0
	if i < len(s) && s[i] == '$' {
		absCol = true
		i++
	}
	start := i
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	if i == start {
		return Ref{}, false, false, &ReferenceError{Input: s, Reason: "missing column letters"}
	}
	col, err := ColumnIndex(s[start:i])
	if err != nil {
		return Ref{}, false, false, &ReferenceError{Input: s, Reason: err.(*ReferenceError).Reason}
	}
	if i < len(s) && s[i] == '$' {
		absRow = true
		i++
	}
	digits := s[i:]
	if digits == "" {
		return Ref{}, false, false, &ReferenceError{Input: s, Reason: "missing row digits"}
	}
	row := 0
	for j := 0; j < len(digits); j++ {
		c := digits[j]
		if c < '0' || c > '9' {
			return Ref{}, false, false, &ReferenceError{Input: s, Reason: "row must be digits"}
		}
		row = row*10 + int(c-'0')
		if row > MaxRows {
			return Ref{}, false, false, &ReferenceError{Input: s, Reason: "row out of bounds"}
		}
	}
	if row == 0 {
		return Ref{}, false, false, &ReferenceError{Input: s, Reason: "row must be at least 1"}
	}
	return Ref{Row: row, Col: col}, absCol, absRow, nil
}

// ParseRange parses "A1:B2" into a normalized Range. a single address is
// accepted as a one-cell range.
func ParseRange(s string) (Range, error) {
	from, to, found := strings.Cut(s, ":")
	if !found {
		ref, err := ParseRef(s)
		if err != nil {
			return Range{}, err
		}
		return Range{From: ref, To: ref}, nil
	}
	a, err := ParseRef(from)
	if err != nil {
		return Range{}, err
	}
	b, err := ParseRef(to)
	if err != nil {
		return Range{}, err
	}
	return NewRange(a, b), nil
}

// MarshalText writes the range as "A1:B2"
func (rng Range) MarshalText() ([]byte, error) {
	return []byte(rng.String()), nil
}

// UnmarshalText accepts what ParseRange accepts
func (rng *Range) UnmarshalText(text []byte) error {
	parsed, err := ParseRange(string(text))
	if err != nil {
		return err
	}
	*rng = parsed
	return nil
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
