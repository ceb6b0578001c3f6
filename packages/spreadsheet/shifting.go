package spreadsheet

import (
	"strconv"
	"strings"
)

// Axis selects rows or columns for structural edits
type Axis int

const (
	AxisRow Axis = iota
	AxisColumn
)

func (a Axis) String() string {
	if a == AxisColumn {
		return "column"
	}
	return "row"
}

func (a Axis) index(ref Ref) int {
	if a == AxisColumn {
		return ref.Col
	}
	return ref.Row
}

func (a Axis) with(ref Ref, i int) Ref {
	if a == AxisColumn {
		ref.Col = i
	} else {
		ref.Row = i
	}
	return ref
}

func (a Axis) limit() int {
	if a == AxisColumn {
		return MaxCols
	}
	return MaxRows
}

// shiftIndex moves one index for an insert (count > 0) or delete
// (count < 0) at index at. ok is false when i falls in the deleted zone or
// is pushed off the grid.
func shiftIndex(i, at, count, limit int) (int, bool) {
	if count > 0 {
		if i >= at {
			i += count
		}
		return i, i <= limit
	}
	removed := -count
	switch {
	case i >= at && i < at+removed:
		return 0, false
	case i >= at+removed:
		return i + count, true
	}
	return i, true
}

// ShiftRef shifts a ref along axis. false means the ref was deleted.
func ShiftRef(ref Ref, axis Axis, at, count int) (Ref, bool) {
	i, ok := shiftIndex(axis.index(ref), at, count, axis.limit())
	if !ok {
		return Ref{}, false
	}
	return axis.with(ref, i), true
}

// ShiftRange shifts both ends of a range. an insert that pushes only the far
// end off the grid clips it to the edge. a delete that removes only part of
// the range shrinks it, one that removes all of it deletes it. the corners
// keep the order they were written in.
func ShiftRange(rng Range, axis Axis, at, count int) (Range, bool) {
	a, b := axis.index(rng.From), axis.index(rng.To)
	lo, hi := min(a, b), max(a, b)
	limit := axis.limit()

	if count > 0 {
		var ok bool
		if lo, ok = shiftIndex(lo, at, count, limit); !ok {
			return Range{}, false
		}
		if hi >= at {
			hi = min(hi+count, limit)
		}
	} else {
		removed := -count
		if lo >= at && hi < at+removed {
			return Range{}, false
		}
		if lo >= at && lo < at+removed {
			lo = at + removed
		}
		if hi >= at && hi < at+removed {
			hi = at - 1
		}
		lo, _ = shiftIndex(lo, at, count, limit)
		hi, _ = shiftIndex(hi, at, count, limit)
	}

	if a > b {
		lo, hi = hi, lo
	}
	return Range{From: axis.with(rng.From, lo), To: axis.with(rng.To, hi)}, true
}

// RemapIndex maps an old 1-based index to its new position after moving
// count items starting at src to before dst. indices outside the affected
// span are unchanged.
func RemapIndex(i, src, count, dst int) int {
	srcEnd := src + count
	if dst <= src {
		switch {
		case i >= src && i < srcEnd:
			return dst + (i - src)
		case i >= dst && i < src:
			return i + count
		}
		return i
	}
	switch {
	case i >= src && i < srcEnd:
		return dst - count + (i - src)
	case i >= srcEnd && i < dst:
		return i - count
	}
	return i
}

// MoveRef remaps a ref with RemapIndex along axis
func MoveRef(ref Ref, axis Axis, src, count, dst int) Ref {
	return axis.with(ref, RemapIndex(axis.index(ref), src, count, dst))
}

// ShiftFormula rewrites every reference of formula for an insert or delete.
// references into a deleted zone become #REF!.
func ShiftFormula(formula string, axis Axis, at, count int) string {
	return rewriteFormula(formula,
		func(ref Ref) (Ref, bool) { return ShiftRef(ref, axis, at, count) },
		func(rng Range) (Range, bool) { return ShiftRange(rng, axis, at, count) },
	)
}

// MoveFormula rewrites every reference of formula after count rows or
// columns moved from src to before dst.
func MoveFormula(formula string, axis Axis, src, count, dst int) string {
	move := func(ref Ref) (Ref, bool) { return MoveRef(ref, axis, src, count, dst), true }
	return rewriteFormula(formula, move, func(rng Range) (Range, bool) {
		return NewRange(MoveRef(rng.From, axis, src, count, dst), MoveRef(rng.To, axis, src, count, dst)), true
	})
}

// RelocateFormula offsets the relative parts of every reference, used when a
// formula is pasted somewhere else. "$" anchored parts stay put. a reference
// pushed off the grid becomes #REF!.
func RelocateFormula(formula string, deltaRow, deltaCol int) string {
	return rewriteTokens(formula, func(text string) string {
		start, end, isRange := strings.Cut(text, ":")
		a, ok := relocatePart(start, deltaRow, deltaCol)
		if !ok {
			return ErrorKindRef.String()
		}
		if !isRange {
			return a
		}
		b, ok := relocatePart(end, deltaRow, deltaCol)
		if !ok {
			return ErrorKindRef.String()
		}
		return a + ":" + b
	})
}

func relocatePart(text string, deltaRow, deltaCol int) (string, bool) {
	ref, absCol, absRow, err := parseRefParts(text)
	if err != nil {
		return text, true
	}
	if !absRow {
		ref.Row += deltaRow
	}
	if !absCol {
		ref.Col += deltaCol
	}
	if !ref.Valid() {
		return "", false
	}
	return formatRef(ref, absCol, absRow), true
}

// rewriteFormula applies cell and range mappings to every reference token,
// keeping "$" markers. tokens that fail to parse are left untouched.
func rewriteFormula(formula string, cell func(Ref) (Ref, bool), area func(Range) (Range, bool)) string {
	return rewriteTokens(formula, func(text string) string {
		start, end, isRange := strings.Cut(text, ":")
		from, fromCol, fromRow, err := parseRefParts(start)
		if err != nil {
			return text
		}
		if !isRange {
			ref, ok := cell(from)
			if !ok {
				return ErrorKindRef.String()
			}
			return formatRef(ref, fromCol, fromRow)
		}
		to, toCol, toRow, err := parseRefParts(end)
		if err != nil {
			return text
		}
		rng, ok := area(Range{From: from, To: to})
		if !ok {
			return ErrorKindRef.String()
		}
		return formatRef(rng.From, fromCol, fromRow) + ":" + formatRef(rng.To, toCol, toRow)
	})
}

// rewriteTokens rebuilds formula from its tokens, passing reference and
// range tokens through fn. whitespace and every other token are copied
// verbatim.
func rewriteTokens(formula string, fn func(text string) string) string {
	var sb strings.Builder
	sb.Grow(len(formula) + 8)
	sb.WriteByte('=')
	for _, tok := range Tokenize(StripFormulaPrefix(formula)) {
		switch tok.Type {
		case TokenReference, TokenRange:
			sb.WriteString(fn(tok.Value))
		default:
			sb.WriteString(tok.Value)
		}
	}
	return sb.String()
}

func formatRef(ref Ref, absCol, absRow bool) string {
	var sb strings.Builder
	if absCol {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnLabel(ref.Col))
	if absRow {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(ref.Row))
	return sb.String()
}

// shiftDimension shifts the keys of a per-row or per-column map. entries in
// a deleted zone or pushed off the grid are dropped.
func shiftDimension[T any](m map[int]T, axis Axis, at, count int) map[int]T {
	out := make(map[int]T, len(m))
	for i, v := range m {
		j, ok := shiftIndex(i, at, count, axis.limit())
		if !ok {
			continue
		}
		out[j] = v
	}
	return out
}

// moveDimension remaps the keys of a per-row or per-column map for a move
func moveDimension[T any](m map[int]T, src, count, dst int) map[int]T {
	out := make(map[int]T, len(m))
	for i, v := range m {
		out[RemapIndex(i, src, count, dst)] = v
	}
	return out
}
