package spreadsheet

import "strings"

// Cell represents a spreadsheet cell with its data and metadata. a cell with
// none of the four fields set is empty and never stored.
type Cell struct {
	Input   string `json:"v,omitempty"` // raw text as typed, kept for editors
	Formula string `json:"f,omitempty"` // formula text including the leading "="
	Value   Result `json:"r"`           // cached result, literal value for non-formula cells
	Style   Style  `json:"s,omitempty"` // cell tier style overrides
}

// IsFormula reports whether evaluation of this cell uses a formula
func (c Cell) IsFormula() bool {
	return c.Formula != ""
}

// HasContent reports whether the cell holds data (value or formula), as
// opposed to being style-only.
func (c Cell) HasContent() bool {
	if c.Formula != "" || c.Input != "" {
		return true
	}
	if c.Value.Type == ResultString {
		return c.Value.Str != ""
	}
	return c.Value.IsSet()
}

// IsEmpty reports whether the cell has nothing worth storing
func (c Cell) IsEmpty() bool {
	return c.Input == "" && c.Formula == "" && !c.Value.IsSet() && len(c.Style) == 0
}

// Clone returns a copy that shares no maps with the receiver
func (c Cell) Clone() Cell {
	c.Style = c.Style.Clone()
	return c
}

// Grid maps addresses to cells. insertion order is irrelevant.
type Grid map[Sref]Cell

// StripFormulaPrefix removes the single leading "=" a stored formula carries.
func StripFormulaPrefix(formula string) string {
	return strings.TrimPrefix(formula, "=")
}

// NormalizeFormula makes sure a formula carries exactly one leading "="
func NormalizeFormula(formula string) string {
	if formula == "" {
		return ""
	}
	if strings.HasPrefix(formula, "=") {
		return formula
	}
	return "=" + formula
}
