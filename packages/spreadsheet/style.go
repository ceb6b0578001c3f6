package spreadsheet

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// StyleKey names one formatting flag
type StyleKey string

const (
	StyleBold          StyleKey = "b"
	StyleItalic        StyleKey = "i"
	StyleUnderline     StyleKey = "u"
	StyleStrikethrough StyleKey = "st"
	StyleBorderTop     StyleKey = "bt"
	StyleBorderRight   StyleKey = "br"
	StyleBorderBottom  StyleKey = "bb"
	StyleBorderLeft    StyleKey = "bl"
	StyleTextColor     StyleKey = "tc"
	StyleBackground    StyleKey = "bg"
	StyleAlign         StyleKey = "al"
	StyleVerticalAlign StyleKey = "va"
	StyleNumberFormat  StyleKey = "nf"
	StyleCurrency      StyleKey = "cu"
	StyleDecimalPlaces StyleKey = "dp"
)

// number formats understood by FormatValue
const (
	NumberFormatPlain    = "plain"
	NumberFormatNumber   = "number"
	NumberFormatPercent  = "percent"
	NumberFormatCurrency = "currency"
	NumberFormatDate     = "date" // yyyy-mm-dd over a date serial
)

type styleKind uint8

const (
	styleKindBool styleKind = iota
	styleKindString
	styleKindInt
)

var styleKinds = map[StyleKey]styleKind{
	StyleBold:          styleKindBool,
	StyleItalic:        styleKindBool,
	StyleUnderline:     styleKindBool,
	StyleStrikethrough: styleKindBool,
	StyleBorderTop:     styleKindBool,
	StyleBorderRight:   styleKindBool,
	StyleBorderBottom:  styleKindBool,
	StyleBorderLeft:    styleKindBool,
	StyleTextColor:     styleKindString,
	StyleBackground:    styleKindString,
	StyleAlign:         styleKindString,
	StyleVerticalAlign: styleKindString,
	StyleNumberFormat:  styleKindString,
	StyleCurrency:      styleKindString,
	StyleDecimalPlaces: styleKindInt,
}

// Style is a partial record of formatting flags. bool keys hold bool, int
// keys hold int, everything else holds string. in a patch, a nil value unsets
// the key.
type Style map[StyleKey]any

// DefaultStyle holds the value every key has when no tier sets it. colors and
// currency have no default.
var DefaultStyle = Style{
	StyleBold:          false,
	StyleItalic:        false,
	StyleUnderline:     false,
	StyleStrikethrough: false,
	StyleBorderTop:     false,
	StyleBorderRight:   false,
	StyleBorderBottom:  false,
	StyleBorderLeft:    false,
	StyleAlign:         "left",
	StyleVerticalAlign: "top",
	StyleNumberFormat:  NumberFormatPlain,
	StyleDecimalPlaces: 2,
}

// IsBoolStyleKey reports whether key can be toggled
func IsBoolStyleKey(key StyleKey) bool {
	kind, ok := styleKinds[key]
	return ok && kind == styleKindBool
}

// Clone returns an independent copy, nil stays nil
func (s Style) Clone() Style {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Equal compares two styles key by key, treating nil and empty alike
func (s Style) Equal(other Style) bool {
	return maps.Equal(s, other)
}

// Keys returns the set keys in a stable order
func (s Style) Keys() []StyleKey {
	keys := slices.Collect(maps.Keys(s))
	slices.Sort(keys)
	return keys
}

// Bool reads a boolean key, false when absent
func (s Style) Bool(key StyleKey) bool {
	v, _ := s[key].(bool)
	return v
}

// String reads a string key, "" when absent
func (s Style) String(key StyleKey) string {
	v, _ := s[key].(string)
	return v
}

// Int reads an integer key, 0 when absent
func (s Style) Int(key StyleKey) int {
	v, _ := s[key].(int)
	return v
}

// UnmarshalJSON restores int keys, which JSON decodes as float64
func (s *Style) UnmarshalJSON(data []byte) error {
	var raw map[StyleKey]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	for key, value := range raw {
		if f, ok := value.(float64); ok && styleKinds[key] == styleKindInt {
			raw[key] = int(f)
		}
	}
	*s = Style(raw)
	return nil
}

// normalizeStylePatch validates a patch and converts loosely typed numbers
// (float64 from JSON) into ints.
func normalizeStylePatch(patch Style) (Style, error) {
	out := make(Style, len(patch))
	for key, value := range patch {
		kind, ok := styleKinds[key]
		if !ok {
			return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown style key %q", key))
		}
		if value == nil {
			out[key] = nil
			continue
		}
		switch kind {
		case styleKindBool:
			if _, ok := value.(bool); !ok {
				return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("style key %q needs a bool, got %T", key, value))
			}
		case styleKindString:
			if _, ok := value.(string); !ok {
				return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("style key %q needs a string, got %T", key, value))
			}
		case styleKindInt:
			switch v := value.(type) {
			case int:
			case float64:
				if v != float64(int(v)) {
					return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("style key %q needs an integer, got %v", key, v))
				}
				value = int(v)
			default:
				return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("style key %q needs an int, got %T", key, value))
			}
		}
		out[key] = value
	}
	return out, nil
}

// mergeStyle applies a normalized patch to base and returns the new record,
// nil when nothing is left.
func mergeStyle(base, patch Style) Style {
	out := base.Clone()
	if out == nil {
		out = make(Style, len(patch))
	}
	for key, value := range patch {
		if value == nil {
			delete(out, key)
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// overlay copies every key of top over base in place
func overlay(base, top Style) Style {
	if len(top) == 0 {
		return base
	}
	if base == nil {
		base = make(Style, len(top))
	}
	for key, value := range top {
		base[key] = value
	}
	return base
}

// TierStyles is a copy of the sheet state kept outside the cells, used by
// persistence and snapshots: the sheet, column and row tiers, merged blocks
// keyed by anchor, conditional formats in apply order and custom row and
// column sizes in pixels.
type TierStyles struct {
	Sheet        Style               `json:"sheet,omitempty"`
	Columns      map[int]Style       `json:"columns,omitempty"`
	Rows         map[int]Style       `json:"rows,omitempty"`
	Merges       map[Sref]MergeSpan  `json:"merges,omitempty"`
	Conditional  []ConditionalFormat `json:"conditional,omitempty"`
	RowHeights   map[int]int         `json:"rowHeights,omitempty"`
	ColumnWidths map[int]int         `json:"columnWidths,omitempty"`
}

// StyleResolver owns the Sheet, Column and Row style tiers of one store,
// along with the merges, conditional formats and sizes that move with rows
// and columns. the Cell tier lives on the cells themselves.
type StyleResolver struct {
	sheet       Style
	columns     map[int]Style
	rows        map[int]Style
	merges      map[Ref]MergeSpan
	conditional []ConditionalFormat
	heights     map[int]int
	widths      map[int]int
}

// NewStyleResolver creates an empty resolver
func NewStyleResolver() *StyleResolver {
	return &StyleResolver{
		columns: make(map[int]Style),
		rows:    make(map[int]Style),
		merges:  make(map[Ref]MergeSpan),
		heights: make(map[int]int),
		widths:  make(map[int]int),
	}
}

// Overrides merges the explicit keys of the lower tiers and the given cell
// tier in precedence order Sheet < Column < Row < Cell.
func (sr *StyleResolver) Overrides(ref Ref, cell Style) Style {
	var out Style
	out = overlay(out, sr.sheet)
	out = overlay(out, sr.columns[ref.Col])
	out = overlay(out, sr.rows[ref.Row])
	out = overlay(out, cell)
	return out
}

// Inherited is what a cell without a Cell tier record would show, defaults
// included.
func (sr *StyleResolver) Inherited(ref Ref) Style {
	out := DefaultStyle.Clone()
	out = overlay(out, sr.sheet)
	out = overlay(out, sr.columns[ref.Col])
	out = overlay(out, sr.rows[ref.Row])
	return out
}

// Effective merges defaults and all four tiers, then the conditional
// formats the value of cell passes
func (sr *StyleResolver) Effective(ref Ref, cell Cell) Style {
	out := overlay(sr.Inherited(ref), cell.Style)
	return overlay(out, sr.Conditional(ref, cell.Value))
}

// PruneCell drops Cell tier keys that equal what the cell inherits
func (sr *StyleResolver) PruneCell(ref Ref, cell Style) Style {
	if len(cell) == 0 {
		return nil
	}
	inherited := sr.Inherited(ref)
	out := make(Style, len(cell))
	for key, value := range cell {
		if current, ok := inherited[key]; ok && current == value {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SetSheet merges a patch into the sheet tier
func (sr *StyleResolver) SetSheet(patch Style) {
	merged := mergeStyle(sr.sheet, patch)
	sr.sheet = sr.pruneTier(merged, func(key StyleKey, value any) bool {
		return true
	})
}

// SetColumn merges a patch into one column's tier
func (sr *StyleResolver) SetColumn(col int, patch Style) {
	merged := mergeStyle(sr.columns[col], patch)
	merged = sr.pruneTier(merged, func(key StyleKey, value any) bool {
		return sr.sheetAgrees(key, value)
	})
	if merged == nil {
		delete(sr.columns, col)
		return
	}
	sr.columns[col] = merged
}

// SetRow merges a patch into one row's tier
func (sr *StyleResolver) SetRow(row int, patch Style) {
	merged := mergeStyle(sr.rows[row], patch)
	merged = sr.pruneTier(merged, func(key StyleKey, value any) bool {
		if !sr.sheetAgrees(key, value) {
			return false
		}
		for _, style := range sr.columns {
			if v, ok := style[key]; ok && v != value {
				return false
			}
		}
		return true
	})
	if merged == nil {
		delete(sr.rows, row)
		return
	}
	sr.rows[row] = merged
}

func (sr *StyleResolver) sheetAgrees(key StyleKey, value any) bool {
	v, ok := sr.sheet[key]
	return !ok || v == value
}

// pruneTier drops keys holding their default value when no lower tier can
// show a different value through (canDrop). an all-default record is nil.
func (sr *StyleResolver) pruneTier(style Style, canDrop func(StyleKey, any) bool) Style {
	if len(style) == 0 {
		return nil
	}
	out := make(Style, len(style))
	for key, value := range style {
		if def, ok := DefaultStyle[key]; ok && def == value && canDrop(key, value) {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Sheet returns a copy of the sheet tier
func (sr *StyleResolver) Sheet() Style {
	return sr.sheet.Clone()
}

// Column returns a copy of one column tier
func (sr *StyleResolver) Column(col int) Style {
	return sr.columns[col].Clone()
}

// Row returns a copy of one row tier
func (sr *StyleResolver) Row(row int) Style {
	return sr.rows[row].Clone()
}

// Tiers returns a deep copy of all three tiers
func (sr *StyleResolver) Tiers() TierStyles {
	tiers := TierStyles{
		Sheet:   sr.sheet.Clone(),
		Columns: make(map[int]Style, len(sr.columns)),
		Rows:    make(map[int]Style, len(sr.rows)),
	}
	for col, style := range sr.columns {
		tiers.Columns[col] = style.Clone()
	}
	for row, style := range sr.rows {
		tiers.Rows[row] = style.Clone()
	}
	if len(sr.merges) > 0 {
		tiers.Merges = make(map[Sref]MergeSpan, len(sr.merges))
		for anchor, span := range sr.merges {
			tiers.Merges[anchor.Sref()] = span
		}
	}
	if len(sr.conditional) > 0 {
		tiers.Conditional = sr.ConditionalFormats()
	}
	if len(sr.heights) > 0 {
		tiers.RowHeights = maps.Clone(sr.heights)
	}
	if len(sr.widths) > 0 {
		tiers.ColumnWidths = maps.Clone(sr.widths)
	}
	return tiers
}

// Load replaces all tiers, used when restoring persisted state
func (sr *StyleResolver) Load(tiers TierStyles) {
	sr.sheet = nil
	if len(tiers.Sheet) > 0 {
		sr.sheet = tiers.Sheet.Clone()
	}
	sr.columns = make(map[int]Style, len(tiers.Columns))
	for col, style := range tiers.Columns {
		if len(style) > 0 {
			sr.columns[col] = style.Clone()
		}
	}
	sr.rows = make(map[int]Style, len(tiers.Rows))
	for row, style := range tiers.Rows {
		if len(style) > 0 {
			sr.rows[row] = style.Clone()
		}
	}
	sr.merges = make(map[Ref]MergeSpan, len(tiers.Merges))
	for sref, span := range tiers.Merges {
		anchor, err := ParseRef(string(sref))
		if err != nil || span.Rows < 1 || span.Cols < 1 {
			continue
		}
		sr.merges[anchor] = span
	}
	sr.conditional = nil
	for _, rule := range tiers.Conditional {
		if normalized, err := rule.Clone().normalize(); err == nil {
			sr.conditional = append(sr.conditional, normalized)
		}
	}
	sr.heights = make(map[int]int, len(tiers.RowHeights))
	for row, height := range tiers.RowHeights {
		if height > 0 {
			sr.heights[row] = height
		}
	}
	sr.widths = make(map[int]int, len(tiers.ColumnWidths))
	for col, width := range tiers.ColumnWidths {
		if width > 0 {
			sr.widths[col] = width
		}
	}
}

// Shift moves row or column tiers and sizes for an insert (count > 0) or
// delete (count < 0) at index. entries in a deleted zone are dropped, merges
// and conditional format ranges grow or shrink with the edit.
func (sr *StyleResolver) Shift(axis Axis, index, count int) {
	if axis == AxisRow {
		sr.rows = shiftDimension(sr.rows, axis, index, count)
		sr.heights = shiftDimension(sr.heights, axis, index, count)
	} else {
		sr.columns = shiftDimension(sr.columns, axis, index, count)
		sr.widths = shiftDimension(sr.widths, axis, index, count)
	}
	sr.merges = shiftMerges(sr.merges, axis, index, count)
	sr.conditional = shiftConditionalFormats(sr.conditional, axis, index, count)
}

// Move remaps row or column tiers, sizes, merges and conditional formats
// when count items move from src to before dst.
func (sr *StyleResolver) Move(axis Axis, src, count, dst int) {
	if axis == AxisRow {
		sr.rows = moveDimension(sr.rows, src, count, dst)
		sr.heights = moveDimension(sr.heights, src, count, dst)
	} else {
		sr.columns = moveDimension(sr.columns, src, count, dst)
		sr.widths = moveDimension(sr.widths, src, count, dst)
	}
	sr.merges = moveMerges(sr.merges, axis, src, count, dst)
	sr.conditional = moveConditionalFormats(sr.conditional, axis, src, count, dst)
}
