package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
)

// pixel sizes of rows and columns without a custom size
const (
	DefaultRowHeight   = 23
	DefaultColumnWidth = 100
)

// Dimensions resolves the pixel sizes along one axis: custom sizes keyed by
// 1-based index, Default everywhere else.
type Dimensions struct {
	Default int
	Custom  map[int]int
}

// Size returns the size of index i
func (d Dimensions) Size(i int) int {
	if size, ok := d.Custom[i]; ok {
		return size
	}
	return d.Default
}

// Offset returns the pixel position where index i starts
func (d Dimensions) Offset(i int) int {
	offset := (i - 1) * d.Default
	for j, size := range d.Custom {
		if j < i {
			offset += size - d.Default
		}
	}
	return offset
}

// IndexAt returns the index covering pixel position offset
func (d Dimensions) IndexAt(offset int) int {
	accumulated, last := 0, 0
	for _, i := range slices.Sorted(maps.Keys(d.Custom)) {
		gapEnd := accumulated + (i-1-last)*d.Default
		if offset < gapEnd {
			return last + (offset-accumulated)/d.Default + 1
		}
		accumulated = gapEnd
		if offset < accumulated+d.Custom[i] {
			return i
		}
		accumulated += d.Custom[i]
		last = i
	}
	return last + (offset-accumulated)/d.Default + 1
}

// setSize records a custom size, the default size removes it
func setSize(m map[int]int, axis Axis, i, size, def int) error {
	if i < 1 || i > axis.limit() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("%s %d is outside the grid", axis, i))
	}
	if size < 1 {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("%s size must be positive, got %d", axis, size))
	}
	if size == def {
		delete(m, i)
		return nil
	}
	m[i] = size
	return nil
}

// SetRowHeight sets the height of one row in pixels
func (sr *StyleResolver) SetRowHeight(row, height int) error {
	return setSize(sr.heights, AxisRow, row, height, DefaultRowHeight)
}

// SetColumnWidth sets the width of one column in pixels
func (sr *StyleResolver) SetColumnWidth(col, width int) error {
	return setSize(sr.widths, AxisColumn, col, width, DefaultColumnWidth)
}

// RowHeights returns a copy of the row sizes
func (sr *StyleResolver) RowHeights() Dimensions {
	return Dimensions{Default: DefaultRowHeight, Custom: maps.Clone(sr.heights)}
}

// ColumnWidths returns a copy of the column sizes
func (sr *StyleResolver) ColumnWidths() Dimensions {
	return Dimensions{Default: DefaultColumnWidth, Custom: maps.Clone(sr.widths)}
}
