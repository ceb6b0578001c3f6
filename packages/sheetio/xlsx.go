// Package sheetio moves documents in and out of the spreadsheet engine:
// Office Open XML workbooks, XML Spreadsheet 2003 files and compressed JSON
// snapshots. every reader returns a reset spreadsheet.Change that can be fed
// to Spreadsheet.ApplyChange.
package sheetio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// DefaultSheetName is the worksheet written by ExportXLSX when no name is given
const DefaultSheetName = "Sheet1"

// columns scanned for column styles beyond the used area
const minStyledColumns = 26

// ImportXLSX loads one worksheet of an xlsx workbook. an empty sheetName picks
// the first worksheet. cell styles that only repeat their column style are
// folded into the column tier.
func ImportXLSX(r io.Reader, sheetName string) (spreadsheet.Change, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return spreadsheet.Change{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return spreadsheet.Change{}, errors.New("workbook has no worksheets")
		}
		sheetName = list[0]
	}
	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return spreadsheet.Change{}, fmt.Errorf("read worksheet %q: %w", sheetName, err)
	}

	styles := &styleReader{f: f, cache: make(map[int]spreadsheet.Style)}
	maxCol := 0
	for _, row := range rows {
		maxCol = max(maxCol, len(row))
	}

	tiers := spreadsheet.TierStyles{Columns: make(map[int]spreadsheet.Style)}
	for col := 1; col <= max(maxCol, minStyledColumns); col++ {
		label, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return spreadsheet.Change{}, err
		}
		id, err := f.GetColStyle(sheetName, label)
		if err != nil {
			return spreadsheet.Change{}, fmt.Errorf("read column %s style: %w", label, err)
		}
		if style := styles.style(id); len(style) > 0 {
			tiers.Columns[col] = style
		}
	}
	merged, err := readMerges(f, sheetName)
	if err != nil {
		return spreadsheet.Change{}, err
	}
	if len(merged) > 0 {
		tiers.Merges = make(map[spreadsheet.Sref]spreadsheet.MergeSpan, len(merged))
		for _, rng := range merged {
			tiers.Merges[rng.From.Sref()] = spreadsheet.MergeSpan{Rows: rng.Rows(), Cols: rng.Cols()}
		}
	}
	resolver := spreadsheet.NewStyleResolver()
	resolver.Load(tiers)

	grid := make(spreadsheet.Grid)
	for r, row := range rows {
		for c, raw := range row {
			ref := spreadsheet.Ref{Row: r + 1, Col: c + 1}
			// excelize reads covered cells through their anchor
			if resolver.Anchor(ref) != ref {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return spreadsheet.Change{}, err
			}
			cell, err := readCell(f, sheetName, name, raw)
			if err != nil {
				return spreadsheet.Change{}, err
			}
			id, err := f.GetCellStyle(sheetName, name)
			if err != nil {
				return spreadsheet.Change{}, fmt.Errorf("read %s style: %w", name, err)
			}
			cell.Style = resolver.PruneCell(ref, styles.style(id))
			if cell.IsEmpty() {
				continue
			}
			grid[spreadsheet.Sref(name)] = cell
		}
	}
	return spreadsheet.Change{Cells: grid, Styles: &tiers, Reset: true}, nil
}

// readMerges lists the merged blocks of a worksheet, single cells skipped
func readMerges(f *excelize.File, sheetName string) ([]spreadsheet.Range, error) {
	cells, err := f.GetMergeCells(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read merged cells: %w", err)
	}
	var out []spreadsheet.Range
	for _, mc := range cells {
		rng, err := spreadsheet.ParseRange(mc.GetStartAxis() + ":" + mc.GetEndAxis())
		if err != nil || rng.From == rng.To {
			continue
		}
		out = append(out, rng)
	}
	return out, nil
}

func readCell(f *excelize.File, sheetName, name, raw string) (spreadsheet.Cell, error) {
	formula, err := f.GetCellFormula(sheetName, name)
	if err != nil {
		return spreadsheet.Cell{}, fmt.Errorf("read %s formula: %w", name, err)
	}
	if formula != "" {
		formula = spreadsheet.NormalizeFormula(formula)
		return spreadsheet.Cell{Input: formula, Formula: formula}, nil
	}
	if raw == "" {
		return spreadsheet.Cell{}, nil
	}

	kind, err := f.GetCellType(sheetName, name)
	if err != nil {
		return spreadsheet.Cell{}, fmt.Errorf("read %s type: %w", name, err)
	}
	cell := spreadsheet.Cell{Input: raw}
	switch kind {
	case excelize.CellTypeBool:
		value := raw == "1" || strings.EqualFold(raw, "true")
		cell.Value = spreadsheet.Bool(value)
		cell.Input = strings.ToUpper(strconv.FormatBool(value))
	case excelize.CellTypeError:
		if ek, ok := spreadsheet.ParseErrorKind(raw); ok {
			cell.Value = spreadsheet.Err(ek)
		} else {
			cell.Value = spreadsheet.Err(spreadsheet.ErrorKindError)
		}
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cell.Value = spreadsheet.Num(v)
			break
		}
		cell.Value = spreadsheet.Str(raw)
	default:
		if ek, ok := spreadsheet.ParseErrorKind(raw); ok {
			cell.Value = spreadsheet.Err(ek)
			break
		}
		cell.Value = spreadsheet.Str(raw)
	}
	return cell, nil
}

// ExportXLSX writes doc as a single worksheet workbook. tier styles are
// written as column and row styles, each cell gets its merged style since
// xlsx cells do not inherit from their row or column. merged blocks are
// kept, conditional formats and custom sizes are not written.
func ExportXLSX(w io.Writer, doc spreadsheet.Change, sheetName string) error {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	f := excelize.NewFile()
	defer f.Close()
	if sheetName != DefaultSheetName {
		if err := f.SetSheetName(DefaultSheetName, sheetName); err != nil {
			return fmt.Errorf("name worksheet: %w", err)
		}
	}

	var tiers spreadsheet.TierStyles
	if doc.Styles != nil {
		tiers = *doc.Styles
	}
	resolver := spreadsheet.NewStyleResolver()
	resolver.Load(tiers)
	styles := &styleWriter{f: f, ids: make(map[string]int)}

	if len(tiers.Sheet) > 0 {
		id, err := styles.id(tiers.Sheet)
		if err != nil {
			return err
		}
		if err := f.SetColStyle(sheetName, "A:XFD", id); err != nil {
			return fmt.Errorf("write sheet style: %w", err)
		}
	}
	for _, col := range slices.Sorted(maps.Keys(tiers.Columns)) {
		merged := resolver.Overrides(spreadsheet.Ref{Row: 0, Col: col}, nil)
		id, err := styles.id(merged)
		if err != nil {
			return err
		}
		label := spreadsheet.ColumnLabel(col)
		if err := f.SetColStyle(sheetName, label, id); err != nil {
			return fmt.Errorf("write column %s style: %w", label, err)
		}
	}
	for _, row := range slices.Sorted(maps.Keys(tiers.Rows)) {
		merged := resolver.Overrides(spreadsheet.Ref{Row: row, Col: 0}, nil)
		id, err := styles.id(merged)
		if err != nil {
			return err
		}
		if err := f.SetRowStyle(sheetName, row, row, id); err != nil {
			return fmt.Errorf("write row %d style: %w", row, err)
		}
	}

	for _, sref := range slices.Sorted(maps.Keys(doc.Cells)) {
		cell := doc.Cells[sref]
		ref, err := spreadsheet.ParseRef(string(sref))
		if err != nil {
			return err
		}
		name := ref.String()
		if err := writeCell(f, sheetName, name, cell); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		merged := resolver.Overrides(ref, cell.Style)
		if len(merged) == 0 {
			continue
		}
		id, err := styles.id(merged)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetName, name, name, id); err != nil {
			return fmt.Errorf("write %s style: %w", name, err)
		}
	}

	for _, anchor := range slices.Sorted(maps.Keys(tiers.Merges)) {
		ref, err := spreadsheet.ParseRef(string(anchor))
		if err != nil {
			return err
		}
		rng := spreadsheet.MergeRange(ref, tiers.Merges[anchor])
		if err := f.MergeCell(sheetName, rng.From.String(), rng.To.String()); err != nil {
			return fmt.Errorf("merge %s: %w", rng, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeCell(f *excelize.File, sheetName, name string, cell spreadsheet.Cell) error {
	if cell.IsFormula() {
		return f.SetCellFormula(sheetName, name, spreadsheet.StripFormulaPrefix(cell.Formula))
	}
	switch cell.Value.Type {
	case spreadsheet.ResultNumber:
		return f.SetCellFloat(sheetName, name, cell.Value.Num, -1, 64)
	case spreadsheet.ResultBoolean:
		return f.SetCellBool(sheetName, name, cell.Value.Bool)
	case spreadsheet.ResultString:
		return f.SetCellStr(sheetName, name, cell.Value.Str)
	case spreadsheet.ResultError:
		return f.SetCellStr(sheetName, name, cell.Value.String())
	}
	return nil
}

type styleWriter struct {
	f   *excelize.File
	ids map[string]int
}

// id registers style once per distinct record
func (sw *styleWriter) id(style spreadsheet.Style) (int, error) {
	key, err := json.Marshal(style)
	if err != nil {
		return 0, err
	}
	if id, ok := sw.ids[string(key)]; ok {
		return id, nil
	}
	id, err := sw.f.NewStyle(toExcelStyle(style))
	if err != nil {
		return 0, fmt.Errorf("register style: %w", err)
	}
	sw.ids[string(key)] = id
	return id, nil
}

type styleReader struct {
	f     *excelize.File
	cache map[int]spreadsheet.Style
}

func (sr *styleReader) style(id int) spreadsheet.Style {
	if id <= 0 {
		return nil
	}
	if style, ok := sr.cache[id]; ok {
		return style.Clone()
	}
	xs, err := sr.f.GetStyle(id)
	if err != nil || xs == nil {
		sr.cache[id] = nil
		return nil
	}
	style := fromExcelStyle(xs)
	sr.cache[id] = style
	return style.Clone()
}

var borderKeys = map[string]spreadsheet.StyleKey{
	"top":    spreadsheet.StyleBorderTop,
	"right":  spreadsheet.StyleBorderRight,
	"bottom": spreadsheet.StyleBorderBottom,
	"left":   spreadsheet.StyleBorderLeft,
}

// built-in number format ids
const (
	numFmtNumber   = 4  // #,##0.00
	numFmtCurrency = 7  // $#,##0.00_);($#,##0.00)
	numFmtPercent  = 10 // 0.00%
	numFmtDate     = 14 // mm-dd-yy
)

func toExcelStyle(style spreadsheet.Style) *excelize.Style {
	xs := &excelize.Style{}
	font := &excelize.Font{
		Bold:   style.Bool(spreadsheet.StyleBold),
		Italic: style.Bool(spreadsheet.StyleItalic),
		Strike: style.Bool(spreadsheet.StyleStrikethrough),
	}
	if style.Bool(spreadsheet.StyleUnderline) {
		font.Underline = "single"
	}
	if color := style.String(spreadsheet.StyleTextColor); color != "" {
		font.Color = strings.TrimPrefix(color, "#")
	}
	if *font != (excelize.Font{}) {
		xs.Font = font
	}
	if bg := style.String(spreadsheet.StyleBackground); bg != "" {
		xs.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{strings.TrimPrefix(bg, "#")}}
	}

	align := &excelize.Alignment{Horizontal: style.String(spreadsheet.StyleAlign)}
	switch v := style.String(spreadsheet.StyleVerticalAlign); v {
	case "middle":
		align.Vertical = "center"
	default:
		align.Vertical = v
	}
	if align.Horizontal != "" || align.Vertical != "" {
		xs.Alignment = align
	}

	for side, key := range borderKeys {
		if style.Bool(key) {
			xs.Border = append(xs.Border, excelize.Border{Type: side, Color: "000000", Style: 1})
		}
	}
	slices.SortFunc(xs.Border, func(a, b excelize.Border) int { return strings.Compare(a.Type, b.Type) })

	switch style.String(spreadsheet.StyleNumberFormat) {
	case spreadsheet.NumberFormatNumber:
		xs.NumFmt = numFmtNumber
	case spreadsheet.NumberFormatCurrency:
		xs.NumFmt = numFmtCurrency
	case spreadsheet.NumberFormatPercent:
		xs.NumFmt = numFmtPercent
	case spreadsheet.NumberFormatDate:
		xs.NumFmt = numFmtDate
	}
	return xs
}

func fromExcelStyle(xs *excelize.Style) spreadsheet.Style {
	style := spreadsheet.Style{}
	if font := xs.Font; font != nil {
		if font.Bold {
			style[spreadsheet.StyleBold] = true
		}
		if font.Italic {
			style[spreadsheet.StyleItalic] = true
		}
		if font.Underline != "" && font.Underline != "none" {
			style[spreadsheet.StyleUnderline] = true
		}
		if font.Strike {
			style[spreadsheet.StyleStrikethrough] = true
		}
		if font.Color != "" {
			style[spreadsheet.StyleTextColor] = "#" + strings.ToLower(font.Color)
		}
	}
	if xs.Fill.Type == "pattern" && len(xs.Fill.Color) > 0 && xs.Fill.Color[0] != "" {
		style[spreadsheet.StyleBackground] = "#" + strings.ToLower(xs.Fill.Color[0])
	}
	if a := xs.Alignment; a != nil {
		switch a.Horizontal {
		case "left", "center", "right":
			style[spreadsheet.StyleAlign] = a.Horizontal
		}
		switch a.Vertical {
		case "top", "bottom":
			style[spreadsheet.StyleVerticalAlign] = a.Vertical
		case "center":
			style[spreadsheet.StyleVerticalAlign] = "middle"
		}
	}
	for _, border := range xs.Border {
		if key, ok := borderKeys[border.Type]; ok && border.Style > 0 {
			style[key] = true
		}
	}
	switch {
	case xs.NumFmt >= 1 && xs.NumFmt <= 4:
		style[spreadsheet.StyleNumberFormat] = spreadsheet.NumberFormatNumber
	case xs.NumFmt >= 5 && xs.NumFmt <= 8:
		style[spreadsheet.StyleNumberFormat] = spreadsheet.NumberFormatCurrency
	case xs.NumFmt == 9 || xs.NumFmt == 10:
		style[spreadsheet.StyleNumberFormat] = spreadsheet.NumberFormatPercent
	case xs.NumFmt >= 14 && xs.NumFmt <= 22:
		style[spreadsheet.StyleNumberFormat] = spreadsheet.NumberFormatDate
	}
	if len(style) == 0 {
		return nil
	}
	return style
}
