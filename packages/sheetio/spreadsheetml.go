package sheetio

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// XML Spreadsheet 2003 files put every element in the default namespace and
// every attribute under the ss prefix. matching on local-name keeps the
// queries independent of how a producer spelled the prefixes.
var (
	xpathWorksheets = xpath.MustCompile("//*[local-name()='Worksheet']")
	xpathStyles     = xpath.MustCompile("//*[local-name()='Styles']/*[local-name()='Style']")
	xpathTable      = xpath.MustCompile("*[local-name()='Table']")
	xpathColumns    = xpath.MustCompile("*[local-name()='Column']")
	xpathRows       = xpath.MustCompile("*[local-name()='Row']")
	xpathCells      = xpath.MustCompile("*[local-name()='Cell']")
	xpathData       = xpath.MustCompile("*[local-name()='Data']")
	xpathFont       = xpath.MustCompile("*[local-name()='Font']")
	xpathInterior   = xpath.MustCompile("*[local-name()='Interior']")
	xpathAlignment  = xpath.MustCompile("*[local-name()='Alignment']")
	xpathNumFmt     = xpath.MustCompile("*[local-name()='NumberFormat']")
	xpathBorders    = xpath.MustCompile("*[local-name()='Borders']/*[local-name()='Border']")
)

// ImportSpreadsheetML loads one worksheet of an XML Spreadsheet 2003 document.
// an empty sheetName picks the first worksheet. R1C1 formulas are rewritten
// to A1 notation.
func ImportSpreadsheetML(r io.Reader, sheetName string) (spreadsheet.Change, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return spreadsheet.Change{}, fmt.Errorf("parse xml: %w", err)
	}

	styles := make(map[string]spreadsheet.Style)
	for _, node := range xmlquery.QuerySelectorAll(doc, xpathStyles) {
		if id := ssAttr(node, "ID"); id != "" {
			styles[id] = readXMLStyle(node)
		}
	}

	var worksheet *xmlquery.Node
	for _, node := range xmlquery.QuerySelectorAll(doc, xpathWorksheets) {
		if sheetName == "" || ssAttr(node, "Name") == sheetName {
			worksheet = node
			break
		}
	}
	if worksheet == nil {
		if sheetName == "" {
			return spreadsheet.Change{}, fmt.Errorf("document has no worksheets")
		}
		return spreadsheet.Change{}, fmt.Errorf("worksheet %q not found", sheetName)
	}

	tiers := spreadsheet.TierStyles{
		Columns:      make(map[int]spreadsheet.Style),
		Rows:         make(map[int]spreadsheet.Style),
		Merges:       make(map[spreadsheet.Sref]spreadsheet.MergeSpan),
		RowHeights:   make(map[int]int),
		ColumnWidths: make(map[int]int),
	}
	grid := make(spreadsheet.Grid)
	table := xmlquery.QuerySelector(worksheet, xpathTable)
	if table == nil {
		return spreadsheet.Change{Cells: grid, Styles: &tiers, Reset: true}, nil
	}

	col := 0
	for _, node := range xmlquery.QuerySelectorAll(table, xpathColumns) {
		if col, err = nextIndex(node, col); err != nil {
			return spreadsheet.Change{}, err
		}
		span, _ := strconv.Atoi(ssAttr(node, "Span"))
		style := styles[ssAttr(node, "StyleID")]
		width, hasWidth := pixels(ssAttr(node, "Width"))
		for c := col; c <= col+span; c++ {
			if len(style) > 0 {
				tiers.Columns[c] = style.Clone()
			}
			if hasWidth {
				tiers.ColumnWidths[c] = width
			}
		}
		col += span
	}
	row := 0
	rowNodes := xmlquery.QuerySelectorAll(table, xpathRows)
	for _, node := range rowNodes {
		if row, err = nextIndex(node, row); err != nil {
			return spreadsheet.Change{}, err
		}
		if style := styles[ssAttr(node, "StyleID")]; len(style) > 0 {
			tiers.Rows[row] = style.Clone()
		}
		if height, ok := pixels(ssAttr(node, "Height")); ok {
			tiers.RowHeights[row] = height
		}
	}

	resolver := spreadsheet.NewStyleResolver()
	resolver.Load(tiers)
	row = 0
	for _, rowNode := range rowNodes {
		row, _ = nextIndex(rowNode, row)
		col := 0
		for _, node := range xmlquery.QuerySelectorAll(rowNode, xpathCells) {
			if col, err = nextIndex(node, col); err != nil {
				return spreadsheet.Change{}, err
			}
			ref := spreadsheet.Ref{Row: row, Col: col}
			if !ref.Valid() {
				return spreadsheet.Change{}, fmt.Errorf("cell R%dC%d lies outside the grid", row, col)
			}
			cell, err := readXMLCell(node, ref)
			if err != nil {
				return spreadsheet.Change{}, fmt.Errorf("%s: %w", ref, err)
			}
			cell.Style = resolver.PruneCell(ref, styles[ssAttr(node, "StyleID")].Clone())
			if !cell.IsEmpty() {
				grid[ref.Sref()] = cell
			}
			across, _ := strconv.Atoi(ssAttr(node, "MergeAcross"))
			down, _ := strconv.Atoi(ssAttr(node, "MergeDown"))
			if across > 0 || down > 0 {
				tiers.Merges[ref.Sref()] = spreadsheet.MergeSpan{Rows: down + 1, Cols: across + 1}
			}
			col += max(across, 0)
		}
	}
	return spreadsheet.Change{Cells: grid, Styles: &tiers, Reset: true}, nil
}

// pixels converts a size in points to whole pixels
func pixels(points string) (int, bool) {
	v, err := strconv.ParseFloat(points, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v * 4 / 3)), true
}

// ssAttr reads an attribute with or without the ss prefix
func ssAttr(node *xmlquery.Node, name string) string {
	if v := node.SelectAttr("ss:" + name); v != "" {
		return v
	}
	return node.SelectAttr(name)
}

// nextIndex advances a 1-based row or column cursor, honoring ss:Index
func nextIndex(node *xmlquery.Node, current int) (int, error) {
	raw := ssAttr(node, "Index")
	if raw == "" {
		return current + 1, nil
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index <= current {
		return 0, fmt.Errorf("bad ss:Index %q after %d", raw, current)
	}
	return index, nil
}

func readXMLCell(node *xmlquery.Node, ref spreadsheet.Ref) (spreadsheet.Cell, error) {
	if formula := ssAttr(node, "Formula"); formula != "" {
		formula = spreadsheet.NormalizeFormula(R1C1ToA1(strings.TrimPrefix(formula, "="), ref))
		return spreadsheet.Cell{Input: formula, Formula: formula}, nil
	}
	data := xmlquery.QuerySelector(node, xpathData)
	if data == nil {
		return spreadsheet.Cell{}, nil
	}
	text := data.InnerText()
	cell := spreadsheet.Cell{Input: text}
	switch kind := ssAttr(data, "Type"); kind {
	case "Number":
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return spreadsheet.Cell{}, fmt.Errorf("bad number %q", text)
		}
		cell.Value = spreadsheet.Num(v)
	case "Boolean":
		value := strings.TrimSpace(text) == "1" || strings.EqualFold(strings.TrimSpace(text), "true")
		cell.Value = spreadsheet.Bool(value)
		cell.Input = strings.ToUpper(strconv.FormatBool(value))
	case "DateTime":
		t, err := parseXMLTime(strings.TrimSpace(text))
		if err != nil {
			return spreadsheet.Cell{}, err
		}
		cell.Value = spreadsheet.Num(dateTimeSerial(t))
		cell.Input = t.Format(time.DateOnly)
	case "Error":
		ek, ok := spreadsheet.ParseErrorKind(strings.TrimSpace(text))
		if !ok {
			ek = spreadsheet.ErrorKindError
		}
		cell.Value = spreadsheet.Err(ek)
	case "String", "":
		if text == "" {
			return spreadsheet.Cell{}, nil
		}
		cell.Value = spreadsheet.Str(text)
	default:
		return spreadsheet.Cell{}, fmt.Errorf("unknown data type %q", kind)
	}
	return cell, nil
}

func parseXMLTime(text string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000", "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", text)
}

func dateTimeSerial(t time.Time) float64 {
	day := spreadsheet.DateSerial(t.Year(), t.Month(), t.Day())
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day + t.Sub(midnight).Hours()/24
}

func readXMLStyle(node *xmlquery.Node) spreadsheet.Style {
	style := spreadsheet.Style{}
	if font := xmlquery.QuerySelector(node, xpathFont); font != nil {
		if ssAttr(font, "Bold") == "1" {
			style[spreadsheet.StyleBold] = true
		}
		if ssAttr(font, "Italic") == "1" {
			style[spreadsheet.StyleItalic] = true
		}
		if u := ssAttr(font, "Underline"); u != "" && u != "None" {
			style[spreadsheet.StyleUnderline] = true
		}
		if ssAttr(font, "StrikeThrough") == "1" {
			style[spreadsheet.StyleStrikethrough] = true
		}
		if c := ssAttr(font, "Color"); c != "" && c != "Automatic" {
			style[spreadsheet.StyleTextColor] = strings.ToLower(c)
		}
	}
	if interior := xmlquery.QuerySelector(node, xpathInterior); interior != nil {
		if c := ssAttr(interior, "Color"); c != "" && c != "Automatic" {
			style[spreadsheet.StyleBackground] = strings.ToLower(c)
		}
	}
	if align := xmlquery.QuerySelector(node, xpathAlignment); align != nil {
		switch h := strings.ToLower(ssAttr(align, "Horizontal")); h {
		case "left", "center", "right":
			style[spreadsheet.StyleAlign] = h
		}
		switch v := strings.ToLower(ssAttr(align, "Vertical")); v {
		case "top", "bottom":
			style[spreadsheet.StyleVerticalAlign] = v
		case "center":
			style[spreadsheet.StyleVerticalAlign] = "middle"
		}
	}
	for _, border := range xmlquery.QuerySelectorAll(node, xpathBorders) {
		if key, ok := borderKeys[strings.ToLower(ssAttr(border, "Position"))]; ok {
			style[key] = true
		}
	}
	if nf := xmlquery.QuerySelector(node, xpathNumFmt); nf != nil {
		if format := xmlNumberFormat(ssAttr(nf, "Format")); format != "" {
			style[spreadsheet.StyleNumberFormat] = format
		}
	}
	if len(style) == 0 {
		return nil
	}
	return style
}

func xmlNumberFormat(format string) string {
	switch {
	case format == "":
		return ""
	case format == "Percent" || strings.HasSuffix(format, "%"):
		return spreadsheet.NumberFormatPercent
	case format == "Currency" || strings.ContainsAny(format, "$€£¥"):
		return spreadsheet.NumberFormatCurrency
	case strings.Contains(format, "Date") || strings.Contains(format, "yy"):
		return spreadsheet.NumberFormatDate
	case format == "Standard" || format == "Fixed" || strings.Contains(format, "0"):
		return spreadsheet.NumberFormatNumber
	}
	return ""
}

// R1C1ToA1 rewrites the R1C1 references of formula to A1 notation relative
// to the cell at. string literals are copied untouched, references that fall
// off the grid become #REF!.
func R1C1ToA1(formula string, at spreadsheet.Ref) string {
	var b strings.Builder
	for i := 0; i < len(formula); {
		c := formula[i]
		if c == '"' {
			j := i + 1
			for j < len(formula) {
				if formula[j] == '"' {
					if j+1 < len(formula) && formula[j+1] == '"' {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			b.WriteString(formula[i:j])
			i = j
			continue
		}
		if (c == 'R' || c == 'r') && (i == 0 || !isNameByte(formula[i-1])) {
			if ref, n, ok := parseR1C1(formula[i:], at); ok {
				b.WriteString(ref)
				i += n
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parseR1C1 matches one R..C.. reference at the start of s
func parseR1C1(s string, at spreadsheet.Ref) (string, int, bool) {
	pos := 1
	row, rowAbs, n, ok := r1c1Axis(s[pos:], at.Row)
	if !ok {
		return "", 0, false
	}
	pos += n
	if pos >= len(s) || (s[pos] != 'C' && s[pos] != 'c') {
		return "", 0, false
	}
	pos++
	col, colAbs, n, ok := r1c1Axis(s[pos:], at.Col)
	if !ok {
		return "", 0, false
	}
	pos += n
	if pos < len(s) && (isNameByte(s[pos]) || s[pos] == '(') {
		return "", 0, false
	}

	ref := spreadsheet.Ref{Row: row, Col: col}
	if !ref.Valid() {
		return spreadsheet.ErrorKindRef.String(), pos, true
	}
	var b strings.Builder
	if colAbs {
		b.WriteByte('$')
	}
	b.WriteString(spreadsheet.ColumnLabel(col))
	if rowAbs {
		b.WriteByte('$')
	}
	b.WriteString(strconv.Itoa(row))
	return b.String(), pos, true
}

// r1c1Axis reads "", "[n]" or "n" after an R or C
func r1c1Axis(s string, base int) (value int, absolute bool, n int, ok bool) {
	if s == "" {
		return base, false, 0, true
	}
	if s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return 0, false, 0, false
		}
		offset, err := strconv.Atoi(s[1:end])
		if err != nil {
			return 0, false, 0, false
		}
		return base + offset, false, end + 1, true
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return base, false, 0, true
	}
	index, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false, 0, false
	}
	return index, true, end, true
}
