package sheetio

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

const budgetXML = `<?xml version="1.0"?>
<?mso-application progid="Excel.Sheet"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet"
 xmlns:o="urn:schemas-microsoft-com:office:office"
 xmlns:x="urn:schemas-microsoft-com:office:excel"
 xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
 <Styles>
  <Style ss:ID="Default" ss:Name="Normal"><Alignment ss:Vertical="Bottom"/></Style>
  <Style ss:ID="header">
   <Font ss:Bold="1" ss:Color="#FF0000"/>
   <Interior ss:Color="#FFFF00" ss:Pattern="Solid"/>
   <Borders><Border ss:Position="Bottom" ss:LineStyle="Continuous" ss:Weight="1"/></Borders>
  </Style>
  <Style ss:ID="pct"><NumberFormat ss:Format="Percent"/></Style>
  <Style ss:ID="centered"><Alignment ss:Horizontal="Center"/></Style>
 </Styles>
 <Worksheet ss:Name="Notes">
  <Table><Row><Cell><Data ss:Type="String">not this one</Data></Cell></Row></Table>
 </Worksheet>
 <Worksheet ss:Name="Budget">
  <Table>
   <Column ss:Index="2" ss:StyleID="centered" ss:Span="1" ss:Width="90"/>
   <Row>
    <Cell ss:StyleID="header"><Data ss:Type="String">Item</Data></Cell>
    <Cell><Data ss:Type="String">Cost</Data></Cell>
   </Row>
   <Row>
    <Cell><Data ss:Type="String">Rent</Data></Cell>
    <Cell><Data ss:Type="Number">1200</Data></Cell>
   </Row>
   <Row ss:Index="4">
    <Cell><Data ss:Type="String">Total</Data></Cell>
    <Cell ss:Formula="=SUM(R[-2]C:R[-1]C)"><Data ss:Type="Number">1200</Data></Cell>
    <Cell ss:Index="4" ss:StyleID="pct" ss:Formula="=RC[-2]/R2C2"><Data ss:Type="Number">1</Data></Cell>
   </Row>
   <Row>
    <Cell><Data ss:Type="Boolean">1</Data></Cell>
    <Cell><Data ss:Type="DateTime">2024-03-01T00:00:00.000</Data></Cell>
    <Cell><Data ss:Type="Error">#N/A</Data></Cell>
   </Row>
   <Row ss:Height="30">
    <Cell ss:MergeAcross="1" ss:MergeDown="1"><Data ss:Type="String">Notes</Data></Cell>
   </Row>
  </Table>
 </Worksheet>
</Workbook>`

func TestImportSpreadsheetML(t *testing.T) {
	doc, err := ImportSpreadsheetML(strings.NewReader(budgetXML), "Budget")
	if err != nil {
		t.Fatalf("ImportSpreadsheetML: %v", err)
	}
	sheet := load(t, doc)

	assertResult(t, sheet, "A1", spreadsheet.Str("Item"))
	assertResult(t, sheet, "B2", spreadsheet.Num(1200))
	assertResult(t, sheet, "B4", spreadsheet.Num(1200))
	assertResult(t, sheet, "D4", spreadsheet.Num(1))
	assertResult(t, sheet, "A5", spreadsheet.Bool(true))
	assertResult(t, sheet, "B5", spreadsheet.Num(spreadsheet.DateSerial(2024, time.March, 1)))
	assertResult(t, sheet, "C5", spreadsheet.Err(spreadsheet.ErrorKindNA))
	if _, ok, _ := sheet.GetCell("A3"); ok {
		t.Error("skipped row 3 holds a cell")
	}

	for address, want := range map[string]string{"B4": "=SUM(B2:B3)", "D4": "=B4/$B$2"} {
		if cell, _, _ := sheet.GetCell(address); cell.Formula != want {
			t.Errorf("%s formula = %q, want %q", address, cell.Formula, want)
		}
	}

	assertCellStyle(t, sheet, "A1", spreadsheet.Style{
		spreadsheet.StyleBold:         true,
		spreadsheet.StyleTextColor:    "#ff0000",
		spreadsheet.StyleBackground:   "#ffff00",
		spreadsheet.StyleBorderBottom: true,
	})
	assertCellStyle(t, sheet, "D4", spreadsheet.Style{spreadsheet.StyleNumberFormat: spreadsheet.NumberFormatPercent})
	assertCellStyle(t, sheet, "B1", nil)
	for _, col := range []int{2, 3} {
		if diff := cmp.Diff(spreadsheet.Style{spreadsheet.StyleAlign: "center"}, sheet.TierStyles().Columns[col]); diff != "" {
			t.Errorf("column %d tier mismatch (-want +got):\n%s", col, diff)
		}
		if got := sheet.ColumnWidths().Size(col); got != 120 {
			t.Errorf("column %d width = %d, want 120", col, got)
		}
	}
	if got := sheet.RowHeights().Size(6); got != 40 {
		t.Errorf("row 6 height = %d, want 40", got)
	}
	want := []spreadsheet.Range{{From: spreadsheet.Ref{Row: 6, Col: 1}, To: spreadsheet.Ref{Row: 7, Col: 2}}}
	if diff := cmp.Diff(want, sheet.Merges()); diff != "" {
		t.Errorf("merges mismatch (-want +got):\n%s", diff)
	}
	if text, _ := sheet.ToDisplayString("B7"); text != "Notes" {
		t.Errorf("B7 inside the merge displays %q, want Notes", text)
	}
}

func TestImportSpreadsheetMLPicksFirstWorksheet(t *testing.T) {
	doc, err := ImportSpreadsheetML(strings.NewReader(budgetXML), "")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Cells["A1"].Value; got != spreadsheet.Str("not this one") {
		t.Errorf("A1 = %v", got)
	}
}

func TestImportSpreadsheetMLErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		sheet string
	}{
		{"missing worksheet", budgetXML, "Nope"},
		{"malformed xml", "<Workbook><Worksheet></Workbook>", ""},
		{"bad number", `<Workbook><Worksheet><Table><Row><Cell><Data ss:Type="Number" xmlns:ss="x">abc</Data></Cell></Row></Table></Worksheet></Workbook>`, ""},
		{"index going backwards", `<Workbook xmlns:ss="x"><Worksheet><Table><Row ss:Index="3"/><Row ss:Index="2"/></Table></Worksheet></Workbook>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportSpreadsheetML(strings.NewReader(tt.input), tt.sheet); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestR1C1ToA1(t *testing.T) {
	tests := []struct {
		formula string
		at      spreadsheet.Ref
		want    string
	}{
		{"RC[-1]+1", spreadsheet.Ref{Row: 2, Col: 2}, "A2+1"},
		{"R1C1", spreadsheet.Ref{Row: 3, Col: 3}, "$A$1"},
		{"R[1]C2", spreadsheet.Ref{Row: 3, Col: 3}, "$B4"},
		{"SUM(R[-2]C:R[-1]C)", spreadsheet.Ref{Row: 4, Col: 2}, "SUM(B2:B3)"},
		{"ROUND(RC[-1],2)", spreadsheet.Ref{Row: 1, Col: 2}, "ROUND(A1,2)"},
		{`"RC"&RC[1]`, spreadsheet.Ref{Row: 1, Col: 1}, `"RC"&B1`},
		{"R[-5]C", spreadsheet.Ref{Row: 1, Col: 1}, "#REF!"},
		{"RAND()*OR(TRUE)", spreadsheet.Ref{Row: 1, Col: 1}, "RAND()*OR(TRUE)"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			if got := R1C1ToA1(tt.formula, tt.at); got != tt.want {
				t.Errorf("R1C1ToA1(%q, %v) = %q, want %q", tt.formula, tt.at, got, tt.want)
			}
		})
	}
}
