package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vogtb/go-spreadsheet/packages/sheetio"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func testApp(ctx context.Context) (*app, *bytes.Buffer) {
	var stdout bytes.Buffer
	return &app{ctx: ctx, stdout: &stdout, stderr: &bytes.Buffer{}}, &stdout
}

func runArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a, stdout := testApp(context.Background())
	err := execute(a, append([]string{"--log-level", "error"}, args...))
	return stdout.String(), err
}

func TestEval(t *testing.T) {
	tests := []struct {
		formula string
		want    string
		wantErr bool
	}{
		{"=SUM(1,2)*2", "6\n", false},
		{"1+1", "2\n", false},
		{`=CONCAT("a","b")`, "ab\n", false},
		{"=1/0", "#DIV/0!\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := runArgs(t, "eval", tt.formula)
			if (err != nil) != tt.wantErr {
				t.Fatalf("eval %s error = %v, wantErr %v", tt.formula, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("eval %s printed %q, want %q", tt.formula, got, tt.want)
			}
		})
	}
}

func TestRunSnapshotPipeline(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.sheet")

	seed, err := spreadsheet.NewSpreadsheet()
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.Set("A1", "21"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(input, func(w io.Writer) error {
		return sheetio.WriteSnapshot(w, seed.Snapshot(), true)
	}); err != nil {
		t.Fatal(err)
	}

	outSnapshot := filepath.Join(dir, "out.sheet")
	outXLSX := filepath.Join(dir, "out.xlsx")
	got, err := runArgs(t, "run",
		"--snapshot", input,
		"--set", "B1==A1*2",
		"--set", "C1=a,b",
		"--print", "A1:C1",
		"--out-snapshot", outSnapshot,
		"--no-compress",
		"--out-xlsx", outXLSX,
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := "21\t42\ta,b\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}

	f, err := os.Open(outSnapshot)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	doc, err := sheetio.ReadSnapshot(f)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if cell := doc.Cells["B1"]; cell.Formula != "=A1*2" || cell.Value != spreadsheet.Num(42) {
		t.Errorf("B1 in snapshot = %+v", cell)
	}

	got, err = runArgs(t, "run", "--xlsx", outXLSX, "--print", "B1")
	if err != nil {
		t.Fatalf("run --xlsx: %v", err)
	}
	if got != "42\n" {
		t.Errorf("xlsx B1 printed %q", got)
	}
}

func TestRunSpreadsheetML(t *testing.T) {
	input := filepath.Join(t.TempDir(), "book.xml")
	xml := `<?xml version="1.0"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
 <Worksheet ss:Name="Data">
  <Table>
   <Row><Cell><Data ss:Type="Number">3</Data></Cell><Cell ss:Formula="=RC[-1]*3"><Data ss:Type="Number">9</Data></Cell></Row>
  </Table>
 </Worksheet>
</Workbook>`
	if err := os.WriteFile(input, []byte(xml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := runArgs(t, "run", "--xml", input, "--sheet", "Data", "--set", "A1=5", "--print", "A1:B1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "5\t15\n" {
		t.Errorf("printed %q", got)
	}
}

func TestRunWithDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sheets.db")

	if _, err := runArgs(t, "--db", db, "run", "--set", "A1=5", "--set", "A2==A1+1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	got, err := runArgs(t, "--db", db, "run", "--print", "A1:A2")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got != "5\n6\n" {
		t.Errorf("persisted document printed %q", got)
	}

	other := "0b6f7c8e-8f0e-4a51-9d43-2b1c37f0d1a2"
	got, err = runArgs(t, "--db", db, "--document", other, "run", "--print", "A1")
	if err != nil {
		t.Fatalf("run on another document: %v", err)
	}
	if got != "\n" {
		t.Errorf("another document printed %q", got)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	book := filepath.Join(dir, "book.xml")
	if err := os.WriteFile(book, []byte("<Workbook/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"edit without value", []string{"run", "--set", "A1"}, "ADDRESS=INPUT"},
		{"bad address", []string{"run", "--set", "ZZZZZ0=1"}, "ZZZZZ0"},
		{"bad print range", []string{"run", "--print", "nope"}, "--print"},
		{"missing file", []string{"run", "--xlsx", filepath.Join(dir, "missing.xlsx")}, "missing.xlsx"},
		{"two inputs", []string{"run", "--xml", book, "--snapshot", book}, "can't be used together"},
		{"bad locale", []string{"--locale", "!!", "run"}, "locale"},
		{"bad document", []string{"--db", filepath.Join(dir, "x.db"), "--document", "nope", "run"}, "document"},
		{"bad log level", []string{"--log-level", "loud", "run"}, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := testApp(context.Background())
			err := execute(a, tt.args)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, _ := testApp(ctx)
	if err := execute(a, []string{"serve", "--addr", "127.0.0.1:0"}); err != nil {
		t.Errorf("serve: %v", err)
	}
}

func TestVersion(t *testing.T) {
	got, err := runArgs(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sheetcalc version dev\n" {
		t.Errorf("version printed %q", got)
	}
}
