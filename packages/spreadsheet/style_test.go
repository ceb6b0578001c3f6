package spreadsheet

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"
)

func mustRef(t *testing.T, s string) Ref {
	t.Helper()
	ref, err := ParseRef(s)
	if err != nil {
		t.Fatalf("ParseRef(%q): %v", s, err)
	}
	return ref
}

func TestStylePrecedence(t *testing.T) {
	store := NewMemStore()
	steps := []error{
		store.SetSheetStyle(Style{StyleBackground: "red"}),
		store.SetColumnStyle(1, Style{StyleBackground: "blue"}),
		store.SetRowStyle(1, Style{StyleBackground: "green"}),
		store.SetStyle(mustRef(t, "A1"), Style{StyleBackground: "yellow"}),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	tests := map[string]string{
		"A1": "yellow", // cell beats row
		"B1": "green",  // row beats column
		"A2": "blue",   // column beats sheet
		"B2": "red",
	}
	for address, want := range tests {
		got := store.EffectiveStyle(mustRef(t, address)).String(StyleBackground)
		if got != want {
			t.Errorf("%s background = %q, want %q", address, got, want)
		}
	}

	effective := store.EffectiveStyle(mustRef(t, "C3"))
	if effective.String(StyleAlign) != "left" || effective.Int(StyleDecimalPlaces) != 2 || effective.Bool(StyleBold) {
		t.Errorf("defaults not applied: %v", effective)
	}
	if got := store.GetStyle(mustRef(t, "C3")); !got.Equal(Style{StyleBackground: "red"}) {
		t.Errorf("GetStyle(C3) = %v, want only the sheet override", got)
	}
}

func TestToggleStyleIdempotence(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")

	if err := store.ToggleStyle(a1, StyleBold); err != nil {
		t.Fatal(err)
	}
	if !store.EffectiveStyle(a1).Bool(StyleBold) {
		t.Fatal("bold not set after first toggle")
	}
	if err := store.ToggleStyle(a1, StyleBold); err != nil {
		t.Fatal(err)
	}
	if got := store.GetStyle(a1); got != nil {
		t.Errorf("GetStyle after two toggles = %v, want nil", got)
	}
	if _, ok := store.Get(a1); ok {
		t.Error("style-only cell kept after its style was cleared")
	}
}

func TestToggleStyleAgainstRow(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")
	if err := store.SetRowStyle(1, Style{StyleBold: true}); err != nil {
		t.Fatal(err)
	}

	if err := store.ToggleStyle(a1, StyleBold); err != nil {
		t.Fatal(err)
	}
	cell, _ := store.Get(a1)
	if diff := cmp.Diff(Style{StyleBold: false}, cell.Style); diff != "" {
		t.Errorf("cell tier mismatch (-want +got):\n%s", diff)
	}

	if err := store.ToggleStyle(a1, StyleBold); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get(a1); ok {
		t.Error("cell tier kept a key equal to the row tier")
	}
	if !store.EffectiveStyle(a1).Bool(StyleBold) {
		t.Error("row bold lost")
	}
}

func TestStylePatchValidation(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")

	invalid := []Style{
		{"zz": true},
		{StyleBold: "yes"},
		{StyleDecimalPlaces: "3"},
		{StyleDecimalPlaces: 2.5},
		{StyleTextColor: 1},
	}
	for _, patch := range invalid {
		err := store.SetStyle(a1, patch)
		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.Code != InvalidArgument {
			t.Errorf("SetStyle(%v) error = %v, want InvalidArgument", patch, err)
		}
	}

	if err := store.SetStyle(a1, Style{StyleDecimalPlaces: float64(4)}); err != nil {
		t.Fatal(err)
	}
	if got := store.EffectiveStyle(a1)[StyleDecimalPlaces]; got != 4 {
		t.Errorf("dp = %#v, want int 4", got)
	}

	err := store.ToggleStyle(a1, StyleTextColor)
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != InvalidArgument {
		t.Errorf("ToggleStyle(tc) error = %v, want InvalidArgument", err)
	}
}

func TestStylePatchUnset(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")
	if err := store.SetStyle(a1, Style{StyleBackground: "red", StyleItalic: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStyle(a1, Style{StyleBackground: nil}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Style{StyleItalic: true}, store.GetStyle(a1)); diff != "" {
		t.Errorf("style mismatch (-want +got):\n%s", diff)
	}
}

func TestTierPruning(t *testing.T) {
	store := NewMemStore()
	if err := store.SetSheetStyle(Style{StyleBold: false, StyleAlign: "left"}); err != nil {
		t.Fatal(err)
	}
	if tiers := store.TierStyles(); tiers.Sheet != nil {
		t.Errorf("sheet tier = %v, want default keys pruned", tiers.Sheet)
	}

	// a default value is kept when a lower tier would show through
	if err := store.SetSheetStyle(Style{StyleBold: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetColumnStyle(2, Style{StyleBold: false}); err != nil {
		t.Fatal(err)
	}
	if store.EffectiveStyle(mustRef(t, "B5")).Bool(StyleBold) {
		t.Error("column tier false did not override sheet bold")
	}
	if !store.EffectiveStyle(mustRef(t, "C5")).Bool(StyleBold) {
		t.Error("sheet bold lost outside the column")
	}
}

func TestStyleTierShift(t *testing.T) {
	store := NewMemStore()
	if err := store.SetRowStyle(2, Style{StyleItalic: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetColumnStyle(3, Style{StyleBackground: "grey"}); err != nil {
		t.Fatal(err)
	}

	if err := store.InsertRows(1, 1); err != nil {
		t.Fatal(err)
	}
	if !store.EffectiveStyle(mustRef(t, "A3")).Bool(StyleItalic) {
		t.Error("row tier did not follow the insert")
	}
	if store.EffectiveStyle(mustRef(t, "A2")).Bool(StyleItalic) {
		t.Error("row tier left behind")
	}

	if err := store.DeleteRows(3, 1); err != nil {
		t.Fatal(err)
	}
	if len(store.TierStyles().Rows) != 0 {
		t.Errorf("row tiers = %v, want none after deleting the row", store.TierStyles().Rows)
	}

	if err := store.MoveColumns(3, 1, 1); err != nil {
		t.Fatal(err)
	}
	if got := store.EffectiveStyle(mustRef(t, "A1")).String(StyleBackground); got != "grey" {
		t.Errorf("moved column background = %q, want grey", got)
	}
}

func TestStyleTierShiftDropsOffGrid(t *testing.T) {
	store := NewMemStore()
	if err := store.SetRowStyle(MaxRows, Style{StyleBold: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetColumnStyle(MaxCols-1, Style{StyleItalic: true}); err != nil {
		t.Fatal(err)
	}

	if err := store.InsertRows(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertColumns(1, 2); err != nil {
		t.Fatal(err)
	}
	tiers := store.TierStyles()
	if len(tiers.Rows) != 0 || len(tiers.Columns) != 0 {
		t.Errorf("tiers pushed off the grid survived: rows %v, columns %v", tiers.Rows, tiers.Columns)
	}
}

func TestStyleJSONKeepsIntKeys(t *testing.T) {
	var cell Cell
	data := []byte(`{"v":"1","r":{"t":"n","n":1},"s":{"dp":3,"b":true,"nf":"number"}}`)
	if err := json.Unmarshal(data, &cell); err != nil {
		t.Fatal(err)
	}
	want := Style{StyleDecimalPlaces: 3, StyleBold: true, StyleNumberFormat: NumberFormatNumber}
	if diff := cmp.Diff(want, cell.Style); diff != "" {
		t.Errorf("decoded style mismatch (-want +got):\n%s", diff)
	}
	if got := FormatValue(Num(2), cell.Style, language.AmericanEnglish); got != "2.000" {
		t.Errorf("FormatValue with decoded style = %q, want 2.000", got)
	}
}
