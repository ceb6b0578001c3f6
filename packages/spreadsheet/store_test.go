package spreadsheet

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func appErrorCode(err error) AppErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

func TestMemStoreSetGet(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")

	cell := Cell{Input: "5", Value: Num(5), Style: Style{StyleBold: true}}
	if err := store.Set(a1, cell); err != nil {
		t.Fatal(err)
	}
	got, ok := store.Get(a1)
	if !ok {
		t.Fatal("cell not found")
	}
	if diff := cmp.Diff(cell, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	// returned cells are copies
	got.Style[StyleBold] = false
	cell.Style[StyleItalic] = true
	again, _ := store.Get(a1)
	if diff := cmp.Diff(Style{StyleBold: true}, again.Style); diff != "" {
		t.Errorf("store shares style maps (-want +got):\n%s", diff)
	}

	if err := store.Set(a1, Cell{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get(a1); ok || store.Len() != 0 {
		t.Error("empty cell was stored")
	}

	err := store.Set(Ref{Row: MaxRows + 1, Col: 1}, Cell{Input: "x", Value: Str("x")})
	if code := appErrorCode(err); code != OutOfRange {
		t.Errorf("Set outside the grid error = %v, want OutOfRange", err)
	}
}

func TestMemStoreDelete(t *testing.T) {
	store := NewMemStore()
	a1 := mustRef(t, "A1")
	_ = store.Set(a1, Cell{Input: "1", Value: Num(1)})

	existed, err := store.Delete(a1)
	if err != nil || !existed {
		t.Errorf("Delete = %v, %v, want true, nil", existed, err)
	}
	existed, err = store.Delete(a1)
	if err != nil || existed {
		t.Errorf("second Delete = %v, %v, want false, nil", existed, err)
	}
}

func TestMemStoreGridAndOrder(t *testing.T) {
	store := NewMemStore()
	grid := Grid{
		"B2": {Input: "4", Value: Num(4)},
		"A2": {Input: "3", Value: Num(3)},
		"B1": {Input: "2", Value: Num(2)},
		"A1": {Input: "1", Value: Num(1)},
		"C9": {Input: "far", Value: Str("far")},
	}
	if err := store.SetGrid(grid); err != nil {
		t.Fatal(err)
	}

	var order []Sref
	for ref := range store.Cells() {
		order = append(order, ref.Sref())
	}
	if diff := cmp.Diff([]Sref{"A1", "B1", "A2", "B2", "C9"}, order); diff != "" {
		t.Errorf("Cells order mismatch (-want +got):\n%s", diff)
	}

	rng, _ := ParseRange("A1:B2")
	got := store.GetGrid(rng)
	if len(got) != 4 {
		t.Errorf("GetGrid(A1:B2) returned %d cells, want 4", len(got))
	}
	if _, ok := got["C9"]; ok {
		t.Error("GetGrid returned a cell outside the range")
	}

	if err := store.SetGrid(Grid{"nope": {Input: "x"}}); appErrorCode(err) != InvalidArgument {
		t.Errorf("SetGrid with a bad key error = %v, want InvalidArgument", err)
	}
}

func TestMemStoreInsertRowsRewritesFormulas(t *testing.T) {
	store := NewMemStore()
	_ = store.SetGrid(Grid{
		"A1": {Input: "1", Value: Num(1)},
		"A2": {Input: "2", Value: Num(2)},
		"A3": {Input: "=A1+A2", Formula: "=A1+A2", Value: Num(3)},
	})
	if err := store.InsertRows(2, 1); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Get(mustRef(t, "A2")); ok {
		t.Error("inserted row is not empty")
	}
	moved, ok := store.Get(mustRef(t, "A4"))
	if !ok {
		t.Fatal("formula cell did not move to A4")
	}
	if moved.Formula != "=A1+A3" || moved.Input != "=A1+A3" {
		t.Errorf("moved formula = %q (input %q), want =A1+A3", moved.Formula, moved.Input)
	}
}

func TestMemStoreDeleteRowsLeavesRefError(t *testing.T) {
	store := NewMemStore()
	_ = store.SetGrid(Grid{
		"A2": {Input: "2", Value: Num(2)},
		"A3": {Input: "=A2*2", Formula: "=A2*2", Value: Num(4)},
		"B3": {Input: "=SUM(A1:A3)", Formula: "=SUM(A1:A3)", Value: Num(2)},
	})
	if err := store.DeleteRows(2, 1); err != nil {
		t.Fatal(err)
	}
	a2, _ := store.Get(mustRef(t, "A2"))
	if a2.Formula != "=#REF!*2" {
		t.Errorf("A2 formula = %q, want =#REF!*2", a2.Formula)
	}
	b2, _ := store.Get(mustRef(t, "B2"))
	if b2.Formula != "=SUM(A1:A2)" {
		t.Errorf("B2 formula = %q, want =SUM(A1:A2)", b2.Formula)
	}
}

func TestMemStoreMoveRows(t *testing.T) {
	store := NewMemStore()
	_ = store.SetGrid(Grid{
		"A1": {Input: "first", Value: Str("first")},
		"A2": {Input: "second", Value: Str("second")},
		"B3": {Input: "=A1", Formula: "=A1", Value: Str("first")},
	})
	if err := store.MoveRows(1, 1, 3); err != nil {
		t.Fatal(err)
	}
	a1, _ := store.Get(mustRef(t, "A1"))
	a2, _ := store.Get(mustRef(t, "A2"))
	b3, _ := store.Get(mustRef(t, "B3"))
	if a1.Input != "second" || a2.Input != "first" {
		t.Errorf("after move A1=%q A2=%q", a1.Input, a2.Input)
	}
	if b3.Formula != "=A2" {
		t.Errorf("B3 formula = %q, want =A2", b3.Formula)
	}
}

func TestMemStoreStructuralValidation(t *testing.T) {
	store := NewMemStore()
	tests := []struct {
		name string
		err  error
		want AppErrorCode
	}{
		{"zero count", store.InsertRows(1, 0), InvalidArgument},
		{"row zero", store.DeleteRows(0, 1), OutOfRange},
		{"column past grid", store.InsertColumns(MaxCols+1, 1), OutOfRange},
		{"move into itself", store.MoveRows(2, 3, 3), InvalidArgument},
		{"move negative count", store.MoveColumns(1, 0, 3), InvalidArgument},
		{"move past grid", store.MoveRows(MaxRows, 2, 1), OutOfRange},
	}
	for _, tt := range tests {
		if code := appErrorCode(tt.err); code != tt.want {
			t.Errorf("%s: error %v, want code %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestFindEdge(t *testing.T) {
	store := NewMemStore()
	for _, address := range []string{"A1", "A2", "A3", "A5"} {
		_ = store.Set(mustRef(t, address), Cell{Input: "x", Value: Str("x")})
	}
	_ = store.SetStyle(mustRef(t, "A7"), Style{StyleBold: true})
	bound, _ := ParseRange("A1:D10")

	tests := []struct {
		from string
		dir  Direction
		want string
	}{
		{"A1", DirectionDown, "A3"},
		{"A3", DirectionDown, "A5"},
		{"A5", DirectionDown, "A10"},
		{"A4", DirectionUp, "A3"},
		{"A3", DirectionUp, "A1"},
		{"A1", DirectionRight, "D1"},
		{"D1", DirectionLeft, "A1"},
	}
	for _, tt := range tests {
		got := store.FindEdge(mustRef(t, tt.from), tt.dir, bound)
		if got.String() != tt.want {
			t.Errorf("FindEdge(%s, %v) = %s, want %s", tt.from, tt.dir, got, tt.want)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for s, want := range map[string]Direction{"up": DirectionUp, "down": DirectionDown, "left": DirectionLeft, "right": DirectionRight} {
		got, err := ParseDirection(s)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseDirection("sideways"); appErrorCode(err) != InvalidArgument {
		t.Errorf("ParseDirection(sideways) error = %v", err)
	}
}
