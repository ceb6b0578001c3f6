package spreadsheet

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDimensions(t *testing.T) {
	tests := []struct {
		name    string
		dims    Dimensions
		sizes   map[int]int
		offsets map[int]int
		indexAt map[int]int
	}{
		{
			name:    "defaults only",
			dims:    Dimensions{Default: 100},
			sizes:   map[int]int{1: 100, 7: 100},
			offsets: map[int]int{1: 0, 2: 100, 3: 200},
			indexAt: map[int]int{0: 1, 99: 1, 100: 2, 250: 3},
		},
		{
			name:    "one wide column",
			dims:    Dimensions{Default: 100, Custom: map[int]int{2: 200}},
			sizes:   map[int]int{1: 100, 2: 200, 3: 100},
			offsets: map[int]int{1: 0, 2: 100, 3: 300, 4: 400},
			indexAt: map[int]int{50: 1, 100: 2, 299: 2, 300: 3, 450: 4},
		},
		{
			name:    "tall and short rows",
			dims:    Dimensions{Default: 23, Custom: map[int]int{2: 50, 4: 10}},
			sizes:   map[int]int{2: 50, 4: 10, 5: 23},
			offsets: map[int]int{1: 0, 2: 23, 3: 73, 4: 96, 5: 106},
			indexAt: map[int]int{22: 1, 23: 2, 72: 2, 73: 3, 96: 4, 105: 4, 106: 5, 129: 6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.sizes {
				if got := tt.dims.Size(i); got != want {
					t.Errorf("Size(%d) = %d, want %d", i, got, want)
				}
			}
			for i, want := range tt.offsets {
				if got := tt.dims.Offset(i); got != want {
					t.Errorf("Offset(%d) = %d, want %d", i, got, want)
				}
			}
			for offset, want := range tt.indexAt {
				if got := tt.dims.IndexAt(offset); got != want {
					t.Errorf("IndexAt(%d) = %d, want %d", offset, got, want)
				}
			}
		})
	}
}

func TestSheetDimensions(t *testing.T) {
	sheet, err := NewSpreadsheet()
	if err != nil {
		t.Fatal(err)
	}
	for _, err := range []error{
		sheet.SetRowHeight(2, 50),
		sheet.SetRowHeight(4, 10),
		sheet.SetColumnWidth(3, 180),
		sheet.SetColumnWidth(5, 60),
		sheet.SetColumnWidth(5, DefaultColumnWidth),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff(map[int]int{2: 50, 4: 10}, sheet.RowHeights().Custom); diff != "" {
		t.Errorf("row heights mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]int{3: 180}, sheet.ColumnWidths().Custom); diff != "" {
		t.Errorf("column widths mismatch (-want +got):\n%s", diff)
	}

	if err := sheet.InsertRows(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := sheet.DeleteRows(5, 1); err != nil {
		t.Fatal(err)
	}
	if err := sheet.MoveColumns(3, 1, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[int]int{3: 50}, sheet.RowHeights().Custom); diff != "" {
		t.Errorf("row heights after insert and delete mismatch (-want +got):\n%s", diff)
	}
	if got := sheet.ColumnWidths().Size(1); got != 180 {
		t.Errorf("moved column width = %d, want 180", got)
	}
	if got := sheet.RowHeights().Offset(4); got != 2*DefaultRowHeight+50 {
		t.Errorf("Offset(4) = %d, want %d", got, 2*DefaultRowHeight+50)
	}

	var appErr *AppError
	tests := []struct {
		name string
		err  error
		code AppErrorCode
	}{
		{"zero height", sheet.SetRowHeight(1, 0), InvalidArgument},
		{"row off grid", sheet.SetRowHeight(MaxRows+1, 30), OutOfRange},
		{"column zero", sheet.SetColumnWidth(0, 30), OutOfRange},
	}
	for _, tt := range tests {
		if !errors.As(tt.err, &appErr) || appErr.Code != tt.code {
			t.Errorf("%s: error = %v, want code %v", tt.name, tt.err, tt.code)
		}
	}
}
