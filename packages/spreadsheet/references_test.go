package spreadsheet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractReferences(t *testing.T) {
	tests := []struct {
		formula string
		want    []string
	}{
		{"=A1+B2*A1+SUM(C1:D2)", []string{"A1", "B2", "C1:D2"}},
		{"$A$1+a1", []string{"A1"}},
		{"SUM(B2:A1)", []string{"A1:B2"}},
		{"SUM($A$1:$A$3)+A1", []string{"A1:A3", "A1"}},
		{`"A1"&LOG10(B1)`, []string{"B1"}},
		{"A1000001+ZZZ1", []string{"ZZZ1"}},
		{"1+2", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			var got []string
			for _, ref := range ExtractReferences(tt.formula) {
				got = append(got, ref.String())
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractReferences(%q) mismatch (-want +got):\n%s", tt.formula, diff)
			}
		})
	}
}

func TestExtractDependencies(t *testing.T) {
	deps := ExtractDependencies("=A1+SUM(B1:B3)+C2+A1")
	want := Dependencies{
		Cells:  []Sref{"A1", "C2"},
		Ranges: []Range{{From: Ref{Row: 1, Col: 2}, To: Ref{Row: 3, Col: 2}}},
	}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("ExtractDependencies mismatch (-want +got):\n%s", diff)
	}
	if deps.Empty() {
		t.Error("Empty() = true for a formula with references")
	}
	if !ExtractDependencies("=1+NOW()").Empty() {
		t.Error("Empty() = false for a formula without references")
	}
}
