package spreadsheet

import (
	"fmt"
	"strconv"
	"testing"
)

func newBenchSheet(b *testing.B) *Spreadsheet {
	b.Helper()
	s, err := NewSpreadsheet()
	if err != nil {
		b.Fatal(err)
	}
	return s
}

func mustSet(b *testing.B, s *Spreadsheet, address, input string) {
	b.Helper()
	if err := s.Set(address, input); err != nil {
		b.Fatalf("Set(%s, %q): %v", address, input, err)
	}
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for b.Loop() {
		s := newBenchSheet(b)
		for row := 1; row <= 100; row++ {
			for col := 1; col <= 26; col++ {
				addr := string(ToSref(Ref{Row: row, Col: col}))
				mustSet(b, s, addr, strconv.Itoa(row*col))
			}
		}
	}
}

func BenchmarkSetGrid(b *testing.B) {
	grid := make(Grid, 2600)
	for row := 1; row <= 100; row++ {
		for col := 1; col <= 26; col++ {
			v := float64(row * col)
			grid[ToSref(Ref{Row: row, Col: col})] = Cell{Input: strconv.Itoa(row * col), Value: Num(v)}
		}
		grid[ToSref(Ref{Row: row, Col: 27})] = Cell{Formula: fmt.Sprintf("=SUM(A%d:Z%d)", row, row)}
	}
	for b.Loop() {
		s := newBenchSheet(b)
		if err := s.SetGrid(grid); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	s := newBenchSheet(b)
	mustSet(b, s, "A1", "1")
	for i := 2; i <= 100; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	s := newBenchSheet(b)
	mustSet(b, s, "A1", "100")
	for i := 2; i <= 500; i++ {
		mustSet(b, s, fmt.Sprintf("B%d", i), "=A1*2")
	}

	i := 0
	for b.Loop() {
		mustSet(b, s, "A1", strconv.Itoa(i))
		i++
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 1000; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), strconv.Itoa(i))
	}
	mustSet(b, s, "B1", "=SUM(A1:A1000)")

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkWatchedRangeEdit(b *testing.B) {
	s := newBenchSheet(b)
	mustSet(b, s, "B1", "=SUM(A1:A100000)")
	i := 0
	for b.Loop() {
		mustSet(b, s, fmt.Sprintf("A%d", i%100000+1), "1")
		i++
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 20; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), strconv.Itoa(i))
		mustSet(b, s, fmt.Sprintf("B%d", i), strconv.Itoa(i*2))
	}
	mustSet(b, s, "C1", "=IF(AVERAGE(A1:A20)>10, SUM(B1:B20), MAX(A1:A20))")
	mustSet(b, s, "D1", "=ROUND(SQRT(C1)*PI(), 2)")
	mustSet(b, s, "E1", "=IF(D1>100, MEDIAN(A1:A20), MIN(B1:B20))")

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkVolatileFunctions(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 50; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), "=RAND()")
		mustSet(b, s, fmt.Sprintf("B%d", i), fmt.Sprintf("=A%d*100", i))
	}

	for b.Loop() {
		mustSet(b, s, "C1", "x")
	}
}

func BenchmarkCascadingUpdates(b *testing.B) {
	s := newBenchSheet(b)
	for row := 1; row <= 50; row++ {
		for col := 1; col <= 10; col++ {
			addr := string(ToSref(Ref{Row: row, Col: col}))
			if col == 1 {
				mustSet(b, s, addr, strconv.Itoa(row))
				continue
			}
			mustSet(b, s, addr, fmt.Sprintf("=%s*2", ToSref(Ref{Row: row, Col: col - 1})))
		}
	}

	i := 0
	for b.Loop() {
		mustSet(b, s, "A1", strconv.Itoa(i%100))
		i++
	}
}

func BenchmarkSparseMatrix(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 1000; i += 10 {
		for j := 1; j <= 1000; j += 10 {
			mustSet(b, s, string(ToSref(Ref{Row: i, Col: j})), strconv.Itoa(i+j))
		}
	}
	mustSet(b, s, "AMA1", "=SUM(A1:ALZ1000)")

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkCircularReferenceDetection(b *testing.B) {
	for b.Loop() {
		s := newBenchSheet(b)
		mustSet(b, s, "A1", "=B1+C1")
		mustSet(b, s, "B1", "=C1+D1")
		mustSet(b, s, "C1", "=D1+E1")
		mustSet(b, s, "D1", "=E1+F1")
		mustSet(b, s, "E1", "=F1+G1")
		mustSet(b, s, "F1", "=G1+H1")
		mustSet(b, s, "G1", "=H1+A1")
		mustSet(b, s, "H1", "=A1")
	}
}

func BenchmarkManySmallFormulas(b *testing.B) {
	s := newBenchSheet(b)
	for row := 1; row <= 100; row++ {
		mustSet(b, s, fmt.Sprintf("A%d", row), strconv.Itoa(row))
		mustSet(b, s, fmt.Sprintf("B%d", row), fmt.Sprintf("=A%d*2", row))
		mustSet(b, s, fmt.Sprintf("C%d", row), fmt.Sprintf("=B%d+A%d", row, row))
		mustSet(b, s, fmt.Sprintf("D%d", row), fmt.Sprintf("=C%d/2", row))
	}

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkStringConcatenation(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 100; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), fmt.Sprintf("text%d", i))
		mustSet(b, s, fmt.Sprintf("B%d", i), fmt.Sprintf(`=A%d&"-suffix"`, i))
	}

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkAggregationFunctions(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 500; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), strconv.Itoa(i))
	}
	mustSet(b, s, "B1", "=SUM(A1:A500)")
	mustSet(b, s, "B2", "=AVERAGE(A1:A500)")
	mustSet(b, s, "B3", "=COUNT(A1:A500)")
	mustSet(b, s, "B4", "=MAX(A1:A500)")
	mustSet(b, s, "B5", "=MIN(A1:A500)")
	mustSet(b, s, "B6", "=MEDIAN(A1:A500)")

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkConditionalLogic(b *testing.B) {
	s := newBenchSheet(b)
	for i := 1; i <= 200; i++ {
		mustSet(b, s, fmt.Sprintf("A%d", i), strconv.Itoa(i))
		mustSet(b, s, fmt.Sprintf("B%d", i), fmt.Sprintf(`=IF(A%d>100, A%d*2, A%d/2)`, i, i, i))
		mustSet(b, s, fmt.Sprintf("C%d", i), fmt.Sprintf(`=AND(A%d>50, A%d<150)`, i, i))
		mustSet(b, s, fmt.Sprintf("D%d", i), fmt.Sprintf(`=OR(A%d<25, A%d>175)`, i, i))
	}

	for b.Loop() {
		_ = s.Calculate()
	}
}

func BenchmarkDirtyPropagation(b *testing.B) {
	s := newBenchSheet(b)
	const size = 20
	for row := 1; row <= size; row++ {
		for col := 1; col <= size; col++ {
			addr := string(ToSref(Ref{Row: row, Col: col}))
			left := ToSref(Ref{Row: row, Col: col - 1})
			top := ToSref(Ref{Row: row - 1, Col: col})
			switch {
			case row == 1 && col == 1:
				mustSet(b, s, addr, "1")
			case row == 1:
				mustSet(b, s, addr, fmt.Sprintf("=%s+1", left))
			case col == 1:
				mustSet(b, s, addr, fmt.Sprintf("=%s+1", top))
			default:
				mustSet(b, s, addr, fmt.Sprintf("=%s+%s", left, top))
			}
		}
	}

	i := 0
	for b.Loop() {
		mustSet(b, s, "A1", strconv.Itoa(i%100))
		i++
	}
}

func BenchmarkInsertRows(b *testing.B) {
	s := newBenchSheet(b)
	for row := 1; row <= 200; row++ {
		mustSet(b, s, fmt.Sprintf("A%d", row), strconv.Itoa(row))
		mustSet(b, s, fmt.Sprintf("B%d", row), fmt.Sprintf("=A%d*2+SUM(A1:A%d)", row, row))
	}

	for b.Loop() {
		if err := s.InsertRows(1, 1); err != nil {
			b.Fatal(err)
		}
		if err := s.DeleteRows(1, 1); err != nil {
			b.Fatal(err)
		}
	}
}
