package spreadsheet

import (
	"container/heap"
	"slices"
)

// ranges larger than this are not expanded into per-cell edges, they are
// watched as a whole instead
const rangeExpansionLimit = 4096

// DependencyGraph manages cell dependencies and calculation order. edges
// are reverse edges: for a formula D reading P, dependants[P] holds D.
type DependencyGraph struct {
	dependants     map[Sref]map[Sref]struct{} // precedent -> cells that read it
	precedents     map[Sref][]Sref            // formula cell -> cells it reads
	rangeObservers map[Range]map[Sref]struct{} // large range -> cells that read it
	observed       map[Sref][]Range           // formula cell -> large ranges it reads
	rejected       map[Sref]string            // cycle-closing cells and their formula
	volatileCells  map[Sref]struct{}          // cells with volatile functions (always recalculate)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	dg := &DependencyGraph{}
	dg.Reset()
	return dg
}

// Reset removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Reset() {
	dg.dependants = make(map[Sref]map[Sref]struct{})
	dg.precedents = make(map[Sref][]Sref)
	dg.rangeObservers = make(map[Range]map[Sref]struct{})
	dg.observed = make(map[Sref][]Range)
	dg.rejected = make(map[Sref]string)
	dg.volatileCells = make(map[Sref]struct{})
}

// OnWrite re-derives the outgoing edges of sref for its new formula ("" for
// a non-formula cell). the old edges are always removed first. when the new
// edges would close a cycle none of them are added, the cell is remembered
// as rejected and ErrCircularReference is returned.
func (dg *DependencyGraph) OnWrite(sref Sref, formula string) error {
	dg.removeEdges(sref)
	delete(dg.rejected, sref)
	if formula == "" {
		return nil
	}

	deps := ExtractDependencies(formula)
	cells := make([]Sref, 0, len(deps.Cells))
	seen := make(map[Sref]struct{}, len(deps.Cells))
	add := func(p Sref) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		cells = append(cells, p)
	}
	for _, p := range deps.Cells {
		add(p)
	}
	var large []Range
	for _, rng := range deps.Ranges {
		if rng.Rows()*rng.Cols() > rangeExpansionLimit {
			large = append(large, rng)
			continue
		}
		for ref := range rng.Refs() {
			add(ref.Sref())
		}
	}

	if dg.closesCycle(sref, seen, large) {
		dg.rejected[sref] = formula
		return ErrCircularReference
	}

	for _, p := range cells {
		set, ok := dg.dependants[p]
		if !ok {
			set = make(map[Sref]struct{})
			dg.dependants[p] = set
		}
		set[sref] = struct{}{}
	}
	if len(cells) > 0 {
		dg.precedents[sref] = cells
	}
	for _, rng := range large {
		set, ok := dg.rangeObservers[rng]
		if !ok {
			set = make(map[Sref]struct{})
			dg.rangeObservers[rng] = set
		}
		set[sref] = struct{}{}
	}
	if len(large) > 0 {
		dg.observed[sref] = large
	}
	return nil
}

// closesCycle reports whether sref reaches any of its new precedents by
// following dependant edges, which includes sref reading itself.
func (dg *DependencyGraph) closesCycle(sref Sref, precedents map[Sref]struct{}, large []Range) bool {
	reads := func(cell Sref) bool {
		if _, ok := precedents[cell]; ok {
			return true
		}
		if len(large) == 0 {
			return false
		}
		ref, err := ParseRef(string(cell))
		if err != nil {
			return false
		}
		for _, rng := range large {
			if rng.Contains(ref) {
				return true
			}
		}
		return false
	}

	visited := map[Sref]struct{}{sref: {}}
	queue := []Sref{sref}
	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]
		if reads(cell) {
			return true
		}
		for _, d := range dg.dependantsOf(cell) {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	return false
}

// Remove drops every edge and flag of sref
func (dg *DependencyGraph) Remove(sref Sref) {
	dg.removeEdges(sref)
	delete(dg.rejected, sref)
	delete(dg.volatileCells, sref)
}

func (dg *DependencyGraph) removeEdges(sref Sref) {
	for _, p := range dg.precedents[sref] {
		if set, ok := dg.dependants[p]; ok {
			delete(set, sref)
			if len(set) == 0 {
				delete(dg.dependants, p)
			}
		}
	}
	delete(dg.precedents, sref)
	for _, rng := range dg.observed[sref] {
		if set, ok := dg.rangeObservers[rng]; ok {
			delete(set, sref)
			if len(set) == 0 {
				delete(dg.rangeObservers, rng)
			}
		}
	}
	delete(dg.observed, sref)
}

// Readmit retries every rejected cell against the current graph and returns,
// in row-major order, the cells whose formula no longer closes a cycle.
func (dg *DependencyGraph) Readmit() []Sref {
	if len(dg.rejected) == 0 {
		return nil
	}
	candidates := make([]Sref, 0, len(dg.rejected))
	for sref := range dg.rejected {
		candidates = append(candidates, sref)
	}
	sortSrefs(candidates)

	var admitted []Sref
	for _, sref := range candidates {
		formula := dg.rejected[sref]
		if err := dg.OnWrite(sref, formula); err == nil {
			admitted = append(admitted, sref)
		}
	}
	return admitted
}

// IsRejected reports whether sref holds a formula rejected for closing a
// cycle.
func (dg *DependencyGraph) IsRejected(sref Sref) bool {
	_, ok := dg.rejected[sref]
	return ok
}

// Rejected returns the rejected cells and their formulas
func (dg *DependencyGraph) Rejected() map[Sref]string {
	out := make(map[Sref]string, len(dg.rejected))
	for sref, formula := range dg.rejected {
		out[sref] = formula
	}
	return out
}

// SetVolatile marks or unmarks a cell as containing volatile functions
func (dg *DependencyGraph) SetVolatile(sref Sref, volatile bool) {
	if volatile {
		dg.volatileCells[sref] = struct{}{}
		return
	}
	delete(dg.volatileCells, sref)
}

// IsVolatile checks if a cell contains volatile functions
func (dg *DependencyGraph) IsVolatile(sref Sref) bool {
	_, ok := dg.volatileCells[sref]
	return ok
}

// VolatileCells returns all cells marked as volatile, row-major
func (dg *DependencyGraph) VolatileCells() []Sref {
	out := make([]Sref, 0, len(dg.volatileCells))
	for sref := range dg.volatileCells {
		out = append(out, sref)
	}
	sortSrefs(out)
	return out
}

// dependantsOf returns the direct dependants of a cell, including readers of
// watched ranges that contain it, row-major.
func (dg *DependencyGraph) dependantsOf(sref Sref) []Sref {
	var out []Sref
	for d := range dg.dependants[sref] {
		out = append(out, d)
	}
	if len(dg.rangeObservers) > 0 {
		if ref, err := ParseRef(string(sref)); err == nil {
			for rng, observers := range dg.rangeObservers {
				if !rng.Contains(ref) {
					continue
				}
				for d := range observers {
					if !slices.Contains(out, d) {
						out = append(out, d)
					}
				}
			}
		}
	}
	sortSrefs(out)
	return out
}

// Dependants returns the cells that directly read sref
func (dg *DependencyGraph) Dependants(sref Sref) []Sref {
	return dg.dependantsOf(sref)
}

// Precedents returns the cells sref directly reads. watched ranges are
// reported by RangePrecedents instead.
func (dg *DependencyGraph) Precedents(sref Sref) []Sref {
	return slices.Clone(dg.precedents[sref])
}

// RangePrecedents returns the large ranges sref reads without expansion
func (dg *DependencyGraph) RangePrecedents(sref Sref) []Range {
	return slices.Clone(dg.observed[sref])
}

// Closure returns changed plus every cell that transitively depends on it,
// in breadth-first discovery order. a cell is enqueued once.
func (dg *DependencyGraph) Closure(changed []Sref) []Sref {
	visited := make(map[Sref]struct{}, len(changed))
	var order []Sref
	queue := make([]Sref, 0, len(changed))
	for _, sref := range changed {
		if _, ok := visited[sref]; ok {
			continue
		}
		visited[sref] = struct{}{}
		queue = append(queue, sref)
	}
	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]
		order = append(order, cell)
		for _, d := range dg.dependantsOf(cell) {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	return order
}

// CalculationOrder orders the closure of changed so every cell comes after
// all of its precedents inside the closure. ties go to the cell discovered
// first. cells that cannot be ordered (only possible if a cycle slipped into
// the graph) are returned separately.
func (dg *DependencyGraph) CalculationOrder(changed []Sref) (order []Sref, unordered []Sref) {
	closure := dg.Closure(changed)
	index := make(map[Sref]int, len(closure))
	for i, sref := range closure {
		index[sref] = i
	}

	indegree := make([]int, len(closure))
	edges := make([][]int, len(closure))
	for i, sref := range closure {
		for _, d := range dg.dependantsOf(sref) {
			j, ok := index[d]
			if !ok {
				continue
			}
			edges[i] = append(edges[i], j)
			indegree[j]++
		}
	}

	ready := &discoveryHeap{}
	for i := range closure {
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}
	done := make([]bool, len(closure))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		done[i] = true
		order = append(order, closure[i])
		for _, j := range edges[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	for i, sref := range closure {
		if !done[i] {
			unordered = append(unordered, sref)
		}
	}
	return order, unordered
}

// discoveryHeap is a min-heap of closure indices
type discoveryHeap []int

func (h discoveryHeap) Len() int           { return len(h) }
func (h discoveryHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h discoveryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *discoveryHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *discoveryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NodeCount returns the number of formula cells with live edges
func (dg *DependencyGraph) NodeCount() int {
	nodes := make(map[Sref]struct{}, len(dg.precedents)+len(dg.observed))
	for sref := range dg.precedents {
		nodes[sref] = struct{}{}
	}
	for sref := range dg.observed {
		nodes[sref] = struct{}{}
	}
	return len(nodes)
}

// RangeObserverCount returns the number of watched ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// sortSrefs sorts addresses row-major
func sortSrefs(srefs []Sref) {
	slices.SortFunc(srefs, func(a, b Sref) int {
		ra, errA := ParseRef(string(a))
		rb, errB := ParseRef(string(b))
		if errA != nil || errB != nil {
			if a < b {
				return -1
			}
			if a > b {
				return 1
			}
			return 0
		}
		return compareRefs(ra, rb)
	})
}
