package spreadsheet

// ASTKey is the printed form of a parsed formula. two formulas that differ
// only in whitespace, letter case of names or redundant "+" share a key.
type ASTKey string

// FormulaTable caches parsed formulas so each distinct formula is parsed
// once, and tracks which cells use which formula.
type FormulaTable struct {
	astIndex  map[ASTKey]uint32 // normalized AST -> formula ID
	textIndex map[string]uint32 // formula text -> formula ID
	astCache  map[uint32]Node   // formula ID -> cached parsed AST
	texts     map[uint32]map[string]struct{}
	refCounts map[uint32]int  // formula ID -> reference count
	volatile  map[uint32]bool // formula ID -> contains a volatile function

	cellsUsingFormula map[uint32]map[Sref]struct{} // formula ID -> cells using it
	formulaAtCell     map[Sref]uint32              // cell -> formula ID (reverse index)

	nextID uint32
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	ft := &FormulaTable{}
	ft.Clear()
	return ft
}

func normalizeAST(ast Node) ASTKey {
	if ast == nil {
		return ""
	}
	return ASTKey(ast.String())
}

// Compile returns the parsed tree of formula, parsing only on a cache miss.
// the formula text may carry a leading "=".
func (ft *FormulaTable) Compile(formula string) (Node, error) {
	if id, ok := ft.textIndex[formula]; ok {
		return ft.astCache[id], nil
	}
	return Parse(StripFormulaPrefix(formula))
}

// Intern parses formula for cell, dropping whatever formula the cell used
// before. a formula that does not parse is not interned and the error is
// returned; the cell then has no formula in the table.
func (ft *FormulaTable) Intern(cell Sref, formula string) (Node, uint32, error) {
	if id, ok := ft.textIndex[formula]; ok {
		ft.use(id, cell)
		return ft.astCache[id], id, nil
	}
	ast, err := Parse(StripFormulaPrefix(formula))
	if err != nil {
		ft.Release(cell)
		return nil, 0, err
	}

	key := normalizeAST(ast)
	id, exists := ft.astIndex[key]
	if !exists {
		id = ft.nextID
		ft.nextID++
		ft.astIndex[key] = id
		ft.astCache[id] = ast
		ft.volatile[id] = ContainsVolatile(ast)
	}
	if ft.texts[id] == nil {
		ft.texts[id] = make(map[string]struct{})
	}
	ft.texts[id][formula] = struct{}{}
	ft.textIndex[formula] = id
	ft.use(id, cell)
	return ft.astCache[id], id, nil
}

// use moves cell onto formula id
func (ft *FormulaTable) use(id uint32, cell Sref) {
	if old, ok := ft.formulaAtCell[cell]; ok {
		if old == id {
			return
		}
		ft.Release(cell)
	}
	if ft.cellsUsingFormula[id] == nil {
		ft.cellsUsingFormula[id] = make(map[Sref]struct{})
	}
	ft.cellsUsingFormula[id][cell] = struct{}{}
	ft.formulaAtCell[cell] = id
	ft.refCounts[id]++
}

// Release drops the formula used by cell. returns true if the formula was
// removed from the table because no cell uses it any more.
func (ft *FormulaTable) Release(cell Sref) bool {
	id, ok := ft.formulaAtCell[cell]
	if !ok {
		return false
	}
	delete(ft.formulaAtCell, cell)
	if cells, exists := ft.cellsUsingFormula[id]; exists {
		delete(cells, cell)
		if len(cells) == 0 {
			delete(ft.cellsUsingFormula, id)
		}
	}
	ft.refCounts[id]--
	if ft.refCounts[id] > 0 {
		return false
	}
	ft.removeFormula(id)
	return true
}

// removeFormula removes a formula and all its tracking data
func (ft *FormulaTable) removeFormula(id uint32) {
	if ast, exists := ft.astCache[id]; exists {
		delete(ft.astIndex, normalizeAST(ast))
	}
	for text := range ft.texts[id] {
		delete(ft.textIndex, text)
	}
	delete(ft.texts, id)
	delete(ft.astCache, id)
	delete(ft.refCounts, id)
	delete(ft.volatile, id)
	delete(ft.cellsUsingFormula, id)
}

// AtCell returns the parsed formula of a cell
func (ft *FormulaTable) AtCell(cell Sref) (Node, bool) {
	id, ok := ft.formulaAtCell[cell]
	if !ok {
		return nil, false
	}
	return ft.astCache[id], true
}

// IsVolatile reports whether the formula at cell calls a volatile function
func (ft *FormulaTable) IsVolatile(cell Sref) bool {
	id, ok := ft.formulaAtCell[cell]
	return ok && ft.volatile[id]
}

// CellsUsing returns the cells using the formula with the given ID
func (ft *FormulaTable) CellsUsing(id uint32) []Sref {
	cells := ft.cellsUsingFormula[id]
	result := make([]Sref, 0, len(cells))
	for cell := range cells {
		result = append(result, cell)
	}
	sortSrefs(result)
	return result
}

// ReferenceCount returns the reference count for a formula
func (ft *FormulaTable) ReferenceCount(id uint32) int {
	return ft.refCounts[id]
}

// Count returns the number of unique formulas
func (ft *FormulaTable) Count() int {
	return len(ft.astIndex)
}

// TotalReferences returns the total number of references across all formulas
func (ft *FormulaTable) TotalReferences() int {
	total := 0
	for _, count := range ft.refCounts {
		total += count
	}
	return total
}

// Clear removes all formulas from the table
func (ft *FormulaTable) Clear() {
	ft.astIndex = make(map[ASTKey]uint32)
	ft.textIndex = make(map[string]uint32)
	ft.astCache = make(map[uint32]Node)
	ft.texts = make(map[uint32]map[string]struct{})
	ft.refCounts = make(map[uint32]int)
	ft.volatile = make(map[uint32]bool)
	ft.cellsUsingFormula = make(map[uint32]map[Sref]struct{})
	ft.formulaAtCell = make(map[Sref]uint32)
	ft.nextID = 1 // 0 means no formula
}
