package spreadsheet

import (
	"fmt"
	"log/slog"
)

// Calculator re-evaluates formula cells in dependency order and writes their
// results back into the store.
type Calculator struct {
	store     Store
	graph     *DependencyGraph
	formulas  *FormulaTable
	functions *BuiltInFunctions
	logger    *slog.Logger
}

// NewCalculator creates a calculator over store. graph and formulas must
// describe the formulas held by store.
func NewCalculator(store Store, graph *DependencyGraph, formulas *FormulaTable, functions *BuiltInFunctions, logger *slog.Logger) *Calculator {
	if functions == nil {
		functions = defaultFunctions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		store:     store,
		graph:     graph,
		formulas:  formulas,
		functions: functions,
		logger:    logger,
	}
}

// Resolver returns a resolver reading cells from the calculator's store
func (c *Calculator) Resolver() Resolver {
	return storeResolver(c.store)
}

// storeResolver reads through merges: every cell of a merged block reads as
// its anchor
func storeResolver(store Store) Resolver {
	return func(sref Sref) (Cell, bool) {
		ref, err := ParseRef(string(sref))
		if err != nil {
			return Cell{}, false
		}
		return store.Get(store.Anchor(ref))
	}
}

// Recalculate evaluates every formula cell in the dependant closure of
// changed, plus every volatile cell, so that each cell is evaluated after
// the precedents it reads. it returns the formula cells in the order they
// were evaluated. a failing store write aborts the pass.
func (c *Calculator) Recalculate(changed []Sref) ([]Sref, error) {
	seeds := append(changed[:len(changed):len(changed)], c.graph.VolatileCells()...)
	order, unordered := c.graph.CalculationOrder(seeds)

	resolve := c.Resolver()
	var evaluated []Sref
	for _, sref := range order {
		ok, err := c.calculateCell(sref, resolve)
		if err != nil {
			return evaluated, err
		}
		if ok {
			evaluated = append(evaluated, sref)
		}
	}

	for _, sref := range unordered {
		c.logger.Warn("cell left out of calculation order", "cell", sref)
		if err := c.writeResult(sref, Err(ErrorKindError)); err != nil {
			return evaluated, err
		}
	}

	c.logger.Debug("recalculated",
		"changed", len(changed),
		"evaluated", len(evaluated),
		"unordered", len(unordered),
	)
	return evaluated, nil
}

// calculateCell evaluates one cell. false means the cell holds no formula
// and was skipped.
func (c *Calculator) calculateCell(sref Sref, resolve Resolver) (bool, error) {
	ref, err := ParseRef(string(sref))
	if err != nil {
		return false, nil
	}
	cell, ok := c.store.Get(ref)
	if !ok || !cell.IsFormula() {
		return false, nil
	}

	var result Result
	switch tree, ok := c.formulas.AtCell(sref); {
	case c.graph.IsRejected(sref):
		result = Err(ErrorKindError)
	case ok:
		result = NewEvaluator(resolve, c.functions).At(ref).Evaluate(tree)
	default:
		tree, _, err := c.formulas.Intern(sref, cell.Formula)
		if err != nil {
			result = Err(ErrorKindError)
			break
		}
		result = NewEvaluator(resolve, c.functions).At(ref).Evaluate(tree)
	}

	if result == cell.Value {
		return true, nil
	}
	cell.Value = result
	if err := c.store.Set(ref, cell); err != nil {
		return true, fmt.Errorf("write result of %s: %w", sref, err)
	}
	return true, nil
}

func (c *Calculator) writeResult(sref Sref, result Result) error {
	ref, err := ParseRef(string(sref))
	if err != nil {
		return nil
	}
	cell, ok := c.store.Get(ref)
	if !ok || !cell.IsFormula() || cell.Value == result {
		return nil
	}
	cell.Value = result
	if err := c.store.Set(ref, cell); err != nil {
		return fmt.Errorf("write result of %s: %w", sref, err)
	}
	return nil
}
