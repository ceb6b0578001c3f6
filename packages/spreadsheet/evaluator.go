package spreadsheet

import (
	"iter"
	"math"
	"strconv"
	"strings"
)

// Resolver reads a cell from the grid. a nil Resolver means there is no grid
// to read from.
type Resolver func(Sref) (Cell, bool)

// Evaluator walks an expression tree. references evaluate to unresolved
// RefResult/RangeResult values; whoever consumes them decides whether to read
// one scalar or expand the range.
type Evaluator struct {
	resolve   Resolver
	functions *BuiltInFunctions
	origin    Ref
}

// NewEvaluator creates an evaluator reading through resolve. functions may be
// nil to use the default clock and random source.
func NewEvaluator(resolve Resolver, functions *BuiltInFunctions) *Evaluator {
	if functions == nil {
		functions = defaultFunctions
	}
	return &Evaluator{resolve: resolve, functions: functions}
}

// At sets the cell being evaluated, used by ROW() and COLUMN() without
// arguments.
func (ev *Evaluator) At(ref Ref) *Evaluator {
	ev.origin = ref
	return ev
}

var defaultFunctions = NewDefaultBuiltInFunctions()

// Evaluate runs tree against resolve and returns a scalar result. a top-level
// reference is read (a blank cell is 0), a top-level range is a #VALUE!
// error.
func Evaluate(tree Node, resolve Resolver) Result {
	return NewEvaluator(resolve, nil).Evaluate(tree)
}

// EvaluateFormula parses and evaluates formula text, with or without its
// leading "=". it never fails: anything that goes wrong is #ERROR!.
func EvaluateFormula(text string, resolve Resolver) Result {
	tree, err := Parse(StripFormulaPrefix(text))
	if err != nil {
		return Err(ErrorKindError)
	}
	return Evaluate(tree, resolve)
}

// Evaluate is the total entry point: panics inside functions become
// #ERROR!.
func (ev *Evaluator) Evaluate(tree Node) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Err(ErrorKindError)
		}
	}()
	if tree == nil {
		return Err(ErrorKindError)
	}
	result = ev.Deref(ev.Visit(tree))
	if !result.IsSet() {
		return Num(0)
	}
	return result
}

// Visit evaluates one node
func (ev *Evaluator) Visit(node Node) Result {
	switch n := node.(type) {
	case *NumberNode:
		return Num(n.Value)
	case *StringNode:
		return Str(n.Value)
	case *BooleanNode:
		return Bool(n.Value)
	case *ErrorNode:
		return Err(n.Kind)
	case *ReferenceNode:
		if ev.resolve == nil {
			return Err(ErrorKindRef)
		}
		return RefResult(n.Ref)
	case *RangeNode:
		if ev.resolve == nil {
			return Err(ErrorKindRef)
		}
		return RangeResult(n.Range)
	case *ParenNode:
		return ev.Visit(n.Inner)
	case *UnaryOpNode:
		return ev.visitUnary(n)
	case *BinaryOpNode:
		return ev.visitBinary(n)
	case *FunctionCallNode:
		return ev.functions.call(n, ev)
	}
	return Err(ErrorKindError)
}

func (ev *Evaluator) visitUnary(n *UnaryOpNode) Result {
	v := ev.Number(n.Operand)
	if v.IsError() || n.Op == UnaryOpPlus {
		return v
	}
	return Num(-v.Num)
}

func (ev *Evaluator) visitBinary(n *BinaryOpNode) Result {
	switch n.Op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply, BinOpDivide:
		left := ev.Number(n.Left)
		if left.IsError() {
			return left
		}
		right := ev.Number(n.Right)
		if right.IsError() {
			return right
		}
		return arithmetic(n.Op, left.Num, right.Num)
	case BinOpConcat:
		left := ev.Text(n.Left)
		if left.IsError() {
			return left
		}
		right := ev.Text(n.Right)
		if right.IsError() {
			return right
		}
		return Str(left.Str + right.Str)
	}

	left := ev.Scalar(n.Left)
	if left.IsError() {
		return left
	}
	right := ev.Scalar(n.Right)
	if right.IsError() {
		return right
	}
	cmp := compareResults(left, right)
	switch n.Op {
	case BinOpEqual:
		return Bool(cmp == 0)
	case BinOpNotEqual:
		return Bool(cmp != 0)
	case BinOpLess:
		return Bool(cmp < 0)
	case BinOpLessEqual:
		return Bool(cmp <= 0)
	case BinOpGreater:
		return Bool(cmp > 0)
	case BinOpGreaterEqual:
		return Bool(cmp >= 0)
	}
	return Err(ErrorKindError)
}

func arithmetic(op BinaryOp, a, b float64) Result {
	var v float64
	switch op {
	case BinOpAdd:
		v = a + b
	case BinOpSubtract:
		v = a - b
	case BinOpMultiply:
		v = a * b
	case BinOpDivide:
		if b == 0 {
			return Err(ErrorKindDiv0)
		}
		v = a / b
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Err(ErrorKindValue)
	}
	return Num(v)
}

// cellValue reads the cached value of a cell, the zero Result when blank
func (ev *Evaluator) cellValue(ref Ref) Result {
	if ev.resolve == nil {
		return Err(ErrorKindRef)
	}
	cell, ok := ev.resolve(ref.Sref())
	if !ok {
		return Result{}
	}
	return cell.Value
}

// Deref turns a reference into the value it points at. a range cannot be
// used where one value is expected.
func (ev *Evaluator) Deref(r Result) Result {
	switch r.Type {
	case ResultRef:
		return ev.cellValue(r.Ref)
	case ResultRange:
		return Err(ErrorKindValue)
	}
	return r
}

// Scalar visits node and dereferences the result. blank cells stay as the
// zero Result.
func (ev *Evaluator) Scalar(node Node) Result {
	return ev.Deref(ev.Visit(node))
}

// Number coerces node to a Num or returns the error it produced
func (ev *Evaluator) Number(node Node) Result {
	return toNumber(ev.Scalar(node))
}

// Text coerces node to a Str or returns the error it produced
func (ev *Evaluator) Text(node Node) Result {
	return toText(ev.Scalar(node))
}

// Boolean coerces node to a Bool or returns the error it produced
func (ev *Evaluator) Boolean(node Node) Result {
	return toBoolean(ev.Scalar(node))
}

// toNumber applies the arithmetic coercion rules to a dereferenced value
func toNumber(r Result) Result {
	switch r.Type {
	case ResultNone:
		return Num(0)
	case ResultNumber, ResultError:
		return r
	case ResultBoolean:
		if r.Bool {
			return Num(1)
		}
		return Num(0)
	case ResultString:
		if v, ok := parseNumber(r.Str); ok {
			return Num(v)
		}
	}
	return Err(ErrorKindValue)
}

func toText(r Result) Result {
	switch r.Type {
	case ResultNone:
		return Str("")
	case ResultError, ResultString:
		return r
	case ResultNumber, ResultBoolean:
		return Str(r.String())
	}
	return Err(ErrorKindValue)
}

func toBoolean(r Result) Result {
	switch r.Type {
	case ResultNone:
		return Bool(false)
	case ResultError, ResultBoolean:
		return r
	case ResultNumber:
		return Bool(r.Num != 0)
	case ResultString:
		switch strings.ToUpper(strings.TrimSpace(r.Str)) {
		case "TRUE":
			return Bool(true)
		case "FALSE":
			return Bool(false)
		}
	}
	return Err(ErrorKindValue)
}

// parseNumber accepts the text forms a user can type for a number
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// compareResults orders two scalars: numbers before text before booleans,
// text case-insensitively. a blank compares as the zero value of the other
// side.
func compareResults(a, b Result) int {
	if !a.IsSet() {
		a = blankLike(b)
	}
	if !b.IsSet() {
		b = blankLike(a)
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch a.Type {
	case ResultNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case ResultString:
		return strings.Compare(strings.ToLower(a.Str), strings.ToLower(b.Str))
	case ResultBoolean:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		}
		return 1
	}
	return 0
}

func blankLike(other Result) Result {
	switch other.Type {
	case ResultString:
		return Str("")
	case ResultBoolean:
		return Bool(false)
	}
	return Num(0)
}

func typeRank(r Result) int {
	switch r.Type {
	case ResultNumber:
		return 0
	case ResultString:
		return 1
	case ResultBoolean:
		return 2
	}
	return 3
}

// operand is one value produced by expanding function arguments
type operand struct {
	value  Result
	direct bool // typed into the call, not read through a reference
}

func (o operand) blank() bool {
	return !o.value.IsSet() || (o.value.Type == ResultString && o.value.Str == "")
}

// operands expands every argument: references yield their cell value, ranges
// yield each contained cell in row-major order, anything else is a direct
// value.
func (ev *Evaluator) operands(args []Node) iter.Seq[operand] {
	return func(yield func(operand) bool) {
		for _, arg := range args {
			r := ev.Visit(arg)
			switch r.Type {
			case ResultRef:
				if !yield(operand{value: ev.cellValue(r.Ref)}) {
					return
				}
			case ResultRange:
				for ref := range r.Range.Refs() {
					if !yield(operand{value: ev.cellValue(ref)}) {
						return
					}
				}
			default:
				if !yield(operand{value: r, direct: true}) {
					return
				}
			}
		}
	}
}

// numbers collects the numeric operands of an aggregate. direct arguments
// are coerced, values read from cells only count when they are numbers.
// the first error wins.
func (ev *Evaluator) numbers(args []Node) ([]float64, Result) {
	var nums []float64
	for op := range ev.operands(args) {
		if op.value.IsError() {
			return nil, op.value
		}
		if op.direct {
			n := toNumber(op.value)
			if n.IsError() {
				return nil, n
			}
			nums = append(nums, n.Num)
			continue
		}
		if op.value.Type == ResultNumber {
			nums = append(nums, op.value.Num)
		}
	}
	return nums, Result{}
}
