package spreadsheet

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return &BuiltInFunctions{
		clock: &WallClock{},
		rng:   &DefaultRandomGenerator{},
	}
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given seams, nil
// picks the default for that seam.
func NewBuiltInFunctions(clock Clock, rng RandomGenerator) *BuiltInFunctions {
	bf := NewDefaultBuiltInFunctions()
	if clock != nil {
		bf.clock = clock
	}
	if rng != nil {
		bf.rng = rng
	}
	return bf
}

// FunctionID identifies a built-in function. the parser resolves names to
// ids once, evaluation indexes the dispatch table.
type FunctionID uint8

const (
	FunctionUnknown FunctionID = iota
	FunctionSUM
	FunctionPRODUCT
	FunctionAVERAGE
	FunctionMIN
	FunctionMAX
	FunctionCOUNT
	FunctionCOUNTA
	FunctionCOUNTBLANK
	FunctionMEDIAN
	FunctionABS
	FunctionINT
	FunctionSQRT
	FunctionPOWER
	FunctionMOD
	FunctionROUND
	FunctionROUNDUP
	FunctionROUNDDOWN
	FunctionPI
	FunctionRAND
	FunctionRANDBETWEEN
	FunctionIF
	FunctionIFS
	FunctionSWITCH
	FunctionAND
	FunctionOR
	FunctionNOT
	FunctionIFERROR
	FunctionIFNA
	FunctionNA
	FunctionISBLANK
	FunctionISERROR
	FunctionISNA
	FunctionISNUMBER
	FunctionISTEXT
	FunctionISLOGICAL
	FunctionLEN
	FunctionTRIM
	FunctionUPPER
	FunctionLOWER
	FunctionLEFT
	FunctionRIGHT
	FunctionMID
	FunctionCONCATENATE
	FunctionCONCAT
	FunctionMATCH
	FunctionINDEX
	FunctionVLOOKUP
	FunctionHLOOKUP
	FunctionROW
	FunctionCOLUMN
	FunctionROWS
	FunctionCOLUMNS
	FunctionNOW
	FunctionTODAY
	functionCount
)

var functionIDs = map[string]FunctionID{
	"SUM":         FunctionSUM,
	"PRODUCT":     FunctionPRODUCT,
	"AVERAGE":     FunctionAVERAGE,
	"MIN":         FunctionMIN,
	"MAX":         FunctionMAX,
	"COUNT":       FunctionCOUNT,
	"COUNTA":      FunctionCOUNTA,
	"COUNTBLANK":  FunctionCOUNTBLANK,
	"MEDIAN":      FunctionMEDIAN,
	"ABS":         FunctionABS,
	"INT":         FunctionINT,
	"SQRT":        FunctionSQRT,
	"POWER":       FunctionPOWER,
	"MOD":         FunctionMOD,
	"ROUND":       FunctionROUND,
	"ROUNDUP":     FunctionROUNDUP,
	"ROUNDDOWN":   FunctionROUNDDOWN,
	"PI":          FunctionPI,
	"RAND":        FunctionRAND,
	"RANDBETWEEN": FunctionRANDBETWEEN,
	"IF":          FunctionIF,
	"IFS":         FunctionIFS,
	"SWITCH":      FunctionSWITCH,
	"AND":         FunctionAND,
	"OR":          FunctionOR,
	"NOT":         FunctionNOT,
	"IFERROR":     FunctionIFERROR,
	"IFNA":        FunctionIFNA,
	"NA":          FunctionNA,
	"ISBLANK":     FunctionISBLANK,
	"ISERROR":     FunctionISERROR,
	"ISNA":        FunctionISNA,
	"ISNUMBER":    FunctionISNUMBER,
	"ISTEXT":      FunctionISTEXT,
	"ISLOGICAL":   FunctionISLOGICAL,
	"LEN":         FunctionLEN,
	"TRIM":        FunctionTRIM,
	"UPPER":       FunctionUPPER,
	"LOWER":       FunctionLOWER,
	"LEFT":        FunctionLEFT,
	"RIGHT":       FunctionRIGHT,
	"MID":         FunctionMID,
	"CONCATENATE": FunctionCONCATENATE,
	"CONCAT":      FunctionCONCAT,
	"MATCH":       FunctionMATCH,
	"INDEX":       FunctionINDEX,
	"VLOOKUP":     FunctionVLOOKUP,
	"HLOOKUP":     FunctionHLOOKUP,
	"ROW":         FunctionROW,
	"COLUMN":      FunctionCOLUMN,
	"ROWS":        FunctionROWS,
	"COLUMNS":     FunctionCOLUMNS,
	"NOW":         FunctionNOW,
	"TODAY":       FunctionTODAY,
}

// LookupFunction resolves a function name, case-insensitive.
func LookupFunction(name string) FunctionID {
	return functionIDs[strings.ToUpper(name)]
}

// FunctionNames lists every built-in, sorted
func FunctionNames() []string {
	names := make([]string, 0, len(functionIDs))
	for name := range functionIDs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// arity bounds, max -1 means variadic
type arity struct {
	min, max int
}

type builtin struct {
	fn    func(bf *BuiltInFunctions, args []Node, ev *Evaluator) Result
	arity arity
}

// functionTable is filled in init: the functions call back into the
// evaluator, which reads the table.
var functionTable [functionCount]builtin

// volatile functions produce a new value on every pass
var volatileFunctions = [functionCount]bool{
	FunctionNOW:         true,
	FunctionTODAY:       true,
	FunctionRAND:        true,
	FunctionRANDBETWEEN: true,
}

func init() {
	functionTable = [functionCount]builtin{
		FunctionSUM:         {(*BuiltInFunctions).SUM, arity{1, -1}},
		FunctionPRODUCT:     {(*BuiltInFunctions).PRODUCT, arity{1, -1}},
		FunctionAVERAGE:     {(*BuiltInFunctions).AVERAGE, arity{1, -1}},
		FunctionMIN:         {(*BuiltInFunctions).MIN, arity{1, -1}},
		FunctionMAX:         {(*BuiltInFunctions).MAX, arity{1, -1}},
		FunctionCOUNT:       {(*BuiltInFunctions).COUNT, arity{1, -1}},
		FunctionCOUNTA:      {(*BuiltInFunctions).COUNTA, arity{1, -1}},
		FunctionCOUNTBLANK:  {(*BuiltInFunctions).COUNTBLANK, arity{1, 1}},
		FunctionMEDIAN:      {(*BuiltInFunctions).MEDIAN, arity{1, -1}},
		FunctionABS:         {(*BuiltInFunctions).ABS, arity{1, 1}},
		FunctionINT:         {(*BuiltInFunctions).INT, arity{1, 1}},
		FunctionSQRT:        {(*BuiltInFunctions).SQRT, arity{1, 1}},
		FunctionPOWER:       {(*BuiltInFunctions).POWER, arity{2, 2}},
		FunctionMOD:         {(*BuiltInFunctions).MOD, arity{2, 2}},
		FunctionROUND:       {(*BuiltInFunctions).ROUND, arity{1, 2}},
		FunctionROUNDUP:     {(*BuiltInFunctions).ROUNDUP, arity{1, 2}},
		FunctionROUNDDOWN:   {(*BuiltInFunctions).ROUNDDOWN, arity{1, 2}},
		FunctionPI:          {(*BuiltInFunctions).PI, arity{0, 0}},
		FunctionRAND:        {(*BuiltInFunctions).RAND, arity{0, 0}},
		FunctionRANDBETWEEN: {(*BuiltInFunctions).RANDBETWEEN, arity{2, 2}},
		FunctionIF:          {(*BuiltInFunctions).IF, arity{2, 3}},
		FunctionIFS:         {(*BuiltInFunctions).IFS, arity{2, -1}},
		FunctionSWITCH:      {(*BuiltInFunctions).SWITCH, arity{3, -1}},
		FunctionAND:         {(*BuiltInFunctions).AND, arity{1, -1}},
		FunctionOR:          {(*BuiltInFunctions).OR, arity{1, -1}},
		FunctionNOT:         {(*BuiltInFunctions).NOT, arity{1, 1}},
		FunctionIFERROR:     {(*BuiltInFunctions).IFERROR, arity{2, 2}},
		FunctionIFNA:        {(*BuiltInFunctions).IFNA, arity{2, 2}},
		FunctionNA:          {(*BuiltInFunctions).NA, arity{0, 0}},
		FunctionISBLANK:     {(*BuiltInFunctions).ISBLANK, arity{1, 1}},
		FunctionISERROR:     {(*BuiltInFunctions).ISERROR, arity{1, 1}},
		FunctionISNA:        {(*BuiltInFunctions).ISNA, arity{1, 1}},
		FunctionISNUMBER:    {(*BuiltInFunctions).ISNUMBER, arity{1, 1}},
		FunctionISTEXT:      {(*BuiltInFunctions).ISTEXT, arity{1, 1}},
		FunctionISLOGICAL:   {(*BuiltInFunctions).ISLOGICAL, arity{1, 1}},
		FunctionLEN:         {(*BuiltInFunctions).LEN, arity{1, 1}},
		FunctionTRIM:        {(*BuiltInFunctions).TRIM, arity{1, 1}},
		FunctionUPPER:       {(*BuiltInFunctions).UPPER, arity{1, 1}},
		FunctionLOWER:       {(*BuiltInFunctions).LOWER, arity{1, 1}},
		FunctionLEFT:        {(*BuiltInFunctions).LEFT, arity{1, 2}},
		FunctionRIGHT:       {(*BuiltInFunctions).RIGHT, arity{1, 2}},
		FunctionMID:         {(*BuiltInFunctions).MID, arity{3, 3}},
		FunctionCONCATENATE: {(*BuiltInFunctions).CONCATENATE, arity{1, -1}},
		FunctionCONCAT:      {(*BuiltInFunctions).CONCAT, arity{1, -1}},
		FunctionMATCH:       {(*BuiltInFunctions).MATCH, arity{2, 3}},
		FunctionINDEX:       {(*BuiltInFunctions).INDEX, arity{2, 3}},
		FunctionVLOOKUP:     {(*BuiltInFunctions).VLOOKUP, arity{3, 4}},
		FunctionHLOOKUP:     {(*BuiltInFunctions).HLOOKUP, arity{3, 4}},
		FunctionROW:         {(*BuiltInFunctions).ROW, arity{0, 1}},
		FunctionCOLUMN:      {(*BuiltInFunctions).COLUMN, arity{0, 1}},
		FunctionROWS:        {(*BuiltInFunctions).ROWS, arity{1, 1}},
		FunctionCOLUMNS:     {(*BuiltInFunctions).COLUMNS, arity{1, 1}},
		FunctionNOW:         {(*BuiltInFunctions).NOW, arity{0, 0}},
		FunctionTODAY:       {(*BuiltInFunctions).TODAY, arity{0, 0}},
	}
}

// call dispatches a function node. unknown functions are #ERROR!, a wrong
// number of arguments is #VALUE!.
func (bf *BuiltInFunctions) call(n *FunctionCallNode, ev *Evaluator) Result {
	if n.ID == FunctionUnknown || n.ID >= functionCount {
		return Err(ErrorKindError)
	}
	entry := functionTable[n.ID]
	if entry.fn == nil {
		return Err(ErrorKindError)
	}
	if len(n.Args) < entry.arity.min || (entry.arity.max >= 0 && len(n.Args) > entry.arity.max) {
		return Err(ErrorKindValue)
	}
	return entry.fn(bf, n.Args, ev)
}

// IsVolatile reports whether a function must be recomputed on every pass
func IsVolatile(id FunctionID) bool {
	return id < functionCount && volatileFunctions[id]
}

// ContainsVolatile reports whether any function call in tree is volatile
func ContainsVolatile(tree Node) bool {
	switch n := tree.(type) {
	case *FunctionCallNode:
		if IsVolatile(n.ID) {
			return true
		}
		for _, arg := range n.Args {
			if ContainsVolatile(arg) {
				return true
			}
		}
	case *BinaryOpNode:
		return ContainsVolatile(n.Left) || ContainsVolatile(n.Right)
	case *UnaryOpNode:
		return ContainsVolatile(n.Operand)
	case *ParenNode:
		return ContainsVolatile(n.Inner)
	}
	return false
}

// aggregates

func (bf *BuiltInFunctions) SUM(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return finite(sum)
}

func (bf *BuiltInFunctions) PRODUCT(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	if len(nums) == 0 {
		return Num(0)
	}
	product := 1.0
	for _, n := range nums {
		product *= n
	}
	return finite(product)
}

func (bf *BuiltInFunctions) AVERAGE(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	if len(nums) == 0 {
		return Err(ErrorKindDiv0)
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return finite(sum / float64(len(nums)))
}

func (bf *BuiltInFunctions) MIN(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	if len(nums) == 0 {
		return Num(0)
	}
	return Num(slices.Min(nums))
}

func (bf *BuiltInFunctions) MAX(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	if len(nums) == 0 {
		return Num(0)
	}
	return Num(slices.Max(nums))
}

func (bf *BuiltInFunctions) MEDIAN(args []Node, ev *Evaluator) Result {
	nums, errResult := ev.numbers(args)
	if errResult.IsError() {
		return errResult
	}
	if len(nums) == 0 {
		return Err(ErrorKindValue)
	}
	slices.Sort(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return Num(nums[mid])
	}
	return Num((nums[mid-1] + nums[mid]) / 2)
}

// COUNT counts numbers. errors are skipped, not propagated.
func (bf *BuiltInFunctions) COUNT(args []Node, ev *Evaluator) Result {
	count := 0
	for op := range ev.operands(args) {
		switch {
		case op.value.Type == ResultNumber:
			count++
		case op.direct && !toNumber(op.value).IsError():
			count++
		}
	}
	return Num(float64(count))
}

func (bf *BuiltInFunctions) COUNTA(args []Node, ev *Evaluator) Result {
	count := 0
	for op := range ev.operands(args) {
		if op.direct || op.value.IsSet() {
			count++
		}
	}
	return Num(float64(count))
}

func (bf *BuiltInFunctions) COUNTBLANK(args []Node, ev *Evaluator) Result {
	r := ev.Visit(args[0])
	if r.Type != ResultRef && r.Type != ResultRange {
		return Err(ErrorKindValue)
	}
	count := 0
	for op := range ev.operands(args) {
		if op.blank() {
			count++
		}
	}
	return Num(float64(count))
}

// math

func (bf *BuiltInFunctions) ABS(args []Node, ev *Evaluator) Result {
	return unaryMath(ev, args[0], math.Abs)
}

func (bf *BuiltInFunctions) INT(args []Node, ev *Evaluator) Result {
	return unaryMath(ev, args[0], math.Floor)
}

func (bf *BuiltInFunctions) SQRT(args []Node, ev *Evaluator) Result {
	n := ev.Number(args[0])
	if n.IsError() {
		return n
	}
	if n.Num < 0 {
		return Err(ErrorKindValue)
	}
	return Num(math.Sqrt(n.Num))
}

func (bf *BuiltInFunctions) POWER(args []Node, ev *Evaluator) Result {
	base := ev.Number(args[0])
	if base.IsError() {
		return base
	}
	exp := ev.Number(args[1])
	if exp.IsError() {
		return exp
	}
	if base.Num == 0 && exp.Num < 0 {
		return Err(ErrorKindDiv0)
	}
	return finite(math.Pow(base.Num, exp.Num))
}

// MOD takes the sign of the divisor
func (bf *BuiltInFunctions) MOD(args []Node, ev *Evaluator) Result {
	dividend := ev.Number(args[0])
	if dividend.IsError() {
		return dividend
	}
	divisor := ev.Number(args[1])
	if divisor.IsError() {
		return divisor
	}
	if divisor.Num == 0 {
		return Err(ErrorKindDiv0)
	}
	return finite(dividend.Num - divisor.Num*math.Floor(dividend.Num/divisor.Num))
}

func (bf *BuiltInFunctions) ROUND(args []Node, ev *Evaluator) Result {
	return rounding(ev, args, math.Round)
}

func (bf *BuiltInFunctions) ROUNDUP(args []Node, ev *Evaluator) Result {
	return rounding(ev, args, func(v float64) float64 {
		if v < 0 {
			return math.Floor(v)
		}
		return math.Ceil(v)
	})
}

func (bf *BuiltInFunctions) ROUNDDOWN(args []Node, ev *Evaluator) Result {
	return rounding(ev, args, math.Trunc)
}

func (bf *BuiltInFunctions) PI(args []Node, ev *Evaluator) Result {
	return Num(math.Pi)
}

func (bf *BuiltInFunctions) RAND(args []Node, ev *Evaluator) Result {
	return Num(bf.rng.Float64())
}

func (bf *BuiltInFunctions) RANDBETWEEN(args []Node, ev *Evaluator) Result {
	lo := ev.Number(args[0])
	if lo.IsError() {
		return lo
	}
	hi := ev.Number(args[1])
	if hi.IsError() {
		return hi
	}
	low, high := math.Ceil(lo.Num), math.Floor(hi.Num)
	if low > high {
		return Err(ErrorKindValue)
	}
	return Num(low + math.Floor(bf.rng.Float64()*(high-low+1)))
}

func unaryMath(ev *Evaluator, arg Node, fn func(float64) float64) Result {
	n := ev.Number(arg)
	if n.IsError() {
		return n
	}
	return finite(fn(n.Num))
}

// rounding scales by 10^digits, applies fn and scales back
func rounding(ev *Evaluator, args []Node, fn func(float64) float64) Result {
	n := ev.Number(args[0])
	if n.IsError() {
		return n
	}
	digits := 0.0
	if len(args) == 2 {
		d := ev.Number(args[1])
		if d.IsError() {
			return d
		}
		digits = math.Trunc(d.Num)
	}
	scale := math.Pow(10, digits)
	return finite(fn(n.Num*scale) / scale)
}

func finite(v float64) Result {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Err(ErrorKindValue)
	}
	return Num(v)
}

// logic

// IF only evaluates the branch it picks
func (bf *BuiltInFunctions) IF(args []Node, ev *Evaluator) Result {
	cond := ev.Boolean(args[0])
	if cond.IsError() {
		return cond
	}
	if cond.Bool {
		return ev.Scalar(args[1])
	}
	if len(args) == 3 {
		return ev.Scalar(args[2])
	}
	return Bool(false)
}

func (bf *BuiltInFunctions) IFS(args []Node, ev *Evaluator) Result {
	if len(args)%2 != 0 {
		return Err(ErrorKindValue)
	}
	for i := 0; i < len(args); i += 2 {
		cond := ev.Boolean(args[i])
		if cond.IsError() {
			return cond
		}
		if cond.Bool {
			return ev.Scalar(args[i+1])
		}
	}
	return Err(ErrorKindNA)
}

// SWITCH(expr, case1, value1, ..., [default])
func (bf *BuiltInFunctions) SWITCH(args []Node, ev *Evaluator) Result {
	subject := ev.Scalar(args[0])
	if subject.IsError() {
		return subject
	}
	rest := args[1:]
	for len(rest) >= 2 {
		candidate := ev.Scalar(rest[0])
		if candidate.IsError() {
			return candidate
		}
		if compareResults(subject, candidate) == 0 {
			return ev.Scalar(rest[1])
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return ev.Scalar(rest[0])
	}
	return Err(ErrorKindNA)
}

func (bf *BuiltInFunctions) AND(args []Node, ev *Evaluator) Result {
	return logical(ev, args, func(acc, v bool) bool { return acc && v }, true)
}

func (bf *BuiltInFunctions) OR(args []Node, ev *Evaluator) Result {
	return logical(ev, args, func(acc, v bool) bool { return acc || v }, false)
}

// logical folds booleans. values read from cells count when they are
// booleans or numbers, text is skipped; with nothing to fold the result is
// #VALUE!.
func logical(ev *Evaluator, args []Node, fold func(acc, v bool) bool, start bool) Result {
	acc, seen := start, false
	for op := range ev.operands(args) {
		if op.value.IsError() {
			return op.value
		}
		if !op.direct && op.value.Type != ResultBoolean && op.value.Type != ResultNumber {
			continue
		}
		b := toBoolean(op.value)
		if b.IsError() {
			return b
		}
		acc = fold(acc, b.Bool)
		seen = true
	}
	if !seen {
		return Err(ErrorKindValue)
	}
	return Bool(acc)
}

func (bf *BuiltInFunctions) NOT(args []Node, ev *Evaluator) Result {
	b := ev.Boolean(args[0])
	if b.IsError() {
		return b
	}
	return Bool(!b.Bool)
}

func (bf *BuiltInFunctions) IFERROR(args []Node, ev *Evaluator) Result {
	v := ev.Scalar(args[0])
	if v.IsError() {
		return ev.Scalar(args[1])
	}
	return blankAsZero(v)
}

func (bf *BuiltInFunctions) IFNA(args []Node, ev *Evaluator) Result {
	v := ev.Scalar(args[0])
	if v.IsError() && v.Err == ErrorKindNA {
		return ev.Scalar(args[1])
	}
	return blankAsZero(v)
}

func (bf *BuiltInFunctions) NA(args []Node, ev *Evaluator) Result {
	return Err(ErrorKindNA)
}

func blankAsZero(r Result) Result {
	if !r.IsSet() {
		return Num(0)
	}
	return r
}

// information

func (bf *BuiltInFunctions) ISBLANK(args []Node, ev *Evaluator) Result {
	r := ev.Visit(args[0])
	if r.Type != ResultRef {
		return Bool(false)
	}
	return Bool(!ev.cellValue(r.Ref).IsSet())
}

func (bf *BuiltInFunctions) ISERROR(args []Node, ev *Evaluator) Result {
	return Bool(ev.Scalar(args[0]).IsError())
}

func (bf *BuiltInFunctions) ISNA(args []Node, ev *Evaluator) Result {
	v := ev.Scalar(args[0])
	return Bool(v.IsError() && v.Err == ErrorKindNA)
}

func (bf *BuiltInFunctions) ISNUMBER(args []Node, ev *Evaluator) Result {
	return Bool(ev.Scalar(args[0]).Type == ResultNumber)
}

func (bf *BuiltInFunctions) ISTEXT(args []Node, ev *Evaluator) Result {
	return Bool(ev.Scalar(args[0]).Type == ResultString)
}

func (bf *BuiltInFunctions) ISLOGICAL(args []Node, ev *Evaluator) Result {
	return Bool(ev.Scalar(args[0]).Type == ResultBoolean)
}

// text

func (bf *BuiltInFunctions) LEN(args []Node, ev *Evaluator) Result {
	s := ev.Text(args[0])
	if s.IsError() {
		return s
	}
	return Num(float64(utf8.RuneCountInString(s.Str)))
}

// TRIM strips the ends and collapses inner runs of spaces
func (bf *BuiltInFunctions) TRIM(args []Node, ev *Evaluator) Result {
	s := ev.Text(args[0])
	if s.IsError() {
		return s
	}
	return Str(strings.Join(strings.Fields(s.Str), " "))
}

func (bf *BuiltInFunctions) UPPER(args []Node, ev *Evaluator) Result {
	s := ev.Text(args[0])
	if s.IsError() {
		return s
	}
	return Str(strings.ToUpper(s.Str))
}

func (bf *BuiltInFunctions) LOWER(args []Node, ev *Evaluator) Result {
	s := ev.Text(args[0])
	if s.IsError() {
		return s
	}
	return Str(strings.ToLower(s.Str))
}

func (bf *BuiltInFunctions) LEFT(args []Node, ev *Evaluator) Result {
	s, n, errResult := textAndCount(ev, args)
	if errResult.IsError() {
		return errResult
	}
	runes := []rune(s)
	return Str(string(runes[:min(n, len(runes))]))
}

func (bf *BuiltInFunctions) RIGHT(args []Node, ev *Evaluator) Result {
	s, n, errResult := textAndCount(ev, args)
	if errResult.IsError() {
		return errResult
	}
	runes := []rune(s)
	return Str(string(runes[len(runes)-min(n, len(runes)):]))
}

// MID(text, start, count), start is 1-based
func (bf *BuiltInFunctions) MID(args []Node, ev *Evaluator) Result {
	s := ev.Text(args[0])
	if s.IsError() {
		return s
	}
	start := ev.Number(args[1])
	if start.IsError() {
		return start
	}
	count := ev.Number(args[2])
	if count.IsError() {
		return count
	}
	if start.Num < 1 || count.Num < 0 {
		return Err(ErrorKindValue)
	}
	first, n := clampCount(start.Num), clampCount(count.Num)
	runes := []rune(s.Str)
	if first > len(runes) {
		return Str("")
	}
	end := min(first-1+n, len(runes))
	return Str(string(runes[first-1 : end]))
}

// clampCount truncates a non-negative character count or position to an int
// no string can exceed
func clampCount(v float64) int {
	return int(min(v, math.MaxInt32))
}

func textAndCount(ev *Evaluator, args []Node) (string, int, Result) {
	s := ev.Text(args[0])
	if s.IsError() {
		return "", 0, s
	}
	n := 1
	if len(args) == 2 {
		c := ev.Number(args[1])
		if c.IsError() {
			return "", 0, c
		}
		if c.Num < 0 {
			return "", 0, Err(ErrorKindValue)
		}
		n = clampCount(c.Num)
	}
	return s.Str, n, Result{}
}

// CONCATENATE joins scalar arguments, a range argument is #VALUE!
func (bf *BuiltInFunctions) CONCATENATE(args []Node, ev *Evaluator) Result {
	var sb strings.Builder
	for _, arg := range args {
		s := ev.Text(arg)
		if s.IsError() {
			return s
		}
		sb.WriteString(s.Str)
	}
	return Str(sb.String())
}

// CONCAT joins every value, expanding ranges
func (bf *BuiltInFunctions) CONCAT(args []Node, ev *Evaluator) Result {
	var sb strings.Builder
	for op := range ev.operands(args) {
		s := toText(op.value)
		if s.IsError() {
			return s
		}
		sb.WriteString(s.Str)
	}
	return Str(sb.String())
}

// lookup

// area reads a reference or range argument as a range
func area(ev *Evaluator, arg Node) (Range, Result) {
	r := ev.Visit(arg)
	switch r.Type {
	case ResultRef:
		return Range{From: r.Ref, To: r.Ref}, Result{}
	case ResultRange:
		return r.Range, Result{}
	case ResultError:
		return Range{}, r
	}
	return Range{}, Err(ErrorKindValue)
}

// MATCH(value, range, [type]). type 0 is an exact match, 1 the largest value
// not above the needle, -1 the smallest value not below it.
func (bf *BuiltInFunctions) MATCH(args []Node, ev *Evaluator) Result {
	needle := ev.Scalar(args[0])
	if needle.IsError() {
		return needle
	}
	rng, errResult := area(ev, args[1])
	if errResult.IsError() {
		return errResult
	}
	if rng.Rows() > 1 && rng.Cols() > 1 {
		return Err(ErrorKindNA)
	}
	matchType := 1.0
	if len(args) == 3 {
		t := ev.Number(args[2])
		if t.IsError() {
			return t
		}
		matchType = t.Num
	}
	values := make([]Result, 0, rng.Rows()*rng.Cols())
	for ref := range rng.Refs() {
		values = append(values, ev.cellValue(ref))
	}
	if i := search(needle, values, matchType); i >= 0 {
		return Num(float64(i + 1))
	}
	return Err(ErrorKindNA)
}

// search returns the index picked by a MATCH-style lookup, -1 when nothing
// qualifies.
func search(needle Result, values []Result, matchType float64) int {
	best := -1
	for i, v := range values {
		if !v.IsSet() || v.IsError() {
			continue
		}
		if typeRank(v) != typeRank(needle) {
			continue
		}
		cmp := compareResults(v, needle)
		switch {
		case matchType == 0:
			if cmp == 0 {
				return i
			}
		case matchType > 0:
			if cmp <= 0 && (best < 0 || compareResults(v, values[best]) >= 0) {
				best = i
			}
		default:
			if cmp >= 0 && (best < 0 || compareResults(v, values[best]) <= 0) {
				best = i
			}
		}
	}
	return best
}

// INDEX(range, row, [col]) returns a reference into the range. a one
// dimensional range accepts a single index along its length.
func (bf *BuiltInFunctions) INDEX(args []Node, ev *Evaluator) Result {
	rng, errResult := area(ev, args[0])
	if errResult.IsError() {
		return errResult
	}
	row := ev.Number(args[1])
	if row.IsError() {
		return row
	}
	r, c := int(row.Num), 1
	if len(args) == 3 {
		col := ev.Number(args[2])
		if col.IsError() {
			return col
		}
		c = int(col.Num)
	} else if rng.Rows() == 1 {
		r, c = 1, int(row.Num)
	}
	if r < 1 || c < 1 {
		return Err(ErrorKindValue)
	}
	if r > rng.Rows() || c > rng.Cols() {
		return Err(ErrorKindRef)
	}
	return RefResult(Ref{Row: rng.From.Row + r - 1, Col: rng.From.Col + c - 1})
}

func (bf *BuiltInFunctions) VLOOKUP(args []Node, ev *Evaluator) Result {
	return tableLookup(ev, args, true)
}

func (bf *BuiltInFunctions) HLOOKUP(args []Node, ev *Evaluator) Result {
	return tableLookup(ev, args, false)
}

// tableLookup searches the first column (vertical) or first row of a table
// and returns the value at the given offset of the matching line.
func tableLookup(ev *Evaluator, args []Node, vertical bool) Result {
	needle := ev.Scalar(args[0])
	if needle.IsError() {
		return needle
	}
	table, errResult := area(ev, args[1])
	if errResult.IsError() {
		return errResult
	}
	index := ev.Number(args[2])
	if index.IsError() {
		return index
	}
	offset := int(index.Num)
	width := table.Cols()
	if !vertical {
		width = table.Rows()
	}
	if offset < 1 {
		return Err(ErrorKindValue)
	}
	if offset > width {
		return Err(ErrorKindRef)
	}
	approximate := true
	if len(args) == 4 {
		b := ev.Boolean(args[3])
		if b.IsError() {
			return b
		}
		approximate = b.Bool
	}

	var keys []Result
	if vertical {
		for row := table.From.Row; row <= table.To.Row; row++ {
			keys = append(keys, ev.cellValue(Ref{Row: row, Col: table.From.Col}))
		}
	} else {
		for col := table.From.Col; col <= table.To.Col; col++ {
			keys = append(keys, ev.cellValue(Ref{Row: table.From.Row, Col: col}))
		}
	}
	matchType := 0.0
	if approximate {
		matchType = 1
	}
	i := search(needle, keys, matchType)
	if i < 0 {
		return Err(ErrorKindNA)
	}
	if vertical {
		return blankAsZero(ev.cellValue(Ref{Row: table.From.Row + i, Col: table.From.Col + offset - 1}))
	}
	return blankAsZero(ev.cellValue(Ref{Row: table.From.Row + offset - 1, Col: table.From.Col + i}))
}

func (bf *BuiltInFunctions) ROW(args []Node, ev *Evaluator) Result {
	if len(args) == 0 {
		if ev.origin.Row == 0 {
			return Err(ErrorKindValue)
		}
		return Num(float64(ev.origin.Row))
	}
	rng, errResult := area(ev, args[0])
	if errResult.IsError() {
		return errResult
	}
	return Num(float64(rng.From.Row))
}

func (bf *BuiltInFunctions) COLUMN(args []Node, ev *Evaluator) Result {
	if len(args) == 0 {
		if ev.origin.Col == 0 {
			return Err(ErrorKindValue)
		}
		return Num(float64(ev.origin.Col))
	}
	rng, errResult := area(ev, args[0])
	if errResult.IsError() {
		return errResult
	}
	return Num(float64(rng.From.Col))
}

func (bf *BuiltInFunctions) ROWS(args []Node, ev *Evaluator) Result {
	rng, errResult := area(ev, args[0])
	if errResult.IsError() {
		return errResult
	}
	return Num(float64(rng.Rows()))
}

func (bf *BuiltInFunctions) COLUMNS(args []Node, ev *Evaluator) Result {
	rng, errResult := area(ev, args[0])
	if errResult.IsError() {
		return errResult
	}
	return Num(float64(rng.Cols()))
}

// date

// serial numbers count days since 1899-12-30, the spreadsheet epoch
const (
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

// SerialTime converts a time to a spreadsheet serial number in its own
// location.
func SerialTime(t time.Time) float64 {
	_, offset := t.Zone()
	local := t.UnixMilli() + int64(offset)*1000
	return float64(local-excelEpochMs) / msPerDay
}

func (bf *BuiltInFunctions) NOW(args []Node, ev *Evaluator) Result {
	return Num(SerialTime(bf.clock.Now()))
}

func (bf *BuiltInFunctions) TODAY(args []Node, ev *Evaluator) Result {
	return Num(math.Floor(SerialTime(bf.clock.Now())))
}
