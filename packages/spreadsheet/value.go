package spreadsheet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrorKind is a spreadsheet-domain error. these are values stored in cells,
// not Go errors.
type ErrorKind uint8

const (
	ErrorKindValue ErrorKind = 1 // #VALUE! - wrong type of argument or operand
	ErrorKindRef   ErrorKind = 2 // #REF! - invalid or unresolvable reference
	ErrorKindNA    ErrorKind = 3 // #N/A - lookup found no match
	ErrorKindDiv0  ErrorKind = 4 // #DIV/0! - division by zero
	ErrorKindError ErrorKind = 5 // #ERROR! - everything else (parse failures, cycles)
)

// ErrorMapper maps error kinds to their display strings
var ErrorMapper = map[ErrorKind]string{
	ErrorKindValue: "#VALUE!",
	ErrorKindRef:   "#REF!",
	ErrorKindNA:    "#N/A",
	ErrorKindDiv0:  "#DIV/0!",
	ErrorKindError: "#ERROR!",
}

func (k ErrorKind) String() string {
	if s, ok := ErrorMapper[k]; ok {
		return s
	}
	return "#ERROR!"
}

// ParseErrorKind maps a display string back to its kind. "#N/A!" is accepted
// as an alias of "#N/A".
func ParseErrorKind(s string) (ErrorKind, bool) {
	switch strings.ToUpper(s) {
	case "#VALUE!":
		return ErrorKindValue, true
	case "#REF!":
		return ErrorKindRef, true
	case "#N/A", "#N/A!":
		return ErrorKindNA, true
	case "#DIV/0!":
		return ErrorKindDiv0, true
	case "#ERROR!":
		return ErrorKindError, true
	}
	return 0, false
}

// ResultType tags the variant held by a Result
type ResultType uint8

const (
	ResultNone ResultType = iota
	ResultNumber
	ResultString
	ResultBoolean
	ResultRef
	ResultRange
	ResultError
)

// Result is the outcome of evaluating an expression. only the field matching
// Type is meaningful. the zero Result means "no value".
type Result struct {
	Type  ResultType
	Num   float64
	Str   string
	Bool  bool
	Ref   Ref
	Range Range
	Err   ErrorKind
}

func Num(v float64) Result {
	return Result{Type: ResultNumber, Num: v}
}

func Str(s string) Result {
	return Result{Type: ResultString, Str: s}
}

func Bool(b bool) Result {
	return Result{Type: ResultBoolean, Bool: b}
}

func RefResult(ref Ref) Result {
	return Result{Type: ResultRef, Ref: ref}
}

func RangeResult(rng Range) Result {
	return Result{Type: ResultRange, Range: rng}
}

func Err(kind ErrorKind) Result {
	return Result{Type: ResultError, Err: kind}
}

// IsError reports whether the result is an Err
func (r Result) IsError() bool {
	return r.Type == ResultError
}

// IsSet reports whether the result holds any value
func (r Result) IsSet() bool {
	return r.Type != ResultNone
}

// String renders the result without any number format applied
func (r Result) String() string {
	switch r.Type {
	case ResultNumber:
		return formatNumber(r.Num)
	case ResultString:
		return r.Str
	case ResultBoolean:
		if r.Bool {
			return "TRUE"
		}
		return "FALSE"
	case ResultRef:
		return r.Ref.String()
	case ResultRange:
		return r.Range.String()
	case ResultError:
		return r.Err.String()
	}
	return ""
}

// formatNumber prints the shortest representation that round-trips
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// resultJSON is the wire form of a Result. refs and ranges never reach a
// cell, so only scalar variants are encoded.
type resultJSON struct {
	Type string   `json:"t"`
	Num  *float64 `json:"n,omitempty"`
	Str  *string  `json:"s,omitempty"`
	Bool *bool    `json:"b,omitempty"`
	Err  string   `json:"e,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	var out resultJSON
	switch r.Type {
	case ResultNone:
		return []byte("null"), nil
	case ResultNumber:
		out.Type = "n"
		out.Num = &r.Num
	case ResultString:
		out.Type = "s"
		out.Str = &r.Str
	case ResultBoolean:
		out.Type = "b"
		out.Bool = &r.Bool
	case ResultError:
		out.Type = "e"
		out.Err = r.Err.String()
	default:
		return nil, fmt.Errorf("cannot encode %s result", r.String())
	}
	return json.Marshal(out)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Result{}
		return nil
	}
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case "n":
		if in.Num == nil {
			return fmt.Errorf("number result without value")
		}
		*r = Num(*in.Num)
	case "s":
		if in.Str == nil {
			return fmt.Errorf("string result without value")
		}
		*r = Str(*in.Str)
	case "b":
		if in.Bool == nil {
			return fmt.Errorf("boolean result without value")
		}
		*r = Bool(*in.Bool)
	case "e":
		kind, ok := ParseErrorKind(in.Err)
		if !ok {
			return fmt.Errorf("unknown error value %q", in.Err)
		}
		*r = Err(kind)
	default:
		return fmt.Errorf("unknown result type %q", in.Type)
	}
	return nil
}
