package spreadsheet

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ConditionalOperator is the test a conditional format applies to a value
type ConditionalOperator string

const (
	ConditionIsEmpty      ConditionalOperator = "isEmpty"
	ConditionIsNotEmpty   ConditionalOperator = "isNotEmpty"
	ConditionTextContains ConditionalOperator = "textContains"
	ConditionGreaterThan  ConditionalOperator = "greaterThan"
	ConditionBetween      ConditionalOperator = "between"
	ConditionDateBefore   ConditionalOperator = "dateBefore"
	ConditionDateAfter    ConditionalOperator = "dateAfter"
)

// style keys a conditional format may set
var conditionalStyleKeys = map[StyleKey]bool{
	StyleBold:       true,
	StyleItalic:     true,
	StyleUnderline:  true,
	StyleTextColor:  true,
	StyleBackground: true,
}

// ConditionalFormat overlays Style on the cells of Range whose value passes
// Op. Value and Value2 are the operands as typed: a keyword, a number or a
// yyyy-mm-dd date.
type ConditionalFormat struct {
	ID     string              `json:"id"`
	Range  Range               `json:"range"`
	Op     ConditionalOperator `json:"op"`
	Value  string              `json:"value,omitempty"`
	Value2 string              `json:"value2,omitempty"`
	Style  Style               `json:"style"`
}

// Clone returns an independent copy
func (cf ConditionalFormat) Clone() ConditionalFormat {
	cf.Style = cf.Style.Clone()
	return cf
}

// normalize validates a rule, trims its operands and gives it an id when it
// has none
func (cf ConditionalFormat) normalize() (ConditionalFormat, error) {
	cf.ID = strings.TrimSpace(cf.ID)
	if cf.ID == "" {
		cf.ID = uuid.NewString()
	}
	cf.Range = NewRange(cf.Range.From, cf.Range.To)
	if !cf.Range.From.Valid() || !cf.Range.To.Valid() {
		return cf, NewApplicationError(OutOfRange, fmt.Sprintf("conditional format %s: range %s is outside the grid", cf.ID, cf.Range))
	}
	cf.Value = strings.TrimSpace(cf.Value)
	cf.Value2 = strings.TrimSpace(cf.Value2)

	invalid := func(format string, args ...any) error {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("conditional format %s: ", cf.ID)+fmt.Sprintf(format, args...))
	}
	switch cf.Op {
	case ConditionIsEmpty, ConditionIsNotEmpty:
		cf.Value, cf.Value2 = "", ""
	case ConditionTextContains:
		if cf.Value == "" {
			return cf, invalid("%s needs a keyword", cf.Op)
		}
		cf.Value2 = ""
	case ConditionGreaterThan:
		if _, ok := conditionNumber(Str(cf.Value)); !ok {
			return cf, invalid("%s needs a number, got %q", cf.Op, cf.Value)
		}
		cf.Value2 = ""
	case ConditionBetween:
		_, ok1 := conditionNumber(Str(cf.Value))
		_, ok2 := conditionNumber(Str(cf.Value2))
		if !ok1 || !ok2 {
			return cf, invalid("%s needs two numbers, got %q and %q", cf.Op, cf.Value, cf.Value2)
		}
	case ConditionDateBefore, ConditionDateAfter:
		if _, ok := conditionDate(Str(cf.Value)); !ok {
			return cf, invalid("%s needs a yyyy-mm-dd date, got %q", cf.Op, cf.Value)
		}
		cf.Value2 = ""
	default:
		return cf, invalid("unknown operator %q", cf.Op)
	}

	style, err := normalizeStylePatch(cf.Style)
	if err != nil {
		return cf, err
	}
	for key, value := range style {
		if !conditionalStyleKeys[key] {
			return cf, invalid("style key %q cannot be set conditionally", key)
		}
		if value == nil || value == "" {
			delete(style, key)
		}
	}
	if len(style) == 0 {
		return cf, invalid("style is empty")
	}
	cf.Style = style
	return cf, nil
}

// Matches reports whether value passes the rule. numbers written as text
// count as numbers, dates are compared by day.
func (cf ConditionalFormat) Matches(value Result) bool {
	text := strings.TrimSpace(conditionText(value))
	switch cf.Op {
	case ConditionIsEmpty:
		return text == ""
	case ConditionIsNotEmpty:
		return text != ""
	case ConditionTextContains:
		keyword := strings.ToLower(strings.TrimSpace(cf.Value))
		return keyword != "" && strings.Contains(strings.ToLower(text), keyword)
	case ConditionGreaterThan:
		v, ok := conditionNumber(value)
		target, ok2 := conditionNumber(Str(cf.Value))
		return ok && ok2 && v > target
	case ConditionBetween:
		v, ok := conditionNumber(value)
		low, ok2 := conditionNumber(Str(cf.Value))
		high, ok3 := conditionNumber(Str(cf.Value2))
		if !ok || !ok2 || !ok3 {
			return false
		}
		return v >= min(low, high) && v <= max(low, high)
	case ConditionDateBefore, ConditionDateAfter:
		day, ok := conditionDate(value)
		target, ok2 := conditionDate(Str(cf.Value))
		if !ok || !ok2 {
			return false
		}
		if cf.Op == ConditionDateBefore {
			return day < target
		}
		return day > target
	}
	return false
}

func conditionText(value Result) string {
	if !value.IsSet() {
		return ""
	}
	return value.String()
}

func conditionNumber(value Result) (float64, bool) {
	switch value.Type {
	case ResultNumber:
		return value.Num, true
	case ResultString:
		return parseNumberLiteral(strings.TrimSpace(value.Str), true, true)
	}
	return 0, false
}

// conditionDate reads a date serial, or yyyy-mm-dd text, as a whole day
func conditionDate(value Result) (float64, bool) {
	switch value.Type {
	case ResultNumber:
		return math.Floor(value.Num), true
	case ResultString:
		m := isoDate.FindStringSubmatch(strings.TrimSpace(value.Str))
		if m == nil {
			return 0, false
		}
		return dateSerial(m[1], m[2], m[3])
	}
	return 0, false
}

// SetConditionalFormats replaces every rule. rules apply in order, later
// matches override earlier ones.
func (sr *StyleResolver) SetConditionalFormats(rules []ConditionalFormat) error {
	next := make([]ConditionalFormat, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		normalized, err := rule.normalize()
		if err != nil {
			return err
		}
		if seen[normalized.ID] {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("duplicate conditional format id %q", normalized.ID))
		}
		seen[normalized.ID] = true
		next = append(next, normalized)
	}
	sr.conditional = next
	return nil
}

// ConditionalFormats returns a copy of the rules in apply order
func (sr *StyleResolver) ConditionalFormats() []ConditionalFormat {
	out := make([]ConditionalFormat, 0, len(sr.conditional))
	for _, rule := range sr.conditional {
		out = append(out, rule.Clone())
	}
	return out
}

// Conditional merges the styles of every rule covering ref that value
// passes, nil when none does
func (sr *StyleResolver) Conditional(ref Ref, value Result) Style {
	var out Style
	for _, rule := range sr.conditional {
		if rule.Range.Contains(ref) && rule.Matches(value) {
			out = overlay(out, rule.Style)
		}
	}
	return out
}

func shiftConditionalFormats(rules []ConditionalFormat, axis Axis, at, count int) []ConditionalFormat {
	out := make([]ConditionalFormat, 0, len(rules))
	for _, rule := range rules {
		rng, ok := ShiftRange(rule.Range, axis, at, count)
		if !ok {
			continue
		}
		rule.Range = rng
		out = append(out, rule)
	}
	return out
}

func moveConditionalFormats(rules []ConditionalFormat, axis Axis, src, count, dst int) []ConditionalFormat {
	out := make([]ConditionalFormat, 0, len(rules))
	for _, rule := range rules {
		rule.Range = NewRange(MoveRef(rule.Range.From, axis, src, count, dst), MoveRef(rule.Range.To, axis, src, count, dst))
		out = append(out, rule)
	}
	return out
}
