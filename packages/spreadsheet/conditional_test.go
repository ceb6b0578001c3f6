package spreadsheet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustRange(t *testing.T, s string) Range {
	t.Helper()
	rng, err := ParseRange(s)
	if err != nil {
		t.Fatalf("ParseRange(%q): %v", s, err)
	}
	return rng
}

func TestConditionalMatches(t *testing.T) {
	serial, ok := conditionDate(Str("2026-02-20"))
	if !ok {
		t.Fatal("2026-02-20 is not a date")
	}

	tests := []struct {
		name  string
		rule  ConditionalFormat
		value Result
		want  bool
	}{
		{"empty blank", ConditionalFormat{Op: ConditionIsEmpty}, Result{}, true},
		{"empty spaces", ConditionalFormat{Op: ConditionIsEmpty}, Str("   "), true},
		{"empty zero", ConditionalFormat{Op: ConditionIsEmpty}, Num(0), false},
		{"not empty", ConditionalFormat{Op: ConditionIsNotEmpty}, Str("x"), true},
		{"not empty blank", ConditionalFormat{Op: ConditionIsNotEmpty}, Result{}, false},
		{"contains any case", ConditionalFormat{Op: ConditionTextContains, Value: "WORLD"}, Str("hello world"), true},
		{"contains missing", ConditionalFormat{Op: ConditionTextContains, Value: "moon"}, Str("hello world"), false},
		{"contains number", ConditionalFormat{Op: ConditionTextContains, Value: "23"}, Num(1234), true},
		{"greater number", ConditionalFormat{Op: ConditionGreaterThan, Value: "10"}, Num(11), true},
		{"greater equal", ConditionalFormat{Op: ConditionGreaterThan, Value: "10"}, Num(10), false},
		{"greater grouped text", ConditionalFormat{Op: ConditionGreaterThan, Value: "1000"}, Str("1,234"), true},
		{"greater word", ConditionalFormat{Op: ConditionGreaterThan, Value: "1"}, Str("many"), false},
		{"greater bool", ConditionalFormat{Op: ConditionGreaterThan, Value: "0"}, Bool(true), false},
		{"between inside", ConditionalFormat{Op: ConditionBetween, Value: "5", Value2: "10"}, Num(7), true},
		{"between edge", ConditionalFormat{Op: ConditionBetween, Value: "5", Value2: "10"}, Num(10), true},
		{"between swapped", ConditionalFormat{Op: ConditionBetween, Value: "10", Value2: "5"}, Num(5), true},
		{"between outside", ConditionalFormat{Op: ConditionBetween, Value: "5", Value2: "10"}, Num(10.5), false},
		{"before text", ConditionalFormat{Op: ConditionDateBefore, Value: "2026-02-20"}, Str("2026-02-19"), true},
		{"before same day", ConditionalFormat{Op: ConditionDateBefore, Value: "2026-02-20"}, Num(serial + 0.75), false},
		{"before serial", ConditionalFormat{Op: ConditionDateBefore, Value: "2026-02-20"}, Num(serial - 1), true},
		{"after serial", ConditionalFormat{Op: ConditionDateAfter, Value: "2026-02-20"}, Num(serial + 1), true},
		{"after text", ConditionalFormat{Op: ConditionDateAfter, Value: "2026-02-20"}, Str("2026-02-20"), false},
		{"after not a date", ConditionalFormat{Op: ConditionDateAfter, Value: "2026-02-20"}, Str("soon"), false},
		{"unknown", ConditionalFormat{Op: "lessThan", Value: "1"}, Num(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(tt.value); got != tt.want {
				t.Errorf("%s %q %q Matches(%v) = %v, want %v", tt.rule.Op, tt.rule.Value, tt.rule.Value2, tt.value, got, tt.want)
			}
		})
	}
}

func TestConditionalFormatValidation(t *testing.T) {
	bold := Style{StyleBold: true}
	tests := []struct {
		name string
		rule ConditionalFormat
		code AppErrorCode
	}{
		{"unknown operator", ConditionalFormat{Op: "lessThan", Value: "1", Style: bold}, InvalidArgument},
		{"keyword missing", ConditionalFormat{Op: ConditionTextContains, Value: "  ", Style: bold}, InvalidArgument},
		{"number missing", ConditionalFormat{Op: ConditionGreaterThan, Value: "ten", Style: bold}, InvalidArgument},
		{"second number missing", ConditionalFormat{Op: ConditionBetween, Value: "1", Style: bold}, InvalidArgument},
		{"bad date", ConditionalFormat{Op: ConditionDateAfter, Value: "20/02/2026", Style: bold}, InvalidArgument},
		{"empty style", ConditionalFormat{Op: ConditionIsEmpty}, InvalidArgument},
		{"format key", ConditionalFormat{Op: ConditionIsEmpty, Style: Style{StyleNumberFormat: NumberFormatNumber}}, InvalidArgument},
		{"unknown key", ConditionalFormat{Op: ConditionIsEmpty, Style: Style{"glow": true}}, InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			rule.Range = mustRange(t, "A1:A3")
			NewSpreadsheetTestCase(t, tt.name).
				SetConditionalFormats(rule).
				ExpectAppError(tt.code).
				End()
		})
	}

	t.Run("duplicate id", func(t *testing.T) {
		rule := ConditionalFormat{ID: "dup", Range: mustRange(t, "A1:A3"), Op: ConditionIsEmpty, Style: bold}
		NewSpreadsheetTestCase(t, "duplicate id").
			SetConditionalFormats(rule, rule).
			ExpectAppError(InvalidArgument).
			End()
	})
}

func TestConditionalFormatsNormalize(t *testing.T) {
	tc := NewSpreadsheetTestCase(t, "normalize").
		SetConditionalFormats(
			ConditionalFormat{ID: " keep ", Range: mustRange(t, "A1:B2"), Op: ConditionTextContains, Value: " due ", Value2: "x", Style: Style{StyleItalic: true}},
			ConditionalFormat{Range: mustRange(t, "C1:C2"), Op: ConditionIsNotEmpty, Value: "ignored", Style: Style{StyleBackground: "#eee", StyleTextColor: nil}},
		)
	tc.End()

	rules := tc.spreadsheet.ConditionalFormats()
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	want := ConditionalFormat{ID: "keep", Range: mustRange(t, "A1:B2"), Op: ConditionTextContains, Value: "due", Style: Style{StyleItalic: true}}
	if diff := cmp.Diff(want, rules[0]); diff != "" {
		t.Errorf("first rule mismatch (-want +got):\n%s", diff)
	}
	if rules[1].ID == "" {
		t.Error("rule without id was not given one")
	}
	if rules[1].Value != "" {
		t.Errorf("isNotEmpty kept operand %q", rules[1].Value)
	}
	if diff := cmp.Diff(Style{StyleBackground: "#eee"}, rules[1].Style); diff != "" {
		t.Errorf("second rule style mismatch (-want +got):\n%s", diff)
	}
}

func TestConditionalStyle(t *testing.T) {
	textColor := func(want string) func(Style, *testing.T) {
		return func(style Style, t *testing.T) {
			t.Helper()
			if got := style.String(StyleTextColor); got != want {
				t.Errorf("text color = %q, want %q", got, want)
			}
		}
	}
	over := ConditionalFormat{ID: "over", Range: mustRange(t, "A1:A5"), Op: ConditionGreaterThan, Value: "10", Style: Style{StyleTextColor: "#f00", StyleBold: true}}
	band := ConditionalFormat{ID: "band", Range: mustRange(t, "A1:A5"), Op: ConditionBetween, Value: "15", Value2: "30", Style: Style{StyleTextColor: "#0a0"}}

	t.Run("LaterRuleWins", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Later rule wins").
			Set("A1", "5").
			Set("A2", "12").
			Set("A3", "20").
			Set("B3", "20").
			SetConditionalFormats(over, band).
			AssertEffectiveStyle("A1", textColor("")).
			AssertEffectiveStyle("A2", textColor("#f00")).
			AssertEffectiveStyle("A3", textColor("#0a0")).
			AssertEffectiveStyle("A3", func(style Style, t *testing.T) {
				if !style.Bool(StyleBold) {
					t.Error("earlier rule's bold lost")
				}
			}).
			AssertEffectiveStyle("B3", textColor("")).
			AssertStyle("A2", nil).
			AssertDisplay("A2", "12").
			End()
	})

	t.Run("FollowsFormulaResult", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Follows formula result").
			Set("B1", "3").
			Set("A1", "=B1*5").
			SetConditionalFormats(over).
			AssertEffectiveStyle("A1", textColor("#f00")).
			Set("B1", "1").
			AssertEffectiveStyle("A1", textColor("")).
			End()
	})

	t.Run("CellStyleUnder", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Cell style sits under the rule").
			Set("A2", "50").
			SetStyle("A2", Style{StyleTextColor: "#00f", StyleItalic: true}).
			SetConditionalFormats(over).
			AssertEffectiveStyle("A2", textColor("#f00")).
			AssertEffectiveStyle("A2", func(style Style, t *testing.T) {
				if !style.Bool(StyleItalic) {
					t.Error("cell italic lost under the rule")
				}
			}).
			AssertStyle("A2", Style{StyleTextColor: "#00f", StyleItalic: true}).
			ToggleStyle("A2", StyleBold).
			AssertStyle("A2", Style{StyleTextColor: "#00f", StyleItalic: true, StyleBold: true}).
			End()
	})

	t.Run("MergedCellsUseAnchorValue", func(t *testing.T) {
		NewSpreadsheetTestCase(t, "Merged cells use the anchor value").
			Set("A1", "40").
			Merge("A1:B1").
			SetConditionalFormats(ConditionalFormat{ID: "wide", Range: mustRange(t, "A1:B1"), Op: ConditionGreaterThan, Value: "10", Style: Style{StyleBackground: "#ff0"}}).
			AssertEffectiveStyle("B1", func(style Style, t *testing.T) {
				if got := style.String(StyleBackground); got != "#ff0" {
					t.Errorf("background = %q, want #ff0", got)
				}
			}).
			End()
	})

	t.Run("RangesFollowStructuralEdits", func(t *testing.T) {
		tc := NewSpreadsheetTestCase(t, "Ranges follow structural edits").
			Set("A2", "20").
			SetConditionalFormats(over).
			InsertRows(1, 2).
			AssertEffectiveStyle("A4", textColor("#f00")).
			DeleteRows(1, 1).
			AssertEffectiveStyle("A3", textColor("#f00")).
			MoveRows(3, 1, 5).
			AssertEffectiveStyle("A4", textColor("#f00")).
			AssertEffectiveStyle("A3", textColor(""))
		tc.End()
		if got := tc.spreadsheet.ConditionalFormats()[0].Range.String(); got != "A2:A6" {
			t.Errorf("rule range = %s, want A2:A6", got)
		}

		tc.DeleteRows(1, 6).End()
		if got := tc.spreadsheet.ConditionalFormats(); len(got) != 0 {
			t.Errorf("rule over deleted rows survived: %v", got)
		}
	})
}
