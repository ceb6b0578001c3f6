package spreadsheet

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const defaultCurrency = "USD"

// FormatValue renders a result for display under the number format of style,
// using the conventions of tag for grouping and decimal marks. non-numeric
// results ignore the number format.
func FormatValue(result Result, style Style, tag language.Tag) string {
	if result.Type != ResultNumber {
		return result.String()
	}

	dp := DefaultStyle.Int(StyleDecimalPlaces)
	if v, ok := style[StyleDecimalPlaces].(int); ok && v >= 0 {
		dp = v
	}

	p := message.NewPrinter(tag)
	v := result.Num
	switch style.String(StyleNumberFormat) {
	case NumberFormatNumber:
		return p.Sprint(number.Decimal(v, number.Scale(dp)))
	case NumberFormatPercent:
		return p.Sprint(number.Percent(v, number.Scale(dp)))
	case NumberFormatCurrency:
		code := style.String(StyleCurrency)
		if code == "" {
			code = defaultCurrency
		}
		unit, err := currency.ParseISO(code)
		if err != nil {
			unit = currency.USD
		}
		amount := p.Sprint(number.Decimal(math.Abs(v), number.Scale(dp)))
		symbol := p.Sprint(currency.NarrowSymbol(unit))
		if v < 0 {
			return "-" + symbol + amount
		}
		return symbol + amount
	case NumberFormatDate:
		return SerialToTime(v).Format(time.DateOnly)
	}
	return result.String()
}

// SerialToTime converts a date serial back into a UTC time
func SerialToTime(serial float64) time.Time {
	return time.UnixMilli(excelEpochMs + int64(math.Round(serial*msPerDay))).UTC()
}

// DateSerial returns the serial number of a calendar date
func DateSerial(year int, month time.Month, day int) float64 {
	return SerialTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
	"₩": "KRW",
}

var (
	exponentLiteral = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)[eE][+-]?\d+$`)
	decimalLiteral  = regexp.MustCompile(`^([+-])?(\d[\d,]*)(?:\.(\d*))?$`)
	leadingDot      = regexp.MustCompile(`^[+-]?\.\d+$`)
	groupedInteger  = regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)
	currencyLiteral = regexp.MustCompile(`^([+-])?\s*([$€£¥₩])\s*(\d[\d,]*(?:\.\d+)?|\.\d+)$`)
	percentLiteral  = regexp.MustCompile(`^([+-])?\s*(\d[\d,]*(?:\.\d+)?|\.\d+)\s*%$`)
	isoDate         = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	monthDay        = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
)

// InferValue decides how typed input that is not a formula is stored:
// booleans, currency amounts, percentages, dates and numbers become typed
// values, everything else is text. the returned style carries the number
// format hint, nil when none applies.
func InferValue(raw string) (Result, Style) {
	return InferValueAt(raw, time.Now())
}

// InferValueAt is InferValue with the year of month/day dates taken from
// reference.
func InferValueAt(raw string, reference time.Time) (Result, Style) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{}, nil
	}

	switch strings.ToLower(trimmed) {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}

	if m := currencyLiteral.FindStringSubmatch(trimmed); m != nil {
		if v, ok := parseNumberLiteral(m[1]+m[3], false, true); ok {
			return Num(v), Style{
				StyleNumberFormat: NumberFormatCurrency,
				StyleCurrency:     currencySymbols[m[2]],
			}
		}
	}
	if m := percentLiteral.FindStringSubmatch(trimmed); m != nil {
		if v, ok := parseNumberLiteral(m[1]+m[2], false, true); ok {
			return Num(v / 100), Style{StyleNumberFormat: NumberFormatPercent}
		}
	}
	if m := isoDate.FindStringSubmatch(trimmed); m != nil {
		if serial, ok := dateSerial(m[1], m[2], m[3]); ok {
			return Num(serial), Style{StyleNumberFormat: NumberFormatDate}
		}
	}
	if m := monthDay.FindStringSubmatch(trimmed); m != nil {
		if serial, ok := dateSerial(strconv.Itoa(reference.Year()), m[1], m[2]); ok {
			return Num(serial), Style{StyleNumberFormat: NumberFormatDate}
		}
	}
	if v, ok := parseNumberLiteral(trimmed, true, false); ok {
		return Num(v), nil
	}
	return Str(trimmed), nil
}

// parseNumberLiteral accepts plain decimals, comma grouped integers and,
// when allowed, exponents. integers padded with leading zeros are text
// unless padded is set, so codes like "007" keep their zeros.
func parseNumberLiteral(s string, exponent, padded bool) (float64, bool) {
	if s == "" || strings.ContainsAny(s, " \t") {
		return 0, false
	}
	if strings.ContainsAny(s, "eE") {
		if !exponent || !exponentLiteral.MatchString(s) {
			return 0, false
		}
		mantissa := strings.TrimLeft(s, "+-")
		if !padded && hasLeadingZero(strings.SplitN(mantissa, ".", 2)[0]) {
			return 0, false
		}
		return finiteFloat(s)
	}
	if m := decimalLiteral.FindStringSubmatch(s); m != nil {
		integer := m[2]
		if strings.Contains(integer, ",") {
			if !groupedInteger.MatchString(integer) {
				return 0, false
			}
			integer = strings.ReplaceAll(integer, ",", "")
		}
		if !padded && hasLeadingZero(integer) {
			return 0, false
		}
		literal := m[1] + integer
		if strings.Contains(s, ".") {
			literal += "." + m[3]
		}
		return finiteFloat(literal)
	}
	if leadingDot.MatchString(s) {
		return finiteFloat(s)
	}
	return 0, false
}

func hasLeadingZero(integer string) bool {
	return len(integer) > 1 && integer[0] == '0'
}

func finiteFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "."), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func dateSerial(year, month, day string) (float64, bool) {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return 0, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return 0, false
	}
	return SerialTime(t), true
}
