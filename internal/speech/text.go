package speech

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FormatText normalizes a spoken plate or ticket number: separators are
// dropped and letters upper-cased.
func FormatText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// JoinText spells a value one character at a time so the synthesizer
// pauses between them.
func JoinText(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}

// DateString renders a dd/mm/yyyy date as "5 de marzo de 2024". A trailing
// time component is ignored; anything unparseable is returned trimmed.
func DateString(date string) string {
	date = strings.TrimSpace(date)
	if i := strings.IndexByte(date, ' '); i >= 0 {
		date = date[:i]
	}
	parts := strings.Split(date, "/")
	if len(parts) != 3 {
		return date
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return date
	}
	return strconv.Itoa(day) + " de " + monthNames[month-1] + " de " + parts[2]
}

// RoundAmount rounds to cents.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}

// SpokenAmount prints a rounded amount without trailing zeros.
func SpokenAmount(v float64) string {
	return strconv.FormatFloat(RoundAmount(v), 'f', -1, 64)
}
