package interfaces

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Placeholder is rendered for absent or non-numeric values.
const Placeholder = "—"

var printer = message.NewPrinter(language.German)

// FormatNumber renders v with four fraction digits in de-DE notation.
func FormatNumber(v float64) string {
	return formatFixed(v, 4, "%.4f")
}

// FormatCurrency renders v with two fraction digits in de-DE notation.
func FormatCurrency(v float64) string {
	return formatFixed(v, 2, "%.2f")
}

func formatFixed(v float64, digits int, format string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	scale := math.Pow(10, float64(digits))
	rounded := math.Round(v*scale) / scale
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	return printer.Sprintf(format, rounded)
}
