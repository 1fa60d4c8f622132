// Package parser provides text normalization helpers for scraped values.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrPriceParse reports a price string whose remainder was not numeric
// after currency markers and separators were stripped.
type ErrPriceParse struct {
	Value string
	Err   error
}

func (e ErrPriceParse) Error() string {
	return fmt.Sprintf("parse price from %q: %v", e.Value, e.Err)
}

func (e ErrPriceParse) Unwrap() error {
	return e.Err
}

// NormalizePrice converts a price-like string to a number. It strips
// the "S/." and "S/" currency markers, thousands-separator commas, and
// surrounding whitespace before parsing the remainder as a decimal.
func NormalizePrice(raw string) (float64, error) {
	cleaned := strings.ReplaceAll(raw, "S/.", "")
	cleaned = strings.ReplaceAll(cleaned, "S/", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, ErrPriceParse{Value: raw, Err: err}
	}
	return price, nil
}
