package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// NormalizePrice renders a platform price as a two-decimal string ("12" -> "12.00").
// Platforms disagree on formatting; every adapter normalizes before returning a
// Product so that drift detection can compare prices as plain strings.
// Unparseable input is returned unchanged.
func NormalizePrice(s string) string {
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.StringFixed(2)
}

// ParseCents converts a major-unit amount ("99.00") to minor units (9900).
// Empty or invalid input yields 0.
func ParseCents(s string) int64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// ParseMinorUnits converts an amount already in minor units ("8900") to int64.
// WooCommerce Store API reports prices this way.
func ParseMinorUnits(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// FormatMinorUnits renders minor units as a major-unit string with the
// given number of decimals (8900, 2 -> "89.00").
func FormatMinorUnits(v int64, decimals int32) string {
	return decimal.New(v, -decimals).StringFixed(decimals)
}

// CartTotal sums price*quantity across cart items. Items with unparseable
// prices are skipped.
func CartTotal(items []CartItem) string {
	total := decimal.Zero
	for _, it := range items {
		p, err := decimal.NewFromString(it.Price)
		if err != nil {
			continue
		}
		total = total.Add(p.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.StringFixed(2)
}
