package order

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinETAMinutes        = 10
	MaxETAMinutes        = 60
	ProcessingETAMinutes = 5
)

var (
	bufferRatio     = decimal.RequireFromString("0.20")
	sequentialRatio = decimal.RequireFromString("0.10")
	sixty           = decimal.NewFromInt(60)
)

// ETAItem is one line of an estimate. PreparationTime is a per-unit duration
// in either HH:MM:SS form or plain minutes.
type ETAItem struct {
	PreparationTime string
	Quantity        int
}

// Estimate returns the promised ready time in minutes. It is always within
// [MinETAMinutes, MaxETAMinutes], whatever the input.
func Estimate(items []ETAItem) int {
	base := decimal.Zero
	load := decimal.Zero
	for _, item := range items {
		d := ParsePreparationTime(item.PreparationTime)
		if d.GreaterThan(base) {
			base = d
		}
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		load = load.Add(d.Mul(decimal.NewFromInt(int64(qty))))
	}

	if base.IsZero() {
		return MinETAMinutes
	}

	buffer := base.Mul(bufferRatio).Ceil()
	sequential := decimal.Zero
	if len(items) > 1 {
		sequential = load.Mul(sequentialRatio).Ceil()
	}

	total := base.Add(buffer).Add(decimal.NewFromInt(ProcessingETAMinutes)).Add(sequential).Ceil()
	return clampETA(int(total.IntPart()))
}

// EstimateItems estimates from stored line item snapshots.
func EstimateItems(items []*OrderItem) int {
	lines := make([]ETAItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		lines = append(lines, ETAItem{PreparationTime: item.PreparationTime, Quantity: item.Quantity})
	}
	return Estimate(lines)
}

// ParsePreparationTime converts "HH:MM:SS", "MM:SS" or a number of minutes to
// minutes. Unparseable or negative input counts as zero.
func ParsePreparationTime(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}

	if !strings.Contains(raw, ":") {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return decimal.Zero
		}
		return d
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return decimal.Zero
	}
	// Right-align so MM:SS and HH:MM:SS share the same arithmetic.
	var hms [3]int64
	offset := 3 - len(parts)
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return decimal.Zero
		}
		hms[offset+i] = n
	}

	minutes := decimal.NewFromInt(hms[0]*60 + hms[1])
	return minutes.Add(decimal.NewFromInt(hms[2]).Div(sixty))
}

// FormatPreparationValue normalizes a decoded JSON menu value into the
// string snapshot stored on line items.
func FormatPreparationValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return decimal.NewFromFloat(value).String()
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprint(value)
	}
}

func clampETA(minutes int) int {
	if minutes < MinETAMinutes {
		return MinETAMinutes
	}
	if minutes > MaxETAMinutes {
		return MaxETAMinutes
	}
	return minutes
}
