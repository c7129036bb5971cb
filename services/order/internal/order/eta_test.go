package order

import (
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name  string
		items []ETAItem
		want  int
	}{
		{
			name:  "singleFifteenMinuteItem",
			items: []ETAItem{{PreparationTime: "15", Quantity: 1}},
			want:  23,
		},
		{
			name:  "twoItemsTenAndTwenty",
			items: []ETAItem{{PreparationTime: "00:10:00", Quantity: 1}, {PreparationTime: "20", Quantity: 1}},
			want:  32,
		},
		{
			name:  "durationStringFormat",
			items: []ETAItem{{PreparationTime: "00:15:00", Quantity: 2}},
			want:  23,
		},
		{
			name:  "fractionalMinutesRoundUp",
			items: []ETAItem{{PreparationTime: "00:15:30", Quantity: 1}},
			want:  25,
		},
		{
			name:  "quantityCountsTowardsSequential",
			items: []ETAItem{{PreparationTime: "10", Quantity: 3}, {PreparationTime: "10", Quantity: 1}},
			want:  21,
		},
		{
			name:  "noItemsFloor",
			items: nil,
			want:  10,
		},
		{
			name:  "unresolvedDurationsFloor",
			items: []ETAItem{{PreparationTime: "", Quantity: 1}, {PreparationTime: "soon", Quantity: 2}},
			want:  10,
		},
		{
			name:  "shortItemClampedUp",
			items: []ETAItem{{PreparationTime: "2", Quantity: 1}},
			want:  10,
		},
		{
			name:  "longOrderClampedDown",
			items: []ETAItem{{PreparationTime: "01:00:00", Quantity: 4}, {PreparationTime: "30", Quantity: 2}},
			want:  60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(tt.items); got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParsePreparationTime(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "15", want: "15"},
		{raw: " 7.5 ", want: "7.5"},
		{raw: "00:20:00", want: "20"},
		{raw: "01:05:00", want: "65"},
		{raw: "12:30", want: "12.5"},
		{raw: "", want: "0"},
		{raw: "-5", want: "0"},
		{raw: "aa:bb:cc", want: "0"},
		{raw: "1:2:3:4", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParsePreparationTime(tt.raw).String(); got != tt.want {
				t.Errorf("ParsePreparationTime(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormatPreparationValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{name: "jsonNumber", value: float64(15), want: "15"},
		{name: "durationString", value: "00:12:00", want: "00:12:00"},
		{name: "missing", value: nil, want: ""},
		{name: "integer", value: 8, want: "8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPreparationValue(tt.value); got != tt.want {
				t.Errorf("FormatPreparationValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestEstimateItemsSkipsNil(t *testing.T) {
	items := []*OrderItem{nil, {PreparationTime: "15", Quantity: 1}}
	if got := EstimateItems(items); got != 23 {
		t.Errorf("EstimateItems() = %d, want 23", got)
	}
}
