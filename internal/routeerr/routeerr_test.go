package routeerr

import (
	"reflect"
	"testing"
)

func TestPriceChange_String(t *testing.T) {
	got := PriceChange("10.00", "12.00").String()
	want := "PRICE_CHANGE: Price changed: 10.00 → 12.00. Verify before placing order."
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestPriceChange_RoundTrip(t *testing.T) {
	stored := PriceChange("10.00", "12.00").String()

	oldPrice, newPrice, ok := ExtractPriceChange(stored)
	if !ok {
		t.Fatalf("ExtractPriceChange(%q) ok = false", stored)
	}
	if oldPrice != "10.00" || newPrice != "12.00" {
		t.Errorf("ExtractPriceChange() = (%q, %q), want (10.00, 12.00)", oldPrice, newPrice)
	}

	e, ok := Decode(stored)
	if !ok {
		t.Fatal("Decode() ok = false")
	}
	if e.Kind != KindPriceChange || e.OldPrice != "10.00" || e.NewPrice != "12.00" {
		t.Errorf("Decode() = %+v", e)
	}
}

func TestExtractPriceChange(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantOld string
		wantNew string
		wantOK  bool
	}{
		{"current without prefix", "Price changed: 5.99 → 6.49. Verify before placing order.", "5.99", "6.49", true},
		{"legacy", "Price changed from 19.99 to 24.99", "19.99", "24.99", true},
		{"legacy with period", "PRICE_CHANGE: Price changed from 1.00 to 2.00.", "1.00", "2.00", true},
		{"unrelated", "ORDER_PLACEMENT_ERROR: out of stock", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldPrice, newPrice, ok := ExtractPriceChange(tt.msg)
			if ok != tt.wantOK || oldPrice != tt.wantOld || newPrice != tt.wantNew {
				t.Errorf("ExtractPriceChange(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.msg, oldPrice, newPrice, ok, tt.wantOld, tt.wantNew, tt.wantOK)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Parsed
	}{
		{
			name:  "placement error",
			input: "ORDER_PLACEMENT_ERROR: Insufficient stock: Widget",
			want: Parsed{
				Type:    KindPlacementError,
				Message: "Insufficient stock: Widget",
				Title:   "Order Placement Failed",
				Actions: []Action{ActionDismiss, ActionRetry},
			},
		},
		{
			name:  "match error",
			input: "MATCH_ERROR: No matches found",
			want: Parsed{
				Type:    KindMatchError,
				Message: "No matches found",
				Title:   "No Match Found",
				Actions: []Action{ActionDismiss},
			},
		},
		{
			name:  "price change",
			input: PriceChange("1.00", "2.00").String(),
			want: Parsed{
				Type:    KindPriceChange,
				Message: "Price changed: 1.00 → 2.00. Verify before placing order.",
				Title:   "Price Changed",
				Actions: []Action{ActionDismiss, ActionUpdatePrice},
			},
		},
		{
			name:  "unknown prefix",
			input: "SOMETHING_ELSE: boom",
			want: Parsed{
				Type:    KindUnknown,
				Message: "SOMETHING_ELSE: boom",
				Title:   "Error",
				Actions: []Action{ActionDismiss},
			},
		},
		{
			name:  "no prefix",
			input: "No matching link found for this order",
			want: Parsed{
				Type:    KindUnknown,
				Message: "No matching link found for this order",
				Title:   "Error",
				Actions: []Action{ActionDismiss},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) ok = false", tt.input)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	if _, ok := Parse(""); ok {
		t.Error("Parse(\"\") ok = true, want false")
	}
}

func TestActions_ReturnsCopy(t *testing.T) {
	a := Placement("x").Actions()
	a[0] = "mutated"
	if got := Placement("x").Actions()[0]; got != ActionDismiss {
		t.Errorf("Actions()[0] = %q after mutation of a copy, want %q", got, ActionDismiss)
	}
}
