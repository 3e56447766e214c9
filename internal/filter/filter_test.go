package filter

import (
	"testing"

	"github.com/openshiporg/openship-sub005/internal/model"
)

func testOrder() *model.Order {
	return &model.Order{
		ID:         "o1",
		Email:      "Buyer@Example.com",
		Country:    "US",
		State:      "CA",
		TotalPrice: "120.50",
		Currency:   "USD",
		LineItems: []model.LineItem{
			{ProductID: "P1", VariantID: "V1", Quantity: 2, SKU: "ABC-1", Price: "50.00"},
			{ProductID: "P2", VariantID: "V2", Quantity: 1, SKU: "XYZ-9", Price: "20.50"},
		},
	}
}

func TestBuildWhere(t *testing.T) {
	w, err := BuildWhere(nil)
	if err != nil || len(w) != 0 {
		t.Fatalf("BuildWhere(nil) = %v, %v, want empty clause", w, err)
	}

	w, err = BuildWhere([]model.Filter{
		{Field: "country", Type: "is", Value: "US"},
		{Field: "email", Type: "not_contains_i", Value: "test"},
	})
	if err != nil {
		t.Fatalf("BuildWhere() error = %v", err)
	}
	and, ok := w["AND"].([]any)
	if !ok || len(and) != 2 {
		t.Fatalf("BuildWhere() AND = %v, want 2 conditions", w["AND"])
	}
	if _, ok := and[1].(map[string]any)["NOT"]; !ok {
		t.Errorf("negated filter = %v, want NOT wrapper", and[1])
	}

	if _, err := BuildWhere([]model.Filter{{Field: "country", Type: "regex", Value: "U."}}); err == nil {
		t.Error("BuildWhere(unknown type) error = nil, want error")
	}
	if _, err := BuildWhere([]model.Filter{{Type: "is", Value: "US"}}); err == nil {
		t.Error("BuildWhere(no field) error = nil, want error")
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name  string
		where map[string]any
		want  string
	}{
		{"empty", map[string]any{}, "true"},
		{"equals string", map[string]any{"country": map[string]any{"equals": "US"}}, `order.country == "US"`},
		{"numeric gets float literal", map[string]any{"totalPrice": map[string]any{"gt": float64(100)}}, `double(order.totalPrice) > 100.0`},
		{"fraction", map[string]any{"totalPrice": map[string]any{"lte": 99.5}}, `double(order.totalPrice) <= 99.5`},
		{"insensitive", map[string]any{"email": map[string]any{"contains": "Example", "mode": "insensitive"}}, `string(string(order.email).lowerAscii()).contains("example")`},
		{"in", map[string]any{"state": map[string]any{"in": []any{"CA", "NY"}}}, `order.state in ["CA", "NY"]`},
		{"quoted", map[string]any{"city": map[string]any{"equals": `a"b`}}, `order.city == "a\"b"`},
		{
			"some line item",
			map[string]any{"lineItems": map[string]any{"some": map[string]any{"sku": map[string]any{"startsWith": "ABC"}}}},
			`order.lineItems.exists(x1, string(x1.sku).startsWith("ABC"))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compile(tt.where)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compile() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	bad := []map[string]any{
		{"country": "US"},
		{"country": map[string]any{"matches": "U.*"}},
		{"email": map[string]any{"contains": 5.0}},
		{"AND": "nope"},
		{"lineItems": map[string]any{"any": map[string]any{}}},
	}
	for _, w := range bad {
		if _, err := Compile(w); err == nil {
			t.Errorf("Compile(%v) error = nil, want error", w)
		}
	}
}

func TestEvaluator_Matches(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	order := testOrder()

	tests := []struct {
		name  string
		where map[string]any
		want  bool
	}{
		{"empty matches all", map[string]any{}, true},
		{"country", map[string]any{"country": map[string]any{"equals": "US"}}, true},
		{"country mismatch", map[string]any{"country": map[string]any{"equals": "CA"}}, false},
		{"price threshold", map[string]any{"totalPrice": map[string]any{"gte": 100.0}}, true},
		{"price below", map[string]any{"totalPrice": map[string]any{"lt": 100.0}}, false},
		{"insensitive email", map[string]any{"email": map[string]any{"endsWith": "EXAMPLE.COM", "mode": "insensitive"}}, true},
		{"case sensitive email", map[string]any{"email": map[string]any{"endsWith": "EXAMPLE.COM"}}, false},
		{"notIn", map[string]any{"state": map[string]any{"notIn": []any{"NY", "TX"}}}, true},
		{"not nested", map[string]any{"state": map[string]any{"not": map[string]any{"equals": "CA"}}}, false},
		{
			"OR",
			map[string]any{"OR": []any{
				map[string]any{"country": map[string]any{"equals": "CA"}},
				map[string]any{"state": map[string]any{"equals": "CA"}},
			}},
			true,
		},
		{"NOT", map[string]any{"NOT": []any{map[string]any{"country": map[string]any{"equals": "US"}}}}, false},
		{"some sku", map[string]any{"lineItems": map[string]any{"some": map[string]any{"sku": map[string]any{"startsWith": "XYZ"}}}}, true},
		{"every quantity", map[string]any{"lineItems": map[string]any{"every": map[string]any{"quantity": map[string]any{"gte": 2.0}}}}, false},
		{"none sku", map[string]any{"lineItems": map[string]any{"none": map[string]any{"sku": map[string]any{"equals": "NOPE"}}}}, true},
		{"unknown field is no match", map[string]any{"giftNote": map[string]any{"equals": "x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Matches(tt.where, order)
			if err != nil {
				t.Fatalf("Matches() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_FiltersEndToEnd(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	link := &model.Link{Filters: []model.Filter{
		{Field: "country", Type: "is", Value: "US"},
		{Field: "email", Type: "contains_i", Value: "BUYER"},
		{Field: "lineItems", Type: "some", Value: map[string]any{"sku": map[string]any{"equals": "ABC-1"}}},
	}}
	where, err := WhereFor(link)
	if err != nil {
		t.Fatalf("WhereFor() error = %v", err)
	}
	ok, err := e.Matches(where, testOrder())
	if err != nil || !ok {
		t.Errorf("Matches() = %v, %v, want true", ok, err)
	}

	// dynamic clause wins over filters
	link.DynamicWhereClause = map[string]any{"country": map[string]any{"equals": "DE"}}
	where, _ = WhereFor(link)
	if ok, _ := e.Matches(where, testOrder()); ok {
		t.Error("Matches(dynamic clause) = true, want false")
	}
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	e, _ := NewEvaluator()
	w := map[string]any{"country": map[string]any{"equals": "US"}}
	for i := 0; i < 3; i++ {
		if _, err := e.Matches(w, testOrder()); err != nil {
			t.Fatal(err)
		}
	}
	if len(e.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(e.cache))
	}
}
