package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/filter"
	"github.com/openshiporg/openship-sub005/internal/linking"
	"github.com/openshiporg/openship-sub005/internal/matching"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/placement"
	"github.com/openshiporg/openship-sub005/internal/testutil"
)

func newHook(t *testing.T, env *testutil.Env) *Hook {
	t.Helper()
	eval, err := filter.NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	return New(env.Store,
		linking.New(env.Store, eval, nil),
		matching.New(env.Store, nil),
		cart.New(env.Store, env.Exec, nil),
		placement.New(env.Store, env.Exec, placement.Options{}),
		nil,
	)
}

func run(t *testing.T, h *Hook, o *model.Order) *model.Order {
	t.Helper()
	plan, err := h.Plan(context.Background(), o)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return h.Run(context.Background(), o, plan)
}

func TestPlanFor(t *testing.T) {
	tests := []struct {
		name     string
		order    model.Order
		hasLinks bool
		want     Plan
	}{
		{"links win", model.Order{LinkOrder: true, MatchOrder: true, ProcessOrder: true}, true, Plan{ModeLinkBased, true}},
		{"no links falls to match", model.Order{LinkOrder: true, MatchOrder: true}, false, Plan{ModeMatchBased, false}},
		{"match", model.Order{MatchOrder: true}, true, Plan{ModeMatchBased, false}},
		{"direct", model.Order{ProcessOrder: true}, false, Plan{ModeDirect, true}},
		{"cart only is placed as given", model.Order{LinkOrder: true, MatchOrder: true, ProcessOrder: true,
			CartItems: []model.CartItem{{ProductID: "C1", Quantity: 1}}}, true, Plan{ModeDirect, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanFor(&tt.order, tt.hasLinks); got != tt.want {
				t.Errorf("PlanFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRun_LinkThenPlace(t *testing.T) {
	env := testutil.New(t)
	var calls atomic.Int32
	ch := env.Channel("supplier", &adapter.Mock{CreatePurchaseFunc: func(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
		calls.Add(1)
		return &adapter.PurchaseResult{PurchaseID: "PO-9", URL: "https://s/9"}, nil
	}})
	if err := env.Store.CreateLink(context.Background(), &model.Link{ShopID: env.Shop.ID, ChannelID: ch.ID, Rank: 1}); err != nil {
		t.Fatal(err)
	}
	o := env.Order(&model.Order{LinkOrder: true, ProcessOrder: true, LineItems: []model.LineItem{{ProductID: "P1", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if got.Status != model.OrderStatusAwaiting || got.Error != "" {
		t.Errorf("order = %s %q, want AWAITING", got.Status, got.Error)
	}
	if calls.Load() != 1 || len(got.CartItems) != 1 {
		t.Errorf("calls = %d, cart items = %d, want 1/1", calls.Load(), len(got.CartItems))
	}
}

func TestRun_LinkNoMatch(t *testing.T) {
	env := testutil.New(t)
	ch := env.Channel("supplier", &adapter.Mock{})
	link := &model.Link{ShopID: env.Shop.ID, ChannelID: ch.ID, Rank: 1, Filters: []model.Filter{{Field: "country", Type: "is", Value: "FR"}}}
	if err := env.Store.CreateLink(context.Background(), link); err != nil {
		t.Fatal(err)
	}
	o := env.Order(&model.Order{Country: "US", LinkOrder: true, MatchOrder: true, ProcessOrder: true, LineItems: []model.LineItem{{ProductID: "P1", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if got.Error != linking.NoLinkMessage || got.Status != model.OrderStatusPending {
		t.Errorf("order = %s %q, want PENDING with link error", got.Status, got.Error)
	}
}

func TestRun_MatchThenPlace(t *testing.T) {
	env := testutil.New(t)
	ch := env.Channel("supplier", &adapter.Mock{
		GetProductFunc: testutil.Products(map[string]string{"C1": "10.00"}),
		CreatePurchaseFunc: func(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
			return &adapter.PurchaseResult{PurchaseID: "PO-1"}, nil
		},
	})
	match := &model.Match{
		UserID: env.User.ID,
		Input:  []model.MatchInput{{ProductID: "P1", VariantID: "V1", Quantity: 1}},
		Output: []model.MatchOutput{{ProductID: "C1", Quantity: 1, Price: "10.00", ChannelID: ch.ID}},
	}
	if err := env.Store.CreateMatch(context.Background(), match); err != nil {
		t.Fatal(err)
	}
	o := env.Order(&model.Order{MatchOrder: true, ProcessOrder: true, LineItems: []model.LineItem{{ProductID: "P1", VariantID: "V1", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if got.Status != model.OrderStatusAwaiting {
		t.Errorf("Status = %s (%q), want AWAITING", got.Status, got.Error)
	}
	if len(got.CartItems) != 1 || got.CartItems[0].PurchaseID != "PO-1" {
		t.Errorf("cart items = %+v, want one placed item", got.CartItems)
	}
}

func TestRun_MatchErrorSkipsPlacement(t *testing.T) {
	env := testutil.New(t)
	o := env.Order(&model.Order{MatchOrder: true, ProcessOrder: true, LineItems: []model.LineItem{{ProductID: "P1", Quantity: 1}, {ProductID: "P2", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if !strings.HasPrefix(got.Error, "MATCH_ERROR: ") || got.Status != model.OrderStatusPending {
		t.Errorf("order = %s %q, want PENDING MATCH_ERROR", got.Status, got.Error)
	}
}

func TestRun_DirectPlacement(t *testing.T) {
	env := testutil.New(t)
	ch := env.Channel("supplier", &adapter.Mock{CreatePurchaseFunc: func(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
		return &adapter.PurchaseResult{PurchaseID: "PO-D"}, nil
	}})
	o := env.Order(&model.Order{ProcessOrder: true, CartItems: []model.CartItem{{ChannelID: ch.ID, ProductID: "C1", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if got.Status != model.OrderStatusAwaiting {
		t.Errorf("Status = %s, want AWAITING", got.Status)
	}
}

func TestRun_DirectWithoutAutoPlace(t *testing.T) {
	env := testutil.New(t)
	ch := env.Channel("supplier", &adapter.Mock{})
	o := env.Order(&model.Order{CartItems: []model.CartItem{{ChannelID: ch.ID, ProductID: "C1", Quantity: 1}}})

	got := run(t, newHook(t, env), o)
	if got.Status != model.OrderStatusPending || got.CartItems[0].PurchaseID != "" {
		t.Errorf("order = %s, want untouched PENDING", got.Status)
	}
}

func TestRun_PanicIsRecorded(t *testing.T) {
	env := testutil.New(t)
	o := env.Order(&model.Order{MatchOrder: true, LineItems: []model.LineItem{{ProductID: "P1", Quantity: 1}}})

	// a hook without a matcher panics inside the match branch
	h := New(env.Store, nil, nil, nil, nil, nil)
	got := h.Run(context.Background(), o, Plan{Mode: ModeMatchBased})
	if !strings.HasPrefix(got.Error, "UNKNOWN_ERROR: ") || got.Status != model.OrderStatusPending {
		t.Errorf("order = %s %q, want PENDING UNKNOWN_ERROR", got.Status, got.Error)
	}
}

func TestAddMatchToCart_ClearsMatchError(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	ch := env.Channel("supplier", &adapter.Mock{GetProductFunc: testutil.Products(map[string]string{"C1": "1.00"})})
	o := env.Order(&model.Order{
		Error:     "MATCH_ERROR: nothing yet",
		LineItems: []model.LineItem{{ProductID: "P1", Quantity: 1}},
	})
	if err := env.Store.SetOrderError(ctx, o.ID, "MATCH_ERROR: nothing yet"); err != nil {
		t.Fatal(err)
	}
	match := &model.Match{
		UserID: env.User.ID,
		Input:  []model.MatchInput{{ProductID: "P1", Quantity: 1}},
		Output: []model.MatchOutput{{ProductID: "C1", Quantity: 1, Price: "1.00", ChannelID: ch.ID}},
	}
	if err := env.Store.CreateMatch(ctx, match); err != nil {
		t.Fatal(err)
	}

	got, err := newHook(t, env).AddMatchToCart(ctx, o.ID)
	if err != nil {
		t.Fatalf("AddMatchToCart() error = %v", err)
	}
	if got.Error != "" || len(got.CartItems) != 1 {
		t.Errorf("order = %q with %d cart items, want cleared error and 1 item", got.Error, len(got.CartItems))
	}
}

func TestAddMatchToCart_RefusesRoutedOrders(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	ch := env.Channel("supplier", &adapter.Mock{GetProductFunc: testutil.Products(map[string]string{"C1": "1.00"})})
	if err := env.Store.CreateMatch(ctx, &model.Match{
		UserID: env.User.ID,
		Input:  []model.MatchInput{{ProductID: "P1", Quantity: 1}},
		Output: []model.MatchOutput{{ProductID: "C1", Quantity: 1, Price: "1.00", ChannelID: ch.ID}},
	}); err != nil {
		t.Fatal(err)
	}
	lines := func() []model.LineItem { return []model.LineItem{{ProductID: "P1", Quantity: 1}} }

	tests := []struct {
		name  string
		order *model.Order
	}{
		{"awaiting", &model.Order{Status: model.OrderStatusAwaiting, LineItems: lines()}},
		{"complete", &model.Order{Status: model.OrderStatusComplete, LineItems: lines()}},
		{"active cart items", &model.Order{LineItems: lines(), CartItems: []model.CartItem{{ChannelID: ch.ID, ProductID: "C1", Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := env.Order(tt.order)
			before := len(env.Reload(o.ID).CartItems)

			_, err := newHook(t, env).AddMatchToCart(ctx, o.ID)
			if !errors.Is(err, model.ErrConflict) {
				t.Errorf("AddMatchToCart() error = %v, want ErrConflict", err)
			}
			if got := len(env.Reload(o.ID).CartItems); got != before {
				t.Errorf("len(CartItems) = %d, want %d", got, before)
			}
		})
	}
}
