// Package testutil wires a memory store, an executor and mock adapters for
// pipeline tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// AllSlots wires every function slot of a platform to one module.
func AllSlots(module string) map[string]string {
	slots := []string{
		model.SlotSearchProducts, model.SlotGetProduct, model.SlotCreatePurchase,
		model.SlotCreateWebhook, model.SlotDeleteWebhook, model.SlotGetWebhooks,
		model.SlotOAuth, model.SlotOAuthCallback,
		model.SlotCreateOrderWebhook, model.SlotCancelOrderWebhook,
		model.SlotCreateTracking, model.SlotCancelPurchase, model.SlotAddCartToOrder,
	}
	fns := make(map[string]string, len(slots))
	for _, s := range slots {
		fns[s] = module
	}
	return fns
}

// Env is a seeded routing environment: one user, one shop on a mock shop
// platform, and channels created on demand.
type Env struct {
	T        testing.TB
	Store    *store.Memory
	Registry *adapter.Registry
	Exec     *executor.Executor
	User     *model.User
	Shop     *model.Shop
	ShopMock *adapter.Mock
}

// New builds an Env with a 2s adapter timeout.
func New(t testing.TB) *Env {
	t.Helper()
	return NewWithTimeout(t, 2*time.Second)
}

func NewWithTimeout(t testing.TB, timeout time.Duration) *Env {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	reg := adapter.NewRegistry()
	env := &Env{
		T:        t,
		Store:    st,
		Registry: reg,
		Exec:     executor.New(executor.Options{Registry: reg, Timeout: timeout, Tokens: st}),
		User:     &model.User{Name: "ops", Email: "ops@example.com", APIKey: "test-key"},
		ShopMock: &adapter.Mock{},
	}
	must(t, st.CreateUser(ctx, env.User))

	reg.Register("shop-mock", env.ShopMock)
	pf := &model.Platform{Name: "Shop", Kind: model.PlatformKindShop, Functions: AllSlots("shop-mock"), UserID: env.User.ID}
	must(t, st.CreatePlatform(ctx, pf))

	env.Shop = &model.Shop{
		Name:       "Storefront",
		Binding:    model.Binding{Domain: "store.example", AccessToken: "shop-token"},
		LinkMode:   model.LinkModeSequential,
		PlatformID: pf.ID,
		UserID:     env.User.ID,
	}
	must(t, st.CreateShop(ctx, env.Shop))
	env.Shop.Platform = pf
	return env
}

// Channel creates a channel on its own platform backed by mock.
func (e *Env) Channel(name string, mock *adapter.Mock) *model.Channel {
	e.T.Helper()
	ctx := context.Background()
	module := "channel-" + name
	e.Registry.Register(module, mock)
	pf := &model.Platform{Name: name, Kind: model.PlatformKindChannel, Functions: AllSlots(module), UserID: e.User.ID}
	must(e.T, e.Store.CreatePlatform(ctx, pf))
	ch := &model.Channel{
		Name:       name,
		Binding:    model.Binding{Domain: name + ".example", AccessToken: name + "-token"},
		PlatformID: pf.ID,
		UserID:     e.User.ID,
	}
	must(e.T, e.Store.CreateChannel(ctx, ch))
	ch.Platform = pf
	return ch
}

// Order creates an order for the env's user and shop.
func (e *Env) Order(o *model.Order) *model.Order {
	e.T.Helper()
	o.UserID = e.User.ID
	if o.ShopID == "" {
		o.ShopID = e.Shop.ID
	}
	must(e.T, e.Store.CreateOrder(context.Background(), o))
	return o
}

// Reload fetches the order with its line and cart items.
func (e *Env) Reload(id string) *model.Order {
	e.T.Helper()
	o, err := e.Store.GetOrder(context.Background(), id)
	must(e.T, err)
	return o
}

// Products returns a GetProduct func serving prices by product id.
func Products(prices map[string]string) func(context.Context, *adapter.GetProductRequest) (*adapter.GetProductResult, error) {
	return func(ctx context.Context, req *adapter.GetProductRequest) (*adapter.GetProductResult, error) {
		price, ok := prices[req.ProductID]
		if !ok {
			return nil, model.NewNotFoundError("product " + req.ProductID)
		}
		return &adapter.GetProductResult{Product: model.Product{
			ProductID:        req.ProductID,
			VariantID:        req.VariantID,
			Title:            "Product " + req.ProductID,
			Price:            price,
			AvailableForSale: true,
		}}, nil
	}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
}
