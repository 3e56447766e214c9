package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/webhooksig"
)

// fakeStore serves canned REST v3 responses and records requests.
type fakeStore struct {
	t        *testing.T
	mux      *http.ServeMux
	requests []string
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	fs := &fakeStore{t: t, mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ck_test" || pass != "cs_test" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"code":"woocommerce_rest_cannot_view","message":"no"}`)
			return
		}
		fs.requests = append(fs.requests, r.Method+" "+r.URL.Path)
		fs.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func platformFor(srv *httptest.Server) adapter.PlatformConfig {
	return adapter.PlatformConfig{Domain: srv.URL, AccessToken: "ck_test:cs_test"}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestSearchProducts(t *testing.T) {
	fs, srv := newFakeStore(t)
	fs.mux.HandleFunc("GET "+restAPIPath+"/products", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "mug" {
			t.Errorf("search = %q, want mug", got)
		}
		w.Header().Set("X-WP-TotalPages", "3")
		writeJSON(w, []WooProduct{{ID: 7, Name: "Mug", Price: "12", Purchasable: true, StockStatus: "instock"}})
	})

	c := New(Config{HTTPClient: srv.Client()})
	res, err := c.SearchProducts(context.Background(), &adapter.SearchProductsRequest{Platform: platformFor(srv), SearchEntry: "mug", After: "2"})
	if err != nil {
		t.Fatalf("SearchProducts() error = %v", err)
	}
	if len(res.Products) != 1 || res.Products[0].Price != "12.00" || !res.Products[0].AvailableForSale {
		t.Errorf("Products = %+v", res.Products)
	}
	if !res.PageInfo.HasNextPage || res.PageInfo.EndCursor != "3" {
		t.Errorf("PageInfo = %+v, want next page 3", res.PageInfo)
	}
}

func TestGetProduct_Variation(t *testing.T) {
	fs, srv := newFakeStore(t)
	qty := 4
	fs.mux.HandleFunc("GET "+restAPIPath+"/products/10", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, WooProduct{ID: 10, Name: "Shirt", Permalink: "https://s/shirt", Images: []WooImage{{Src: "https://s/shirt.jpg"}}})
	})
	fs.mux.HandleFunc("GET "+restAPIPath+"/products/10/variations/11", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, WooProduct{ID: 11, Price: "19.5", Purchasable: true, StockStatus: "instock", ManageStock: true, StockQuantity: &qty})
	})

	c := New(Config{HTTPClient: srv.Client()})
	res, err := c.GetProduct(context.Background(), &adapter.GetProductRequest{Platform: platformFor(srv), ProductID: "10", VariantID: "11"})
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	p := res.Product
	if p.ProductID != "10" || p.VariantID != "11" || p.Price != "19.50" || p.Title != "Shirt" || p.Image != "https://s/shirt.jpg" {
		t.Errorf("Product = %+v", p)
	}
	if p.Inventory == nil || *p.Inventory != 4 || !p.InventoryTracked {
		t.Errorf("Inventory = %v tracked=%v, want 4 tracked", p.Inventory, p.InventoryTracked)
	}
}

func TestGetProduct_Errors(t *testing.T) {
	_, srv := newFakeStore(t)
	c := New(Config{HTTPClient: srv.Client()})

	_, err := c.GetProduct(context.Background(), &adapter.GetProductRequest{Platform: platformFor(srv), ProductID: "404"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing product error = %v, want ErrNotFound", err)
	}

	bad := platformFor(srv)
	bad.AccessToken = "ck_test:wrong"
	_, err = c.GetProduct(context.Background(), &adapter.GetProductRequest{Platform: bad, ProductID: "1"})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("bad credentials error = %v, want ErrUnauthorized", err)
	}

	_, err = c.GetProduct(context.Background(), &adapter.GetProductRequest{Platform: adapter.PlatformConfig{Domain: srv.URL}, ProductID: "1"})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("no credentials error = %v, want ErrUnauthorized", err)
	}
}

func TestCreatePurchase(t *testing.T) {
	fs, srv := newFakeStore(t)
	var got WooOrderRequest
	fs.mux.HandleFunc("POST "+restAPIPath+"/orders", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		writeJSON(w, WooOrder{ID: 501, Number: "501", Status: "processing", Total: "30", LineItems: []WooLineItem{
			{ID: 1, ProductID: 10, VariationID: 11, Quantity: 2, Total: "30.00", Name: "Shirt"},
		}})
	})

	c := New(Config{HTTPClient: srv.Client()})
	res, err := c.CreatePurchase(context.Background(), &adapter.CreatePurchaseRequest{
		Platform:  platformFor(srv),
		CartItems: []adapter.PurchaseItem{{ProductID: "10", VariantID: "11", Quantity: 2}},
		Shipping:  adapter.Shipping{FirstName: "Ada", Address1: "1 Main", City: "Austin", Province: "TX", Zip: "78701", Country: "US", Email: "ada@example.com"},
		Notes:     "order #1001",
	})
	if err != nil {
		t.Fatalf("CreatePurchase() error = %v", err)
	}
	if res.PurchaseID != "501" || res.TotalPrice != "30.00" || !strings.Contains(res.URL, "post=501") {
		t.Errorf("result = %+v", res)
	}
	if len(res.LineItems) != 1 || res.LineItems[0].Price != "15.00" || res.LineItems[0].VariantID != "11" {
		t.Errorf("LineItems = %+v", res.LineItems)
	}
	if len(got.LineItems) != 1 || got.LineItems[0].VariationID != 11 || got.Shipping.State != "TX" || got.Billing.Email != "ada@example.com" {
		t.Errorf("request = %+v", got)
	}
	if got.CustomerNote != "order #1001" {
		t.Errorf("CustomerNote = %q", got.CustomerNote)
	}
}

func TestCreatePurchase_InvalidProductID(t *testing.T) {
	_, srv := newFakeStore(t)
	c := New(Config{HTTPClient: srv.Client()})
	_, err := c.CreatePurchase(context.Background(), &adapter.CreatePurchaseRequest{
		Platform:  platformFor(srv),
		CartItems: []adapter.PurchaseItem{{ProductID: "gid://x", Quantity: 1}},
	})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestWebhookRegistration(t *testing.T) {
	fs, srv := newFakeStore(t)
	var topics []string
	fs.mux.HandleFunc("POST "+restAPIPath+"/webhooks", func(w http.ResponseWriter, r *http.Request) {
		var in WooWebhook
		json.NewDecoder(r.Body).Decode(&in)
		if in.Secret != "cs_test" {
			t.Errorf("Secret = %q, want consumer secret", in.Secret)
		}
		topics = append(topics, in.Topic)
		in.ID = 100 + len(topics)
		writeJSON(w, in)
	})
	fs.mux.HandleFunc("GET "+restAPIPath+"/webhooks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []WooWebhook{{ID: 101, Topic: "order.created", DeliveryURL: "https://o/hook"}})
	})
	fs.mux.HandleFunc("DELETE "+restAPIPath+"/webhooks/101", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("force") != "true" {
			t.Error("delete without force=true")
		}
		writeJSON(w, WooWebhook{ID: 101})
	})

	c := New(Config{HTTPClient: srv.Client()})
	ctx := context.Background()
	created, err := c.CreateWebhook(ctx, &adapter.CreateWebhookRequest{
		Platform: platformFor(srv),
		Endpoint: "https://o/hook",
		Events:   []string{"ORDER_CREATED", "ORDER_CANCELLED", "TRACKING_CREATED"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	if strings.Join(topics, ",") != "order.created,order.updated" {
		t.Errorf("topics = %v, want order.created,order.updated", topics)
	}
	if created.WebhookID != "101" || len(created.Webhooks) != 2 {
		t.Errorf("created = %+v", created)
	}

	list, err := c.GetWebhooks(ctx, &adapter.GetWebhooksRequest{Platform: platformFor(srv)})
	if err != nil || len(list.Webhooks) != 1 || list.Webhooks[0].CallbackURL != "https://o/hook" {
		t.Errorf("GetWebhooks() = %+v, %v", list, err)
	}

	del, err := c.DeleteWebhook(ctx, &adapter.DeleteWebhookRequest{Platform: platformFor(srv), WebhookID: "101"})
	if err != nil || !del.Success {
		t.Errorf("DeleteWebhook() = %+v, %v", del, err)
	}
}

func TestAddCartToPlatformOrder(t *testing.T) {
	fs, srv := newFakeStore(t)
	var note WooNoteRequest
	fs.mux.HandleFunc("POST "+restAPIPath+"/orders/1001/notes", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&note)
		writeJSON(w, map[string]int{"id": 1})
	})

	c := New(Config{HTTPClient: srv.Client()})
	_, err := c.AddCartToPlatformOrder(context.Background(), &adapter.AddCartRequest{
		Platform:  platformFor(srv),
		OrderID:   "1001",
		CartItems: []model.CartItem{{Name: "Mug", Quantity: 2, PurchaseID: "PO-7"}},
	})
	if err != nil {
		t.Fatalf("AddCartToPlatformOrder() error = %v", err)
	}
	if !strings.Contains(note.Note, "Mug x2 (purchase PO-7)") || note.CustomerNote {
		t.Errorf("note = %+v", note)
	}
}

func TestOAuth(t *testing.T) {
	c := New(Config{AppName: "Openship"})
	res, err := c.OAuthStart(context.Background(), &adapter.OAuthRequest{
		Platform:    adapter.PlatformConfig{Domain: "shop.example.com"},
		CallbackURL: "https://o/cb",
		State:       "st",
	})
	if err != nil {
		t.Fatalf("OAuthStart() error = %v", err)
	}
	if !strings.HasPrefix(res.AuthURL, "https://shop.example.com/wc-auth/v1/authorize?") || !strings.Contains(res.AuthURL, "user_id=st") {
		t.Errorf("AuthURL = %s", res.AuthURL)
	}

	tokens, err := c.OAuthCallback(context.Background(), &adapter.OAuthCallbackRequest{Code: `{"consumer_key":"ck_1","consumer_secret":"cs_1"}`})
	if err != nil || tokens.AccessToken != "ck_1:cs_1" {
		t.Errorf("OAuthCallback() = %+v, %v", tokens, err)
	}
	if _, err := c.OAuthCallback(context.Background(), &adapter.OAuthCallbackRequest{Code: "abc"}); err == nil {
		t.Error("OAuthCallback(garbage) error = nil")
	}
}

func delivery(t *testing.T, secret string, o WooOrder) *adapter.WebhookEvent {
	t.Helper()
	body, err := json.Marshal(o)
	if err != nil {
		t.Fatal(err)
	}
	h := http.Header{}
	h.Set(SignatureHeader, webhooksig.HMACBase64(secret, body))
	return &adapter.WebhookEvent{
		Platform: adapter.PlatformConfig{AccessToken: "ck_test:cs_test"},
		Event:    body,
		Headers:  h,
	}
}

func TestHandleCreateOrder(t *testing.T) {
	c := New(Config{})
	o := WooOrder{
		ID:        1001,
		Number:    "1001",
		Status:    "processing",
		Currency:  "USD",
		Total:     "25",
		Billing:   WooAddress{FirstName: "Ada", Email: "ada@example.com", Address1: "1 Main", City: "Austin", Country: "US"},
		LineItems: []WooLineItem{
			{ProductID: 7, Quantity: 2, Subtotal: "20.00", Total: "20.00", Price: 10},
			{ProductID: 8, VariationID: 9, Quantity: 1, Subtotal: "5.00", Total: "5.00"},
		},
	}

	got, err := c.HandleCreateOrder(context.Background(), delivery(t, "cs_test", o))
	if err != nil {
		t.Fatalf("HandleCreateOrder() error = %v", err)
	}
	if got.OrderID != "1001" || got.OrderName != "#1001" || got.City != "Austin" || got.SubTotalPrice != "25.00" {
		t.Errorf("order = %+v", got)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].Price != "10.00" || got.LineItems[1].VariantID != "9" || got.LineItems[1].Price != "5.00" {
		t.Errorf("LineItems = %+v", got.LineItems)
	}

	if _, err := c.HandleCreateOrder(context.Background(), delivery(t, "wrong", o)); !errors.Is(err, webhooksig.ErrInvalidSignature) {
		t.Errorf("wrong signature error = %v, want ErrInvalidSignature", err)
	}
	ev := delivery(t, "cs_test", o)
	ev.Headers.Del(SignatureHeader)
	if _, err := c.HandleCreateOrder(context.Background(), ev); !errors.Is(err, webhooksig.ErrInvalidSignature) {
		t.Errorf("missing signature error = %v, want ErrInvalidSignature", err)
	}
}

func TestHandleCancelAndTracking(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	if _, err := c.HandleCancelOrder(ctx, delivery(t, "cs_test", WooOrder{ID: 5, Status: "processing"})); !errors.Is(err, adapter.ErrIgnoredEvent) {
		t.Errorf("non-cancel update error = %v, want ErrIgnoredEvent", err)
	}
	cancel, err := c.HandleCancelPurchase(ctx, delivery(t, "cs_test", WooOrder{ID: 5, Status: "cancelled"}))
	if err != nil || cancel.PurchaseID != "5" {
		t.Errorf("HandleCancelPurchase() = %+v, %v", cancel, err)
	}

	tracked := WooOrder{ID: 6, Status: "completed", MetaData: []WooMeta{{
		Key:   trackingMetaKey,
		Value: json.RawMessage(`[{"tracking_provider":"usps","tracking_number":"old"},{"custom_tracking_provider":"DHL","tracking_number":"JD01"}]`),
	}}}
	tr, err := c.HandleCreateTracking(ctx, delivery(t, "cs_test", tracked))
	if err != nil {
		t.Fatalf("HandleCreateTracking() error = %v", err)
	}
	if tr.PurchaseID != "6" || tr.TrackingCompany != "DHL" || tr.TrackingNumber != "JD01" {
		t.Errorf("tracking = %+v", tr)
	}
	if _, err := c.HandleCreateTracking(ctx, delivery(t, "cs_test", WooOrder{ID: 7})); !errors.Is(err, adapter.ErrIgnoredEvent) {
		t.Errorf("untracked update error = %v, want ErrIgnoredEvent", err)
	}
}
