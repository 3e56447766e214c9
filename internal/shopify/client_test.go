package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/webhooksig"
)

// graphQLServer answers Admin API calls with the response registered for
// the first operation keyword found in the query.
func graphQLServer(t *testing.T, responses map[string]string) (*httptest.Server, *[]graphQLRequest) {
	t.Helper()
	var seen []graphQLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Shopify-Access-Token") != "shpat_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/graphql.json") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		seen = append(seen, req)
		for op, body := range responses {
			if strings.Contains(req.Query, op) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
				return
			}
		}
		t.Errorf("unexpected query: %s", req.Query)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func platformFor(srv *httptest.Server) adapter.PlatformConfig {
	return adapter.PlatformConfig{Domain: srv.URL, AccessToken: "shpat_test", AppKey: "key", AppSecret: "secret"}
}

const variantJSON = `{
	"id": "gid://shopify/ProductVariant/22",
	"title": "Large",
	"price": "9.5",
	"availableForSale": true,
	"inventoryQuantity": 3,
	"inventoryItem": {"tracked": true},
	"image": null,
	"product": {"id": "gid://shopify/Product/11", "title": "Tee", "onlineStoreUrl": null, "featuredImage": {"url": "https://cdn/tee.jpg"}}
}`

func TestSearchAndGetProduct(t *testing.T) {
	srv, seen := graphQLServer(t, map[string]string{
		"productVariants(": `{"data":{"productVariants":{"edges":[{"node":` + variantJSON + `}],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`,
		"productVariant(":  `{"data":{"productVariant":` + variantJSON + `}}`,
	})
	c := New(Config{HTTPClient: srv.Client()})
	ctx := context.Background()

	res, err := c.SearchProducts(ctx, &adapter.SearchProductsRequest{Platform: platformFor(srv), SearchEntry: "tee"})
	if err != nil {
		t.Fatalf("SearchProducts() error = %v", err)
	}
	if len(res.Products) != 1 || !res.PageInfo.HasNextPage || res.PageInfo.EndCursor != "c1" {
		t.Fatalf("result = %+v", res)
	}
	p := res.Products[0]
	if p.ProductID != "11" || p.VariantID != "22" || p.Title != "Tee - Large" || p.Price != "9.50" || p.Image != "https://cdn/tee.jpg" {
		t.Errorf("Product = %+v", p)
	}
	if p.Inventory == nil || *p.Inventory != 3 {
		t.Errorf("Inventory = %v, want 3", p.Inventory)
	}

	got, err := c.GetProduct(ctx, &adapter.GetProductRequest{Platform: platformFor(srv), ProductID: "11", VariantID: "22"})
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.Product.Price != "9.50" {
		t.Errorf("Price = %s, want 9.50", got.Product.Price)
	}
	if last := (*seen)[len(*seen)-1]; last.Variables["id"] != "gid://shopify/ProductVariant/22" {
		t.Errorf("variables = %v, want variant gid", last.Variables)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	srv, _ := graphQLServer(t, map[string]string{"productVariant(": `{"data":{"productVariant":null}}`})
	c := New(Config{HTTPClient: srv.Client()})
	_, err := c.GetProduct(context.Background(), &adapter.GetProductRequest{Platform: platformFor(srv), ProductID: "1", VariantID: "2"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGraphQLErrors(t *testing.T) {
	srv, _ := graphQLServer(t, map[string]string{"productVariants(": `{"errors":[{"message":"Throttled"}]}`})
	c := New(Config{HTTPClient: srv.Client()})

	_, err := c.SearchProducts(context.Background(), &adapter.SearchProductsRequest{Platform: platformFor(srv)})
	if !errors.Is(err, model.ErrRateLimited) {
		t.Errorf("throttled error = %v, want ErrRateLimited", err)
	}

	bad := platformFor(srv)
	bad.AccessToken = "other"
	_, err = c.SearchProducts(context.Background(), &adapter.SearchProductsRequest{Platform: bad})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("bad token error = %v, want ErrUnauthorized", err)
	}
}

func TestCreatePurchase(t *testing.T) {
	srv, seen := graphQLServer(t, map[string]string{
		"draftOrderCreate(":   `{"data":{"draftOrderCreate":{"draftOrder":{"id":"gid://shopify/DraftOrder/5"},"userErrors":[]}}}`,
		"draftOrderComplete(": `{"data":{"draftOrderComplete":{"draftOrder":{"order":{"id":"gid://shopify/Order/900","name":"#1900","totalPriceSet":{"shopMoney":{"amount":"19.0"}},"lineItems":{"edges":[{"node":{"id":"gid://shopify/LineItem/1","title":"Tee","quantity":2,"sku":"T-L","variant":{"id":"gid://shopify/ProductVariant/22","price":"9.50","product":{"id":"gid://shopify/Product/11"}}}}]}}},"userErrors":[]}}}`,
	})
	c := New(Config{HTTPClient: srv.Client()})

	res, err := c.CreatePurchase(context.Background(), &adapter.CreatePurchaseRequest{
		Platform:  platformFor(srv),
		CartItems: []adapter.PurchaseItem{{ProductID: "11", VariantID: "22", Quantity: 2}},
		Shipping:  adapter.Shipping{FirstName: "Ada", Country: "US", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("CreatePurchase() error = %v", err)
	}
	if res.PurchaseID != "900" || res.OrderNumber != "#1900" || res.TotalPrice != "19.00" || !strings.HasSuffix(res.URL, "/admin/orders/900") {
		t.Errorf("result = %+v", res)
	}
	if len(res.LineItems) != 1 || res.LineItems[0].ProductID != "11" || res.LineItems[0].Price != "9.50" {
		t.Errorf("LineItems = %+v", res.LineItems)
	}

	input := (*seen)[0].Variables["input"].(map[string]any)
	lines := input["lineItems"].([]any)
	if first := lines[0].(map[string]any); first["variantId"] != "gid://shopify/ProductVariant/22" {
		t.Errorf("lineItems = %v", lines)
	}
}

func TestCreatePurchase_UserErrorsAreSoftFailures(t *testing.T) {
	srv, _ := graphQLServer(t, map[string]string{
		"draftOrderCreate(": `{"data":{"draftOrderCreate":{"draftOrder":null,"userErrors":[{"field":["lineItems"],"message":"Variant is out of stock"}]}}}`,
	})
	c := New(Config{HTTPClient: srv.Client()})
	res, err := c.CreatePurchase(context.Background(), &adapter.CreatePurchaseRequest{
		Platform:  platformFor(srv),
		CartItems: []adapter.PurchaseItem{{ProductID: "11", VariantID: "22", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreatePurchase() error = %v", err)
	}
	if res.Status != "error" || !strings.Contains(res.Error, "out of stock") || res.PurchaseID != "" {
		t.Errorf("result = %+v, want soft error", res)
	}
}

func TestWebhookRegistration(t *testing.T) {
	srv, seen := graphQLServer(t, map[string]string{
		"webhookSubscriptionCreate(": `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":{"id":"gid://shopify/WebhookSubscription/7","topic":"ORDERS_CREATE","endpoint":{"callbackUrl":"https://o/hook"}},"userErrors":[]}}}`,
		"webhookSubscriptionDelete(": `{"data":{"webhookSubscriptionDelete":{"deletedWebhookSubscriptionId":"gid://shopify/WebhookSubscription/7","userErrors":[]}}}`,
		"webhookSubscriptions(":      `{"data":{"webhookSubscriptions":{"edges":[{"node":{"id":"gid://shopify/WebhookSubscription/7","topic":"ORDERS_CREATE","endpoint":{"callbackUrl":"https://o/hook"}}}]}}}`,
	})
	c := New(Config{HTTPClient: srv.Client()})
	ctx := context.Background()

	created, err := c.CreateWebhook(ctx, &adapter.CreateWebhookRequest{
		Platform: platformFor(srv),
		Endpoint: "https://o/hook",
		Events:   []string{"ORDER_CANCELLED", "orders/cancelled", "TRACKING_CREATED"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	if created.WebhookID != "7" || len(*seen) != 2 {
		t.Errorf("created = %+v after %d calls, want id 7 after 2 calls", created, len(*seen))
	}
	if (*seen)[1].Variables["topic"] != "FULFILLMENTS_CREATE" {
		t.Errorf("second topic = %v", (*seen)[1].Variables["topic"])
	}

	list, err := c.GetWebhooks(ctx, &adapter.GetWebhooksRequest{Platform: platformFor(srv)})
	if err != nil || len(list.Webhooks) != 1 || list.Webhooks[0].CallbackURL != "https://o/hook" {
		t.Errorf("GetWebhooks() = %+v, %v", list, err)
	}
	del, err := c.DeleteWebhook(ctx, &adapter.DeleteWebhookRequest{Platform: platformFor(srv), WebhookID: "7"})
	if err != nil || !del.Success {
		t.Errorf("DeleteWebhook() = %+v, %v", del, err)
	}
}

func signedEvent(t *testing.T, secret string, payload any) *adapter.WebhookEvent {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h := http.Header{}
	h.Set(HMACHeader, webhooksig.HMACBase64(secret, body))
	return &adapter.WebhookEvent{Platform: adapter.PlatformConfig{AppSecret: "secret"}, Event: body, Headers: h}
}

func TestHandleCreateOrder(t *testing.T) {
	c := New(Config{})
	payload := map[string]any{
		"id": 1001, "name": "#1001", "email": "ada@example.com", "currency": "USD",
		"total_price": "25.00", "subtotal_price": "25.00", "total_tax": "0.00",
		"shipping_address": map[string]any{"first_name": "Ada", "city": "Austin", "province_code": "TX", "country_code": "US", "zip": "78701"},
		"line_items": []map[string]any{
			{"product_id": 11, "variant_id": 22, "quantity": 2, "price": "12.5", "name": "Tee - Large"},
			{"product_id": nil, "variant_id": nil, "quantity": 1, "price": "0", "title": "Custom"},
		},
	}

	o, err := c.HandleCreateOrder(context.Background(), signedEvent(t, "secret", payload))
	if err != nil {
		t.Fatalf("HandleCreateOrder() error = %v", err)
	}
	if o.OrderID != "1001" || o.State != "TX" || o.Country != "US" || o.TotalPrice != "25.00" {
		t.Errorf("order = %+v", o)
	}
	if len(o.LineItems) != 2 || o.LineItems[0].VariantID != "22" || o.LineItems[0].Price != "12.50" || o.LineItems[1].ProductID != "" {
		t.Errorf("LineItems = %+v", o.LineItems)
	}

	tests := []struct {
		name string
		ev   *adapter.WebhookEvent
	}{
		{"wrong secret", signedEvent(t, "other", payload)},
		{"missing header", func() *adapter.WebhookEvent {
			ev := signedEvent(t, "secret", payload)
			ev.Headers.Del(HMACHeader)
			return ev
		}()},
	}
	for _, tt := range tests {
		if _, err := c.HandleCreateOrder(context.Background(), tt.ev); !errors.Is(err, webhooksig.ErrInvalidSignature) {
			t.Errorf("%s: error = %v, want ErrInvalidSignature", tt.name, err)
		}
	}
}

func TestHandleCancelAndTracking(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	cancelled := map[string]any{"id": 900, "cancelled_at": "2026-01-02T03:04:05Z"}
	if ev, err := c.HandleCancelOrder(ctx, signedEvent(t, "secret", cancelled)); err != nil || ev.OrderID != "900" {
		t.Errorf("HandleCancelOrder() = %+v, %v", ev, err)
	}
	if ev, err := c.HandleCancelPurchase(ctx, signedEvent(t, "secret", cancelled)); err != nil || ev.PurchaseID != "900" {
		t.Errorf("HandleCancelPurchase() = %+v, %v", ev, err)
	}
	if _, err := c.HandleCancelOrder(ctx, signedEvent(t, "secret", map[string]any{"id": 900})); !errors.Is(err, adapter.ErrIgnoredEvent) {
		t.Errorf("uncancelled order error = %v, want ErrIgnoredEvent", err)
	}

	fulfillment := map[string]any{"order_id": 900, "tracking_company": "UPS", "tracking_numbers": []string{"1Z"}}
	tr, err := c.HandleCreateTracking(ctx, signedEvent(t, "secret", fulfillment))
	if err != nil || tr.PurchaseID != "900" || tr.TrackingNumber != "1Z" || tr.TrackingCompany != "UPS" {
		t.Errorf("HandleCreateTracking() = %+v, %v", tr, err)
	}
}

func TestOAuthFlow(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/oauth/access_token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		r.ParseForm()
		grants = append(grants, r.Form.Get("grant_type"))
		if r.Form.Get("client_id") != "key" || r.Form.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"shpat_new","refresh_token":"r2","expires_in":3600}`))
	}))
	defer srv.Close()

	c := New(Config{HTTPClient: srv.Client()})
	ctx := context.Background()
	p := adapter.PlatformConfig{Domain: srv.URL, AppKey: "key", AppSecret: "secret"}

	start, err := c.OAuthStart(ctx, &adapter.OAuthRequest{Platform: p, CallbackURL: "https://o/cb", State: "st8"})
	if err != nil {
		t.Fatalf("OAuthStart() error = %v", err)
	}
	if !strings.Contains(start.AuthURL, "/admin/oauth/authorize?") || !strings.Contains(start.AuthURL, "state=st8") || !strings.Contains(start.AuthURL, "client_id=key") {
		t.Errorf("AuthURL = %s", start.AuthURL)
	}

	tokens, err := c.OAuthCallback(ctx, &adapter.OAuthCallbackRequest{Platform: p, Code: "abc", Shop: srv.URL})
	if err != nil {
		t.Fatalf("OAuthCallback() error = %v", err)
	}
	if tokens.AccessToken != "shpat_new" || tokens.RefreshToken != "r2" || tokens.TokenExpiresAt == nil {
		t.Errorf("tokens = %+v", tokens)
	}

	p.AccessToken, p.RefreshToken = "shpat_old", "r1"
	refreshed, err := c.RefreshToken(ctx, p)
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if refreshed.AccessToken != "shpat_new" || refreshed.TokenExpiresAt.Before(time.Now()) {
		t.Errorf("refreshed = %+v", refreshed)
	}
	if strings.Join(grants, ",") != "authorization_code,refresh_token" {
		t.Errorf("grants = %v", grants)
	}

	p.AppSecret = "wrong"
	if _, err := c.OAuthCallback(ctx, &adapter.OAuthCallbackRequest{Platform: p, Code: "abc", Shop: srv.URL}); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("rejected grant error = %v, want ErrUnauthorized", err)
	}
}

func TestValidShopDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"acme.myshopify.com", true},
		{"https://acme.myshopify.com", true},
		{"acme", true},
		{"evil.com", false},
		{"acme.myshopify.com.evil.com", false},
		{"http://localhost:8080", true},
		{"http://evil.com", false},
	}
	for _, tt := range tests {
		if got := validShopDomain(tt.domain); got != tt.want {
			t.Errorf("validShopDomain(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}

func TestIDs(t *testing.T) {
	if got := gid("Order", "5"); got != "gid://shopify/Order/5" {
		t.Errorf("gid() = %s", got)
	}
	if got := legacyID("gid://shopify/ProductVariant/22?x=1"); got != "22" {
		t.Errorf("legacyID() = %s", got)
	}
}
