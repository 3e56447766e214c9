package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/testutil"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	a := newTestAPI(t)
	if a.h.NewMCPServer(a.env.User) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	if a.h.NewMCPHandler() == nil {
		t.Fatal("NewMCPHandler returned nil")
	}
}

func TestMCPRequiresKey(t *testing.T) {
	a := newTestAPI(t)

	body, _ := json.Marshal(initializeRequest())
	r := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(r, "", "")
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMCPInitialize(t *testing.T) {
	a := newTestAPI(t)

	resp := a.mcpCall(t, "", initializeRequest())
	if resp.Error != nil {
		t.Errorf("Unexpected error: %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Error("Expected result in response")
	}
}

func TestMCPToolsList(t *testing.T) {
	a := newTestAPI(t)
	sessionID := a.initMCPSession(t)

	resp := a.mcpCall(t, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var toolsResult struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expected := []string{
		"get_order",
		"place_orders",
		"add_match_to_cart",
		"get_match",
		"search_channel_products",
		"get_channel_product",
		"create_channel_purchase",
		"get_channel_webhooks",
		"create_channel_webhook",
		"delete_channel_webhook",
	}
	found := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		found[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("Expected tool %q not found", name)
		}
	}
	if len(toolsResult.Tools) != len(expected) {
		t.Errorf("len(Tools) = %d, want %d", len(toolsResult.Tools), len(expected))
	}
}

func TestMCPGetOrder(t *testing.T) {
	a := newTestAPI(t)
	o := a.env.Order(&model.Order{OrderID: "3001", Error: routeerr.Network("connection reset").String()})
	_, foreign := a.otherUser(t)
	sessionID := a.initMCPSession(t)

	result := a.callTool(t, sessionID, "get_order", map[string]any{"orderId": o.ID})
	if result.IsError {
		t.Fatalf("get_order returned error: %+v", result.Content)
	}
	var view struct {
		ID        string           `json:"id"`
		ErrorInfo *routeerr.Parsed `json:"errorInfo"`
	}
	decodeToolText(t, result, &view)
	if view.ID != o.ID {
		t.Errorf("ID = %s, want %s", view.ID, o.ID)
	}
	if view.ErrorInfo == nil || view.ErrorInfo.Type != routeerr.KindNetworkError {
		t.Errorf("ErrorInfo = %+v, want NETWORK_ERROR", view.ErrorInfo)
	}

	result = a.callTool(t, sessionID, "get_order", map[string]any{"orderId": foreign.ID})
	if !result.IsError {
		t.Fatal("get_order on another user's order succeeded")
	}
	if !strings.Contains(toolText(result), "NOT_FOUND") {
		t.Errorf("error = %q, want NOT_FOUND", toolText(result))
	}
}

func TestMCPPlaceOrders(t *testing.T) {
	a := newTestAPI(t)
	ch := a.env.Channel("acme", &adapter.Mock{
		CreatePurchaseFunc: func(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
			return &adapter.PurchaseResult{PurchaseID: "PO-3"}, nil
		},
	})
	o := a.env.Order(&model.Order{OrderID: "3002"})
	cartItems(t, a.env.Store, o.ID, model.CartItem{ChannelID: ch.ID, UserID: a.env.User.ID, ProductID: "C1", Quantity: 1})
	sessionID := a.initMCPSession(t)

	result := a.callTool(t, sessionID, "place_orders", map[string]any{"orderIds": []string{o.ID}})
	if result.IsError {
		t.Fatalf("place_orders returned error: %+v", result.Content)
	}
	var resp placeOrdersResponse
	decodeToolText(t, result, &resp)
	if len(resp.Processed) != 1 || resp.Processed[0].Order == nil {
		t.Fatalf("Processed = %+v", resp.Processed)
	}
	if resp.Processed[0].Order.Status != model.OrderStatusAwaiting {
		t.Errorf("Status = %s, want %s", resp.Processed[0].Order.Status, model.OrderStatusAwaiting)
	}

	result = a.callTool(t, sessionID, "place_orders", map[string]any{"orderIds": []string{}})
	if !result.IsError {
		t.Error("place_orders with no ids succeeded")
	}
}

func TestMCPGetMatch(t *testing.T) {
	a := newTestAPI(t)
	ch := a.env.Channel("acme", &adapter.Mock{GetProductFunc: testutil.Products(map[string]string{"C1": "10.00"})})
	if err := a.env.Store.CreateMatch(context.Background(), &model.Match{
		UserID: a.env.User.ID,
		Input:  []model.MatchInput{{ProductID: "P1", Quantity: 1}},
		Output: []model.MatchOutput{{ProductID: "C1", Quantity: 1, Price: "10.00", ChannelID: ch.ID}},
	}); err != nil {
		t.Fatal(err)
	}
	sessionID := a.initMCPSession(t)

	result := a.callTool(t, sessionID, "get_match", map[string]any{
		"input": []map[string]any{{"productId": "P1", "variantId": "", "quantity": 1}},
	})
	if result.IsError {
		t.Fatalf("get_match returned error: %+v", result.Content)
	}
	var preview matchPreview
	decodeToolText(t, result, &preview)
	if len(preview.Entries) != 1 || preview.Entries[0].PriceChange {
		t.Errorf("Entries = %+v, want one unchanged entry", preview.Entries)
	}
}

func TestMCPChannelTools(t *testing.T) {
	a := newTestAPI(t)
	var gotEndpoint string
	ch := a.env.Channel("acme", &adapter.Mock{
		SearchProductsFunc: func(ctx context.Context, req *adapter.SearchProductsRequest) (*adapter.SearchProductsResult, error) {
			return &adapter.SearchProductsResult{Products: []model.Product{{ProductID: "C1", Title: req.SearchEntry}}}, nil
		},
		GetProductFunc: testutil.Products(map[string]string{"C1": "9.50"}),
		CreatePurchaseFunc: func(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
			return &adapter.PurchaseResult{PurchaseID: "PO-5", Status: "paid"}, nil
		},
		CreateWebhookFunc: func(ctx context.Context, req *adapter.CreateWebhookRequest) (*adapter.CreateWebhookResult, error) {
			gotEndpoint = req.Endpoint
			return &adapter.CreateWebhookResult{WebhookID: "wh-2"}, nil
		},
		GetWebhooksFunc: func(ctx context.Context, req *adapter.GetWebhooksRequest) (*adapter.GetWebhooksResult, error) {
			return &adapter.GetWebhooksResult{Webhooks: []adapter.Webhook{{ID: "wh-2"}}}, nil
		},
		DeleteWebhookFunc: func(ctx context.Context, req *adapter.DeleteWebhookRequest) (*adapter.DeleteWebhookResult, error) {
			return &adapter.DeleteWebhookResult{Success: req.WebhookID == "wh-2"}, nil
		},
	})
	sessionID := a.initMCPSession(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"search", "search_channel_products", map[string]any{"channelId": ch.ID, "searchEntry": "mug"}, `"title":"mug"`},
		{"get product", "get_channel_product", map[string]any{"channelId": ch.ID, "productId": "C1"}, `"price":"9.50"`},
		{"purchase", "create_channel_purchase", map[string]any{
			"channelId": ch.ID,
			"cartItems": []map[string]any{{"productId": "C1", "quantity": 1}},
			"shipping":  map[string]any{"city": "Austin"},
		}, `"purchaseId":"PO-5"`},
		{"create webhook", "create_channel_webhook", map[string]any{"channelId": ch.ID, "topic": "PURCHASE_CANCELLED"}, `"webhookId":"wh-2"`},
		{"list webhooks", "get_channel_webhooks", map[string]any{"channelId": ch.ID}, `"id":"wh-2"`},
		{"delete webhook", "delete_channel_webhook", map[string]any{"channelId": ch.ID, "webhookId": "wh-2"}, `"success":true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.callTool(t, sessionID, tt.tool, tt.args)
			if result.IsError {
				t.Fatalf("%s returned error: %s", tt.tool, toolText(result))
			}
			if !strings.Contains(toolText(result), tt.want) {
				t.Errorf("result = %s, want it to contain %s", toolText(result), tt.want)
			}
		})
	}

	want := testBaseURL + "/api/webhooks/channels/" + ch.ID + "/cancel-purchase"
	if gotEndpoint != want {
		t.Errorf("webhook endpoint = %s, want %s", gotEndpoint, want)
	}
}

func TestMCPChannelTools_ForeignChannel(t *testing.T) {
	a := newTestAPI(t)
	u, _ := a.otherUser(t)
	ch := a.env.Channel("acme", &adapter.Mock{})

	body, _ := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: "get_channel_webhooks", Arguments: map[string]any{"channelId": ch.ID}},
	})
	r := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(r, "", u.APIKey)
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)

	resp := decodeRPC(t, w)
	if resp.Error != nil {
		return
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(toolText(&result), "NOT_FOUND") {
		t.Errorf("result = %+v, want NOT_FOUND tool error", result)
	}
}

func TestMCPMissingRequiredField(t *testing.T) {
	a := newTestAPI(t)
	sessionID := a.initMCPSession(t)

	body, _ := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: "get_order", Arguments: map[string]any{}},
	})
	resp := a.mcpRaw(t, sessionID, body)

	// schema validation may surface as a protocol error or a tool error
	if resp.Error != nil {
		return
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("get_order without orderId succeeded")
	}
}

// === Helpers ===

func initializeRequest() jsonrpcRequest {
	return jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	}
}

func setMCPHeaders(req *http.Request, sessionID, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) []byte {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body)
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) jsonrpcResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(parseSSEResponse(w.Body.String()), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, w.Body.String())
	}
	return resp
}

func (a *testAPI) mcpRaw(t *testing.T, sessionID string, body []byte) jsonrpcResponse {
	t.Helper()
	r := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(r, sessionID, a.env.User.APIKey)
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	return decodeRPC(t, w)
}

func (a *testAPI) mcpCall(t *testing.T, sessionID string, req jsonrpcRequest) jsonrpcResponse {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return a.mcpRaw(t, sessionID, body)
}

// initMCPSession initializes an MCP session and returns the session ID,
// which is empty when the server keeps no sessions.
func (a *testAPI) initMCPSession(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(initializeRequest())
	r := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(r, "", a.env.User.APIKey)
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}
	return w.Header().Get("Mcp-Session-Id")
}

func (a *testAPI) callTool(t *testing.T, sessionID, name string, args map[string]any) *callToolResult {
	t.Helper()
	resp := a.mcpCall(t, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: args},
	})
	if resp.Error != nil {
		t.Fatalf("%s: unexpected protocol error: %+v", name, resp.Error)
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("%s: failed to parse tool result: %v", name, err)
	}
	return &result
}

func toolText(r *callToolResult) string {
	var b strings.Builder
	for _, c := range r.Content {
		b.WriteString(c.Text)
	}
	return b.String()
}

func decodeToolText(t *testing.T, r *callToolResult, v any) {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	if err := json.Unmarshal([]byte(r.Content[0].Text), v); err != nil {
		t.Fatalf("decode tool result: %v\nText: %s", err, r.Content[0].Text)
	}
}
