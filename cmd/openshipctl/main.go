// openshipctl is a CLI for the Openship routing API.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	openshipctl get -id <order-id>
//	openshipctl place -id <order-id> [-id <order-id> ...]
//	openshipctl match-to-cart -id <order-id>
//	openshipctl match -product ID [-variant ID] [-qty N]
//	openshipctl search -channel ID [-query TEXT] [-after CURSOR]
//	openshipctl product -channel ID -product ID [-variant ID]
//
// The API key is read from -key or OPENSHIP_API_KEY.
//
// Examples:
//
//	openshipctl place -server http://localhost:8080 -id ord_1 -id ord_2
//	openshipctl match -product 8123 -variant 4411 -qty 2
//	openshipctl search -channel ch_1 -query mug -q
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 2 * time.Minute}

// Global flags (apply to all commands)
var (
	serverURL string
	apiKey    string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "get":
		runGet(args)
	case "place":
		runPlace(args)
	case "match-to-cart":
		runMatchToCart(args)
	case "match":
		runMatch(args)
	case "search":
		runSearch(args)
	case "product":
		runProduct(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `openshipctl - Openship routing API client

Usage:
  openshipctl <command> [options]

Commands:
  get            Show an order with its cart items and errors
  place          Place one or more orders on their channels
  match-to-cart  Rerun match resolution for an order
  match          Look up the match for a shop product
  search         Search a channel's products
  product        Get one product from a channel

Examples:
  # Place two orders
  openshipctl place -id ord_1 -id ord_2

  # Check what a shop product routes to
  openshipctl match -product 8123 -variant 4411 -qty 2

  # List channel product ids only
  openshipctl search -channel ch_1 -query mug -q

Run 'openshipctl <command> -h' for command-specific options.
`)
}

// idList collects a repeatable -id flag.
type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }

func (l *idList) Set(v string) error {
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

func commonFlags(fs *flag.FlagSet) {
	fs.StringVar(&serverURL, "server", envOr("OPENSHIP_URL", "http://localhost:8080"), "Openship base URL")
	fs.StringVar(&apiKey, "key", os.Getenv("OPENSHIP_API_KEY"), "API key")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - minimal output")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
}

func parse(fs *flag.FlagSet, args []string, usage string) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: openshipctl %s [options]\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if noColor {
		disableColors()
	}
	if apiKey == "" {
		fatal("API key required: pass -key or set OPENSHIP_API_KEY")
	}
}

// =============================================================================
// ORDER COMMANDS
// =============================================================================

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	commonFlags(fs)
	var orderID string
	fs.StringVar(&orderID, "id", "", "Order ID (required)")
	parse(fs, args, "get -id <order-id>")

	if orderID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("GET", "/api/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		fatal("Failed to get order: %v", err)
	}
	status, _ := resp["status"].(string)
	if quiet {
		fmt.Println(status)
		return
	}
	printSuccess("Order retrieved")
	printOrder(resp)
}

func runPlace(args []string) {
	fs := flag.NewFlagSet("place", flag.ExitOnError)
	commonFlags(fs)
	var ids idList
	fs.Var(&ids, "id", "Order ID (repeatable or comma separated)")
	parse(fs, args, "place -id <order-id> [-id <order-id> ...]")

	if len(ids) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/api/orders/place", map[string]any{"orderIds": []string(ids)})
	if err != nil {
		fatal("Failed to place orders: %v", err)
	}

	processed, _ := resp["processed"].([]any)
	failed := 0
	for _, p := range processed {
		entry, _ := p.(map[string]any)
		orderID, _ := entry["orderId"].(string)
		order, _ := entry["order"].(map[string]any)
		if msg, _ := entry["error"].(string); msg != "" {
			failed++
			if quiet {
				fmt.Printf("%s\terror\n", orderID)
				continue
			}
			printError("%s: %s", orderID, msg)
			continue
		}
		status, _ := order["status"].(string)
		if quiet {
			fmt.Printf("%s\t%s\n", orderID, status)
			continue
		}
		printSuccess("%s: %s", orderID, status)
		printCartItems(order)
	}
	if failed > 0 {
		os.Exit(2)
	}
}

func runMatchToCart(args []string) {
	fs := flag.NewFlagSet("match-to-cart", flag.ExitOnError)
	commonFlags(fs)
	var orderID string
	fs.StringVar(&orderID, "id", "", "Order ID (required)")
	parse(fs, args, "match-to-cart -id <order-id>")

	if orderID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/api/orders/"+url.PathEscape(orderID)+"/match-to-cart", nil)
	if err != nil {
		fatal("Failed to match order: %v", err)
	}
	if quiet {
		items, _ := resp["cartItems"].([]any)
		fmt.Println(len(items))
		return
	}
	printSuccess("Matches applied")
	printOrder(resp)
}

// =============================================================================
// MATCH AND CHANNEL COMMANDS
// =============================================================================

func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	commonFlags(fs)
	var productID, variantID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Shop product ID (required)")
	fs.StringVar(&variantID, "variant", "", "Shop variant ID")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	parse(fs, args, "match -product ID [options]")

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/api/matches/lookup", map[string]any{
		"input": []map[string]any{{"productId": productID, "variantId": variantID, "quantity": quantity}},
	})
	if err != nil {
		fatal("Failed to look up match: %v", err)
	}

	match, _ := resp["match"].(map[string]any)
	if quiet {
		fmt.Println(match["id"])
		return
	}
	printSuccess("Match %v", match["id"])
	entries, _ := resp["entries"].([]any)
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		line := fmt.Sprintf("%vx %v/%v on %v @ %v", entry["quantity"], entry["productId"], entry["variantId"], entry["channelId"], entry["price"])
		switch {
		case entry["error"] != nil && entry["error"] != "":
			printError("%s: %v", line, entry["error"])
		case entry["priceChange"] == true:
			product, _ := entry["product"].(map[string]any)
			printWarning("%s: live price %v", line, product["price"])
		default:
			fmt.Printf("  %s\n", line)
		}
	}
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	commonFlags(fs)
	var channelID, query, after string
	fs.StringVar(&channelID, "channel", "", "Channel ID (required)")
	fs.StringVar(&query, "query", "", "Search text")
	fs.StringVar(&after, "after", "", "Cursor from a previous page")
	parse(fs, args, "search -channel ID [options]")

	if channelID == "" {
		fs.Usage()
		os.Exit(1)
	}

	q := url.Values{}
	if query != "" {
		q.Set("search", query)
	}
	if after != "" {
		q.Set("after", after)
	}
	path := "/api/channels/" + url.PathEscape(channelID) + "/products"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fatal("Failed to search products: %v", err)
	}

	products, _ := resp["products"].([]any)
	for _, p := range products {
		product, _ := p.(map[string]any)
		if quiet {
			fmt.Printf("%v\t%v\n", product["productId"], product["variantId"])
			continue
		}
		fmt.Printf("  %s%v%s/%v  %v  %s%v%s\n", colorCyan, product["productId"], colorReset, product["variantId"],
			product["title"], colorGreen, product["price"], colorReset)
	}
	if pageInfo, ok := resp["pageInfo"].(map[string]any); ok && pageInfo["hasNextPage"] == true {
		printInfo("more results: -after %v", pageInfo["endCursor"])
	}
}

func runProduct(args []string) {
	fs := flag.NewFlagSet("product", flag.ExitOnError)
	commonFlags(fs)
	var channelID, productID, variantID string
	fs.StringVar(&channelID, "channel", "", "Channel ID (required)")
	fs.StringVar(&productID, "product", "", "Channel product ID (required)")
	fs.StringVar(&variantID, "variant", "", "Channel variant ID")
	parse(fs, args, "product -channel ID -product ID [options]")

	if channelID == "" || productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	path := "/api/channels/" + url.PathEscape(channelID) + "/products/" + url.PathEscape(productID)
	if variantID != "" {
		path += "?variantId=" + url.QueryEscape(variantID)
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fatal("Failed to get product: %v", err)
	}

	product, _ := resp["product"].(map[string]any)
	if quiet {
		fmt.Println(product["price"])
		return
	}
	printSuccess("%v", product["title"])
	fmt.Printf("  Price: %s%v%s\n", colorGreen, product["price"], colorReset)
	fmt.Printf("  Available: %v\n", product["availableForSale"])
	if inv, ok := product["inventory"]; ok && inv != nil {
		fmt.Printf("  Inventory: %v\n", inv)
	}
}

// =============================================================================
// HTTP
// =============================================================================

func doRequest(method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Code != "" {
			return nil, fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return result, nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printOrder(order map[string]any) {
	fmt.Printf("  ID: %s%v%s  Status: %s%v%s\n", colorCyan, order["id"], colorReset, colorBold, order["status"], colorReset)
	if info, ok := order["errorInfo"].(map[string]any); ok {
		printError("%v: %v (actions: %v)", info["title"], info["message"], info["actions"])
	}
	printCartItems(order)
}

func printCartItems(order map[string]any) {
	items, _ := order["cartItems"].([]any)
	itemErrors, _ := order["cartItemErrors"].(map[string]any)
	for _, it := range items {
		ci, _ := it.(map[string]any)
		line := fmt.Sprintf("%vx %v/%v on %v @ %v", ci["quantity"], ci["productId"], ci["variantId"], ci["channelId"], ci["price"])
		if purchase, _ := ci["purchaseId"].(string); purchase != "" {
			fmt.Printf("  %s✓%s %s  purchase %s\n", colorGreen, colorReset, line, purchase)
			continue
		}
		if e, ok := itemErrors[fmt.Sprint(ci["id"])].(map[string]any); ok {
			fmt.Printf("  %s✗%s %s  %v: %v\n", colorRed, colorReset, line, e["title"], e["message"])
			continue
		}
		fmt.Printf("  %s•%s %s\n", colorGray, colorReset, line)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
