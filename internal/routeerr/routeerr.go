// Package routeerr is the error taxonomy for order- and cart-scoped routing
// failures. Errors are a tagged union in Go and are stored in the Order.error
// and CartItem.error text columns as "KIND: message".
package routeerr

import (
	"regexp"
	"strings"
)

// Kind is the closed set of routing error kinds.
type Kind string

const (
	KindPriceChange    Kind = "PRICE_CHANGE"
	KindPlacementError Kind = "ORDER_PLACEMENT_ERROR"
	KindMatchError     Kind = "MATCH_ERROR"
	KindNetworkError   Kind = "NETWORK_ERROR"
	KindUnknown        Kind = "UNKNOWN_ERROR"
)

// Action is a remediation the UI can offer for an error.
type Action string

const (
	ActionDismiss     Action = "dismiss"
	ActionUpdatePrice Action = "update_price"
	ActionRetry       Action = "retry"
)

type kindInfo struct {
	title   string
	actions []Action
}

var kinds = map[Kind]kindInfo{
	KindPriceChange:    {"Price Changed", []Action{ActionDismiss, ActionUpdatePrice}},
	KindPlacementError: {"Order Placement Failed", []Action{ActionDismiss, ActionRetry}},
	KindMatchError:     {"No Match Found", []Action{ActionDismiss}},
	KindNetworkError:   {"Network Error", []Action{ActionDismiss, ActionRetry}},
	KindUnknown:        {"Error", []Action{ActionDismiss}},
}

// Error is one routing error. OldPrice and NewPrice are set only for
// KindPriceChange.
type Error struct {
	Kind     Kind
	Message  string
	OldPrice string
	NewPrice string
}

// PriceChange builds the drift error recorded on a CartItem.
func PriceChange(oldPrice, newPrice string) Error {
	return Error{
		Kind:     KindPriceChange,
		Message:  "Price changed: " + oldPrice + " → " + newPrice + ". Verify before placing order.",
		OldPrice: oldPrice,
		NewPrice: newPrice,
	}
}

func Placement(detail string) Error { return Error{Kind: KindPlacementError, Message: detail} }

func Match(detail string) Error { return Error{Kind: KindMatchError, Message: detail} }

func Network(detail string) Error { return Error{Kind: KindNetworkError, Message: detail} }

func Unknown(detail string) Error { return Error{Kind: KindUnknown, Message: detail} }

// String is the stored form.
func (e Error) String() string {
	return string(e.Kind) + ": " + e.Message
}

func (e Error) Error() string { return e.String() }

// Title is the short heading for the error kind.
func (e Error) Title() string { return kinds[e.Kind].title }

// Actions returns the remediation actions for the error kind.
func (e Error) Actions() []Action {
	return append([]Action(nil), kinds[e.Kind].actions...)
}

// Decode turns a stored error string back into an Error. Strings without a
// known "KIND: " prefix decode as KindUnknown carrying the whole string.
// Decode("") returns the zero Error and false.
func Decode(s string) (Error, bool) {
	if s == "" {
		return Error{}, false
	}
	prefix, msg, found := strings.Cut(s, ": ")
	if !found {
		return Unknown(s), true
	}
	k := Kind(prefix)
	if _, known := kinds[k]; !known {
		return Unknown(s), true
	}
	e := Error{Kind: k, Message: msg}
	if k == KindPriceChange {
		e.OldPrice, e.NewPrice, _ = ExtractPriceChange(msg)
	}
	return e, true
}

// Parsed is the UI-facing view of a stored error.
type Parsed struct {
	Type    Kind     `json:"type"`
	Message string   `json:"message"`
	Title   string   `json:"title"`
	Actions []Action `json:"actions"`
}

// Parse decodes a stored error string into its UI-facing view.
func Parse(s string) (Parsed, bool) {
	e, ok := Decode(s)
	if !ok {
		return Parsed{}, false
	}
	return Parsed{Type: e.Kind, Message: e.Message, Title: e.Title(), Actions: e.Actions()}, true
}

var (
	priceChangePattern       = regexp.MustCompile(`Price changed: (.+?) → (.+?)\. Verify before placing order\.?$`)
	legacyPriceChangePattern = regexp.MustCompile(`Price changed from (.+?) to (.+?)\.?$`)
)

// ExtractPriceChange recovers the old and new prices from a PRICE_CHANGE
// message, with or without the "PRICE_CHANGE: " prefix. Both the current
// sentence and the older "Price changed from X to Y" wording are accepted.
func ExtractPriceChange(msg string) (oldPrice, newPrice string, ok bool) {
	msg = strings.TrimPrefix(msg, string(KindPriceChange)+": ")
	for _, re := range []*regexp.Regexp{priceChangePattern, legacyPriceChangePattern} {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
