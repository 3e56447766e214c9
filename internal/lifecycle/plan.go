package lifecycle

import "github.com/openshiporg/openship-sub005/internal/model"

// Mode is how an order's cart is built.
type Mode int

const (
	// ModeDirect places cart items the order was created with.
	ModeDirect Mode = iota
	// ModeLinkBased routes through the shop's links.
	ModeLinkBased
	// ModeMatchBased routes through saved matches.
	ModeMatchBased
)

func (m Mode) String() string {
	switch m {
	case ModeLinkBased:
		return "link"
	case ModeMatchBased:
		return "match"
	}
	return "direct"
}

// Plan is decided once when an order is created and passed through the
// pipeline; later edits to the order's flags do not change it.
type Plan struct {
	Mode      Mode
	AutoPlace bool
}

// PlanFor applies the routing priority: links (when the shop has any), then
// matches, then the order's own cart items. An order submitted with cart
// items and no line items has nothing to link or match and is placed as given.
func PlanFor(o *model.Order, shopHasLinks bool) Plan {
	p := Plan{AutoPlace: o.ProcessOrder}
	switch {
	case len(o.LineItems) == 0 && len(o.CartItems) > 0:
		p.Mode = ModeDirect
	case o.LinkOrder && shopHasLinks:
		p.Mode = ModeLinkBased
	case o.MatchOrder:
		p.Mode = ModeMatchBased
	default:
		p.Mode = ModeDirect
	}
	return p
}
