package model

import "time"

// Match is a user-curated mapping from shop product identities (Input) to
// channel product identities (Output). Output prices are the reference used
// to detect drift at cart materialization time.
type Match struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Input     []MatchInput  `json:"input"`
	Output    []MatchOutput `json:"output"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// InputCount is the denormalized size of Input used for exact-match filtering.
func (m *Match) InputCount() int { return len(m.Input) }

func (m *Match) OutputCount() int { return len(m.Output) }

// MatchInput is a shop-side product identity.
type MatchInput struct {
	ID        string `json:"id,omitempty"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	ShopID    string `json:"shopId"`
}

// MatchOutput is a channel-side product identity with its recorded price.
type MatchOutput struct {
	ID        string `json:"id,omitempty"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	ChannelID string `json:"channelId"`
}

// ItemRef identifies a product line for matching: product, variant and quantity
// must all be equal for two refs to match.
type ItemRef struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

func (in MatchInput) Ref() ItemRef {
	return ItemRef{ProductID: in.ProductID, VariantID: in.VariantID, Quantity: in.Quantity}
}

func (li LineItem) Ref() ItemRef {
	return ItemRef{ProductID: li.ProductID, VariantID: li.VariantID, Quantity: li.Quantity}
}

// Product is the normalized product shape every adapter returns.
// Price is a decimal string; drift detection compares it textually.
type Product struct {
	Image            string `json:"image"`
	Title            string `json:"title"`
	ProductID        string `json:"productId"`
	VariantID        string `json:"variantId"`
	Price            string `json:"price"`
	AvailableForSale bool   `json:"availableForSale"`
	Inventory        *int   `json:"inventory"`
	InventoryTracked bool   `json:"inventoryTracked"`
	ProductLink      string `json:"productLink"`
}
