package shopify

import (
	"context"
	"fmt"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

const variantFields = `
	id
	title
	price
	availableForSale
	inventoryQuantity
	inventoryItem { tracked }
	image { url }
	product {
		id
		title
		onlineStoreUrl
		featuredImage { url }
	}`

const searchProductsQuery = `query SearchVariants($query: String, $after: String) {
	productVariants(first: 15, query: $query, after: $after) {
		edges { node {` + variantFields + `} }
		pageInfo { hasNextPage endCursor }
	}
}`

const getVariantQuery = `query GetVariant($id: ID!) {
	productVariant(id: $id) {` + variantFields + `}
}`

const getProductQuery = `query GetProduct($id: ID!) {
	product(id: $id) {
		variants(first: 1) { edges { node {` + variantFields + `} } }
	}
}`

type variantNode struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	AvailableForSale  bool    `json:"availableForSale"`
	InventoryQuantity *int    `json:"inventoryQuantity"`
	InventoryItem     *struct {
		Tracked bool `json:"tracked"`
	} `json:"inventoryItem"`
	Image   *imageNode `json:"image"`
	Product struct {
		ID             string     `json:"id"`
		Title          string     `json:"title"`
		OnlineStoreURL string     `json:"onlineStoreUrl"`
		FeaturedImage  *imageNode `json:"featuredImage"`
	} `json:"product"`
}

type imageNode struct {
	URL string `json:"url"`
}

type variantEdges struct {
	Edges []struct {
		Node variantNode `json:"node"`
	} `json:"edges"`
	PageInfo adapter.PageInfo `json:"pageInfo"`
}

// SearchProducts searches variants so each result is directly purchasable.
func (c *Client) SearchProducts(ctx context.Context, req *adapter.SearchProductsRequest) (*adapter.SearchProductsResult, error) {
	vars := map[string]any{"query": req.SearchEntry}
	if req.After != "" {
		vars["after"] = req.After
	}
	var data struct {
		ProductVariants variantEdges `json:"productVariants"`
	}
	if err := c.graphql(ctx, req.Platform, searchProductsQuery, vars, &data); err != nil {
		return nil, err
	}

	result := &adapter.SearchProductsResult{
		Products: make([]model.Product, 0, len(data.ProductVariants.Edges)),
		PageInfo: data.ProductVariants.PageInfo,
	}
	for _, e := range data.ProductVariants.Edges {
		result.Products = append(result.Products, transformVariant(&e.Node, req.Platform.Domain))
	}
	return result, nil
}

// GetProduct fetches a variant, or the product's first variant when no
// VariantID is given.
func (c *Client) GetProduct(ctx context.Context, req *adapter.GetProductRequest) (*adapter.GetProductResult, error) {
	if req.ProductID == "" && req.VariantID == "" {
		return nil, model.NewValidationError("productId", "is required")
	}

	if req.VariantID != "" {
		var data struct {
			ProductVariant *variantNode `json:"productVariant"`
		}
		if err := c.graphql(ctx, req.Platform, getVariantQuery, map[string]any{"id": gid("ProductVariant", req.VariantID)}, &data); err != nil {
			return nil, err
		}
		if data.ProductVariant == nil {
			return nil, model.NewNotFoundError(fmt.Sprintf("variant %s", req.VariantID))
		}
		return &adapter.GetProductResult{Product: transformVariant(data.ProductVariant, req.Platform.Domain)}, nil
	}

	var data struct {
		Product *struct {
			Variants variantEdges `json:"variants"`
		} `json:"product"`
	}
	if err := c.graphql(ctx, req.Platform, getProductQuery, map[string]any{"id": gid("Product", req.ProductID)}, &data); err != nil {
		return nil, err
	}
	if data.Product == nil || len(data.Product.Variants.Edges) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("product %s", req.ProductID))
	}
	return &adapter.GetProductResult{Product: transformVariant(&data.Product.Variants.Edges[0].Node, req.Platform.Domain)}, nil
}

func transformVariant(v *variantNode, domain string) model.Product {
	title := v.Product.Title
	if v.Title != "" && v.Title != "Default Title" {
		title += " - " + v.Title
	}
	p := model.Product{
		ProductID:        legacyID(v.Product.ID),
		VariantID:        legacyID(v.ID),
		Title:            title,
		Price:            model.NormalizePrice(v.Price),
		AvailableForSale: v.AvailableForSale,
		ProductLink:      v.Product.OnlineStoreURL,
	}
	if v.InventoryItem != nil && v.InventoryItem.Tracked {
		p.InventoryTracked = true
		p.Inventory = v.InventoryQuantity
	}
	switch {
	case v.Image != nil:
		p.Image = v.Image.URL
	case v.Product.FeaturedImage != nil:
		p.Image = v.Product.FeaturedImage.URL
	}
	if p.ProductLink == "" {
		p.ProductLink = shopURL(domain) + "/admin/products/" + p.ProductID
	}
	return p
}
