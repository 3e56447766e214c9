// Package store persists the Openship data model. SQL backs Postgres and
// SQLite; Memory is used for tests and for running without a database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence port used by the routing pipeline and the API.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *model.User) error
	UserByAPIKey(ctx context.Context, apiKey string) (*model.User, error)

	// Platforms, shops and channels. GetShop and GetChannel load Platform.
	CreatePlatform(ctx context.Context, p *model.Platform) error
	GetPlatform(ctx context.Context, id string) (*model.Platform, error)
	CreateShop(ctx context.Context, s *model.Shop) error
	GetShop(ctx context.Context, id string) (*model.Shop, error)
	FindShopByDomain(ctx context.Context, userID, platformID, domain string) (*model.Shop, error)
	CreateChannel(ctx context.Context, c *model.Channel) error
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	FindChannelByDomain(ctx context.Context, userID, platformID, domain string) (*model.Channel, error)
	// SaveTokens updates the credentials of a shop or channel.
	SaveTokens(ctx context.Context, kind model.PlatformKind, id, accessToken, refreshToken string, expiresAt *time.Time) error

	// Orders. CreateOrder also inserts o.LineItems and o.CartItems.
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	FindOrderByShopOrderID(ctx context.Context, shopID, orderID string) (*model.Order, error)
	SetOrderState(ctx context.Context, id string, status model.OrderStatus, errMsg string) error
	SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	SetOrderError(ctx context.Context, id, errMsg string) error

	// Cart items. Unplaced means purchaseId and url are empty and the item
	// is not cancelled.
	CreateCartItems(ctx context.Context, items []model.CartItem) ([]model.CartItem, error)
	GetCartItem(ctx context.Context, id string) (*model.CartItem, error)
	UnplacedCartItems(ctx context.Context, orderID string) ([]model.CartItem, error)
	CountUnplaced(ctx context.Context, orderID string) (int, error)
	MarkCartItemsPlaced(ctx context.Context, ids []string, purchaseID, url string) error
	MarkCartItemsError(ctx context.Context, ids []string, errMsg string) error
	SetCartItemError(ctx context.Context, id, errMsg string) error
	SetCartItemPrice(ctx context.Context, id, price, errMsg string) error
	// Purchase ids are channel-native, so lookups are scoped to the channel.
	CartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error)
	CancelCartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error)

	// Matches. Find* results are ordered most recently updated first, then by id.
	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	// FindMatchesCovering returns the user's matches whose input contains an
	// entry equal to every ref.
	FindMatchesCovering(ctx context.Context, userID string, refs []model.ItemRef) ([]model.Match, error)
	// FindSingleItemMatches returns the user's matches with a non-empty input
	// where every entry equals ref.
	FindSingleItemMatches(ctx context.Context, userID string, ref model.ItemRef) ([]model.Match, error)
	SetMatchOutputPrice(ctx context.Context, matchID, outputID, price string) error

	// Links, ordered by rank ascending then id.
	CreateLink(ctx context.Context, l *model.Link) error
	ListLinks(ctx context.Context, shopID string) ([]model.Link, error)

	// Tracking
	CreateTrackingDetail(ctx context.Context, td *model.TrackingDetail) error
	TrackedPurchaseIDs(ctx context.Context, orderID string) ([]string, error)

	Close() error
}
