package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// Memory is an in-process Store. Records are copied in and out so callers
// never share state with the store.
type Memory struct {
	mu  sync.RWMutex
	now func() time.Time

	users     map[string]model.User
	platforms map[string]model.Platform
	shops     map[string]model.Shop
	channels  map[string]model.Channel
	orders    map[string]model.Order
	lineItems map[string][]model.LineItem // by order id
	cartItems map[string]model.CartItem
	cartOrder []string // insertion order of cart item ids
	matches   map[string]model.Match
	links     map[string]model.Link
	tracking  []model.TrackingDetail
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		users:     make(map[string]model.User),
		platforms: make(map[string]model.Platform),
		shops:     make(map[string]model.Shop),
		channels:  make(map[string]model.Channel),
		orders:    make(map[string]model.Order),
		lineItems: make(map[string][]model.LineItem),
		cartItems: make(map[string]model.CartItem),
		matches:   make(map[string]model.Match),
		links:     make(map[string]model.Link),
	}
}

func newID() string { return uuid.NewString() }

func (m *Memory) Close() error { return nil }

// === Users ===

func (m *Memory) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) UserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if apiKey == "" {
		return nil, ErrNotFound
	}
	for _, u := range m.users {
		if u.APIKey == apiKey {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// === Platforms, shops, channels ===

func (m *Memory) CreatePlatform(ctx context.Context, p *model.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	cp := *p
	cp.Functions = maps.Clone(p.Functions)
	m.platforms[p.ID] = cp
	return nil
}

func (m *Memory) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.platform(id)
}

func (m *Memory) platform(id string) (*model.Platform, error) {
	p, ok := m.platforms[id]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", id, ErrNotFound)
	}
	p.Functions = maps.Clone(p.Functions)
	return &p, nil
}

func (m *Memory) CreateShop(ctx context.Context, s *model.Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	if s.LinkMode == "" {
		s.LinkMode = model.LinkModeSequential
	}
	cp := *s
	cp.Platform = nil
	cp.Metadata = maps.Clone(s.Metadata)
	m.shops[s.ID] = cp
	return nil
}

func (m *Memory) GetShop(ctx context.Context, id string) (*model.Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shops[id]
	if !ok {
		return nil, fmt.Errorf("shop %s: %w", id, ErrNotFound)
	}
	return m.loadShop(s)
}

func (m *Memory) loadShop(s model.Shop) (*model.Shop, error) {
	p, err := m.platform(s.PlatformID)
	if err != nil {
		return nil, err
	}
	s.Platform = p
	s.Metadata = maps.Clone(s.Metadata)
	return &s, nil
}

func (m *Memory) FindShopByDomain(ctx context.Context, userID, platformID, domain string) (*model.Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.shops {
		if s.UserID == userID && s.PlatformID == platformID && s.Domain == domain {
			return m.loadShop(s)
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateChannel(ctx context.Context, c *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	cp := *c
	cp.Platform = nil
	cp.Metadata = maps.Clone(c.Metadata)
	m.channels[c.ID] = cp
	return nil
}

func (m *Memory) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return m.loadChannel(c)
}

func (m *Memory) loadChannel(c model.Channel) (*model.Channel, error) {
	p, err := m.platform(c.PlatformID)
	if err != nil {
		return nil, err
	}
	c.Platform = p
	c.Metadata = maps.Clone(c.Metadata)
	return &c, nil
}

func (m *Memory) FindChannelByDomain(ctx context.Context, userID, platformID, domain string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.channels {
		if c.UserID == userID && c.PlatformID == platformID && c.Domain == domain {
			return m.loadChannel(c)
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SaveTokens(ctx context.Context, kind model.PlatformKind, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	update := func(b *model.Binding) {
		b.AccessToken = accessToken
		if refreshToken != "" {
			b.RefreshToken = refreshToken
		}
		b.TokenExpiresAt = expiresAt
	}
	switch kind {
	case model.PlatformKindShop:
		s, ok := m.shops[id]
		if !ok {
			return fmt.Errorf("shop %s: %w", id, ErrNotFound)
		}
		update(&s.Binding)
		m.shops[id] = s
	case model.PlatformKindChannel:
		c, ok := m.channels[id]
		if !ok {
			return fmt.Errorf("channel %s: %w", id, ErrNotFound)
		}
		update(&c.Binding)
		m.channels[id] = c
	default:
		return fmt.Errorf("unknown binding kind %q", kind)
	}
	return nil
}

// === Orders ===

func (m *Memory) CreateOrder(ctx context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if o.ID == "" {
		o.ID = newID()
	}
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}
	o.CreatedAt, o.UpdatedAt = now, now

	for i := range o.LineItems {
		if o.LineItems[i].ID == "" {
			o.LineItems[i].ID = newID()
		}
		o.LineItems[i].OrderID = o.ID
	}
	for i := range o.CartItems {
		o.CartItems[i] = m.insertCartItem(o.CartItems[i], o.ID, o.UserID, now)
	}

	cp := *o
	cp.LineItems, cp.CartItems = nil, nil
	m.orders[o.ID] = cp
	m.lineItems[o.ID] = slices.Clone(o.LineItems)
	return nil
}

func (m *Memory) insertCartItem(ci model.CartItem, orderID, userID string, now time.Time) model.CartItem {
	if ci.ID == "" {
		ci.ID = newID()
	}
	if orderID != "" {
		ci.OrderID = orderID
	}
	if ci.UserID == "" {
		ci.UserID = userID
	}
	if ci.Status == "" {
		ci.Status = model.CartItemStatusPending
	}
	ci.CreatedAt, ci.UpdatedAt = now, now
	m.cartItems[ci.ID] = ci
	m.cartOrder = append(m.cartOrder, ci.ID)
	return ci
}

func (m *Memory) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order(id)
}

func (m *Memory) order(id string) (*model.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.LineItems = slices.Clone(m.lineItems[id])
	o.CartItems = m.cartItemsWhere(func(ci model.CartItem) bool { return ci.OrderID == id })
	return &o, nil
}

func (m *Memory) FindOrderByShopOrderID(ctx context.Context, shopID, orderID string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, o := range m.orders {
		if o.ShopID == shopID && o.OrderID == orderID {
			return m.order(id)
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) updateOrder(id string, fn func(*model.Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	fn(&o)
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return nil
}

func (m *Memory) SetOrderState(ctx context.Context, id string, status model.OrderStatus, errMsg string) error {
	return m.updateOrder(id, func(o *model.Order) { o.Status, o.Error = status, errMsg })
}

func (m *Memory) SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return m.updateOrder(id, func(o *model.Order) { o.Status = status })
}

func (m *Memory) SetOrderError(ctx context.Context, id, errMsg string) error {
	return m.updateOrder(id, func(o *model.Order) { o.Error = errMsg })
}

// === Cart items ===

func (m *Memory) CreateCartItems(ctx context.Context, items []model.CartItem) ([]model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]model.CartItem, 0, len(items))
	for _, ci := range items {
		if _, ok := m.orders[ci.OrderID]; !ok {
			return out, fmt.Errorf("order %s: %w", ci.OrderID, ErrNotFound)
		}
		out = append(out, m.insertCartItem(ci, "", "", now))
	}
	return out, nil
}

func (m *Memory) GetCartItem(ctx context.Context, id string) (*model.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ci, ok := m.cartItems[id]
	if !ok {
		return nil, fmt.Errorf("cart item %s: %w", id, ErrNotFound)
	}
	return &ci, nil
}

func (m *Memory) cartItemsWhere(pred func(model.CartItem) bool) []model.CartItem {
	var out []model.CartItem
	for _, id := range m.cartOrder {
		if ci := m.cartItems[id]; pred(ci) {
			out = append(out, ci)
		}
	}
	return out
}

func unplaced(orderID string) func(model.CartItem) bool {
	return func(ci model.CartItem) bool {
		return ci.OrderID == orderID && !ci.Placed() && ci.Status != model.CartItemStatusCancelled
	}
}

func (m *Memory) UnplacedCartItems(ctx context.Context, orderID string) ([]model.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cartItemsWhere(unplaced(orderID)), nil
}

func (m *Memory) CountUnplaced(ctx context.Context, orderID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cartItemsWhere(unplaced(orderID))), nil
}

func (m *Memory) updateCartItems(ids []string, fn func(*model.CartItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range ids {
		ci, ok := m.cartItems[id]
		if !ok {
			return fmt.Errorf("cart item %s: %w", id, ErrNotFound)
		}
		fn(&ci)
		ci.UpdatedAt = now
		m.cartItems[id] = ci
	}
	return nil
}

func (m *Memory) MarkCartItemsPlaced(ctx context.Context, ids []string, purchaseID, url string) error {
	return m.updateCartItems(ids, func(ci *model.CartItem) {
		ci.PurchaseID, ci.URL, ci.Error = purchaseID, url, ""
	})
}

func (m *Memory) MarkCartItemsError(ctx context.Context, ids []string, errMsg string) error {
	return m.updateCartItems(ids, func(ci *model.CartItem) { ci.Error = errMsg })
}

func (m *Memory) SetCartItemError(ctx context.Context, id, errMsg string) error {
	return m.updateCartItems([]string{id}, func(ci *model.CartItem) { ci.Error = errMsg })
}

func (m *Memory) SetCartItemPrice(ctx context.Context, id, price, errMsg string) error {
	return m.updateCartItems([]string{id}, func(ci *model.CartItem) { ci.Price, ci.Error = price, errMsg })
}

func (m *Memory) CartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if purchaseID == "" {
		return nil, nil
	}
	return m.cartItemsWhere(func(ci model.CartItem) bool {
		return ci.ChannelID == channelID && ci.PurchaseID == purchaseID
	}), nil
}

func (m *Memory) CancelCartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if purchaseID == "" {
		return nil, nil
	}
	now := m.now()
	var out []model.CartItem
	for _, id := range m.cartOrder {
		ci := m.cartItems[id]
		if ci.ChannelID != channelID || ci.PurchaseID != purchaseID {
			continue
		}
		ci.Status = model.CartItemStatusCancelled
		ci.UpdatedAt = now
		m.cartItems[id] = ci
		out = append(out, ci)
	}
	return out, nil
}

// === Matches ===

func (m *Memory) CreateMatch(ctx context.Context, mt *model.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if mt.ID == "" {
		mt.ID = newID()
	}
	for i := range mt.Input {
		if mt.Input[i].ID == "" {
			mt.Input[i].ID = newID()
		}
	}
	for i := range mt.Output {
		if mt.Output[i].ID == "" {
			mt.Output[i].ID = newID()
		}
	}
	if mt.CreatedAt.IsZero() {
		mt.CreatedAt = now
	}
	if mt.UpdatedAt.IsZero() {
		mt.UpdatedAt = now
	}
	m.matches[mt.ID] = cloneMatch(*mt)
	return nil
}

func (m *Memory) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	mt = cloneMatch(mt)
	return &mt, nil
}

func (m *Memory) findMatches(userID string, pred func(model.Match) bool) []model.Match {
	var out []model.Match
	for _, mt := range m.matches {
		if mt.UserID == userID && pred(mt) {
			out = append(out, cloneMatch(mt))
		}
	}
	sortMatches(out)
	return out
}

func (m *Memory) FindMatchesCovering(ctx context.Context, userID string, refs []model.ItemRef) ([]model.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findMatches(userID, func(mt model.Match) bool {
		for _, ref := range refs {
			if !slices.ContainsFunc(mt.Input, func(in model.MatchInput) bool { return in.Ref() == ref }) {
				return false
			}
		}
		return true
	}), nil
}

func (m *Memory) FindSingleItemMatches(ctx context.Context, userID string, ref model.ItemRef) ([]model.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findMatches(userID, func(mt model.Match) bool {
		if len(mt.Input) == 0 {
			return false
		}
		for _, in := range mt.Input {
			if in.Ref() != ref {
				return false
			}
		}
		return true
	}), nil
}

func (m *Memory) SetMatchOutputPrice(ctx context.Context, matchID, outputID, price string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	for i := range mt.Output {
		if mt.Output[i].ID == outputID {
			mt.Output[i].Price = price
			mt.UpdatedAt = m.now()
			m.matches[matchID] = mt
			return nil
		}
	}
	return fmt.Errorf("match output %s: %w", outputID, ErrNotFound)
}

// sortMatches orders most recently updated first, then by id.
func sortMatches(ms []model.Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].UpdatedAt.Equal(ms[j].UpdatedAt) {
			return ms[i].UpdatedAt.After(ms[j].UpdatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func cloneMatch(mt model.Match) model.Match {
	mt.Input = slices.Clone(mt.Input)
	mt.Output = slices.Clone(mt.Output)
	return mt
}

// === Links ===

func (m *Memory) CreateLink(ctx context.Context, l *model.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = newID()
	}
	cp := *l
	cp.Filters = slices.Clone(l.Filters)
	m.links[l.ID] = cp
	return nil
}

func (m *Memory) ListLinks(ctx context.Context, shopID string) ([]model.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Link
	for _, l := range m.links {
		if l.ShopID == shopID {
			l.Filters = slices.Clone(l.Filters)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// === Tracking ===

func (m *Memory) CreateTrackingDetail(ctx context.Context, td *model.TrackingDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if td.ID == "" {
		td.ID = newID()
	}
	td.CreatedAt = m.now()
	m.tracking = append(m.tracking, *td)
	return nil
}

func (m *Memory) TrackedPurchaseIDs(ctx context.Context, orderID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, td := range m.tracking {
		if td.OrderID == orderID && !slices.Contains(out, td.PurchaseID) {
			out = append(out, td.PurchaseID)
		}
	}
	return out, nil
}
