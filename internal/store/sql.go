package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// Dialect selects placeholder syntax and the database/sql driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// SQL is a Store over database/sql. Queries are written with "?" and
// rebound to "$n" for Postgres.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQL)(nil)

// New wraps an open database without running migrations.
func New(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, now: time.Now}
}

// Open connects to dsn and applies migrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; avoids SQLITE_BUSY under concurrent placement
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

// DB exposes the underlying handle for health checks.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

// execOne runs an UPDATE that must touch a row.
func (s *SQL) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *SQL) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, v := range ss {
		out[i] = v
	}
	return out
}

// === Users ===

func (s *SQL) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO users (id, name, email, api_key) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.APIKey)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQL) UserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, email, api_key FROM users WHERE api_key = ?`), apiKey).
		Scan(&u.ID, &u.Name, &u.Email, &u.APIKey)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// === Platforms ===

const platformColumns = `id, name, kind, app_key, app_secret, functions, user_id`

func (s *SQL) CreatePlatform(ctx context.Context, p *model.Platform) error {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO platforms (`+platformColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Kind), p.AppKey, p.AppSecret, toJSON(p.Functions), p.UserID)
	if err != nil {
		return fmt.Errorf("insert platform: %w", err)
	}
	return nil
}

func (s *SQL) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	var (
		p         model.Platform
		kind      string
		functions string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+platformColumns+` FROM platforms WHERE id = ?`), id).
		Scan(&p.ID, &p.Name, &kind, &p.AppKey, &p.AppSecret, &functions, &p.UserID)
	if err != nil {
		return nil, notFound(err, "platform "+id)
	}
	p.Kind = model.PlatformKind(kind)
	if err := json.Unmarshal([]byte(functions), &p.Functions); err != nil {
		return nil, fmt.Errorf("decode platform functions: %w", err)
	}
	return &p, nil
}

// === Shops and channels ===

const bindingColumns = `id, name, domain, access_token, refresh_token, token_expires_at, metadata, platform_id, user_id`

type bindingRow struct {
	id, name, platformID, userID string
	binding                      model.Binding
	expires                      sql.NullInt64
	metadata                     string
}

func (r *bindingRow) dest() []any {
	return []any{&r.id, &r.name, &r.binding.Domain, &r.binding.AccessToken, &r.binding.RefreshToken,
		&r.expires, &r.metadata, &r.platformID, &r.userID}
}

func (r *bindingRow) finish() error {
	r.binding.TokenExpiresAt = fromNullNanos(r.expires)
	if r.metadata != "" && r.metadata != "null" {
		if err := json.Unmarshal([]byte(r.metadata), &r.binding.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}

func (s *SQL) CreateShop(ctx context.Context, sh *model.Shop) error {
	if sh.ID == "" {
		sh.ID = newID()
	}
	if sh.LinkMode == "" {
		sh.LinkMode = model.LinkModeSequential
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO shops (`+bindingColumns+`, link_mode) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.Name, sh.Domain, sh.AccessToken, sh.RefreshToken, nullNanos(sh.TokenExpiresAt),
		toJSON(sh.Metadata), sh.PlatformID, sh.UserID, string(sh.LinkMode))
	if err != nil {
		return fmt.Errorf("insert shop: %w", err)
	}
	return nil
}

func (s *SQL) queryShop(ctx context.Context, where string, args ...any) (*model.Shop, error) {
	var (
		r    bindingRow
		mode string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+bindingColumns+`, link_mode FROM shops WHERE `+where), args...).
		Scan(append(r.dest(), &mode)...)
	if err != nil {
		return nil, notFound(err, "shop")
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	p, err := s.GetPlatform(ctx, r.platformID)
	if err != nil {
		return nil, err
	}
	return &model.Shop{
		ID: r.id, Name: r.name, Binding: r.binding, LinkMode: model.LinkMode(mode),
		PlatformID: r.platformID, UserID: r.userID, Platform: p,
	}, nil
}

func (s *SQL) GetShop(ctx context.Context, id string) (*model.Shop, error) {
	return s.queryShop(ctx, `id = ?`, id)
}

func (s *SQL) FindShopByDomain(ctx context.Context, userID, platformID, domain string) (*model.Shop, error) {
	return s.queryShop(ctx, `user_id = ? AND platform_id = ? AND domain = ?`, userID, platformID, domain)
}

func (s *SQL) CreateChannel(ctx context.Context, c *model.Channel) error {
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO channels (`+bindingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Domain, c.AccessToken, c.RefreshToken, nullNanos(c.TokenExpiresAt),
		toJSON(c.Metadata), c.PlatformID, c.UserID)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *SQL) queryChannel(ctx context.Context, where string, args ...any) (*model.Channel, error) {
	var r bindingRow
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+bindingColumns+` FROM channels WHERE `+where), args...).
		Scan(r.dest()...)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	p, err := s.GetPlatform(ctx, r.platformID)
	if err != nil {
		return nil, err
	}
	return &model.Channel{
		ID: r.id, Name: r.name, Binding: r.binding,
		PlatformID: r.platformID, UserID: r.userID, Platform: p,
	}, nil
}

func (s *SQL) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	return s.queryChannel(ctx, `id = ?`, id)
}

func (s *SQL) FindChannelByDomain(ctx context.Context, userID, platformID, domain string) (*model.Channel, error) {
	return s.queryChannel(ctx, `user_id = ? AND platform_id = ? AND domain = ?`, userID, platformID, domain)
}

func (s *SQL) SaveTokens(ctx context.Context, kind model.PlatformKind, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	var table string
	switch kind {
	case model.PlatformKindShop:
		table = "shops"
	case model.PlatformKindChannel:
		table = "channels"
	default:
		return fmt.Errorf("unknown binding kind %q", kind)
	}
	return s.execOne(ctx, string(kind)+" "+id,
		`UPDATE `+table+` SET access_token = ?, refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END, token_expires_at = ? WHERE id = ?`,
		accessToken, refreshToken, refreshToken, nullNanos(expiresAt), id)
}

// === Orders ===

const orderColumns = `id, order_id, order_name, email, first_name, last_name, street_address1, street_address2,
	city, state, zip, country, phone, currency, total_price, sub_total_price, total_discounts, total_tax,
	link_order, match_order, process_order, status, error, shop_id, user_id, created_at, updated_at`

const lineItemColumns = `id, order_id, position, product_id, variant_id, quantity, price, name, image, sku`

const cartItemColumns = `id, order_id, channel_id, user_id, line_item_id, match_id, match_output_id, product_id, variant_id, quantity,
	price, name, image, sku, purchase_id, url, error, status, created_at, updated_at`

func (s *SQL) CreateOrder(ctx context.Context, o *model.Order) error {
	now := s.now()
	if o.ID == "" {
		o.ID = newID()
	}
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}
	o.CreatedAt, o.UpdatedAt = now, now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `INSERT INTO orders (`+orderColumns+`) VALUES (`+placeholders(27)+`)`,
			o.ID, o.OrderID, o.OrderName, o.Email, o.FirstName, o.LastName, o.StreetAddress1, o.StreetAddress2,
			o.City, o.State, o.Zip, o.Country, o.Phone, o.Currency, o.TotalPrice, o.SubTotalPrice, o.TotalDiscounts, o.TotalTax,
			o.LinkOrder, o.MatchOrder, o.ProcessOrder, string(o.Status), o.Error, o.ShopID, o.UserID, nanos(now), nanos(now))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range o.LineItems {
			li := &o.LineItems[i]
			if li.ID == "" {
				li.ID = newID()
			}
			li.OrderID = o.ID
			_, err := s.exec(ctx, tx, `INSERT INTO line_items (`+lineItemColumns+`) VALUES (`+placeholders(10)+`)`,
				li.ID, li.OrderID, i, li.ProductID, li.VariantID, li.Quantity, li.Price, li.Name, li.Image, li.SKU)
			if err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		}
		for i := range o.CartItems {
			ci := &o.CartItems[i]
			ci.OrderID = o.ID
			if ci.UserID == "" {
				ci.UserID = o.UserID
			}
			if err := s.insertCartItem(ctx, tx, ci, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) insertCartItem(ctx context.Context, q querier, ci *model.CartItem, now time.Time) error {
	if ci.ID == "" {
		ci.ID = newID()
	}
	if ci.Status == "" {
		ci.Status = model.CartItemStatusPending
	}
	ci.CreatedAt, ci.UpdatedAt = now, now
	_, err := s.exec(ctx, q, `INSERT INTO cart_items (`+cartItemColumns+`) VALUES (`+placeholders(20)+`)`,
		ci.ID, ci.OrderID, ci.ChannelID, ci.UserID, ci.LineItemID, ci.MatchID, ci.MatchOutputID, ci.ProductID, ci.VariantID, ci.Quantity,
		ci.Price, ci.Name, ci.Image, ci.SKU, ci.PurchaseID, ci.URL, ci.Error, string(ci.Status), nanos(now), nanos(now))
	if err != nil {
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (s *SQL) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.queryOrder(ctx, `id = ?`, id)
}

func (s *SQL) FindOrderByShopOrderID(ctx context.Context, shopID, orderID string) (*model.Order, error) {
	return s.queryOrder(ctx, `shop_id = ? AND order_id = ? ORDER BY created_at LIMIT 1`, shopID, orderID)
}

func (s *SQL) queryOrder(ctx context.Context, where string, args ...any) (*model.Order, error) {
	var (
		o                model.Order
		status           string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders WHERE `+where), args...).Scan(
		&o.ID, &o.OrderID, &o.OrderName, &o.Email, &o.FirstName, &o.LastName, &o.StreetAddress1, &o.StreetAddress2,
		&o.City, &o.State, &o.Zip, &o.Country, &o.Phone, &o.Currency, &o.TotalPrice, &o.SubTotalPrice, &o.TotalDiscounts, &o.TotalTax,
		&o.LinkOrder, &o.MatchOrder, &o.ProcessOrder, &status, &o.Error, &o.ShopID, &o.UserID, &created, &updated)
	if err != nil {
		return nil, notFound(err, "order")
	}
	o.Status = model.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = fromNanos(created), fromNanos(updated)

	if o.LineItems, err = s.lineItems(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.CartItems, err = s.cartItems(ctx, `order_id = ?`, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQL) lineItems(ctx context.Context, orderID string) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+lineItemColumns+` FROM line_items WHERE order_id = ? ORDER BY position`), orderID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LineItem
	for rows.Next() {
		var (
			li  model.LineItem
			pos int
		)
		if err := rows.Scan(&li.ID, &li.OrderID, &pos, &li.ProductID, &li.VariantID, &li.Quantity, &li.Price, &li.Name, &li.Image, &li.SKU); err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (s *SQL) cartItems(ctx context.Context, where string, args ...any) ([]model.CartItem, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+cartItemColumns+` FROM cart_items WHERE `+where+` ORDER BY created_at, id`), args...)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CartItem
	for rows.Next() {
		var (
			ci               model.CartItem
			status           string
			created, updated int64
		)
		if err := rows.Scan(&ci.ID, &ci.OrderID, &ci.ChannelID, &ci.UserID, &ci.LineItemID, &ci.MatchID, &ci.MatchOutputID, &ci.ProductID, &ci.VariantID, &ci.Quantity,
			&ci.Price, &ci.Name, &ci.Image, &ci.SKU, &ci.PurchaseID, &ci.URL, &ci.Error, &status, &created, &updated); err != nil {
			return nil, err
		}
		ci.Status = model.CartItemStatus(status)
		ci.CreatedAt, ci.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (s *SQL) SetOrderState(ctx context.Context, id string, status model.OrderStatus, errMsg string) error {
	return s.execOne(ctx, "order "+id, `UPDATE orders SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, nanos(s.now()), id)
}

func (s *SQL) SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return s.execOne(ctx, "order "+id, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nanos(s.now()), id)
}

func (s *SQL) SetOrderError(ctx context.Context, id, errMsg string) error {
	return s.execOne(ctx, "order "+id, `UPDATE orders SET error = ?, updated_at = ? WHERE id = ?`,
		errMsg, nanos(s.now()), id)
}

// === Cart items ===

func (s *SQL) CreateCartItems(ctx context.Context, items []model.CartItem) ([]model.CartItem, error) {
	out := make([]model.CartItem, len(items))
	copy(out, items)
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range out {
			if err := s.insertCartItem(ctx, tx, &out[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) GetCartItem(ctx context.Context, id string) (*model.CartItem, error) {
	items, err := s.cartItems(ctx, `id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("cart item %s: %w", id, ErrNotFound)
	}
	return &items[0], nil
}

const unplacedWhere = `order_id = ? AND purchase_id = '' AND url = '' AND status <> 'CANCELLED'`

func (s *SQL) UnplacedCartItems(ctx context.Context, orderID string) ([]model.CartItem, error) {
	return s.cartItems(ctx, unplacedWhere, orderID)
}

func (s *SQL) CountUnplaced(ctx context.Context, orderID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM cart_items WHERE `+unplacedWhere), orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unplaced: %w", err)
	}
	return n, nil
}

func (s *SQL) MarkCartItemsPlaced(ctx context.Context, ids []string, purchaseID, url string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{purchaseID, url, nanos(s.now())}, anyStrings(ids)...)
	_, err := s.exec(ctx, s.db,
		`UPDATE cart_items SET purchase_id = ?, url = ?, error = '', updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark cart items placed: %w", err)
	}
	return nil
}

func (s *SQL) MarkCartItemsError(ctx context.Context, ids []string, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{errMsg, nanos(s.now())}, anyStrings(ids)...)
	_, err := s.exec(ctx, s.db,
		`UPDATE cart_items SET error = ?, updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark cart items error: %w", err)
	}
	return nil
}

func (s *SQL) SetCartItemError(ctx context.Context, id, errMsg string) error {
	return s.execOne(ctx, "cart item "+id, `UPDATE cart_items SET error = ?, updated_at = ? WHERE id = ?`,
		errMsg, nanos(s.now()), id)
}

func (s *SQL) SetCartItemPrice(ctx context.Context, id, price, errMsg string) error {
	return s.execOne(ctx, "cart item "+id, `UPDATE cart_items SET price = ?, error = ?, updated_at = ? WHERE id = ?`,
		price, errMsg, nanos(s.now()), id)
}

func (s *SQL) CartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error) {
	if purchaseID == "" {
		return nil, nil
	}
	return s.cartItems(ctx, `channel_id = ? AND purchase_id = ?`, channelID, purchaseID)
}

func (s *SQL) CancelCartItemsByPurchase(ctx context.Context, channelID, purchaseID string) ([]model.CartItem, error) {
	if purchaseID == "" {
		return nil, nil
	}
	_, err := s.exec(ctx, s.db, `UPDATE cart_items SET status = 'CANCELLED', updated_at = ? WHERE channel_id = ? AND purchase_id = ?`,
		nanos(s.now()), channelID, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("cancel cart items: %w", err)
	}
	return s.cartItems(ctx, `channel_id = ? AND purchase_id = ?`, channelID, purchaseID)
}

// === Matches ===

func (s *SQL) CreateMatch(ctx context.Context, m *model.Match) error {
	now := s.now()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO matches (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			m.ID, m.UserID, nanos(m.CreatedAt), nanos(m.UpdatedAt)); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		for i := range m.Input {
			in := &m.Input[i]
			if in.ID == "" {
				in.ID = newID()
			}
			if _, err := s.exec(ctx, tx,
				`INSERT INTO match_inputs (id, match_id, position, product_id, variant_id, quantity, shop_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				in.ID, m.ID, i, in.ProductID, in.VariantID, in.Quantity, in.ShopID); err != nil {
				return fmt.Errorf("insert match input: %w", err)
			}
		}
		for i := range m.Output {
			out := &m.Output[i]
			if out.ID == "" {
				out.ID = newID()
			}
			if _, err := s.exec(ctx, tx,
				`INSERT INTO match_outputs (id, match_id, position, product_id, variant_id, quantity, price, channel_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				out.ID, m.ID, i, out.ProductID, out.VariantID, out.Quantity, out.Price, out.ChannelID); err != nil {
				return fmt.Errorf("insert match output: %w", err)
			}
		}
		return nil
	})
}

func (s *SQL) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	var (
		m                model.Match
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, user_id, created_at, updated_at FROM matches WHERE id = ?`), id).
		Scan(&m.ID, &m.UserID, &created, &updated)
	if err != nil {
		return nil, notFound(err, "match "+id)
	}
	m.CreatedAt, m.UpdatedAt = fromNanos(created), fromNanos(updated)
	if err := s.loadMatchEntries(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQL) loadMatchEntries(ctx context.Context, m *model.Match) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, product_id, variant_id, quantity, shop_id FROM match_inputs WHERE match_id = ? ORDER BY position`), m.ID)
	if err != nil {
		return fmt.Errorf("query match inputs: %w", err)
	}
	for rows.Next() {
		var in model.MatchInput
		if err := rows.Scan(&in.ID, &in.ProductID, &in.VariantID, &in.Quantity, &in.ShopID); err != nil {
			rows.Close()
			return err
		}
		m.Input = append(m.Input, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(
		`SELECT id, product_id, variant_id, quantity, price, channel_id FROM match_outputs WHERE match_id = ? ORDER BY position`), m.ID)
	if err != nil {
		return fmt.Errorf("query match outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var out model.MatchOutput
		if err := rows.Scan(&out.ID, &out.ProductID, &out.VariantID, &out.Quantity, &out.Price, &out.ChannelID); err != nil {
			return err
		}
		m.Output = append(m.Output, out)
	}
	return rows.Err()
}

// findMatches loads full matches for the ids selected by query.
func (s *SQL) findMatches(ctx context.Context, query string, args ...any) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Match, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

const refMatches = `i.product_id = ? AND i.variant_id = ? AND i.quantity = ?`

func (s *SQL) FindMatchesCovering(ctx context.Context, userID string, refs []model.ItemRef) ([]model.Match, error) {
	var b strings.Builder
	b.WriteString(`SELECT m.id FROM matches m WHERE m.user_id = ?`)
	args := []any{userID}
	for _, ref := range refs {
		b.WriteString(` AND EXISTS (SELECT 1 FROM match_inputs i WHERE i.match_id = m.id AND ` + refMatches + `)`)
		args = append(args, ref.ProductID, ref.VariantID, ref.Quantity)
	}
	b.WriteString(` ORDER BY m.updated_at DESC, m.id`)
	return s.findMatches(ctx, b.String(), args...)
}

func (s *SQL) FindSingleItemMatches(ctx context.Context, userID string, ref model.ItemRef) ([]model.Match, error) {
	return s.findMatches(ctx, `SELECT m.id FROM matches m WHERE m.user_id = ?
		AND EXISTS (SELECT 1 FROM match_inputs i WHERE i.match_id = m.id)
		AND NOT EXISTS (SELECT 1 FROM match_inputs i WHERE i.match_id = m.id AND NOT (`+refMatches+`))
		ORDER BY m.updated_at DESC, m.id`,
		userID, ref.ProductID, ref.VariantID, ref.Quantity)
}

func (s *SQL) SetMatchOutputPrice(ctx context.Context, matchID, outputID, price string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE match_outputs SET price = ? WHERE id = ? AND match_id = ?`, price, outputID, matchID)
		if err != nil {
			return fmt.Errorf("update match output: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("match output %s: %w", outputID, ErrNotFound)
		}
		_, err = s.exec(ctx, tx, `UPDATE matches SET updated_at = ? WHERE id = ?`, nanos(s.now()), matchID)
		return err
	})
}

// === Links ===

func (s *SQL) CreateLink(ctx context.Context, l *model.Link) error {
	if l.ID == "" {
		l.ID = newID()
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO links (id, shop_id, channel_id, rank, filters, dynamic_where_clause) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.ShopID, l.ChannelID, l.Rank, toJSON(l.Filters), toJSON(l.DynamicWhereClause))
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (s *SQL) ListLinks(ctx context.Context, shopID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, shop_id, channel_id, rank, filters, dynamic_where_clause FROM links WHERE shop_id = ? ORDER BY rank, id`), shopID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Link
	for rows.Next() {
		var (
			l              model.Link
			filters, where string
		)
		if err := rows.Scan(&l.ID, &l.ShopID, &l.ChannelID, &l.Rank, &filters, &where); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filters), &l.Filters); err != nil {
			return nil, fmt.Errorf("decode link filters: %w", err)
		}
		if err := json.Unmarshal([]byte(where), &l.DynamicWhereClause); err != nil {
			return nil, fmt.Errorf("decode link where clause: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// === Tracking ===

func (s *SQL) CreateTrackingDetail(ctx context.Context, td *model.TrackingDetail) error {
	if td.ID == "" {
		td.ID = newID()
	}
	td.CreatedAt = s.now()
	_, err := s.exec(ctx, s.db,
		`INSERT INTO tracking_details (id, order_id, purchase_id, tracking_company, tracking_number, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		td.ID, td.OrderID, td.PurchaseID, td.TrackingCompany, td.TrackingNumber, nanos(td.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert tracking detail: %w", err)
	}
	return nil
}

func (s *SQL) TrackedPurchaseIDs(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT DISTINCT purchase_id FROM tracking_details WHERE order_id = ? ORDER BY purchase_id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("query tracking: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
