package store

// migrations run in order on Open. Statements use types both Postgres and
// SQLite accept; times are unix nanoseconds.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS platforms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		app_key TEXT NOT NULL DEFAULT '',
		app_secret TEXT NOT NULL DEFAULT '',
		functions TEXT NOT NULL DEFAULT '{}',
		user_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS shops (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at BIGINT,
		metadata TEXT NOT NULL DEFAULT '{}',
		link_mode TEXT NOT NULL DEFAULT 'sequential',
		platform_id TEXT NOT NULL REFERENCES platforms(id),
		user_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at BIGINT,
		metadata TEXT NOT NULL DEFAULT '{}',
		platform_id TEXT NOT NULL REFERENCES platforms(id),
		user_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL DEFAULT '',
		order_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		street_address1 TEXT NOT NULL DEFAULT '',
		street_address2 TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		total_price TEXT NOT NULL DEFAULT '',
		sub_total_price TEXT NOT NULL DEFAULT '',
		total_discounts TEXT NOT NULL DEFAULT '',
		total_tax TEXT NOT NULL DEFAULT '',
		link_order BOOLEAN NOT NULL DEFAULT TRUE,
		match_order BOOLEAN NOT NULL DEFAULT TRUE,
		process_order BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error TEXT NOT NULL DEFAULT '',
		shop_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_shop_order_idx ON orders (shop_id, order_id)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		variant_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 1,
		price TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS line_items_order_idx ON line_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		line_item_id TEXT NOT NULL DEFAULT '',
		match_id TEXT NOT NULL DEFAULT '',
		match_output_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL DEFAULT '',
		variant_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 1,
		price TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		purchase_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cart_items_order_idx ON cart_items (order_id)`,
	`CREATE INDEX IF NOT EXISTS cart_items_channel_purchase_idx ON cart_items (channel_id, purchase_id)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS match_inputs (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL REFERENCES matches(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		shop_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS match_inputs_ref_idx ON match_inputs (product_id, variant_id, quantity)`,
	`CREATE TABLE IF NOT EXISTS match_outputs (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL REFERENCES matches(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		rank INTEGER NOT NULL DEFAULT 0,
		filters TEXT NOT NULL DEFAULT '[]',
		dynamic_where_clause TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_details (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		tracking_company TEXT NOT NULL DEFAULT '',
		tracking_number TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
}
