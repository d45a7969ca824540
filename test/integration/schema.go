package integration

// Schema is the full database layout both services share. Integration
// setups apply it to a fresh container before any test runs.
const Schema = `
CREATE TABLE IF NOT EXISTS inventory_records (
	id                  UUID PRIMARY KEY,
	product_id          TEXT NOT NULL,
	store_id            TEXT NOT NULL,
	quantity            INT NOT NULL DEFAULT 0,
	reserved            INT NOT NULL DEFAULT 0,
	low_stock_threshold INT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (product_id, store_id),
	CHECK (quantity >= 0),
	CHECK (reserved >= 0 AND reserved <= quantity)
);

CREATE TABLE IF NOT EXISTS inventory_movements (
	id            UUID PRIMARY KEY,
	seq           BIGSERIAL,
	record_id     UUID NOT NULL REFERENCES inventory_records(id),
	movement_type TEXT NOT NULL,
	quantity      INT NOT NULL,
	reference     TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	performed_by  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inventory_movements_record
	ON inventory_movements (record_id, seq);

CREATE TABLE IF NOT EXISTS carts (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
	cart_id          UUID NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
	product_id       TEXT NOT NULL,
	quantity         INT NOT NULL,
	unit_price_cents BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (cart_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	total_cents      BIGINT NOT NULL,
	shipping_address TEXT NOT NULL DEFAULT '',
	billing_address  TEXT NOT NULL DEFAULT '',
	payment_method   TEXT NOT NULL DEFAULT '',
	payment_ref      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	order_id         UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id       TEXT NOT NULL,
	product_name     TEXT NOT NULL,
	quantity         INT NOT NULL,
	unit_price_cents BIGINT NOT NULL,
	PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	payload        JSONB NOT NULL,
	headers        JSONB NOT NULL DEFAULT '{}'::jsonb,
	traceparent    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending',
	relay_id       TEXT,
	lease_until    TIMESTAMPTZ,
	retry_count    INT NOT NULL DEFAULT 0,
	last_error     TEXT,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, id) WHERE status = 'pending';
`
