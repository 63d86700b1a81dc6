package migrate

import "tickerdesk.io/internal/store"

// both declares the same statements for each backend dialect.
func both(stmts ...string) map[string][]string {
	return map[string][]string{
		store.DialectPostgres: stmts,
		store.DialectSQLite:   stmts,
	}
}

// All returns the schema history in execution order. Statements stick to the
// DDL subset both backends accept; timestamps are written by application code
// rather than column defaults so the dialects stay aligned.
func All() []Migration {
	return []Migration{
		{
			Name: "0001_users",
			Statements: both(
				`create table if not exists users (
					id                  text primary key,
					email               text not null unique,
					password_hash       text not null,
					name                text,
					tier                text not null,
					subscription_status text not null,
					customer_id         text,
					created_at          timestamp not null,
					updated_at          timestamp not null,
					last_login_at       timestamp
				)`,
				`create index if not exists idx_users_customer_id on users(customer_id)`,
			),
		},
		{
			Name: "0002_password_reset_tokens",
			Statements: both(
				`create table if not exists password_reset_tokens (
					user_id    text primary key references users(id) on delete cascade,
					token_hash text not null,
					expires_at timestamp not null
				)`,
				`create index if not exists idx_reset_tokens_hash on password_reset_tokens(token_hash)`,
			),
		},
		{
			// Feature tables consumed by the dashboard; no backend logic
			// touches them beyond schema upkeep.
			Name: "0003_watchlists_alerts",
			Statements: both(
				`create table if not exists watchlist_items (
					id         text primary key,
					user_id    text not null references users(id) on delete cascade,
					symbol     text not null,
					created_at timestamp not null
				)`,
				`create unique index if not exists idx_watchlist_user_symbol on watchlist_items(user_id, symbol)`,
				`create table if not exists alerts (
					id         text primary key,
					user_id    text not null references users(id) on delete cascade,
					symbol     text not null,
					condition  text not null,
					threshold  real not null,
					created_at timestamp not null
				)`,
			),
		},
	}
}
