package storage

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cards (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		name_kana     TEXT NOT NULL DEFAULT '',
		company       TEXT NOT NULL,
		department    TEXT NOT NULL DEFAULT '',
		position      TEXT NOT NULL DEFAULT '',
		phone         TEXT NOT NULL DEFAULT '',
		fax           TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		address       TEXT NOT NULL DEFAULT '',
		postal_code   TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL DEFAULT '',
		sns           TEXT NOT NULL DEFAULT '',
		raw_text      TEXT NOT NULL DEFAULT '',
		raw_text_back TEXT NOT NULL DEFAULT '',
		fingerprint   TEXT NOT NULL,
		scanned_at    TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS cards_scanned_at_idx ON cards (scanned_at DESC)`,
	`CREATE INDEX IF NOT EXISTS cards_fingerprint_idx ON cards (fingerprint)`,
	`CREATE TABLE IF NOT EXISTS scan_attempts (
		id          UUID PRIMARY KEY,
		at          TIMESTAMPTZ NOT NULL,
		outcome     TEXT NOT NULL,
		trigger     TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		score       INTEGER NOT NULL DEFAULT 0,
		reason      TEXT NOT NULL DEFAULT '',
		card_id     TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS scan_attempts_at_idx ON scan_attempts (at DESC)`,
}
