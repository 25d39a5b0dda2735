// Package storage persists accepted cards and the scan attempt audit trail in
// PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/audit"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Listing limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

const cardColumns = `id, name, name_kana, company, department, position, phone, fax,
	email, address, postal_code, url, sns, raw_text, raw_text_back, scanned_at`

// Postgres stores cards in a PostgreSQL database.
type Postgres struct {
	db    *sql.DB
	retry resilience.RetryConfig
}

// Open connects to databaseURL, verifies the connection and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "database URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "open database")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	p := New(db)
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db, retry: resilience.DefaultRetryConfig()}
}

// Close closes the database handle.
func (p *Postgres) Close() error { return p.db.Close() }

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return classify(err, "ping database")
	}
	return nil
}

// Migrate applies the schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return classify(err, "migrate schema")
		}
	}
	return nil
}

// Save inserts c and returns its id. A card that already carries an id is
// inserted under that id, and saving it again is a no-op, so queued saves
// can be retried safely.
func (p *Postgres) Save(ctx context.Context, c card.Card) (string, error) {
	ctx, span := trace.StartSpan(ctx, "card_save")
	defer span.End()

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.Wrap(err, apperrors.InvalidArgument, "card id is not a UUID")
	}
	if c.ScannedAt.IsZero() {
		c.ScannedAt = time.Now()
	}

	const q = `INSERT INTO cards (` + cardColumns + `, fingerprint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING`

	err := resilience.Retry(ctx, p.retrying(ctx, "card_save"), func() error {
		_, err := p.db.ExecContext(ctx, q, id, c.Name, c.NameKana, c.Company, c.Department,
			c.Position, c.Phone, c.Fax, c.Email, c.Address, c.PostalCode, c.URL, c.SNS,
			c.RawText, c.RawTextBack, c.ScannedAt.UTC(), c.Fingerprint())
		return classify(err, "insert card")
	})
	if err != nil {
		return "", err
	}
	span.SetAttr("card_id", id)
	return id, nil
}

// retrying returns the write retry settings, logging each retry under the
// caller's trace.
func (p *Postgres) retrying(ctx context.Context, op string) resilience.RetryConfig {
	cfg := p.retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		trace.Logger(ctx).Warn("retrying store write", "op", op, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}

// Get returns the card with id.
func (p *Postgres) Get(ctx context.Context, id string) (card.Card, error) {
	if _, err := uuid.Parse(id); err != nil {
		return card.Card{}, apperrors.Newf(apperrors.NotFound, "card %s not found", id)
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
	c, err := scanCard(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return card.Card{}, apperrors.Newf(apperrors.NotFound, "card %s not found", id)
	}
	if err != nil {
		return card.Card{}, classify(err, "get card")
	}
	return c, nil
}

// List returns cards newest first.
func (p *Postgres) List(ctx context.Context, limit, offset int) ([]card.Card, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards ORDER BY scanned_at DESC LIMIT $1 OFFSET $2`,
		clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, classify(err, "list cards")
	}
	return collect(rows)
}

// Search matches query case-insensitively against the contact fields,
// newest first. An empty query lists.
func (p *Postgres) Search(ctx context.Context, query string, limit int) ([]card.Card, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return p.List(ctx, limit, 0)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards
		WHERE name ILIKE $1 OR name_kana ILIKE $1 OR company ILIKE $1 OR department ILIKE $1
		   OR position ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1 OR address ILIKE $1
		ORDER BY scanned_at DESC LIMIT $2`,
		likePattern(query), clampLimit(limit))
	if err != nil {
		return nil, classify(err, "search cards")
	}
	return collect(rows)
}

// InsertAttempts bulk-loads audit records with COPY inside one transaction.
func (p *Postgres) InsertAttempts(ctx context.Context, records []audit.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	err := resilience.Retry(ctx, p.retrying(ctx, "attempts_insert"), func() error {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err, "begin audit insert")
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("scan_attempts",
			"id", "at", "outcome", "trigger", "source", "score", "reason", "card_id", "duration_ms"))
		if err != nil {
			return classify(err, "prepare audit copy")
		}
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.ID.String(), r.At.UTC(), r.Outcome, r.Trigger,
				r.Source, r.Score, r.Reason, r.CardID, r.DurationMS); err != nil {
				stmt.Close()
				return classify(err, "copy audit record")
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return classify(err, "flush audit copy")
		}
		if err := stmt.Close(); err != nil {
			return classify(err, "close audit copy")
		}
		return classify(tx.Commit(), "commit audit insert")
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// CountAttempts returns audit row counts by outcome.
func (p *Postgres) CountAttempts(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM scan_attempts GROUP BY outcome`)
	if err != nil {
		return nil, classify(err, "count attempts")
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, classify(err, "scan attempt count")
		}
		out[outcome] = n
	}
	return out, classify(rows.Err(), "count attempts")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (card.Card, error) {
	var c card.Card
	err := s.Scan(&c.ID, &c.Name, &c.NameKana, &c.Company, &c.Department, &c.Position,
		&c.Phone, &c.Fax, &c.Email, &c.Address, &c.PostalCode, &c.URL, &c.SNS,
		&c.RawText, &c.RawTextBack, &c.ScannedAt)
	return c, err
}

func collect(rows *sql.Rows) ([]card.Card, error) {
	defer rows.Close()
	cards := []card.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, classify(err, "scan card row")
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate cards")
	}
	return cards, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// likePattern escapes LIKE metacharacters and wraps q for a substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// classify maps driver errors to storage codes. Connection failures and
// serialization conflicts are retryable; constraint and syntax errors are not.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection, transaction rollback, insufficient resources, operator intervention
		case "08", "40", "53", "57":
			return transient(err, string(pqErr.Code), msg)
		}
		return apperrors.Wrap(err, apperrors.StoreFailed, msg).WithMetadata("sqlstate", string(pqErr.Code))
	}
	var netErr net.Error
	if stderrors.Is(err, sql.ErrConnDone) || stderrors.As(err, &netErr) {
		return transient(err, "connection", msg)
	}
	return apperrors.Wrap(err, apperrors.StoreFailed, msg)
}

func transient(err error, detail, msg string) error {
	return apperrors.Wrap(apperrors.Wrap(err, apperrors.Unavailable, detail), apperrors.StoreFailed, msg)
}
