package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"omnibox.app/ingest/core/db"
	"omnibox.app/ingest/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code runs inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Provider exposes postgres-backed stores over a shared querier.
type Provider struct {
	q querier
}

func NewProvider(database *db.DB) *Provider {
	return &Provider{q: database.Pool()}
}

func (p *Provider) Messages() store.MessageStore {
	return &messageStore{q: p.q}
}

func (p *Provider) Conversations() store.ConversationStore {
	return &conversationStore{q: p.q}
}

func (p *Provider) Categories() store.CategoryStore {
	return &categoryStore{q: p.q}
}

// TxRunner runs store operations inside a single database transaction.
type TxRunner struct {
	database *db.DB
}

func NewTxRunner(database *db.DB) *TxRunner {
	return &TxRunner{database: database}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(sp store.StoreProvider) error) error {
	return r.database.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&Provider{q: tx})
	})
}

// isUniqueViolation reports whether err is a postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
