// Package pg implements the ledger store on PostgreSQL through database/sql
// and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

// PostgreSQL error codes the store translates.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
	codeForeignKey      = "23503"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an open handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock sets the clock used for timestamps the caller left zero.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RunAtomic runs fn in a read-committed transaction. Rows the engines lock
// are taken with select ... for update and balances change through relative
// updates, so concurrent units serialize on the rows they share. Engines take
// those locks in ledger.LockRank order.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx, now: s.now, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit()
}

var errReadOnly = errors.New("pg: write attempted in a read-only view")

type pgTx struct {
	tx       *sql.Tx
	now      func() time.Time
	readOnly bool
}

var _ ledger.Tx = (*pgTx)(nil)

func (t *pgTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *pgTx) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.now().UTC()
	}
	return ts
}

func (t *pgTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

// mapErr turns constraint violations into ledger errors; everything else is
// returned unchanged.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return ledger.ErrConflict.Withf("already exists (%s)", pgErr.ConstraintName)
	case codeCheckViolation:
		return ledger.ErrInvalidState.Withf("constraint %s violated", pgErr.ConstraintName)
	case codeForeignKey:
		return ledger.ErrNotFound.Withf("referenced row missing (%s)", pgErr.ConstraintName)
	}
	return err
}

// notFound maps sql.ErrNoRows to a ledger not-found error naming what.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound.Withf("%s not found", what)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
