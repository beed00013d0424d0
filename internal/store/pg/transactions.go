package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ids"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

const transactionColumns = `id, sequence, user_id, type, direction, amount, fee, total, status,
	description, coalesce(idempotency_key, ''), metadata, created_at, completed_at`

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		rec       ledger.Transaction
		meta      []byte
		completed sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Sequence, &rec.UserID, &rec.Type, &rec.Direction, &rec.Amount, &rec.Fee,
		&rec.Total, &rec.Status, &rec.Description, &rec.IdempotencyKey, &meta, &rec.CreatedAt, &completed)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if rec.Metadata, err = decodeMetadata(meta); err != nil {
		return ledger.Transaction{}, err
	}
	rec.CompletedAt = timePtr(completed)
	return rec, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec *ledger.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.CreatedAt = t.stamp(rec.CreatedAt)
	err = t.tx.QueryRowContext(ctx, `
		insert into transactions(id, user_id, type, direction, amount, fee, total, status,
			description, idempotency_key, metadata, created_at, completed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		returning sequence
	`, rec.ID, rec.UserID, string(rec.Type), string(rec.Direction), rec.Amount, rec.Fee, rec.Total,
		string(rec.Status), rec.Description, nullString(rec.IdempotencyKey), meta, rec.CreatedAt,
		nullTime(rec.CompletedAt)).Scan(&rec.Sequence)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (t *pgTx) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	rec, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`select `+transactionColumns+` from transactions where id = $1`, id))
	if err != nil {
		return ledger.Transaction{}, notFound(err, "transaction")
	}
	return rec, nil
}

func (t *pgTx) TransactionByIdempotencyKey(ctx context.Context, userID, key string) (ledger.Transaction, error) {
	rec, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`select `+transactionColumns+` from transactions where user_id = $1 and idempotency_key = $2`, userID, key))
	if err != nil {
		return ledger.Transaction{}, notFound(err, "transaction")
	}
	return rec, nil
}

func (t *pgTx) SettleTransaction(ctx context.Context, id string, status ledger.TxStatus, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	var current ledger.TxStatus
	err := t.tx.QueryRowContext(ctx, `select status from transactions where id = $1 for update`, id).Scan(&current)
	if err != nil {
		return notFound(err, "transaction")
	}
	if current != ledger.TxProcessing {
		return ledger.ErrInvalidState.Withf("transaction is %s", current)
	}
	_, err = t.exec(ctx, `update transactions set status = $2, completed_at = $3 where id = $1`,
		id, string(status), t.stamp(at))
	return err
}

// movementQuery renders the shared where clause of ListTransactions.
func movementQuery(userID string, f ledger.MovementFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at < $%d", *f.DateTo)
	}
	return strings.Join(conds, " and "), args
}

func (t *pgTx) ListTransactions(ctx context.Context, userID string, f ledger.MovementFilter) ([]ledger.Transaction, int, error) {
	f = f.Normalize()
	where, args := movementQuery(userID, f)

	var total int
	if err := t.tx.QueryRowContext(ctx, `select count(*) from transactions where `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	q := fmt.Sprintf(`select %s from transactions where %s order by sequence desc limit $%d offset $%d`,
		transactionColumns, where, n+1, n+2)
	rows, err := t.tx.QueryContext(ctx, q, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (t *pgTx) SumTransfersOut(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		select coalesce(sum(amount), 0) from transactions
		where user_id = $1 and type = $2 and status <> $3 and created_at >= $4
	`, userID, string(ledger.TxTransferOut), string(ledger.TxFailed), since).Scan(&sum)
	return sum, err
}

func (t *pgTx) LedgerTotal(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		select coalesce(sum(case direction when $2 then total when $3 then -total else 0 end), 0)
		from transactions
		where user_id = $1 and status <> $4
	`, userID, string(ledger.Credit), string(ledger.Debit), string(ledger.TxFailed)).Scan(&sum)
	return sum, err
}
