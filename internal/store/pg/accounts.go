package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

const accountColumns = `user_id, cvu, coalesce(alias, ''), alias_changes, alias_changes_year,
	balance, balance_pending, daily_limit, monthly_limit, status, created_at, updated_at`

func scanAccount(row scanner) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.UserID, &a.CVU, &a.Alias, &a.AliasChanges, &a.AliasChangesYear,
		&a.Balance, &a.BalancePending, &a.DailyLimit, &a.MonthlyLimit, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *pgTx) accountWhere(ctx context.Context, cond string, arg any, lock bool) (ledger.Account, error) {
	q := `select ` + accountColumns + ` from accounts where ` + cond
	if lock {
		q += ` for update`
	}
	acc, err := scanAccount(t.tx.QueryRowContext(ctx, q, arg))
	if err != nil {
		return ledger.Account{}, notFound(err, "account")
	}
	return acc, nil
}

func (t *pgTx) Account(ctx context.Context, userID string) (ledger.Account, error) {
	return t.accountWhere(ctx, `user_id = $1`, userID, false)
}

func (t *pgTx) LockAccount(ctx context.Context, userID string) (ledger.Account, error) {
	return t.accountWhere(ctx, `user_id = $1`, userID, !t.readOnly)
}

func (t *pgTx) AccountByCVU(ctx context.Context, cvu string) (ledger.Account, error) {
	return t.accountWhere(ctx, `cvu = $1`, cvu, false)
}

func (t *pgTx) AccountByAlias(ctx context.Context, alias string) (ledger.Account, error) {
	return t.accountWhere(ctx, `alias = $1`, alias, false)
}

func (t *pgTx) InsertAccount(ctx context.Context, acc *ledger.Account) error {
	acc.CreatedAt = t.stamp(acc.CreatedAt)
	acc.UpdatedAt = acc.CreatedAt
	_, err := t.exec(ctx, `
		insert into accounts(user_id, cvu, alias, alias_changes, alias_changes_year,
			balance, balance_pending, daily_limit, monthly_limit, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, acc.UserID, acc.CVU, nullString(acc.Alias), acc.AliasChanges, acc.AliasChangesYear,
		acc.Balance, acc.BalancePending, acc.DailyLimit, acc.MonthlyLimit, string(acc.Status), acc.CreatedAt, acc.UpdatedAt)
	return err
}

// AdjustBalance applies delta with a relative update guarded against going
// negative. When the guard rejects the row, the current balance is read back
// to report the shortfall.
func (t *pgTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	var next decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		update accounts set balance = balance + $2, updated_at = $3
		where user_id = $1 and balance + $2 >= 0
		returning balance
	`, userID, delta, t.now().UTC()).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, mapErr(err)
	}

	var current decimal.Decimal
	err = t.tx.QueryRowContext(ctx, `select balance from accounts where user_id = $1`, userID).Scan(&current)
	if err != nil {
		return decimal.Zero, notFound(err, "account")
	}
	return decimal.Zero, ledger.ErrInsufficientFunds.Short(delta.Neg(), current)
}

func (t *pgTx) SetAlias(ctx context.Context, userID, alias string, changes, year int) error {
	n, err := t.exec(ctx, `
		update accounts set alias = $2, alias_changes = $3, alias_changes_year = $4, updated_at = $5
		where user_id = $1
	`, userID, alias, changes, year, t.now().UTC())
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return ledger.ErrConflict.Withf("alias already taken")
		}
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("account not found")
	}
	return nil
}
