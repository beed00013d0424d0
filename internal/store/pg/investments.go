package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ids"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

const investmentColumns = `id, user_id, amount, current_value, returns_earned, annual_rate,
	credit_used, credit_limit, status, created_at, updated_at, liquidated_at`

func scanInvestment(row scanner) (ledger.Investment, error) {
	var (
		inv        ledger.Investment
		liquidated sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.Amount, &inv.CurrentValue, &inv.ReturnsEarned, &inv.AnnualRate,
		&inv.CreditUsed, &inv.CreditLimit, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt, &liquidated)
	inv.LiquidatedAt = timePtr(liquidated)
	return inv, err
}

func (t *pgTx) InsertInvestment(ctx context.Context, inv *ledger.Investment) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	inv.CreatedAt = t.stamp(inv.CreatedAt)
	inv.UpdatedAt = inv.CreatedAt
	_, err := t.exec(ctx, `
		insert into investments(id, user_id, amount, current_value, returns_earned, annual_rate,
			credit_used, credit_limit, status, created_at, updated_at, liquidated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inv.ID, inv.UserID, inv.Amount, inv.CurrentValue, inv.ReturnsEarned, inv.AnnualRate,
		inv.CreditUsed, inv.CreditLimit, string(inv.Status), inv.CreatedAt, inv.UpdatedAt, nullTime(inv.LiquidatedAt))
	return err
}

func (t *pgTx) investment(ctx context.Context, id string, lock bool) (ledger.Investment, error) {
	q := `select ` + investmentColumns + ` from investments where id = $1`
	if lock && !t.readOnly {
		q += ` for update`
	}
	inv, err := scanInvestment(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return ledger.Investment{}, notFound(err, "investment")
	}
	return inv, nil
}

func (t *pgTx) Investment(ctx context.Context, id string) (ledger.Investment, error) {
	return t.investment(ctx, id, false)
}

func (t *pgTx) LockInvestment(ctx context.Context, id string) (ledger.Investment, error) {
	return t.investment(ctx, id, true)
}

// UpdateInvestment rewrites the mutable columns. The credit_used <= credit_limit
// check constraint surfaces as ErrInvalidState.
func (t *pgTx) UpdateInvestment(ctx context.Context, inv ledger.Investment) error {
	n, err := t.exec(ctx, `
		update investments set current_value = $2, returns_earned = $3, credit_used = $4,
			credit_limit = $5, status = $6, liquidated_at = $7, updated_at = $8
		where id = $1
	`, inv.ID, inv.CurrentValue, inv.ReturnsEarned, inv.CreditUsed, inv.CreditLimit,
		string(inv.Status), nullTime(inv.LiquidatedAt), t.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("investment not found")
	}
	return nil
}

func (t *pgTx) ListInvestments(ctx context.Context, userID string, status ledger.InvestmentStatus) ([]ledger.Investment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+investmentColumns+` from investments
		where user_id = $1 and ($2 = '' or status = $2)
		order by id desc
	`, userID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (t *pgTx) ActiveInvestmentIDs(ctx context.Context) ([]string, error) {
	return t.ids(ctx, `select id from investments where status = $1 order by id`, string(ledger.InvestmentActive))
}

func (t *pgTx) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

// InsertReturn relies on the (investment_id, return_date) unique key.
func (t *pgTx) InsertReturn(ctx context.Context, r *ledger.Return) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	r.CreatedAt = t.stamp(r.CreatedAt)
	_, err := t.exec(ctx, `
		insert into investment_returns(id, investment_id, base_amount, rate_applied, return_amount, return_date, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, r.ID, r.InvestmentID, r.BaseAmount, r.RateApplied, r.ReturnAmount, r.ReturnDate, r.CreatedAt)
	return err
}

func (t *pgTx) HasReturn(ctx context.Context, investmentID string, date time.Time) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
		select exists(select 1 from investment_returns where investment_id = $1 and return_date = $2)
	`, investmentID, date).Scan(&ok)
	return ok, err
}

func (t *pgTx) ListReturns(ctx context.Context, investmentID string) ([]ledger.Return, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id, investment_id, base_amount, rate_applied, return_amount, return_date, created_at
		from investment_returns
		where investment_id = $1
		order by return_date desc
	`, investmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Return
	for rows.Next() {
		var r ledger.Return
		if err := rows.Scan(&r.ID, &r.InvestmentID, &r.BaseAmount, &r.RateApplied, &r.ReturnAmount,
			&r.ReturnDate, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ReturnDate = r.ReturnDate.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
