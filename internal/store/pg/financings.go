package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ids"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

const financingColumns = `id, user_id, investment_id, amount, installments_count, installment_amount,
	remaining, status, description, next_due_date, penalty_applied, penalty_amount,
	created_at, updated_at, closed_at`

func scanFinancing(row scanner) (ledger.Financing, error) {
	var (
		f             ledger.Financing
		nextDue, done sql.NullTime
	)
	err := row.Scan(&f.ID, &f.UserID, &f.InvestmentID, &f.Amount, &f.InstallmentsCount, &f.InstallmentAmount,
		&f.Remaining, &f.Status, &f.Description, &nextDue, &f.PenaltyApplied, &f.PenaltyAmount,
		&f.CreatedAt, &f.UpdatedAt, &done)
	f.NextDueDate = timePtr(nextDue)
	f.ClosedAt = timePtr(done)
	return f, err
}

func (t *pgTx) InsertFinancing(ctx context.Context, f *ledger.Financing) error {
	if f.ID == "" {
		f.ID = ids.New()
	}
	f.CreatedAt = t.stamp(f.CreatedAt)
	f.UpdatedAt = f.CreatedAt
	_, err := t.exec(ctx, `
		insert into financings(id, user_id, investment_id, amount, installments_count, installment_amount,
			remaining, status, description, next_due_date, penalty_applied, penalty_amount,
			created_at, updated_at, closed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, f.ID, f.UserID, f.InvestmentID, f.Amount, f.InstallmentsCount, f.InstallmentAmount,
		f.Remaining, string(f.Status), f.Description, nullTime(f.NextDueDate), f.PenaltyApplied, f.PenaltyAmount,
		f.CreatedAt, f.UpdatedAt, nullTime(f.ClosedAt))
	return err
}

func (t *pgTx) financing(ctx context.Context, id string, lock bool) (ledger.Financing, error) {
	q := `select ` + financingColumns + ` from financings where id = $1`
	if lock && !t.readOnly {
		q += ` for update`
	}
	f, err := scanFinancing(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return ledger.Financing{}, notFound(err, "financing")
	}
	return f, nil
}

func (t *pgTx) Financing(ctx context.Context, id string) (ledger.Financing, error) {
	return t.financing(ctx, id, false)
}

func (t *pgTx) LockFinancing(ctx context.Context, id string) (ledger.Financing, error) {
	return t.financing(ctx, id, true)
}

func (t *pgTx) UpdateFinancing(ctx context.Context, f ledger.Financing) error {
	n, err := t.exec(ctx, `
		update financings set remaining = $2, status = $3, next_due_date = $4, penalty_applied = $5,
			penalty_amount = $6, closed_at = $7, updated_at = $8
		where id = $1
	`, f.ID, f.Remaining, string(f.Status), nullTime(f.NextDueDate), f.PenaltyApplied,
		f.PenaltyAmount, nullTime(f.ClosedAt), t.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("financing not found")
	}
	return nil
}

func (t *pgTx) listFinancings(ctx context.Context, query string, args ...any) ([]ledger.Financing, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Financing
	for rows.Next() {
		f, err := scanFinancing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *pgTx) ListFinancings(ctx context.Context, userID string, status ledger.FinancingStatus) ([]ledger.Financing, error) {
	return t.listFinancings(ctx, `
		select `+financingColumns+` from financings
		where user_id = $1 and ($2 = '' or status = $2)
		order by id desc
	`, userID, string(status))
}

func (t *pgTx) FinancingsByInvestment(ctx context.Context, investmentID string, status ledger.FinancingStatus) ([]ledger.Financing, error) {
	return t.listFinancings(ctx, `
		select `+financingColumns+` from financings
		where investment_id = $1 and ($2 = '' or status = $2)
		order by id
	`, investmentID, string(status))
}

func (t *pgTx) InsertInstallments(ctx context.Context, items []ledger.Installment) error {
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = ids.New()
		}
		_, err := t.exec(ctx, `
			insert into installments(id, financing_id, number, amount, penalty_amount, total_due, status, due_date, paid_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, it.ID, it.FinancingID, it.Number, it.Amount, it.PenaltyAmount, it.TotalDue,
			string(it.Status), it.DueDate, nullTime(it.PaidAt))
		if err != nil {
			return err
		}
	}
	return nil
}

const installmentColumns = `id, financing_id, number, amount, penalty_amount, total_due, status, due_date, paid_at`

func scanInstallment(row scanner) (ledger.Installment, error) {
	var (
		it   ledger.Installment
		paid sql.NullTime
	)
	err := row.Scan(&it.ID, &it.FinancingID, &it.Number, &it.Amount, &it.PenaltyAmount, &it.TotalDue,
		&it.Status, &it.DueDate, &paid)
	it.DueDate = it.DueDate.UTC()
	it.PaidAt = timePtr(paid)
	return it, err
}

func (t *pgTx) installment(ctx context.Context, id string, lock bool) (ledger.Installment, error) {
	q := `select ` + installmentColumns + ` from installments where id = $1`
	if lock && !t.readOnly {
		q += ` for update`
	}
	it, err := scanInstallment(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return ledger.Installment{}, notFound(err, "installment")
	}
	return it, nil
}

func (t *pgTx) Installment(ctx context.Context, id string) (ledger.Installment, error) {
	return t.installment(ctx, id, false)
}

func (t *pgTx) LockInstallment(ctx context.Context, id string) (ledger.Installment, error) {
	return t.installment(ctx, id, true)
}

func (t *pgTx) UpdateInstallment(ctx context.Context, it ledger.Installment) error {
	n, err := t.exec(ctx, `
		update installments set penalty_amount = $2, total_due = $3, status = $4, paid_at = $5
		where id = $1
	`, it.ID, it.PenaltyAmount, it.TotalDue, string(it.Status), nullTime(it.PaidAt))
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound.Withf("installment not found")
	}
	return nil
}

func (t *pgTx) Installments(ctx context.Context, financingID string) ([]ledger.Installment, error) {
	rows, err := t.tx.QueryContext(ctx,
		`select `+installmentColumns+` from installments where financing_id = $1 order by number`, financingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Installment
	for rows.Next() {
		it, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) DueInstallmentIDs(ctx context.Context, before time.Time) ([]string, error) {
	return t.ids(ctx, `
		select id from installments
		where status = $1 and due_date < $2
		order by due_date, id
	`, string(ledger.InstallmentPending), before)
}
