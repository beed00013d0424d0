package financing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
)

const (
	MinInstallments = 2
	MaxInstallments = 48
	// DueDay is the fixed day of month every installment falls due on.
	DueDay = 10
)

var (
	// MinimumAmount is the smallest amount that can be financed.
	MinimumAmount = decimal.NewFromInt(1000)
	// PenaltyRate is charged, in percent, on overdue installments and on the
	// outstanding principal of a dropped financing.
	PenaltyRate = decimal.NewFromInt(3)
)

// PlannedInstallment is one row of a payment schedule.
type PlannedInstallment struct {
	Number  int             `json:"number"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// Plan is a 0% interest installment schedule.
type Plan struct {
	Amount            decimal.Decimal      `json:"amount"`
	InstallmentsCount int                  `json:"installments_count"`
	InstallmentAmount decimal.Decimal      `json:"installment_amount"`
	Total             decimal.Decimal      `json:"total"`
	Installments      []PlannedInstallment `json:"installments"`
}

// Simulate builds the schedule of financing amount in n installments starting
// from the date of now in loc. The first installment falls due on the 10th of
// the following month; the last one absorbs the rounding remainder.
func Simulate(amount decimal.Decimal, n int, now time.Time, loc *time.Location) (Plan, error) {
	if n < MinInstallments || n > MaxInstallments {
		return Plan{}, ledger.ErrInvalidRange.Withf("installments must be between %d and %d", MinInstallments, MaxInstallments)
	}
	if !amount.IsPositive() {
		return Plan{}, ledger.ErrInvalidAmount
	}
	if loc == nil {
		loc = time.UTC
	}
	parts := money.Split(amount, n)
	y, m, _ := now.In(loc).Date()
	plan := Plan{
		Amount:            amount,
		InstallmentsCount: n,
		InstallmentAmount: parts[0],
		Total:             amount,
		Installments:      make([]PlannedInstallment, n),
	}
	for i, part := range parts {
		plan.Installments[i] = PlannedInstallment{
			Number:  i + 1,
			Amount:  part,
			DueDate: time.Date(y, m+time.Month(i+1), DueDay, 0, 0, 0, 0, time.UTC),
		}
	}
	return plan, nil
}

// Penalty is the charge applied to base.
func Penalty(base decimal.Decimal) decimal.Decimal {
	return money.Percent(base, PenaltyRate)
}
