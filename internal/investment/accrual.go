package investment

import (
	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
)

var (
	daysPerYear = decimal.NewFromInt(365)
	hundred     = decimal.NewFromInt(100)

	// CreditRatio is the share of the current value that can be financed, in percent.
	CreditRatio = decimal.NewFromInt(15)
	// MinimumAmount is the smallest accepted deposit.
	MinimumAmount = decimal.NewFromInt(1000)
)

const (
	simulationDaysPerMonth = 30
	maxSimulationMonths    = 120
)

// DailyRate converts an annual percentage into the per-day factor.
func DailyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(daysPerYear).Div(hundred)
}

// Accrue returns the return earned by value in one day. The daily sweep and
// Simulate both go through it.
func Accrue(value, annualRate decimal.Decimal) decimal.Decimal {
	return money.Round(value.Mul(DailyRate(annualRate)))
}

// CreditLimit is the credit line granted against value.
func CreditLimit(value decimal.Decimal) decimal.Decimal {
	return money.Percent(value, CreditRatio)
}

// Projection is the outcome of Simulate.
type Projection struct {
	Amount      decimal.Decimal `json:"amount"`
	Months      int             `json:"months"`
	Days        int             `json:"days"`
	AnnualRate  decimal.Decimal `json:"annual_rate"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
	FinalValue  decimal.Decimal `json:"final_value"`
	Returns     decimal.Decimal `json:"returns"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// Simulate compounds amount daily for months*30 days at annualRate.
func Simulate(amount decimal.Decimal, months int, annualRate decimal.Decimal) (Projection, error) {
	if !amount.IsPositive() {
		return Projection{}, ledger.ErrInvalidAmount
	}
	if months < 1 || months > maxSimulationMonths {
		return Projection{}, ledger.ErrInvalidRange.Withf("months must be between 1 and %d", maxSimulationMonths)
	}
	days := months * simulationDaysPerMonth
	value := amount
	for i := 0; i < days; i++ {
		value = value.Add(Accrue(value, annualRate))
	}
	return Projection{
		Amount:      amount,
		Months:      months,
		Days:        days,
		AnnualRate:  annualRate,
		DailyRate:   DailyRate(annualRate),
		FinalValue:  value,
		Returns:     value.Sub(amount),
		CreditLimit: CreditLimit(value),
	}, nil
}
