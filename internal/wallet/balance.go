package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
)

// Op selects the direction of UpdateBalance.
type Op string

const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
)

// UpdateBalance is the balance primitive shared by every engine. It must run
// inside the caller's unit of work and never leaves a negative balance.
// Subtracting from an account that is not ACTIVE fails with ErrInactiveAccount.
func UpdateBalance(ctx context.Context, tx ledger.Tx, userID string, amount decimal.Decimal, op Op) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	acc, err := tx.LockAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	switch op {
	case OpAdd:
		return tx.AdjustBalance(ctx, userID, amount)
	case OpSubtract:
		if acc.Status != ledger.AccountActive {
			return decimal.Zero, ledger.ErrInactiveAccount.Withf("account is %s", acc.Status)
		}
		if acc.Balance.LessThan(amount) {
			return decimal.Zero, ledger.ErrInsufficientFunds.Short(amount, acc.Balance)
		}
		return tx.AdjustBalance(ctx, userID, amount.Neg())
	default:
		return decimal.Zero, ledger.ErrInvalidFormat.Withf("unknown balance operation %q", op)
	}
}

// Post applies the balance effect of rec and appends rec to the log in the
// same unit, so every balance delta has exactly one matching entry. Total
// defaults to Amount+Fee. Memo entries only append.
func Post(ctx context.Context, tx ledger.Tx, rec *ledger.Transaction) (decimal.Decimal, error) {
	if rec.Total.IsZero() {
		rec.Total = rec.Amount.Add(rec.Fee)
	}
	var (
		bal decimal.Decimal
		err error
	)
	delta := rec.Delta()
	switch {
	case delta.IsNegative():
		bal, err = UpdateBalance(ctx, tx, rec.UserID, delta.Neg(), OpSubtract)
	case delta.IsPositive():
		bal, err = UpdateBalance(ctx, tx, rec.UserID, delta, OpAdd)
	default:
		var acc ledger.Account
		acc, err = tx.Account(ctx, rec.UserID)
		bal = acc.Balance
	}
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.InsertTransaction(ctx, rec); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}
