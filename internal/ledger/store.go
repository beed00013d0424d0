package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store opens units of work. Everything done through the Tx handed to fn is
// committed together when fn returns nil and discarded when it returns an
// error; concurrent readers never observe a partial unit.
type Store interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn against a read-only snapshot. Mutations fail.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional handle. Lock* methods take the row lock held until
// the unit ends; plain getters read without locking.
//
// A unit takes row locks in ascending LockRank: the owner's Account first,
// then Investment, then Financing, then Installment. Updates lock the row
// implicitly and follow the same order. A unit that needs a higher-ranked
// row to find a lower-ranked one reads it unlocked, locks in order and then
// re-checks what it read.
type Tx interface {
	AccountTx
	TransactionLogTx
	InvestmentTx
	FinancingTx
	ContactTx
}

// LockRank orders row locks within a unit of work.
type LockRank uint8

const (
	RankAccount LockRank = iota + 1
	RankInvestment
	RankFinancing
	RankInstallment
)

func (r LockRank) String() string {
	switch r {
	case RankAccount:
		return "account"
	case RankInvestment:
		return "investment"
	case RankFinancing:
		return "financing"
	case RankInstallment:
		return "installment"
	}
	return "unknown"
}

type AccountTx interface {
	Account(ctx context.Context, userID string) (Account, error)
	LockAccount(ctx context.Context, userID string) (Account, error)
	AccountByCVU(ctx context.Context, cvu string) (Account, error)
	AccountByAlias(ctx context.Context, alias string) (Account, error)
	// InsertAccount fails with ErrConflict when the user, CVU or alias is taken.
	InsertAccount(ctx context.Context, acc *Account) error
	// AdjustBalance applies a relative delta and returns the new balance. It
	// fails with ErrInsufficientFunds instead of going below zero.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	SetAlias(ctx context.Context, userID, alias string, changes, year int) error
}

type TransactionLogTx interface {
	// InsertTransaction assigns ID (when empty) and Sequence.
	InsertTransaction(ctx context.Context, t *Transaction) error
	Transaction(ctx context.Context, id string) (Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, error)
	// SettleTransaction moves a PROCESSING row to status. Other rows fail
	// with ErrInvalidState.
	SettleTransaction(ctx context.Context, id string, status TxStatus, at time.Time) error
	// ListTransactions returns one page, newest first, and the total match count.
	ListTransactions(ctx context.Context, userID string, f MovementFilter) ([]Transaction, int, error)
	// SumTransfersOut adds the amount of non-failed TRANSFER_OUT rows created at or after since.
	SumTransfersOut(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	// LedgerTotal is the sum of Transaction.Delta over the user's log.
	LedgerTotal(ctx context.Context, userID string) (decimal.Decimal, error)
}

type InvestmentTx interface {
	InsertInvestment(ctx context.Context, inv *Investment) error
	Investment(ctx context.Context, id string) (Investment, error)
	LockInvestment(ctx context.Context, id string) (Investment, error)
	UpdateInvestment(ctx context.Context, inv Investment) error
	// ListInvestments filters by status unless status is empty.
	ListInvestments(ctx context.Context, userID string, status InvestmentStatus) ([]Investment, error)
	ActiveInvestmentIDs(ctx context.Context) ([]string, error)
	// InsertReturn fails with ErrConflict when the date already accrued.
	InsertReturn(ctx context.Context, r *Return) error
	HasReturn(ctx context.Context, investmentID string, date time.Time) (bool, error)
	ListReturns(ctx context.Context, investmentID string) ([]Return, error)
}

type FinancingTx interface {
	InsertFinancing(ctx context.Context, f *Financing) error
	Financing(ctx context.Context, id string) (Financing, error)
	LockFinancing(ctx context.Context, id string) (Financing, error)
	UpdateFinancing(ctx context.Context, f Financing) error
	ListFinancings(ctx context.Context, userID string, status FinancingStatus) ([]Financing, error)
	FinancingsByInvestment(ctx context.Context, investmentID string, status FinancingStatus) ([]Financing, error)
	InsertInstallments(ctx context.Context, items []Installment) error
	Installment(ctx context.Context, id string) (Installment, error)
	LockInstallment(ctx context.Context, id string) (Installment, error)
	UpdateInstallment(ctx context.Context, it Installment) error
	// Installments returns the plan ordered by Number.
	Installments(ctx context.Context, financingID string) ([]Installment, error)
	// DueInstallmentIDs lists PENDING installments due strictly before date.
	DueInstallmentIDs(ctx context.Context, before time.Time) ([]string, error)
}

type ContactTx interface {
	// UpsertContact inserts or refreshes (UserID, CVU). Empty Alias/Name keep
	// the stored values; IsFavorite and CreatedAt are preserved on update.
	UpsertContact(ctx context.Context, c Contact) (Contact, error)
	Contact(ctx context.Context, userID, cvu string) (Contact, error)
	// Contacts lists favorites first, then most recently used.
	Contacts(ctx context.Context, userID string) ([]Contact, error)
	DeleteContact(ctx context.Context, userID, cvu string) error
	SetFavorite(ctx context.Context, userID, cvu string, favorite bool) error
}
