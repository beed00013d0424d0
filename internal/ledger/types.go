package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountBlocked   AccountStatus = "BLOCKED"
)

// Account is the one-per-user wallet. Balance is only ever changed through
// Tx.AdjustBalance.
type Account struct {
	UserID           string          `json:"user_id"`
	CVU              string          `json:"cvu"`
	Alias            string          `json:"alias"`
	AliasChanges     int             `json:"alias_changes"`
	AliasChangesYear int             `json:"alias_changes_year"`
	Balance          decimal.Decimal `json:"balance"`
	BalancePending   decimal.Decimal `json:"balance_pending"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	MonthlyLimit     decimal.Decimal `json:"monthly_limit"`
	Status           AccountStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TxType string

const (
	TxTransferIn           TxType = "TRANSFER_IN"
	TxTransferOut          TxType = "TRANSFER_OUT"
	TxInvestmentDeposit    TxType = "INVESTMENT_DEPOSIT"
	TxInvestmentWithdrawal TxType = "INVESTMENT_WITHDRAWAL"
	TxFCIReturn            TxType = "FCI_RETURN"
	TxInstallmentPayment   TxType = "INSTALLMENT_PAYMENT"
	TxPenaltyCharge        TxType = "PENALTY_CHARGE"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTransferIn, TxTransferOut, TxInvestmentDeposit, TxInvestmentWithdrawal,
		TxFCIReturn, TxInstallmentPayment, TxPenaltyCharge:
		return true
	}
	return false
}

type TxStatus string

const (
	TxProcessing TxStatus = "PROCESSING"
	TxCompleted  TxStatus = "COMPLETED"
	TxFailed     TxStatus = "FAILED"
)

// Direction says how a transaction moved the wallet balance.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
	// Memo rows record value moving inside an investment; the wallet is untouched.
	Memo Direction = "MEMO"
)

// Metadata keys shared by the engines.
const (
	MetaKind          = "kind"
	MetaInvestmentID  = "investment_id"
	MetaFinancingID   = "financing_id"
	MetaInstallmentID = "installment_id"

	KindFinancingDisbursement = "financing_disbursement"
	KindPenaltySurplus        = "penalty_surplus"
	KindSettlementRefund      = "settlement_refund"
)

// Transaction is one immutable ledger entry. Only PROCESSING rows may change
// status; COMPLETED and FAILED rows are final.
type Transaction struct {
	ID             string            `json:"id"`
	Sequence       uint64            `json:"sequence"`
	UserID         string            `json:"user_id"`
	Type           TxType            `json:"type"`
	Direction      Direction         `json:"direction"`
	Amount         decimal.Decimal   `json:"amount"`
	Fee            decimal.Decimal   `json:"fee"`
	Total          decimal.Decimal   `json:"total"`
	Status         TxStatus          `json:"status"`
	Description    string            `json:"description,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Delta is the signed effect of t on the wallet balance. FAILED rows have none.
func (t Transaction) Delta() decimal.Decimal {
	if t.Status == TxFailed {
		return decimal.Zero
	}
	switch t.Direction {
	case Credit:
		return t.Total
	case Debit:
		return t.Total.Neg()
	}
	return decimal.Zero
}

type InvestmentStatus string

const (
	InvestmentActive              InvestmentStatus = "ACTIVE"
	InvestmentLiquidated          InvestmentStatus = "LIQUIDATED"
	InvestmentLiquidatedByPenalty InvestmentStatus = "LIQUIDATED_BY_PENALTY"
)

// Investment is one FCI position.
type Investment struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Amount        decimal.Decimal  `json:"amount"`
	CurrentValue  decimal.Decimal  `json:"current_value"`
	ReturnsEarned decimal.Decimal  `json:"returns_earned"`
	AnnualRate    decimal.Decimal  `json:"annual_rate"`
	CreditUsed    decimal.Decimal  `json:"credit_used"`
	CreditLimit   decimal.Decimal  `json:"credit_limit"`
	Status        InvestmentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LiquidatedAt  *time.Time       `json:"liquidated_at,omitempty"`
}

// AvailableCredit is what can still be financed against the position.
func (i Investment) AvailableCredit() decimal.Decimal {
	avail := i.CreditLimit.Sub(i.CreditUsed)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Return is one daily accrual. ReturnDate is unique per investment.
type Return struct {
	ID           string          `json:"id"`
	InvestmentID string          `json:"investment_id"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	RateApplied  decimal.Decimal `json:"rate_applied"`
	ReturnAmount decimal.Decimal `json:"return_amount"`
	ReturnDate   time.Time       `json:"return_date"`
	CreatedAt    time.Time       `json:"created_at"`
}

type FinancingStatus string

const (
	FinancingActive     FinancingStatus = "ACTIVE"
	FinancingCompleted  FinancingStatus = "COMPLETED"
	FinancingLiquidated FinancingStatus = "LIQUIDATED"
)

// Financing is an installment plan collateralized by an investment.
type Financing struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	InvestmentID      string          `json:"investment_id"`
	Amount            decimal.Decimal `json:"amount"`
	InstallmentsCount int             `json:"installments_count"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
	Remaining         decimal.Decimal `json:"remaining"`
	Status            FinancingStatus `json:"status"`
	Description       string          `json:"description,omitempty"`
	NextDueDate       *time.Time      `json:"next_due_date,omitempty"`
	PenaltyApplied    bool            `json:"penalty_applied"`
	PenaltyAmount     decimal.Decimal `json:"penalty_amount"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentDropped InstallmentStatus = "DROPPED"
)

// Unpaid reports whether the installment still counts towards Financing.Remaining.
func (s InstallmentStatus) Unpaid() bool {
	return s == InstallmentPending || s == InstallmentOverdue
}

// Installment is one scheduled payment; Number is the 1-based ordering key.
type Installment struct {
	ID            string            `json:"id"`
	FinancingID   string            `json:"financing_id"`
	Number        int               `json:"number"`
	Amount        decimal.Decimal   `json:"amount"`
	PenaltyAmount decimal.Decimal   `json:"penalty_amount"`
	TotalDue      decimal.Decimal   `json:"total_due"`
	Status        InstallmentStatus `json:"status"`
	DueDate       time.Time         `json:"due_date"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
}

// Contact is an address-book entry keyed by (UserID, CVU).
type Contact struct {
	UserID     string    `json:"user_id"`
	CVU        string    `json:"cvu"`
	Alias      string    `json:"alias,omitempty"`
	Name       string    `json:"name,omitempty"`
	IsFavorite bool      `json:"is_favorite"`
	LastUsed   time.Time `json:"last_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// MovementFilter narrows a transaction log listing. Page is 1-based.
type MovementFilter struct {
	Page     int
	Limit    int
	Type     TxType
	DateFrom *time.Time
	DateTo   *time.Time
}

// Normalize applies paging defaults (page 1, 20 per page, at most 100).
func (f MovementFilter) Normalize() MovementFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// Offset is the number of rows skipped for the current page.
func (f MovementFilter) Offset() int { return (f.Page - 1) * f.Limit }

// Matches reports whether t passes the type and date filters.
func (f MovementFilter) Matches(t Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.DateFrom != nil && t.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !t.CreatedAt.Before(*f.DateTo) {
		return false
	}
	return true
}

// Date truncates t to its calendar date in loc, expressed as midnight UTC.
// Accrual and due dates are compared with this representation.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the instant the calendar day of t begins in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// StartOfMonth returns the instant the calendar month of t begins in loc.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, _ := t.In(loc).Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, loc)
}
