// Package financing runs installment plans collateralized by an investment's
// credit line: disbursement, payments, the overdue penalty sweep and early
// termination against the collateral.
package financing

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

type Config struct {
	// Location decides calendar dates for schedules and the overdue sweep.
	Location *time.Location
}

type Service struct {
	store    ledger.Store
	loc      *time.Location
	log      *zap.Logger
	pub      events.Publisher
	observer sweep.Observer
	now      func() time.Time
}

func New(store ledger.Store, cfg Config, log *zap.Logger, pub events.Publisher) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, loc: cfg.Location, log: log, pub: pub, observer: sweep.Nop{}, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithObserver reports every sweep run to o.
func (s *Service) WithObserver(o sweep.Observer) *Service {
	if o != nil {
		s.observer = o
	}
	return s
}

// Simulate previews the schedule a financing created now would get.
func (s *Service) Simulate(amount decimal.Decimal, installments int) (Plan, error) {
	return Simulate(amount, installments, s.now(), s.loc)
}

// Request describes a new financing.
type Request struct {
	InvestmentID      string          `json:"investment_id"`
	Amount            decimal.Decimal `json:"amount"`
	InstallmentsCount int             `json:"installments_count"`
	Description       string          `json:"description,omitempty"`
}

// Detail is a financing with its installments ordered by number.
type Detail struct {
	ledger.Financing
	Installments []ledger.Installment `json:"installments"`
}

// Create disburses req.Amount into the wallet against the investment's
// available credit and books the installment plan.
func (s *Service) Create(ctx context.Context, userID string, req Request) (Detail, error) {
	if req.InstallmentsCount < MinInstallments || req.InstallmentsCount > MaxInstallments {
		return Detail{}, ledger.ErrInvalidRange.Withf("installments must be between %d and %d", MinInstallments, MaxInstallments)
	}
	if !req.Amount.IsPositive() {
		return Detail{}, ledger.ErrInvalidAmount
	}
	if !money.InCents(req.Amount) {
		return Detail{}, ledger.ErrInvalidAmount.Withf("amount %s has more than 2 decimal places", req.Amount)
	}
	if req.Amount.LessThan(MinimumAmount) {
		return Detail{}, ledger.ErrBelowMinimum.Withf("minimum financing is %s", MinimumAmount.StringFixed(2))
	}
	now := s.now().UTC()
	plan, err := Simulate(req.Amount, req.InstallmentsCount, now, s.loc)
	if err != nil {
		return Detail{}, err
	}

	var out Detail
	err = s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if acc.Status != ledger.AccountActive {
			return ledger.ErrInactiveAccount.Withf("account is %s", acc.Status)
		}
		inv, err := tx.LockInvestment(ctx, req.InvestmentID)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && (inv.UserID != userID || inv.Status != ledger.InvestmentActive)) {
			return ledger.ErrNotFound.Withf("no active investment %s", req.InvestmentID)
		}
		if err != nil {
			return err
		}
		if avail := inv.AvailableCredit(); req.Amount.GreaterThan(avail) {
			return ledger.ErrInsufficientCredit.Short(req.Amount, avail)
		}
		inv.CreditUsed = inv.CreditUsed.Add(req.Amount)
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}

		first := plan.Installments[0].DueDate
		f := ledger.Financing{
			UserID:            userID,
			InvestmentID:      inv.ID,
			Amount:            req.Amount,
			InstallmentsCount: plan.InstallmentsCount,
			InstallmentAmount: plan.InstallmentAmount,
			Remaining:         req.Amount,
			Status:            ledger.FinancingActive,
			Description:       strings.TrimSpace(req.Description),
			NextDueDate:       &first,
			PenaltyAmount:     decimal.Zero,
			CreatedAt:         now,
		}
		if err := tx.InsertFinancing(ctx, &f); err != nil {
			return err
		}
		items := make([]ledger.Installment, len(plan.Installments))
		for i, p := range plan.Installments {
			items[i] = ledger.Installment{
				FinancingID:   f.ID,
				Number:        p.Number,
				Amount:        p.Amount,
				PenaltyAmount: decimal.Zero,
				TotalDue:      p.Amount,
				Status:        ledger.InstallmentPending,
				DueDate:       p.DueDate,
			}
		}
		if err := tx.InsertInstallments(ctx, items); err != nil {
			return err
		}
		if _, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID:      userID,
			Type:        ledger.TxInvestmentDeposit,
			Direction:   ledger.Credit,
			Amount:      req.Amount,
			Status:      ledger.TxCompleted,
			Description: "Financing disbursement",
			Metadata: map[string]string{
				ledger.MetaKind:         ledger.KindFinancingDisbursement,
				ledger.MetaFinancingID:  f.ID,
				ledger.MetaInvestmentID: inv.ID,
				"installments":          strconv.Itoa(plan.InstallmentsCount),
			},
			CreatedAt:   now,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		out = Detail{Financing: f, Installments: items}
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("financing created",
		zap.String("user_id", userID),
		zap.String("financing_id", out.ID),
		zap.String("investment_id", out.InvestmentID),
		zap.String("amount", out.Amount.String()))
	events.Emit(ctx, s.pub, s.log, events.New(events.FinancingCreated, userID, map[string]string{
		ledger.MetaFinancingID:  out.ID,
		ledger.MetaInvestmentID: out.InvestmentID,
		"amount":                out.Amount.StringFixed(2),
	}))
	return out, nil
}

// Payment is the result of PayInstallment.
type Payment struct {
	Installment ledger.Installment `json:"installment"`
	Financing   ledger.Financing   `json:"financing"`
	Transaction ledger.Transaction `json:"transaction"`
}

// PayInstallment debits the installment's total due from the wallet. Only the
// principal reduces Financing.Remaining; a penalty is charged as a fee.
func (s *Service) PayInstallment(ctx context.Context, userID, installmentID string) (Payment, error) {
	var out Payment
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		it, err := tx.Installment(ctx, installmentID)
		if err != nil {
			return err
		}
		f, err := tx.Financing(ctx, it.FinancingID)
		if err != nil {
			return err
		}
		if f.UserID != userID {
			return ledger.ErrForbidden
		}
		// Locked before the financing even when unused: the final payment
		// updates it.
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		inv, err := tx.LockInvestment(ctx, f.InvestmentID)
		if err != nil {
			return err
		}
		if f, err = tx.LockFinancing(ctx, f.ID); err != nil {
			return err
		}
		if it, err = tx.LockInstallment(ctx, it.ID); err != nil {
			return err
		}
		switch {
		case it.Status == ledger.InstallmentPaid:
			return ledger.ErrAlreadyPaid
		case !it.Status.Unpaid():
			return ledger.ErrInvalidState.Withf("installment is %s", it.Status)
		case f.Status != ledger.FinancingActive:
			return ledger.ErrInvalidState.Withf("financing is %s", f.Status)
		}

		now := s.now().UTC()
		rec := ledger.Transaction{
			UserID:      userID,
			Type:        ledger.TxInstallmentPayment,
			Direction:   ledger.Debit,
			Amount:      it.Amount,
			Fee:         it.PenaltyAmount,
			Total:       it.TotalDue,
			Status:      ledger.TxCompleted,
			Description: "Installment " + strconv.Itoa(it.Number) + "/" + strconv.Itoa(f.InstallmentsCount),
			Metadata: map[string]string{
				ledger.MetaFinancingID:   f.ID,
				ledger.MetaInstallmentID: it.ID,
			},
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if _, err := wallet.Post(ctx, tx, &rec); err != nil {
			return err
		}

		it.Status = ledger.InstallmentPaid
		it.PaidAt = &now
		if err := tx.UpdateInstallment(ctx, it); err != nil {
			return err
		}

		f.Remaining = f.Remaining.Sub(it.Amount)
		if !f.Remaining.IsPositive() {
			f.Remaining = decimal.Zero
			f.Status = ledger.FinancingCompleted
			f.NextDueDate = nil
			f.ClosedAt = &now
			inv.CreditUsed = money.Max(inv.CreditUsed.Sub(f.Amount), decimal.Zero)
			if err := tx.UpdateInvestment(ctx, inv); err != nil {
				return err
			}
		} else {
			next, err := nextDue(ctx, tx, f.ID)
			if err != nil {
				return err
			}
			f.NextDueDate = next
		}
		if err := tx.UpdateFinancing(ctx, f); err != nil {
			return err
		}
		out = Payment{Installment: it, Financing: f, Transaction: rec}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	events.Emit(ctx, s.pub, s.log, events.New(events.InstallmentPaid, userID, map[string]string{
		ledger.MetaFinancingID:   out.Financing.ID,
		ledger.MetaInstallmentID: out.Installment.ID,
		"total":                  out.Installment.TotalDue.StringFixed(2),
	}))
	if out.Financing.Status == ledger.FinancingCompleted {
		s.log.Info("financing completed", zap.String("user_id", userID), zap.String("financing_id", out.Financing.ID))
		events.Emit(ctx, s.pub, s.log, events.New(events.FinancingCompleted, userID, map[string]string{
			ledger.MetaFinancingID:  out.Financing.ID,
			ledger.MetaInvestmentID: out.Financing.InvestmentID,
		}))
	}
	return out, nil
}

// nextDue is the due date of the earliest unpaid installment.
func nextDue(ctx context.Context, tx ledger.Tx, financingID string) (*time.Time, error) {
	items, err := tx.Installments(ctx, financingID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Status.Unpaid() {
			due := it.DueDate
			return &due, nil
		}
	}
	return nil, nil
}

// Breakdown itemises an early termination.
type Breakdown struct {
	FinancingIDs    []string        `json:"financing_ids"`
	InvestmentID    string          `json:"investment_id"`
	CollateralValue decimal.Decimal `json:"collateral_value"`
	DebtPaid        decimal.Decimal `json:"debt_paid"`
	PenaltyCharged  decimal.Decimal `json:"penalty_charged"`
	TotalDeducted   decimal.Decimal `json:"total_deducted"`
	ReturnedToUser  decimal.Decimal `json:"returned_to_user"`
}

// DropFinancing terminates a financing early by liquidating its collateral.
// The outstanding principal plus a 3% penalty is taken from the investment
// and any surplus is credited to the wallet. Every other ACTIVE financing
// backed by the same investment is closed in the same unit.
func (s *Service) DropFinancing(ctx context.Context, userID, financingID string) (Breakdown, error) {
	var out Breakdown
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		f, err := tx.Financing(ctx, financingID)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && f.UserID != userID) {
			return ledger.ErrNotFound.Withf("no active financing %s", financingID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		inv, err := tx.LockInvestment(ctx, f.InvestmentID)
		if err != nil {
			return err
		}
		backed, err := lockBacked(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(backed, func(b ledger.Financing) bool { return b.ID == financingID }) {
			return ledger.ErrNotFound.Withf("no active financing %s", financingID)
		}
		if inv.Status != ledger.InvestmentActive {
			return ledger.ErrInvalidState.Withf("collateral investment is %s", inv.Status)
		}

		out = Breakdown{InvestmentID: inv.ID, CollateralValue: inv.CurrentValue, DebtPaid: decimal.Zero, PenaltyCharged: decimal.Zero}
		penalties := make(map[string]decimal.Decimal, len(backed))
		for _, b := range backed {
			p := Penalty(b.Remaining)
			penalties[b.ID] = p
			out.FinancingIDs = append(out.FinancingIDs, b.ID)
			out.DebtPaid = out.DebtPaid.Add(b.Remaining)
			out.PenaltyCharged = out.PenaltyCharged.Add(p)
		}
		out.TotalDeducted = out.DebtPaid.Add(out.PenaltyCharged)
		if inv.CurrentValue.LessThan(out.TotalDeducted) {
			return ledger.ErrInsufficientCollateral.Short(out.TotalDeducted, inv.CurrentValue)
		}
		out.ReturnedToUser = inv.CurrentValue.Sub(out.TotalDeducted)

		now := s.now().UTC()
		for _, b := range backed {
			items, err := tx.Installments(ctx, b.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.Status == ledger.InstallmentPaid {
					continue
				}
				it.Status = ledger.InstallmentDropped
				if err := tx.UpdateInstallment(ctx, it); err != nil {
					return err
				}
			}
			b.Status = ledger.FinancingLiquidated
			b.PenaltyApplied = true
			b.PenaltyAmount = penalties[b.ID]
			b.Remaining = decimal.Zero
			b.NextDueDate = nil
			b.ClosedAt = &now
			if err := tx.UpdateFinancing(ctx, b); err != nil {
				return err
			}
		}

		inv.Status = ledger.InvestmentLiquidatedByPenalty
		inv.CurrentValue = decimal.Zero
		inv.CreditUsed = decimal.Zero
		inv.CreditLimit = decimal.Zero
		inv.LiquidatedAt = &now
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}

		meta := map[string]string{
			ledger.MetaFinancingID:  financingID,
			ledger.MetaInvestmentID: inv.ID,
			"financings":            strings.Join(out.FinancingIDs, ","),
			"collateral_value":      out.CollateralValue.StringFixed(2),
		}
		if _, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID:      userID,
			Type:        ledger.TxPenaltyCharge,
			Direction:   ledger.Memo,
			Amount:      out.DebtPaid,
			Fee:         out.PenaltyCharged,
			Total:       out.TotalDeducted,
			Status:      ledger.TxCompleted,
			Description: "Financing early termination",
			Metadata:    meta,
			CreatedAt:   now,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		if out.ReturnedToUser.IsPositive() {
			if _, err := wallet.Post(ctx, tx, &ledger.Transaction{
				UserID:      userID,
				Type:        ledger.TxInvestmentWithdrawal,
				Direction:   ledger.Credit,
				Amount:      out.ReturnedToUser,
				Status:      ledger.TxCompleted,
				Description: "Collateral surplus",
				Metadata: map[string]string{
					ledger.MetaKind:         ledger.KindPenaltySurplus,
					ledger.MetaFinancingID:  financingID,
					ledger.MetaInvestmentID: inv.ID,
				},
				CreatedAt:   now,
				CompletedAt: &now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Breakdown{}, err
	}
	s.log.Info("financing dropped",
		zap.String("user_id", userID),
		zap.Strings("financing_ids", out.FinancingIDs),
		zap.String("penalty", out.PenaltyCharged.String()),
		zap.String("returned", out.ReturnedToUser.String()))
	events.Emit(ctx, s.pub, s.log, events.New(events.FinancingDropped, userID, map[string]string{
		ledger.MetaFinancingID:  financingID,
		ledger.MetaInvestmentID: out.InvestmentID,
		"penalty":               out.PenaltyCharged.StringFixed(2),
		"returned":              out.ReturnedToUser.StringFixed(2),
	}))
	return out, nil
}

// lockBacked locks the ACTIVE financings of investmentID in id order and
// returns them as read under the lock.
func lockBacked(ctx context.Context, tx ledger.Tx, investmentID string) ([]ledger.Financing, error) {
	list, err := tx.FinancingsByInvestment(ctx, investmentID, ledger.FinancingActive)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(list, func(a, b ledger.Financing) int { return strings.Compare(a.ID, b.ID) })
	out := list[:0]
	for _, b := range list {
		locked, err := tx.LockFinancing(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if locked.Status == ledger.FinancingActive {
			out = append(out, locked)
		}
	}
	return out, nil
}

// ProcessOverdueInstallments penalises installments past due as of now.
func (s *Service) ProcessOverdueInstallments(ctx context.Context) (sweep.Report, error) {
	return s.ProcessOverdueInstallmentsOn(ctx, s.now())
}

// ProcessOverdueInstallmentsOn penalises every PENDING installment due before
// the date of at. The penalty is applied once: an installment that already
// carries one is skipped.
func (s *Service) ProcessOverdueInstallmentsOn(ctx context.Context, at time.Time) (sweep.Report, error) {
	started := time.Now()
	today := ledger.Date(at, s.loc)
	report := sweep.Report{Sweep: sweep.OverdueInstallments, Date: today}

	var ids []string
	if err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ids, err = tx.DueInstallmentIDs(ctx, today)
		return err
	}); err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		it, userID, applied, err := s.penalise(ctx, id, today)
		switch {
		case err != nil:
			report.Fail(id, err)
			s.log.Error("overdue penalty failed", zap.String("installment_id", id), zap.Error(err))
		case !applied:
			report.Skipped++
		default:
			report.Processed++
			events.Emit(ctx, s.pub, s.log, events.New(events.InstallmentOverdue, userID, map[string]string{
				ledger.MetaFinancingID:   it.FinancingID,
				ledger.MetaInstallmentID: it.ID,
				"penalty":                it.PenaltyAmount.StringFixed(2),
				"total_due":              it.TotalDue.StringFixed(2),
				"due_date":               it.DueDate.Format(time.DateOnly),
			}))
		}
	}

	s.log.Info("overdue installments processed",
		zap.String("date", today.Format(time.DateOnly)),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	s.observer.ObserveSweep(report, time.Since(started))
	return report, nil
}

func (s *Service) penalise(ctx context.Context, id string, today time.Time) (ledger.Installment, string, bool, error) {
	var (
		it      ledger.Installment
		userID  string
		applied bool
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		it, err = tx.LockInstallment(ctx, id)
		if err != nil {
			return err
		}
		if it.Status != ledger.InstallmentPending || !it.PenaltyAmount.IsZero() || !it.DueDate.Before(today) {
			return nil
		}
		f, err := tx.Financing(ctx, it.FinancingID)
		if err != nil {
			return err
		}
		if f.Status != ledger.FinancingActive {
			return nil
		}
		it.PenaltyAmount = Penalty(it.Amount)
		it.TotalDue = it.Amount.Add(it.PenaltyAmount)
		it.Status = ledger.InstallmentOverdue
		if err := tx.UpdateInstallment(ctx, it); err != nil {
			return err
		}
		userID = f.UserID
		applied = true
		return nil
	})
	return it, userID, applied, err
}

// List returns the financings of userID, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status ledger.FinancingStatus) ([]ledger.Financing, error) {
	var out []ledger.Financing
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListFinancings(ctx, userID, status)
		return err
	})
	return out, err
}

// Get returns one financing owned by userID with its installments.
func (s *Service) Get(ctx context.Context, userID, financingID string) (Detail, error) {
	var out Detail
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		f, err := tx.Financing(ctx, financingID)
		if err != nil {
			return err
		}
		if f.UserID != userID {
			return ledger.ErrNotFound.Withf("financing not found")
		}
		items, err := tx.Installments(ctx, f.ID)
		if err != nil {
			return err
		}
		out = Detail{Financing: f, Installments: items}
		return nil
	})
	return out, err
}
