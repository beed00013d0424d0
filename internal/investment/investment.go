// Package investment runs the FCI positions: deposits, liquidation and the
// daily accrual sweep that also refreshes each position's credit limit.
package investment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

// DefaultAnnualRate is the FCI yield used when none is configured.
var DefaultAnnualRate = decimal.RequireFromString("22.08")

type Config struct {
	AnnualRate decimal.Decimal
	// Location decides the business day an accrual belongs to.
	Location *time.Location
}

// Service implements the investment operations.
type Service struct {
	store    ledger.Store
	cfg      Config
	log      *zap.Logger
	pub      events.Publisher
	observer sweep.Observer
	now      func() time.Time
}

func New(store ledger.Store, cfg Config, log *zap.Logger, pub events.Publisher) *Service {
	if cfg.AnnualRate.IsZero() {
		cfg.AnnualRate = DefaultAnnualRate
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, cfg: cfg, log: log, pub: pub, observer: sweep.Nop{}, now: time.Now}
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

// AnnualRate is the rate new positions are opened at.
func (s *Service) AnnualRate() decimal.Decimal { return s.cfg.AnnualRate }

// Simulate projects a deposit at the configured rate.
func (s *Service) Simulate(amount decimal.Decimal, months int) (Projection, error) {
	return Simulate(amount, months, s.cfg.AnnualRate)
}

// Create opens a position funded from the wallet.
func (s *Service) Create(ctx context.Context, userID string, amount decimal.Decimal) (ledger.Investment, error) {
	if !amount.IsPositive() {
		return ledger.Investment{}, ledger.ErrInvalidAmount
	}
	if !money.InCents(amount) {
		return ledger.Investment{}, ledger.ErrInvalidAmount.Withf("amount %s has more than 2 decimal places", amount)
	}
	if amount.LessThan(MinimumAmount) {
		return ledger.Investment{}, ledger.ErrBelowMinimum.Withf("minimum investment is %s", MinimumAmount.StringFixed(2))
	}
	var inv ledger.Investment
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		inv = ledger.Investment{
			UserID:        userID,
			Amount:        amount,
			CurrentValue:  amount,
			ReturnsEarned: decimal.Zero,
			AnnualRate:    s.cfg.AnnualRate,
			CreditUsed:    decimal.Zero,
			CreditLimit:   CreditLimit(amount),
			Status:        ledger.InvestmentActive,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.InsertInvestment(ctx, &inv); err != nil {
			return err
		}
		_, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID:      userID,
			Type:        ledger.TxInvestmentDeposit,
			Direction:   ledger.Debit,
			Amount:      amount,
			Status:      ledger.TxCompleted,
			Description: "FCI investment",
			Metadata:    map[string]string{ledger.MetaInvestmentID: inv.ID},
			CreatedAt:   inv.CreatedAt,
			CompletedAt: &inv.CreatedAt,
		})
		return err
	})
	if err != nil {
		return ledger.Investment{}, err
	}
	s.log.Info("investment created", zap.String("user_id", userID), zap.String("investment_id", inv.ID), zap.String("amount", amount.String()))
	events.Emit(ctx, s.pub, s.log, events.New(events.InvestmentCreated, userID, map[string]string{
		ledger.MetaInvestmentID: inv.ID,
		"amount":                amount.StringFixed(2),
	}))
	return inv, nil
}

// Liquidate closes an ACTIVE position and credits its current value back.
func (s *Service) Liquidate(ctx context.Context, userID, investmentID string) (ledger.Investment, error) {
	var inv ledger.Investment
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		inv, err = lockOwned(ctx, tx, userID, investmentID)
		if err != nil {
			return err
		}
		if inv.Status != ledger.InvestmentActive {
			return ledger.ErrNotFound.Withf("no active investment %s", investmentID)
		}
		active, err := tx.FinancingsByInvestment(ctx, inv.ID, ledger.FinancingActive)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return ledger.ErrHasActiveFinancing.Withf("investment backs %d active financing(s)", len(active))
		}

		now := s.now().UTC()
		inv.Status = ledger.InvestmentLiquidated
		inv.LiquidatedAt = &now
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		_, err = wallet.Post(ctx, tx, &ledger.Transaction{
			UserID:      userID,
			Type:        ledger.TxInvestmentWithdrawal,
			Direction:   ledger.Credit,
			Amount:      inv.CurrentValue,
			Status:      ledger.TxCompleted,
			Description: "FCI liquidation",
			Metadata: map[string]string{
				ledger.MetaInvestmentID: inv.ID,
				"original_amount":       inv.Amount.StringFixed(2),
				"returns_earned":        inv.ReturnsEarned.StringFixed(2),
			},
			CreatedAt:   now,
			CompletedAt: &now,
		})
		return err
	})
	if err != nil {
		return ledger.Investment{}, err
	}
	events.Emit(ctx, s.pub, s.log, events.New(events.InvestmentLiquidated, userID, map[string]string{
		ledger.MetaInvestmentID: inv.ID,
		"credited":              inv.CurrentValue.StringFixed(2),
	}))
	return inv, nil
}

// List returns the positions of userID, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status ledger.InvestmentStatus) ([]ledger.Investment, error) {
	var out []ledger.Investment
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListInvestments(ctx, userID, status)
		return err
	})
	return out, err
}

// Detail is a position with its accrual history, newest first.
type Detail struct {
	ledger.Investment
	AvailableCredit decimal.Decimal `json:"available_credit"`
	Returns         []ledger.Return `json:"returns"`
}

// Get returns one position owned by userID.
func (s *Service) Get(ctx context.Context, userID, investmentID string) (Detail, error) {
	var out Detail
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.Investment(ctx, investmentID)
		if err != nil {
			return err
		}
		if inv.UserID != userID {
			return ledger.ErrNotFound.Withf("investment not found")
		}
		returns, err := tx.ListReturns(ctx, inv.ID)
		if err != nil {
			return err
		}
		out = Detail{Investment: inv, AvailableCredit: inv.AvailableCredit(), Returns: returns}
		return nil
	})
	return out, err
}

// ProcessDailyReturns accrues today's return on every active position.
func (s *Service) ProcessDailyReturns(ctx context.Context) (sweep.Report, error) {
	return s.ProcessDailyReturnsOn(ctx, s.now())
}

// ProcessDailyReturnsOn accrues the business day containing at. Positions
// already accrued for that day are skipped, so reruns are safe. Each
// position is its own unit of work.
func (s *Service) ProcessDailyReturnsOn(ctx context.Context, at time.Time) (sweep.Report, error) {
	started := time.Now()
	day := ledger.Date(at, s.cfg.Location)
	report := sweep.Report{Sweep: sweep.DailyReturns, Date: day}
	if !sweep.BusinessDay(day) {
		report.NonBusinessDay = true
		s.log.Info("daily returns skipped on non business day", zap.String("date", day.Format(time.DateOnly)))
		s.observer.ObserveSweep(report, time.Since(started))
		return report, nil
	}

	var ids []string
	if err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ids, err = tx.ActiveInvestmentIDs(ctx)
		return err
	}); err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		accrued, ret, userID, err := s.accrue(ctx, id, day)
		switch {
		case err != nil:
			report.Fail(id, err)
			s.log.Error("daily return failed", zap.String("investment_id", id), zap.Error(err))
		case !accrued:
			report.Skipped++
		default:
			report.Processed++
			events.Emit(ctx, s.pub, s.log, events.New(events.InvestmentReturnAccrued, userID, map[string]string{
				ledger.MetaInvestmentID: id,
				"return_amount":         ret.ReturnAmount.StringFixed(2),
				"return_date":           day.Format(time.DateOnly),
			}))
		}
	}

	s.log.Info("daily returns processed",
		zap.String("date", day.Format(time.DateOnly)),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	s.observer.ObserveSweep(report, time.Since(started))
	return report, nil
}

func (s *Service) accrue(ctx context.Context, id string, day time.Time) (bool, ledger.Return, string, error) {
	var (
		accrued bool
		ret     ledger.Return
		userID  string
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inv, err := tx.LockInvestment(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != ledger.InvestmentActive {
			return nil
		}
		done, err := tx.HasReturn(ctx, id, day)
		if err != nil || done {
			return err
		}

		now := s.now().UTC()
		ret = ledger.Return{
			InvestmentID: id,
			BaseAmount:   inv.CurrentValue,
			RateApplied:  DailyRate(inv.AnnualRate),
			ReturnAmount: Accrue(inv.CurrentValue, inv.AnnualRate),
			ReturnDate:   day,
			CreatedAt:    now,
		}
		if err := tx.InsertReturn(ctx, &ret); err != nil {
			return err
		}
		inv.CurrentValue = inv.CurrentValue.Add(ret.ReturnAmount)
		inv.ReturnsEarned = inv.ReturnsEarned.Add(ret.ReturnAmount)
		inv.CreditLimit = CreditLimit(inv.CurrentValue)
		if err := tx.UpdateInvestment(ctx, inv); err != nil {
			return err
		}
		if _, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID:      inv.UserID,
			Type:        ledger.TxFCIReturn,
			Direction:   ledger.Memo,
			Amount:      ret.ReturnAmount,
			Status:      ledger.TxCompleted,
			Description: "FCI daily return",
			Metadata: map[string]string{
				ledger.MetaInvestmentID: id,
				"return_date":           day.Format(time.DateOnly),
			},
			CreatedAt:   now,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		accrued = true
		userID = inv.UserID
		return nil
	})
	if errors.Is(err, ledger.ErrConflict) {
		// Another runner accrued the same day first.
		return false, ledger.Return{}, "", nil
	}
	if err != nil {
		return false, ledger.Return{}, "", err
	}
	return accrued, ret, userID, nil
}

// lockOwned locks the owner's account and then the investment.
func lockOwned(ctx context.Context, tx ledger.Tx, userID, investmentID string) (ledger.Investment, error) {
	inv, err := tx.Investment(ctx, investmentID)
	if err != nil {
		return ledger.Investment{}, err
	}
	if inv.UserID != userID {
		return ledger.Investment{}, ledger.ErrNotFound.Withf("investment not found")
	}
	if _, err := tx.LockAccount(ctx, userID); err != nil {
		return ledger.Investment{}, err
	}
	return tx.LockInvestment(ctx, investmentID)
}
