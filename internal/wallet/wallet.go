// Package wallet owns the account lifecycle: provisioning, balances, alias
// management and the movement history.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
)

const (
	cvuLength           = 22
	provisionAttempts   = 10
	maxAliasLength      = 20
	maxAliasChanges     = 3
	defaultCVUPrefix    = "0000003100"
	defaultDailyLimit   = "500000"
	defaultMonthlyLimit = "5000000"
)

var aliasPattern = regexp.MustCompile(`^[a-z]+\.[a-z]+\.[a-z]+$`)

// Config tunes account provisioning.
type Config struct {
	// CVUPrefix is the 10-digit bank and branch prefix.
	CVUPrefix    string
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
	// Location decides which calendar year alias changes count against.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.CVUPrefix == "" {
		c.CVUPrefix = defaultCVUPrefix
	}
	if c.DailyLimit.IsZero() {
		c.DailyLimit = money.MustParse(defaultDailyLimit)
	}
	if c.MonthlyLimit.IsZero() {
		c.MonthlyLimit = money.MustParse(defaultMonthlyLimit)
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Service implements the wallet operations on top of a ledger.Store.
type Service struct {
	store ledger.Store
	cfg   Config
	log   *zap.Logger
	pub   events.Publisher
	now   func() time.Time
	intn  func(n int) int
}

// New builds a wallet service. A nil logger or publisher disables that output.
func New(store ledger.Store, cfg Config, log *zap.Logger, pub events.Publisher) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log,
		pub:   pub,
		now:   time.Now,
		intn:  rand.IntN,
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Limits are the transfer caps of an account and how much of them is used.
type Limits struct {
	Daily       decimal.Decimal `json:"daily"`
	Monthly     decimal.Decimal `json:"monthly"`
	DailyUsed   decimal.Decimal `json:"daily_used"`
	MonthlyUsed decimal.Decimal `json:"monthly_used"`
}

// Balance is the consolidated position of a user.
type Balance struct {
	Available decimal.Decimal      `json:"available"`
	Pending   decimal.Decimal      `json:"pending"`
	Invested  decimal.Decimal      `json:"invested"`
	Financed  decimal.Decimal      `json:"financed"`
	Total     decimal.Decimal      `json:"total"`
	Limits    Limits               `json:"limits"`
	CVU       string               `json:"cvu"`
	Alias     string               `json:"alias"`
	Status    ledger.AccountStatus `json:"status"`
}

// GetBalance aggregates the wallet with the user's active investments and
// financings. Total is available plus invested.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	var out Balance
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}
		invs, err := tx.ListInvestments(ctx, userID, ledger.InvestmentActive)
		if err != nil {
			return err
		}
		fins, err := tx.ListFinancings(ctx, userID, ledger.FinancingActive)
		if err != nil {
			return err
		}
		now := s.now()
		daily, err := tx.SumTransfersOut(ctx, userID, ledger.StartOfDay(now, s.cfg.Location))
		if err != nil {
			return err
		}
		monthly, err := tx.SumTransfersOut(ctx, userID, ledger.StartOfMonth(now, s.cfg.Location))
		if err != nil {
			return err
		}

		out = Balance{
			Available: acc.Balance,
			Pending:   acc.BalancePending,
			Invested:  decimal.Zero,
			Financed:  decimal.Zero,
			Limits: Limits{
				Daily:       acc.DailyLimit,
				Monthly:     acc.MonthlyLimit,
				DailyUsed:   daily,
				MonthlyUsed: monthly,
			},
			CVU:    acc.CVU,
			Alias:  acc.Alias,
			Status: acc.Status,
		}
		for _, inv := range invs {
			out.Invested = out.Invested.Add(inv.CurrentValue)
		}
		for _, f := range fins {
			out.Financed = out.Financed.Add(f.Remaining)
		}
		out.Total = out.Available.Add(out.Invested)
		return nil
	})
	return out, err
}

// CreateAccount provisions the account of userID, or returns the existing one.
// created reports whether this call inserted it.
func (s *Service) CreateAccount(ctx context.Context, userID string) (acc ledger.Account, created bool, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.Account{}, false, ledger.ErrInvalidFormat.Withf("user id is required")
	}
	err = s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		existing, err := tx.Account(ctx, userID)
		if err == nil {
			acc = existing
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		cvu, err := s.freeIdentifier(ctx, s.newCVU, tx.AccountByCVU)
		if err != nil {
			return err
		}
		alias, err := s.freeIdentifier(ctx, s.newAlias, tx.AccountByAlias)
		if err != nil {
			return err
		}
		acc = ledger.Account{
			UserID:       userID,
			CVU:          cvu,
			Alias:        alias,
			Balance:      decimal.Zero,
			DailyLimit:   s.cfg.DailyLimit,
			MonthlyLimit: s.cfg.MonthlyLimit,
			Status:       ledger.AccountActive,
			CreatedAt:    s.now().UTC(),
		}
		if err := tx.InsertAccount(ctx, &acc); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, ledger.ErrConflict) {
		// Lost a race with a concurrent provisioning of the same user.
		if existing, getErr := s.Account(ctx, userID); getErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return ledger.Account{}, false, err
	}
	if created {
		s.log.Info("account provisioned", zap.String("user_id", userID), zap.String("cvu", acc.CVU))
		events.Emit(ctx, s.pub, s.log, events.New(events.AccountCreated, userID, map[string]string{
			"cvu":   acc.CVU,
			"alias": acc.Alias,
		}))
	}
	return acc, created, nil
}

// Account returns the account of userID.
func (s *Service) Account(ctx context.Context, userID string) (ledger.Account, error) {
	var acc ledger.Account
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		acc, err = tx.Account(ctx, userID)
		return err
	})
	return acc, err
}

// freeIdentifier draws candidates until lookup reports one as unused.
func (s *Service) freeIdentifier(ctx context.Context, gen func() string, lookup func(context.Context, string) (ledger.Account, error)) (string, error) {
	for i := 0; i < provisionAttempts; i++ {
		candidate := gen()
		_, err := lookup(ctx, candidate)
		if errors.Is(err, ledger.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ledger.ErrProvisioning.Withf("no free identifier after %d attempts", provisionAttempts)
}

// newCVU is prefix(10) + time-derived suffix(9) + random tie-break(3).
func (s *Service) newCVU() string {
	suffix := s.now().UnixMilli() % 1_000_000_000
	return fmt.Sprintf("%s%09d%03d", s.cfg.CVUPrefix, suffix, s.intn(1000))
}

func (s *Service) newAlias() string {
	return aliasWords[s.intn(len(aliasWords))] + "." +
		aliasWords[s.intn(len(aliasWords))] + "." +
		aliasWords[s.intn(len(aliasWords))]
}

// ValidAlias reports whether alias is a well formed word.word.word alias.
func ValidAlias(alias string) bool {
	return len(alias) <= maxAliasLength && aliasPattern.MatchString(alias)
}

// ValidCVU reports whether cvu has exactly 22 digits.
func ValidCVU(cvu string) bool {
	if len(cvu) != cvuLength {
		return false
	}
	for _, r := range cvu {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// UpdateAlias changes the alias of userID. At most three changes are allowed
// per calendar year.
func (s *Service) UpdateAlias(ctx context.Context, userID, alias string) (ledger.Account, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if !ValidAlias(alias) {
		return ledger.Account{}, ledger.ErrInvalidFormat.Withf("alias must look like word.word.word and have at most %d characters", maxAliasLength)
	}
	var out ledger.Account
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		year := s.now().In(s.cfg.Location).Year()
		changes := acc.AliasChanges
		if acc.AliasChangesYear != year {
			changes = 0
		}
		if changes >= maxAliasChanges {
			return ledger.ErrAliasChangeLimit
		}
		if acc.Alias == alias {
			out = acc
			return nil
		}
		if owner, err := tx.AccountByAlias(ctx, alias); err == nil && owner.UserID != userID {
			return ledger.ErrConflict.Withf("alias %s is already taken", alias)
		} else if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if err := tx.SetAlias(ctx, userID, alias, changes+1, year); err != nil {
			return err
		}
		out, err = tx.Account(ctx, userID)
		return err
	})
	return out, err
}

// Page is one page of the movement history.
type Page struct {
	Items []ledger.Transaction `json:"items"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
	Total int                  `json:"total"`
	Pages int                  `json:"pages"`
}

// GetMovements lists the transaction log of userID, newest first.
func (s *Service) GetMovements(ctx context.Context, userID string, f ledger.MovementFilter) (Page, error) {
	if f.Type != "" && !f.Type.Valid() {
		return Page{}, ledger.ErrInvalidFormat.Withf("unknown movement type %q", f.Type)
	}
	f = f.Normalize()
	var out Page
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Account(ctx, userID); err != nil {
			return err
		}
		items, total, err := tx.ListTransactions(ctx, userID, f)
		if err != nil {
			return err
		}
		out = Page{Items: items, Page: f.Page, Limit: f.Limit, Total: total, Pages: (total + f.Limit - 1) / f.Limit}
		return nil
	})
	return out, err
}

// Reconciliation compares the stored balance with the sum of the log.
type Reconciliation struct {
	Balance     decimal.Decimal `json:"balance"`
	LedgerTotal decimal.Decimal `json:"ledger_total"`
	Consistent  bool            `json:"consistent"`
}

// Reconcile replays the signed deltas of userID's log against the balance.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	var out Reconciliation
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}
		total, err := tx.LedgerTotal(ctx, userID)
		if err != nil {
			return err
		}
		out = Reconciliation{Balance: acc.Balance, LedgerTotal: total, Consistent: acc.Balance.Equal(total)}
		return nil
	})
	if err == nil && !out.Consistent {
		s.log.Error("ledger out of balance",
			zap.String("user_id", userID),
			zap.String("balance", out.Balance.String()),
			zap.String("ledger_total", out.LedgerTotal.String()))
	}
	return out, err
}
