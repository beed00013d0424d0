// Package transfer moves money out of a wallet: to another internal account
// in one unit of work, or to an external CVU that settles later.
package transfer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

// DefaultFeeRate is the transfer fee in percent of the amount.
var DefaultFeeRate = decimal.RequireFromString("0.5")

const (
	metaDestinationCVU   = "destination_cvu"
	metaDestinationAlias = "destination_alias"
	metaSourceCVU        = "source_cvu"
	metaSourceAlias      = "source_alias"
	metaMotive           = "motive"
	metaReference        = "reference"
	metaRoute            = "route"
	metaCounterpartTx    = "counterpart_tx"
	metaFailureReason    = "failure_reason"

	routeInternal = "internal"
	routeExternal = "external"
)

type Config struct {
	FeeRate decimal.Decimal
	// Location decides where the day and month of the transfer limits start.
	Location *time.Location
}

type Service struct {
	store ledger.Store
	cfg   Config
	log   *zap.Logger
	pub   events.Publisher
	now   func() time.Time
}

func New(store ledger.Store, cfg Config, log *zap.Logger, pub events.Publisher) *Service {
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = DefaultFeeRate
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
	return &Service{store: store, cfg: cfg, log: log, pub: pub, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Fee is the charge applied on top of amount.
func (s *Service) Fee(amount decimal.Decimal) decimal.Decimal {
	return money.Percent(amount, s.cfg.FeeRate)
}

// Request describes an outgoing transfer. Exactly one destination is used;
// DestinationCVU wins when both are set.
type Request struct {
	DestinationCVU   string          `json:"destination_cvu,omitempty"`
	DestinationAlias string          `json:"destination_alias,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Motive           string          `json:"motive"`
	Reference        string          `json:"reference,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
}

// Result describes a booked transfer.
type Result struct {
	Outgoing ledger.Transaction  `json:"outgoing"`
	Incoming *ledger.Transaction `json:"incoming,omitempty"`
	External bool                `json:"external"`

	// Replayed is set when the idempotency key matched an earlier transfer.
	Replayed bool `json:"replayed,omitempty"`
}

// Transfer debits amount plus fee from userID. Internal destinations are
// credited in the same unit and both legs complete; an unknown CVU produces
// a single PROCESSING leg awaiting SettleExternal.
func (s *Service) Transfer(ctx context.Context, userID string, req Request) (Result, error) {
	cvu := strings.TrimSpace(req.DestinationCVU)
	alias := strings.ToLower(strings.TrimSpace(req.DestinationAlias))
	if cvu == "" && alias == "" {
		return Result{}, ledger.ErrMissingDestination
	}
	motive, ok := NormalizeMotive(req.Motive)
	if !ok {
		return Result{}, ledger.ErrInvalidMotive.Withf("unknown motive %q", req.Motive)
	}
	if !req.Amount.IsPositive() {
		return Result{}, ledger.ErrInvalidAmount
	}
	if !money.InCents(req.Amount) {
		return Result{}, ledger.ErrInvalidAmount.Withf("amount %s has more than 2 decimal places", req.Amount)
	}
	if cvu != "" && !wallet.ValidCVU(cvu) {
		return Result{}, ledger.ErrInvalidCVU
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	var out Result
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if key != "" {
			prev, err := tx.TransactionByIdempotencyKey(ctx, userID, key)
			if err == nil {
				out = Result{Outgoing: prev, External: prev.Metadata[metaRoute] == routeExternal, Replayed: true}
				return nil
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return err
			}
		}

		src, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		var dst ledger.Account
		if cvu != "" {
			dst, err = tx.AccountByCVU(ctx, cvu)
		} else {
			dst, err = tx.AccountByAlias(ctx, alias)
		}
		internal := err == nil
		switch {
		case internal:
			if dst.UserID == userID {
				return ledger.ErrSelfTransfer
			}
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		case cvu == "":
			// Without a CVU there is nothing to route externally.
			return ledger.ErrNotFound.Withf("alias %s is not registered", alias)
		}

		if internal {
			src, dst, err = lockPair(ctx, tx, userID, dst.UserID)
		} else {
			src, err = tx.LockAccount(ctx, userID)
		}
		if err != nil {
			return err
		}
		if src.Status != ledger.AccountActive {
			return ledger.ErrInactiveAccount.Withf("account is %s", src.Status)
		}
		if internal && dst.Status != ledger.AccountActive {
			return ledger.ErrInactiveAccount.Withf("destination account is %s", dst.Status)
		}

		fee := s.Fee(req.Amount)
		total := req.Amount.Add(fee)
		if src.Balance.LessThan(total) {
			return ledger.ErrInsufficientFunds.Short(total, src.Balance)
		}
		now := s.now().UTC()
		if err := s.checkLimits(ctx, tx, src, req.Amount, now); err != nil {
			return err
		}

		destCVU, destAlias := cvu, alias
		if internal {
			destCVU, destAlias = dst.CVU, dst.Alias
		}
		outgoing := ledger.Transaction{
			UserID:         userID,
			Type:           ledger.TxTransferOut,
			Direction:      ledger.Debit,
			Amount:         req.Amount,
			Fee:            fee,
			Total:          total,
			Status:         ledger.TxProcessing,
			Description:    Motives[motive],
			IdempotencyKey: key,
			Metadata: map[string]string{
				metaDestinationCVU:   destCVU,
				metaDestinationAlias: destAlias,
				metaMotive:           motive,
				metaReference:        strings.TrimSpace(req.Reference),
				metaRoute:            routeExternal,
			},
			CreatedAt: now,
		}
		if internal {
			outgoing.Status = ledger.TxCompleted
			outgoing.CompletedAt = &now
			outgoing.Metadata[metaRoute] = routeInternal
		}
		if _, err := wallet.Post(ctx, tx, &outgoing); err != nil {
			return err
		}

		out = Result{Outgoing: outgoing, External: !internal}
		if internal {
			incoming := ledger.Transaction{
				UserID:      dst.UserID,
				Type:        ledger.TxTransferIn,
				Direction:   ledger.Credit,
				Amount:      req.Amount,
				Total:       req.Amount,
				Status:      ledger.TxCompleted,
				Description: Motives[motive],
				Metadata: map[string]string{
					metaSourceCVU:     src.CVU,
					metaSourceAlias:   src.Alias,
					metaMotive:        motive,
					metaReference:     strings.TrimSpace(req.Reference),
					metaRoute:         routeInternal,
					metaCounterpartTx: outgoing.ID,
				},
				CreatedAt:   now,
				CompletedAt: &now,
			}
			if _, err := wallet.Post(ctx, tx, &incoming); err != nil {
				return err
			}
			out.Incoming = &incoming
		}

		_, err = tx.UpsertContact(ctx, ledger.Contact{UserID: userID, CVU: destCVU, Alias: destAlias, LastUsed: now})
		return err
	})
	if errors.Is(err, ledger.ErrConflict) && key != "" {
		// A concurrent request with the same key committed first.
		return s.replay(ctx, userID, key)
	}
	if err != nil {
		return Result{}, err
	}
	if !out.Replayed {
		s.published(ctx, out)
	}
	return out, nil
}

// lockPair locks both accounts in user id order so that opposing transfers
// wait on each other instead of deadlocking.
func lockPair(ctx context.Context, tx ledger.Tx, srcID, dstID string) (src, dst ledger.Account, err error) {
	first, second := srcID, dstID
	if second < first {
		first, second = second, first
	}
	a, err := tx.LockAccount(ctx, first)
	if err != nil {
		return src, dst, err
	}
	b, err := tx.LockAccount(ctx, second)
	if err != nil {
		return src, dst, err
	}
	if first == srcID {
		return a, b, nil
	}
	return b, a, nil
}

func (s *Service) checkLimits(ctx context.Context, tx ledger.Tx, src ledger.Account, amount decimal.Decimal, now time.Time) error {
	if src.DailyLimit.IsPositive() {
		used, err := tx.SumTransfersOut(ctx, src.UserID, ledger.StartOfDay(now, s.cfg.Location))
		if err != nil {
			return err
		}
		if used.Add(amount).GreaterThan(src.DailyLimit) {
			return ledger.ErrDailyLimitExceeded.Short(amount, money.Max(src.DailyLimit.Sub(used), decimal.Zero))
		}
	}
	if src.MonthlyLimit.IsPositive() {
		used, err := tx.SumTransfersOut(ctx, src.UserID, ledger.StartOfMonth(now, s.cfg.Location))
		if err != nil {
			return err
		}
		if used.Add(amount).GreaterThan(src.MonthlyLimit) {
			return ledger.ErrMonthlyLimitExceeded.Short(amount, money.Max(src.MonthlyLimit.Sub(used), decimal.Zero))
		}
	}
	return nil
}

func (s *Service) replay(ctx context.Context, userID, key string) (Result, error) {
	var out Result
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		prev, err := tx.TransactionByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return err
		}
		out = Result{Outgoing: prev, External: prev.Metadata[metaRoute] == routeExternal, Replayed: true}
		return nil
	})
	return out, err
}

func (s *Service) published(ctx context.Context, r Result) {
	o := r.Outgoing
	data := map[string]string{
		"transaction_id":   o.ID,
		"amount":           o.Amount.StringFixed(2),
		"fee":              o.Fee.StringFixed(2),
		metaDestinationCVU: o.Metadata[metaDestinationCVU],
		metaMotive:         o.Metadata[metaMotive],
	}
	if r.External {
		s.log.Info("external transfer requested", zap.String("user_id", o.UserID), zap.String("transaction_id", o.ID))
		events.Emit(ctx, s.pub, s.log, events.New(events.TransferExternalRequested, o.UserID, data))
		return
	}
	events.Emit(ctx, s.pub, s.log, events.New(events.TransferCompleted, o.UserID, data))
	if r.Incoming != nil {
		events.Emit(ctx, s.pub, s.log, events.New(events.TransferCompleted, r.Incoming.UserID, map[string]string{
			"transaction_id": r.Incoming.ID,
			"amount":         r.Incoming.Amount.StringFixed(2),
			metaSourceCVU:    r.Incoming.Metadata[metaSourceCVU],
			metaMotive:       r.Incoming.Metadata[metaMotive],
		}))
	}
}

// SettleExternal closes a PROCESSING external transfer. On failure the
// debited total is returned to the wallet in the same unit and a memo entry
// records the refund; the FAILED row no longer counts towards the balance.
func (s *Service) SettleExternal(ctx context.Context, transactionID string, status ledger.TxStatus, reason string) (ledger.Transaction, error) {
	if status != ledger.TxCompleted && status != ledger.TxFailed {
		return ledger.Transaction{}, ledger.ErrInvalidFormat.Withf("settlement status must be %s or %s", ledger.TxCompleted, ledger.TxFailed)
	}
	var out ledger.Transaction
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		rec, err := tx.Transaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if rec.Type != ledger.TxTransferOut || rec.Metadata[metaRoute] != routeExternal {
			return ledger.ErrInvalidState.Withf("transaction %s is not an external transfer", transactionID)
		}
		now := s.now().UTC()
		if err := tx.SettleTransaction(ctx, rec.ID, status, now); err != nil {
			return err
		}
		if status == ledger.TxFailed {
			if _, err := wallet.UpdateBalance(ctx, tx, rec.UserID, rec.Total, wallet.OpAdd); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &ledger.Transaction{
				UserID:      rec.UserID,
				Type:        ledger.TxTransferIn,
				Direction:   ledger.Memo,
				Amount:      rec.Amount,
				Fee:         rec.Fee,
				Total:       rec.Total,
				Status:      ledger.TxCompleted,
				Description: "Refund of failed transfer",
				Metadata: map[string]string{
					ledger.MetaKind:   ledger.KindSettlementRefund,
					metaCounterpartTx: rec.ID,
					metaFailureReason: strings.TrimSpace(reason),
				},
				CreatedAt:   now,
				CompletedAt: &now,
			}); err != nil {
				return err
			}
		}
		out, err = tx.Transaction(ctx, rec.ID)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.log.Info("external transfer settled",
		zap.String("transaction_id", out.ID),
		zap.String("status", string(out.Status)),
		zap.String("reason", reason))
	events.Emit(ctx, s.pub, s.log, events.New(events.TransferSettled, out.UserID, map[string]string{
		"transaction_id": out.ID,
		"status":         string(out.Status),
	}))
	return out, nil
}

// Destination is the outcome of ValidateDestination.
type Destination struct {
	Found    bool   `json:"found"`
	External bool   `json:"external"`
	Own      bool   `json:"own,omitempty"`
	CVU      string `json:"cvu,omitempty"`
	Alias    string `json:"alias,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message"`
}

// ValidateDestination classifies identifier as a CVU or an alias and looks it
// up without changing anything. userID's contact book supplies the name.
func (s *Service) ValidateDestination(ctx context.Context, userID, identifier string) (Destination, error) {
	identifier = strings.TrimSpace(identifier)
	var byCVU bool
	switch {
	case wallet.ValidCVU(identifier):
		byCVU = true
	case strings.Contains(identifier, "."):
		identifier = strings.ToLower(identifier)
	default:
		return Destination{}, ledger.ErrInvalidFormat.Withf("destination must be a 22 digit CVU or an alias")
	}

	var out Destination
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var (
			acc ledger.Account
			err error
		)
		if byCVU {
			acc, err = tx.AccountByCVU(ctx, identifier)
		} else {
			acc, err = tx.AccountByAlias(ctx, identifier)
		}
		switch {
		case errors.Is(err, ledger.ErrNotFound) && byCVU:
			out = Destination{External: true, CVU: identifier, Message: "external account, the transfer settles asynchronously"}
			return nil
		case errors.Is(err, ledger.ErrNotFound):
			out = Destination{Alias: identifier, Message: "alias is not registered"}
			return nil
		case err != nil:
			return err
		}
		if acc.Status != ledger.AccountActive {
			return ledger.ErrInactiveAccount.Withf("destination account is %s", acc.Status)
		}
		out = Destination{Found: true, Own: acc.UserID == userID, CVU: acc.CVU, Alias: acc.Alias, Message: "account found"}
		if c, err := tx.Contact(ctx, userID, acc.CVU); err == nil {
			out.Name = c.Name
		}
		return nil
	})
	return out, err
}
