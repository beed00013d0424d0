package financing

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

type harness struct {
	store  *ledger.MemStore
	wallet *wallet.Service
	invest *investment.Service
	svc    *Service
	events *events.Recorder
	userID string
	invID  string
	ctx    context.Context
}

// newHarness funds userID with balance and invests invested of it.
func newHarness(t *testing.T, balance, invested string) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := ledger.NewMemStore().WithClock(clock)
	rec := &events.Recorder{}
	h := &harness{
		store:  store,
		wallet: wallet.New(store, wallet.Config{}, nil, nil).WithClock(clock),
		invest: investment.New(store, investment.Config{}, nil, nil).WithClock(clock),
		svc:    New(store, Config{}, nil, rec).WithClock(clock),
		events: rec,
		userID: "u1",
		ctx:    context.Background(),
	}
	if _, _, err := h.wallet.CreateAccount(h.ctx, h.userID); err != nil {
		t.Fatal(err)
	}
	err := store.RunAtomic(h.ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID: h.userID, Type: ledger.TxTransferIn, Direction: ledger.Credit,
			Amount: dec(balance), Status: ledger.TxCompleted,
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	inv, err := h.invest.Create(h.ctx, h.userID, dec(invested))
	if err != nil {
		t.Fatal(err)
	}
	h.invID = inv.ID
	return h
}

func (h *harness) investment(t *testing.T) ledger.Investment {
	t.Helper()
	d, err := h.invest.Get(h.ctx, h.userID, h.invID)
	if err != nil {
		t.Fatal(err)
	}
	return d.Investment
}

func (h *harness) available(t *testing.T) decimal.Decimal {
	t.Helper()
	bal, err := h.wallet.GetBalance(h.ctx, h.userID)
	if err != nil {
		t.Fatal(err)
	}
	return bal.Available
}

func (h *harness) consistent(t *testing.T) {
	t.Helper()
	r, err := h.wallet.Reconcile(h.ctx, h.userID)
	if err != nil || !r.Consistent {
		t.Fatalf("reconcile: %+v %v", r, err)
	}
}

func TestSimulateSchedule(t *testing.T) {
	plan, err := Simulate(dec("1000"), 3, testNow, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		amount string
		due    string
	}{
		{"333.33", "2026-04-10"},
		{"333.33", "2026-05-10"},
		{"333.34", "2026-06-10"},
	}
	for i, w := range want {
		got := plan.Installments[i]
		if got.Number != i+1 || !got.Amount.Equal(dec(w.amount)) || !got.DueDate.Equal(day(w.due)) {
			t.Fatalf("installment %d = %+v", i+1, got)
		}
	}
	if !plan.InstallmentAmount.Equal(dec("333.33")) {
		t.Fatalf("installment amount = %s", plan.InstallmentAmount)
	}

	dec31 := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	plan, _ = Simulate(dec("2000"), 2, dec31, time.UTC)
	if !plan.Installments[0].DueDate.Equal(day("2027-01-10")) {
		t.Fatalf("year rollover: %s", plan.Installments[0].DueDate)
	}

	for _, n := range []int{0, 1, 49} {
		if _, err := Simulate(dec("1000"), n, testNow, time.UTC); !errors.Is(err, ledger.ErrInvalidRange) {
			t.Fatalf("n=%d: expected invalid range, got %v", n, err)
		}
	}
}

func TestFullPayoffReleasesCredit(t *testing.T) {
	h := newHarness(t, "60000", "60000")
	fin, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("9000"), InstallmentsCount: 6})
	if err != nil {
		t.Fatal(err)
	}
	if !fin.InstallmentAmount.Equal(dec("1500")) || len(fin.Installments) != 6 {
		t.Fatalf("unexpected plan: %+v", fin.Financing)
	}
	if inv := h.investment(t); !inv.CreditUsed.Equal(dec("9000")) {
		t.Fatalf("credit used = %s", inv.CreditUsed)
	}
	if got := h.available(t); !got.Equal(dec("9000")) {
		t.Fatalf("disbursement not credited: %s", got)
	}

	for i, it := range fin.Installments {
		p, err := h.svc.PayInstallment(h.ctx, h.userID, it.ID)
		if err != nil {
			t.Fatalf("pay %d: %v", i+1, err)
		}
		if i < 5 && (p.Financing.NextDueDate == nil || !p.Financing.NextDueDate.Equal(fin.Installments[i+1].DueDate)) {
			t.Fatalf("pay %d: next due = %v", i+1, p.Financing.NextDueDate)
		}
	}

	got, err := h.svc.Get(h.ctx, h.userID, fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.FinancingCompleted || !got.Remaining.IsZero() || got.NextDueDate != nil {
		t.Fatalf("financing not completed: %+v", got.Financing)
	}
	if inv := h.investment(t); !inv.CreditUsed.IsZero() {
		t.Fatalf("credit not released: %s", inv.CreditUsed)
	}
	if h.events.Count(events.FinancingCompleted) != 1 || h.events.Count(events.InstallmentPaid) != 6 {
		t.Fatal("missing payment events")
	}
	h.consistent(t)
}

func TestCreditCeiling(t *testing.T) {
	h := newHarness(t, "20000", "20000")

	_, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("3000.01"), InstallmentsCount: 3})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	if e, _ := ledger.AsError(err); !e.Required.Equal(dec("3000.01")) || !e.Available.Equal(dec("3000")) {
		t.Fatalf("shortfall = %+v", e)
	}

	if _, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("2000"), InstallmentsCount: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("1000.01"), InstallmentsCount: 2}); !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("second financing must respect the remaining line, got %v", err)
	}
	inv := h.investment(t)
	if !inv.CreditUsed.Equal(dec("2000")) || inv.CreditUsed.GreaterThan(inv.CreditLimit) {
		t.Fatalf("credit used = %s of %s", inv.CreditUsed, inv.CreditLimit)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, "20000", "20000")
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"too few installments", Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 1}, ledger.ErrInvalidRange},
		{"too many installments", Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 49}, ledger.ErrInvalidRange},
		{"below minimum", Request{InvestmentID: h.invID, Amount: dec("999"), InstallmentsCount: 2}, ledger.ErrBelowMinimum},
		{"sub-cent amount", Request{InvestmentID: h.invID, Amount: dec("1000.005"), InstallmentsCount: 2}, ledger.ErrInvalidAmount},
		{"unknown investment", Request{InvestmentID: "nope", Amount: dec("1000"), InstallmentsCount: 2}, ledger.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.Create(h.ctx, h.userID, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := h.svc.Create(h.ctx, "stranger", Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 2}); err == nil {
		t.Fatal("foreign investment accepted")
	}
}

func TestPayInstallmentGuards(t *testing.T) {
	h := newHarness(t, "20000", "20000")
	fin, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("2000"), InstallmentsCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	first := fin.Installments[0].ID

	if _, err := h.svc.PayInstallment(h.ctx, "stranger", first); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.svc.PayInstallment(h.ctx, h.userID, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.svc.PayInstallment(h.ctx, h.userID, first); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.PayInstallment(h.ctx, h.userID, first); !errors.Is(err, ledger.ErrAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}

	// Drain the wallet so the second installment cannot be covered.
	err = h.store.RunAtomic(h.ctx, func(ctx context.Context, tx ledger.Tx) error {
		acc, _ := tx.Account(ctx, h.userID)
		_, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID: h.userID, Type: ledger.TxTransferOut, Direction: ledger.Debit,
			Amount: acc.Balance.Sub(dec("10")), Status: ledger.TxCompleted,
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.svc.PayInstallment(h.ctx, h.userID, fin.Installments[1].ID)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if e, _ := ledger.AsError(err); !e.Required.Equal(dec("1000")) || !e.Available.Equal(dec("10")) {
		t.Fatalf("shortfall = %+v", e)
	}
	got, _ := h.svc.Get(h.ctx, h.userID, fin.ID)
	if got.Installments[1].Status != ledger.InstallmentPending || !got.Remaining.Equal(dec("1000")) {
		t.Fatalf("failed payment mutated state: %+v", got)
	}
	h.consistent(t)
}

func TestOverduePenaltyAppliedOnceAndRemainingReachesZero(t *testing.T) {
	h := newHarness(t, "60100", "60000")
	fin, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("9000"), InstallmentsCount: 6})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		report, err := h.svc.ProcessOverdueInstallmentsOn(h.ctx, day("2026-04-11"))
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 && report.Processed != 1 {
			t.Fatalf("first run report = %+v", report)
		}
		if i > 0 && report.Processed != 0 {
			t.Fatalf("rerun %d penalised again: %+v", i, report)
		}
	}
	// On the due date itself nothing else is overdue yet.
	if report, _ := h.svc.ProcessOverdueInstallmentsOn(h.ctx, day("2026-05-10")); report.Processed != 0 {
		t.Fatalf("installment due today penalised: %+v", report)
	}

	got, _ := h.svc.Get(h.ctx, h.userID, fin.ID)
	first := got.Installments[0]
	if first.Status != ledger.InstallmentOverdue || !first.PenaltyAmount.Equal(dec("45")) || !first.TotalDue.Equal(dec("1545")) {
		t.Fatalf("penalty not applied once: %+v", first)
	}
	if h.events.Count(events.InstallmentOverdue) != 1 {
		t.Fatalf("overdue events = %d", h.events.Count(events.InstallmentOverdue))
	}

	p, err := h.svc.PayInstallment(h.ctx, h.userID, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Transaction.Total.Equal(dec("1545")) || !p.Transaction.Fee.Equal(dec("45")) {
		t.Fatalf("payment entry = %+v", p.Transaction)
	}
	if !p.Financing.Remaining.Equal(dec("7500")) {
		t.Fatalf("penalty reduced principal: remaining %s", p.Financing.Remaining)
	}
	for _, it := range got.Installments[1:] {
		if _, err := h.svc.PayInstallment(h.ctx, h.userID, it.ID); err != nil {
			t.Fatal(err)
		}
	}
	got, _ = h.svc.Get(h.ctx, h.userID, fin.ID)
	if !got.Remaining.IsZero() || got.Status != ledger.FinancingCompleted {
		t.Fatalf("remaining = %s status = %s", got.Remaining, got.Status)
	}
	if bal := h.available(t); !bal.Equal(dec("55")) {
		t.Fatalf("available = %s", bal)
	}
	h.consistent(t)
}

func TestDropLiquidatesCollateral(t *testing.T) {
	h := newHarness(t, "20000", "20000")
	fin, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("3000"), InstallmentsCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.PayInstallment(h.ctx, h.userID, fin.Installments[0].ID); err != nil {
		t.Fatal(err)
	}

	b, err := h.svc.DropFinancing(h.ctx, h.userID, fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !b.DebtPaid.Equal(dec("2000")) || !b.PenaltyCharged.Equal(dec("60")) || !b.TotalDeducted.Equal(dec("2060")) || !b.ReturnedToUser.Equal(dec("17940")) {
		t.Fatalf("breakdown = %+v", b)
	}

	inv := h.investment(t)
	if inv.Status != ledger.InvestmentLiquidatedByPenalty || !inv.CurrentValue.IsZero() || !inv.CreditUsed.IsZero() {
		t.Fatalf("collateral not liquidated: %+v", inv)
	}
	got, _ := h.svc.Get(h.ctx, h.userID, fin.ID)
	if got.Status != ledger.FinancingLiquidated || !got.PenaltyApplied || !got.PenaltyAmount.Equal(dec("60")) {
		t.Fatalf("financing = %+v", got.Financing)
	}
	if got.Installments[0].Status != ledger.InstallmentPaid || got.Installments[1].Status != ledger.InstallmentDropped || got.Installments[2].Status != ledger.InstallmentDropped {
		t.Fatalf("installments = %+v", got.Installments)
	}
	if bal := h.available(t); !bal.Equal(dec("19940")) {
		t.Fatalf("available = %s", bal)
	}
	h.consistent(t)

	if _, err := h.svc.DropFinancing(h.ctx, h.userID, fin.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("second drop: %v", err)
	}
}

func TestDropClosesSiblingFinancings(t *testing.T) {
	h := newHarness(t, "20000", "20000")
	a, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	sibling, err := h.svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 2})
	if err != nil {
		t.Fatal(err)
	}

	b, err := h.svc.DropFinancing(h.ctx, h.userID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.FinancingIDs) != 2 || !b.DebtPaid.Equal(dec("2000")) || !b.PenaltyCharged.Equal(dec("60")) {
		t.Fatalf("breakdown = %+v", b)
	}
	got, _ := h.svc.Get(h.ctx, h.userID, sibling.ID)
	if got.Status != ledger.FinancingLiquidated {
		t.Fatalf("sibling left %s", got.Status)
	}
	h.consistent(t)
}

// lockLog records, per unit, the rank of every row the unit locks, in the
// order first taken.
type lockLog struct {
	ledger.Store
	units [][]ledger.LockRank
}

func (l *lockLog) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	l.units = append(l.units, nil)
	n := len(l.units) - 1
	held := map[string]bool{}
	add := func(r ledger.LockRank, id string) {
		if k := r.String() + "/" + id; !held[k] {
			held[k] = true
			l.units[n] = append(l.units[n], r)
		}
	}
	return l.Store.RunAtomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &loggedTx{Tx: tx, add: add})
	})
}

type loggedTx struct {
	ledger.Tx
	add func(ledger.LockRank, string)
}

func (t *loggedTx) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	t.add(ledger.RankAccount, id)
	return t.Tx.LockAccount(ctx, id)
}

func (t *loggedTx) LockInvestment(ctx context.Context, id string) (ledger.Investment, error) {
	t.add(ledger.RankInvestment, id)
	return t.Tx.LockInvestment(ctx, id)
}

func (t *loggedTx) LockFinancing(ctx context.Context, id string) (ledger.Financing, error) {
	t.add(ledger.RankFinancing, id)
	return t.Tx.LockFinancing(ctx, id)
}

func (t *loggedTx) LockInstallment(ctx context.Context, id string) (ledger.Installment, error) {
	t.add(ledger.RankInstallment, id)
	return t.Tx.LockInstallment(ctx, id)
}

func TestUnitsLockAccountFirst(t *testing.T) {
	h := newHarness(t, "20000", "20000")
	log := &lockLog{Store: h.store}
	svc := New(log, Config{}, nil, nil).WithClock(func() time.Time { return testNow })

	a, err := svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(h.ctx, h.userID, Request{InvestmentID: h.invID, Amount: dec("1000"), InstallmentsCount: 2}); err != nil {
		t.Fatal(err)
	}
	for _, it := range a.Installments {
		if _, err := svc.PayInstallment(h.ctx, h.userID, it.ID); err != nil {
			t.Fatal(err)
		}
	}
	rest, _ := svc.List(h.ctx, h.userID, ledger.FinancingActive)
	if len(rest) != 1 {
		t.Fatalf("active financings = %d", len(rest))
	}
	if _, err := svc.DropFinancing(h.ctx, h.userID, rest[0].ID); err != nil {
		t.Fatal(err)
	}

	if len(log.units) != 5 {
		t.Fatalf("units = %d", len(log.units))
	}
	for i, ranks := range log.units {
		if len(ranks) == 0 || ranks[0] != ledger.RankAccount || !slices.IsSorted(ranks) {
			t.Fatalf("unit %d locked %v", i, ranks)
		}
	}
	h.consistent(t)
}

func TestDropInsufficientCollateral(t *testing.T) {
	h := newHarness(t, "1000", "1000")
	err := h.store.RunAtomic(h.ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertInvestment(ctx, &ledger.Investment{
			ID: "inv-small", UserID: h.userID, Amount: dec("4000"), CurrentValue: dec("4000"),
			AnnualRate: investment.DefaultAnnualRate, CreditLimit: dec("600"), Status: ledger.InvestmentActive,
		}); err != nil {
			return err
		}
		return tx.InsertFinancing(ctx, &ledger.Financing{
			ID: "fin-big", UserID: h.userID, InvestmentID: "inv-small", Amount: dec("5000"),
			InstallmentsCount: 5, InstallmentAmount: dec("1000"), Remaining: dec("5000"), Status: ledger.FinancingActive,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	before := h.available(t)

	_, err = h.svc.DropFinancing(h.ctx, h.userID, "fin-big")
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if e, _ := ledger.AsError(err); !e.Required.Equal(dec("5150")) || !e.Available.Equal(dec("4000")) {
		t.Fatalf("shortfall = %+v", e)
	}

	got, _ := h.svc.Get(h.ctx, h.userID, "fin-big")
	if got.Status != ledger.FinancingActive || !got.Remaining.Equal(dec("5000")) {
		t.Fatalf("financing mutated: %+v", got.Financing)
	}
	d, _ := h.invest.Get(h.ctx, h.userID, "inv-small")
	if d.Status != ledger.InvestmentActive || !d.CurrentValue.Equal(dec("4000")) {
		t.Fatalf("investment mutated: %+v", d.Investment)
	}
	if after := h.available(t); !after.Equal(before) {
		t.Fatalf("balance moved from %s to %s", before, after)
	}
}
