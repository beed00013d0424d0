package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ids"
)

var errReadOnly = errors.New("ledger: write attempted in a read-only view")

// ErrLockOrder is returned by MemStore when a unit takes a row lock of lower
// LockRank than one it already holds.
var ErrLockOrder = errors.New("ledger: row lock taken out of order")

// MemStore implements Store with in-process concurrency safety. Units of work
// are serialized and run against a private copy of the state that replaces
// the shared one only on success.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty ledger.
func NewMemStore() *MemStore {
	return &MemStore{state: newMemState(), now: time.Now}
}

// WithClock sets the clock used for timestamps the caller left zero.
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, now: s.now, locks: &lockTrail{held: map[lockKey]bool{}}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &memTx{st: s.state, now: s.now, readOnly: true})
}

type memState struct {
	accounts     map[string]Account
	byCVU        map[string]string
	byAlias      map[string]string
	seq          uint64
	txs          []Transaction
	txPos        map[string]int
	investments  map[string]Investment
	returns      map[string][]Return
	financings   map[string]Financing
	installments map[string]Installment
	contacts     map[string]map[string]Contact
}

func newMemState() *memState {
	return &memState{
		accounts:     make(map[string]Account),
		byCVU:        make(map[string]string),
		byAlias:      make(map[string]string),
		txPos:        make(map[string]int),
		investments:  make(map[string]Investment),
		returns:      make(map[string][]Return),
		financings:   make(map[string]Financing),
		installments: make(map[string]Installment),
		contacts:     make(map[string]map[string]Contact),
	}
}

func (st *memState) clone() *memState {
	out := &memState{
		accounts:     cloneMap(st.accounts),
		byCVU:        cloneMap(st.byCVU),
		byAlias:      cloneMap(st.byAlias),
		seq:          st.seq,
		txs:          append([]Transaction(nil), st.txs...),
		txPos:        cloneMap(st.txPos),
		investments:  cloneMap(st.investments),
		returns:      make(map[string][]Return, len(st.returns)),
		financings:   cloneMap(st.financings),
		installments: cloneMap(st.installments),
		contacts:     make(map[string]map[string]Contact, len(st.contacts)),
	}
	for k, v := range st.returns {
		out.returns[k] = append([]Return(nil), v...)
	}
	for k, v := range st.contacts {
		out.contacts[k] = cloneMap(v)
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memTx struct {
	st       *memState
	now      func() time.Time
	readOnly bool
	locks    *lockTrail
}

type lockKey struct {
	rank LockRank
	id   string
}

// lockTrail records the row locks a unit would hold on Postgres.
type lockTrail struct {
	top  LockRank
	held map[lockKey]bool
}

func (l *lockTrail) take(rank LockRank, id string) error {
	if l == nil {
		return nil
	}
	k := lockKey{rank, id}
	if l.held[k] {
		return nil
	}
	if rank < l.top {
		return fmt.Errorf("%w: %s %s after %s", ErrLockOrder, rank, id, l.top)
	}
	l.held[k] = true
	l.top = rank
	return nil
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.now().UTC()
	}
	return ts
}

// --- accounts ---

func (t *memTx) Account(_ context.Context, userID string) (Account, error) {
	acc, ok := t.st.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound.Withf("account not found")
	}
	return acc, nil
}

func (t *memTx) LockAccount(ctx context.Context, userID string) (Account, error) {
	if err := t.locks.take(RankAccount, userID); err != nil {
		return Account{}, err
	}
	return t.Account(ctx, userID)
}

func (t *memTx) AccountByCVU(ctx context.Context, cvu string) (Account, error) {
	userID, ok := t.st.byCVU[cvu]
	if !ok {
		return Account{}, ErrNotFound.Withf("account not found")
	}
	return t.Account(ctx, userID)
}

func (t *memTx) AccountByAlias(ctx context.Context, alias string) (Account, error) {
	userID, ok := t.st.byAlias[alias]
	if !ok {
		return Account{}, ErrNotFound.Withf("account not found")
	}
	return t.Account(ctx, userID)
}

func (t *memTx) InsertAccount(_ context.Context, acc *Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[acc.UserID]; ok {
		return ErrConflict.Withf("account already exists for user")
	}
	if _, ok := t.st.byCVU[acc.CVU]; ok {
		return ErrConflict.Withf("cvu already assigned")
	}
	if acc.Alias != "" {
		if _, ok := t.st.byAlias[acc.Alias]; ok {
			return ErrConflict.Withf("alias already taken")
		}
		t.st.byAlias[acc.Alias] = acc.UserID
	}
	acc.CreatedAt = t.stamp(acc.CreatedAt)
	acc.UpdatedAt = acc.CreatedAt
	t.st.byCVU[acc.CVU] = acc.UserID
	t.st.accounts[acc.UserID] = *acc
	return nil
}

func (t *memTx) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	if err := t.locks.take(RankAccount, userID); err != nil {
		return decimal.Zero, err
	}
	acc, ok := t.st.accounts[userID]
	if !ok {
		return decimal.Zero, ErrNotFound.Withf("account not found")
	}
	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds.Short(delta.Neg(), acc.Balance)
	}
	acc.Balance = next
	acc.UpdatedAt = t.now().UTC()
	t.st.accounts[userID] = acc
	return next, nil
}

func (t *memTx) SetAlias(_ context.Context, userID, alias string, changes, year int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.locks.take(RankAccount, userID); err != nil {
		return err
	}
	acc, ok := t.st.accounts[userID]
	if !ok {
		return ErrNotFound.Withf("account not found")
	}
	if owner, taken := t.st.byAlias[alias]; taken && owner != userID {
		return ErrConflict.Withf("alias already taken")
	}
	delete(t.st.byAlias, acc.Alias)
	t.st.byAlias[alias] = userID
	acc.Alias = alias
	acc.AliasChanges = changes
	acc.AliasChangesYear = year
	acc.UpdatedAt = t.now().UTC()
	t.st.accounts[userID] = acc
	return nil
}

// --- transaction log ---

func (t *memTx) InsertTransaction(_ context.Context, rec *Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[rec.UserID]; !ok {
		return ErrNotFound.Withf("account not found")
	}
	if rec.IdempotencyKey != "" {
		for _, existing := range t.st.txs {
			if existing.UserID == rec.UserID && existing.IdempotencyKey == rec.IdempotencyKey {
				return ErrConflict.Withf("idempotency key already used")
			}
		}
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	t.st.seq++
	rec.Sequence = t.st.seq
	rec.CreatedAt = t.stamp(rec.CreatedAt)
	t.st.txPos[rec.ID] = len(t.st.txs)
	t.st.txs = append(t.st.txs, *rec)
	return nil
}

func (t *memTx) Transaction(_ context.Context, id string) (Transaction, error) {
	pos, ok := t.st.txPos[id]
	if !ok {
		return Transaction{}, ErrNotFound.Withf("transaction not found")
	}
	return t.st.txs[pos], nil
}

func (t *memTx) TransactionByIdempotencyKey(_ context.Context, userID, key string) (Transaction, error) {
	for _, rec := range t.st.txs {
		if rec.UserID == userID && rec.IdempotencyKey == key {
			return rec, nil
		}
	}
	return Transaction{}, ErrNotFound.Withf("transaction not found")
}

func (t *memTx) SettleTransaction(_ context.Context, id string, status TxStatus, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	pos, ok := t.st.txPos[id]
	if !ok {
		return ErrNotFound.Withf("transaction not found")
	}
	rec := t.st.txs[pos]
	if rec.Status != TxProcessing {
		return ErrInvalidState.Withf("transaction is %s", rec.Status)
	}
	at = t.stamp(at)
	rec.Status = status
	rec.CompletedAt = &at
	t.st.txs[pos] = rec
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, userID string, f MovementFilter) ([]Transaction, int, error) {
	f = f.Normalize()
	var matched []Transaction
	for i := len(t.st.txs) - 1; i >= 0; i-- {
		rec := t.st.txs[i]
		if rec.UserID == userID && f.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []Transaction{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (t *memTx) SumTransfersOut(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, rec := range t.st.txs {
		if rec.UserID != userID || rec.Type != TxTransferOut || rec.Status == TxFailed {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		sum = sum.Add(rec.Amount)
	}
	return sum, nil
}

func (t *memTx) LedgerTotal(_ context.Context, userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, rec := range t.st.txs {
		if rec.UserID == userID {
			sum = sum.Add(rec.Delta())
		}
	}
	return sum, nil
}

// --- investments ---

func (t *memTx) InsertInvestment(_ context.Context, inv *Investment) error {
	if err := t.writable(); err != nil {
		return err
	}
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if _, ok := t.st.investments[inv.ID]; ok {
		return ErrConflict.Withf("investment already exists")
	}
	inv.CreatedAt = t.stamp(inv.CreatedAt)
	inv.UpdatedAt = inv.CreatedAt
	t.st.investments[inv.ID] = *inv
	return nil
}

func (t *memTx) Investment(_ context.Context, id string) (Investment, error) {
	inv, ok := t.st.investments[id]
	if !ok {
		return Investment{}, ErrNotFound.Withf("investment not found")
	}
	return inv, nil
}

func (t *memTx) LockInvestment(ctx context.Context, id string) (Investment, error) {
	if err := t.locks.take(RankInvestment, id); err != nil {
		return Investment{}, err
	}
	return t.Investment(ctx, id)
}

func (t *memTx) UpdateInvestment(_ context.Context, inv Investment) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.locks.take(RankInvestment, inv.ID); err != nil {
		return err
	}
	if _, ok := t.st.investments[inv.ID]; !ok {
		return ErrNotFound.Withf("investment not found")
	}
	if inv.CreditUsed.GreaterThan(inv.CreditLimit) {
		return ErrInvalidState.Withf("credit used exceeds credit limit")
	}
	inv.UpdatedAt = t.now().UTC()
	t.st.investments[inv.ID] = inv
	return nil
}

func (t *memTx) ListInvestments(_ context.Context, userID string, status InvestmentStatus) ([]Investment, error) {
	var out []Investment
	for _, inv := range t.st.investments {
		if inv.UserID == userID && (status == "" || inv.Status == status) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *memTx) ActiveInvestmentIDs(context.Context) ([]string, error) {
	var out []string
	for id, inv := range t.st.investments {
		if inv.Status == InvestmentActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) InsertReturn(_ context.Context, r *Return) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, existing := range t.st.returns[r.InvestmentID] {
		if existing.ReturnDate.Equal(r.ReturnDate) {
			return ErrConflict.Withf("return already accrued for %s", r.ReturnDate.Format(time.DateOnly))
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	r.CreatedAt = t.stamp(r.CreatedAt)
	t.st.returns[r.InvestmentID] = append(t.st.returns[r.InvestmentID], *r)
	return nil
}

func (t *memTx) HasReturn(_ context.Context, investmentID string, date time.Time) (bool, error) {
	for _, r := range t.st.returns[investmentID] {
		if r.ReturnDate.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListReturns(_ context.Context, investmentID string) ([]Return, error) {
	out := append([]Return(nil), t.st.returns[investmentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ReturnDate.After(out[j].ReturnDate) })
	return out, nil
}

// --- financings ---

func (t *memTx) InsertFinancing(_ context.Context, f *Financing) error {
	if err := t.writable(); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = ids.New()
	}
	if _, ok := t.st.financings[f.ID]; ok {
		return ErrConflict.Withf("financing already exists")
	}
	f.CreatedAt = t.stamp(f.CreatedAt)
	f.UpdatedAt = f.CreatedAt
	t.st.financings[f.ID] = *f
	return nil
}

func (t *memTx) Financing(_ context.Context, id string) (Financing, error) {
	f, ok := t.st.financings[id]
	if !ok {
		return Financing{}, ErrNotFound.Withf("financing not found")
	}
	return f, nil
}

func (t *memTx) LockFinancing(ctx context.Context, id string) (Financing, error) {
	if err := t.locks.take(RankFinancing, id); err != nil {
		return Financing{}, err
	}
	return t.Financing(ctx, id)
}

func (t *memTx) UpdateFinancing(_ context.Context, f Financing) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.locks.take(RankFinancing, f.ID); err != nil {
		return err
	}
	if _, ok := t.st.financings[f.ID]; !ok {
		return ErrNotFound.Withf("financing not found")
	}
	f.UpdatedAt = t.now().UTC()
	t.st.financings[f.ID] = f
	return nil
}

func (t *memTx) ListFinancings(_ context.Context, userID string, status FinancingStatus) ([]Financing, error) {
	var out []Financing
	for _, f := range t.st.financings {
		if f.UserID == userID && (status == "" || f.Status == status) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *memTx) FinancingsByInvestment(_ context.Context, investmentID string, status FinancingStatus) ([]Financing, error) {
	var out []Financing
	for _, f := range t.st.financings {
		if f.InvestmentID == investmentID && (status == "" || f.Status == status) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertInstallments(_ context.Context, items []Installment) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = ids.New()
		}
		if _, ok := t.st.installments[items[i].ID]; ok {
			return ErrConflict.Withf("installment already exists")
		}
		t.st.installments[items[i].ID] = items[i]
	}
	return nil
}

func (t *memTx) Installment(_ context.Context, id string) (Installment, error) {
	it, ok := t.st.installments[id]
	if !ok {
		return Installment{}, ErrNotFound.Withf("installment not found")
	}
	return it, nil
}

func (t *memTx) LockInstallment(ctx context.Context, id string) (Installment, error) {
	if err := t.locks.take(RankInstallment, id); err != nil {
		return Installment{}, err
	}
	return t.Installment(ctx, id)
}

func (t *memTx) UpdateInstallment(_ context.Context, it Installment) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.locks.take(RankInstallment, it.ID); err != nil {
		return err
	}
	if _, ok := t.st.installments[it.ID]; !ok {
		return ErrNotFound.Withf("installment not found")
	}
	t.st.installments[it.ID] = it
	return nil
}

func (t *memTx) Installments(_ context.Context, financingID string) ([]Installment, error) {
	var out []Installment
	for _, it := range t.st.installments {
		if it.FinancingID == financingID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *memTx) DueInstallmentIDs(_ context.Context, before time.Time) ([]string, error) {
	var due []Installment
	for _, it := range t.st.installments {
		if it.Status == InstallmentPending && it.DueDate.Before(before) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueDate.Equal(due[j].DueDate) {
			return due[i].DueDate.Before(due[j].DueDate)
		}
		return due[i].ID < due[j].ID
	})
	out := make([]string, 0, len(due))
	for _, it := range due {
		out = append(out, it.ID)
	}
	return out, nil
}

// --- contacts ---

func (t *memTx) UpsertContact(_ context.Context, c Contact) (Contact, error) {
	if err := t.writable(); err != nil {
		return Contact{}, err
	}
	book := t.st.contacts[c.UserID]
	if book == nil {
		book = make(map[string]Contact)
		t.st.contacts[c.UserID] = book
	}
	c.LastUsed = t.stamp(c.LastUsed)
	if existing, ok := book[c.CVU]; ok {
		if c.Alias == "" {
			c.Alias = existing.Alias
		}
		if c.Name == "" {
			c.Name = existing.Name
		}
		c.IsFavorite = existing.IsFavorite
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = c.LastUsed
	}
	book[c.CVU] = c
	return c, nil
}

func (t *memTx) Contact(_ context.Context, userID, cvu string) (Contact, error) {
	c, ok := t.st.contacts[userID][cvu]
	if !ok {
		return Contact{}, ErrNotFound.Withf("contact not found")
	}
	return c, nil
}

func (t *memTx) Contacts(_ context.Context, userID string) ([]Contact, error) {
	out := make([]Contact, 0, len(t.st.contacts[userID]))
	for _, c := range t.st.contacts[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsFavorite != out[j].IsFavorite {
			return out[i].IsFavorite
		}
		if !out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].LastUsed.After(out[j].LastUsed)
		}
		return out[i].CVU < out[j].CVU
	})
	return out, nil
}

func (t *memTx) DeleteContact(_ context.Context, userID, cvu string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.contacts[userID][cvu]; !ok {
		return ErrNotFound.Withf("contact not found")
	}
	delete(t.st.contacts[userID], cvu)
	return nil
}

func (t *memTx) SetFavorite(_ context.Context, userID, cvu string, favorite bool) error {
	if err := t.writable(); err != nil {
		return err
	}
	c, ok := t.st.contacts[userID][cvu]
	if !ok {
		return ErrNotFound.Withf("contact not found")
	}
	c.IsFavorite = favorite
	t.st.contacts[userID][cvu] = c
	return nil
}
