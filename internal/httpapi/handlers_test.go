package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/audit"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/ledger"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/transfer"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

const testSecret = "http-test-secret-0123456789"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *ledger.MemStore
	signer  *auth.Signer
	hub     *events.Hub
	svc     Services
	audit   *observer.ObservedLogs
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := ledger.NewMemStore()
	hub := events.NewHub()
	svc := Services{
		Wallet:     wallet.New(store, wallet.Config{}, nil, hub),
		Investment: investment.New(store, investment.Config{}, nil, hub),
		Financing:  financing.New(store, financing.Config{}, nil, hub),
		Transfer:   transfer.New(store, transfer.Config{FeeRate: transfer.DefaultFeeRate}, nil, hub),
	}
	signer, err := auth.NewSigner(testSecret, "")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	api, err := New(svc, Options{
		Version:    "test",
		Signer:     signer,
		Hub:        hub,
		Audit:      audit.New(zap.New(core)),
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		audit:   logs,
		signer:  signer,
		hub:     hub,
		svc:     svc,
	}
}

func (c *apiClient) token(user string, roles ...string) string {
	c.t.Helper()
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	tok, _, err := c.signer.GenerateToken(user, roles, time.Hour)
	if err != nil {
		c.t.Fatalf("token: %v", err)
	}
	return tok
}

func (c *apiClient) admin() string { return c.token("ops", auth.RoleAdmin) }

func (c *apiClient) do(method, path, token string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// expect checks the status and decodes the body into out when it is not nil.
func (c *apiClient) expect(resp *http.Response, code int, out any) {
	c.t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != code {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			c.t.Fatalf("decode %s: %v", raw, err)
		}
	}
}

func (c *apiClient) provision(userID string) ledger.Account {
	c.t.Helper()
	var acc ledger.Account
	c.expect(c.do(http.MethodPost, "/internal/accounts", c.admin(), map[string]string{"user_id": userID}, nil), http.StatusCreated, &acc)
	return acc
}

// fund credits userID outside the API, like an incoming bank transfer.
func (c *apiClient) fund(userID, amount string) {
	c.t.Helper()
	amt := decimal.RequireFromString(amount)
	err := c.store.RunAtomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := wallet.Post(ctx, tx, &ledger.Transaction{
			UserID: userID, Type: ledger.TxTransferIn, Direction: ledger.Credit,
			Amount: amt, Total: amt, Status: ledger.TxCompleted,
		})
		return err
	})
	if err != nil {
		c.t.Fatalf("fund %s: %v", userID, err)
	}
}

func (c *apiClient) balance(userID string) wallet.Balance {
	c.t.Helper()
	var b wallet.Balance
	c.expect(c.do(http.MethodGet, "/v1/wallet/balance", c.token(userID), nil, nil), http.StatusOK, &b)
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHealthReadyInfo(t *testing.T) {
	c := newTestAPI(t)

	var health map[string]any
	c.expect(c.do(http.MethodGet, "/healthz", "", nil, nil), http.StatusOK, &health)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health body: %v", health)
	}
	c.expect(c.do(http.MethodGet, "/readyz", "", nil, nil), http.StatusOK, nil)

	var info map[string]any
	c.expect(c.do(http.MethodGet, "/v1/info", "", nil, nil), http.StatusOK, &info)
	if info["annual_rate"] != "22.08" {
		t.Fatalf("unexpected info: %v", info)
	}
}

func TestAuthentication(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/wallet/balance", "", nil, nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	var body errorBody
	c.expect(resp, http.StatusUnauthorized, &body)
	if body.Code != "unauthorized" || body.RequestID == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	c.expect(c.do(http.MethodGet, "/v1/wallet/balance", "not.a.jwt", nil, nil), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodPost, "/internal/accounts", c.token("u1"), map[string]string{"user_id": "u1"}, nil), http.StatusForbidden, nil)
}

func TestRequestIDPropagates(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/wallet/balance", "", nil, map[string]string{requestIDHeader: "req-123"})
	var body errorBody
	c.expect(resp, http.StatusUnauthorized, &body)
	if body.RequestID != "req-123" || resp.Header.Get(requestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: %+v", body)
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	c := newTestAPI(t)
	first := c.provision("u1")
	if !wallet.ValidCVU(first.CVU) || !wallet.ValidAlias(first.Alias) {
		t.Fatalf("unexpected identifiers: %+v", first)
	}

	var again ledger.Account
	c.expect(c.do(http.MethodPost, "/internal/accounts", c.admin(), map[string]string{"user_id": "u1"}, nil), http.StatusOK, &again)
	if again.CVU != first.CVU {
		t.Fatalf("second provisioning changed cvu: %s != %s", again.CVU, first.CVU)
	}

	var acc ledger.Account
	c.expect(c.do(http.MethodGet, "/v1/wallet/account", c.token("u1"), nil, nil), http.StatusOK, &acc)
	if acc.CVU != first.CVU || acc.Status != ledger.AccountActive {
		t.Fatalf("unexpected account: %+v", acc)
	}
	c.expect(c.do(http.MethodGet, "/v1/wallet/balance", c.token("ghost"), nil, nil), http.StatusNotFound, nil)
}

func TestTransferInternalWithReplay(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	dst := c.provision("u2")
	c.fund("u1", "1000")

	req := map[string]string{"destination_cvu": dst.CVU, "amount": "100.00", "motive": "var"}
	headers := map[string]string{idempotencyHeader: "k-1"}

	var res transfer.Result
	c.expect(c.do(http.MethodPost, "/v1/transfers", c.token("u1"), req, headers), http.StatusCreated, &res)
	if res.External || res.Incoming == nil {
		t.Fatalf("expected internal transfer: %+v", res)
	}
	if !res.Outgoing.Total.Equal(dec("100.50")) || res.Outgoing.Status != ledger.TxCompleted {
		t.Fatalf("unexpected outgoing: %+v", res.Outgoing)
	}

	replay := c.do(http.MethodPost, "/v1/transfers", c.token("u1"), req, headers)
	if replay.Header.Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	var again transfer.Result
	c.expect(replay, http.StatusOK, &again)
	if again.Outgoing.ID != res.Outgoing.ID {
		t.Fatalf("replay returned a new transaction: %s", again.Outgoing.ID)
	}

	if got := c.balance("u1").Available; !got.Equal(dec("899.50")) {
		t.Fatalf("source balance = %s", got)
	}
	if got := c.balance("u2").Available; !got.Equal(dec("100")) {
		t.Fatalf("destination balance = %s", got)
	}

	var page wallet.Page
	c.expect(c.do(http.MethodGet, "/v1/wallet/movements?type=transfer_out", c.token("u1"), nil, nil), http.StatusOK, &page)
	if page.Total != 1 || page.Items[0].ID != res.Outgoing.ID {
		t.Fatalf("unexpected movements: %+v", page)
	}

	var rec wallet.Reconciliation
	c.expect(c.do(http.MethodGet, "/v1/wallet/reconcile", c.token("u1"), nil, nil), http.StatusOK, &rec)
	if !rec.Consistent {
		t.Fatalf("ledger out of balance: %+v", rec)
	}
}

func TestTransferShortfallBody(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	dst := c.provision("u2")

	var body errorBody
	c.expect(c.do(http.MethodPost, "/v1/transfers", c.token("u1"),
		map[string]string{"destination_cvu": dst.CVU, "amount": "10", "motive": "VAR"}, nil),
		http.StatusUnprocessableEntity, &body)
	if body.Code != "insufficient_funds" || body.Required != "10.05" || body.Available != "0.00" {
		t.Fatalf("unexpected shortfall body: %+v", body)
	}

	rejected := c.audit.FilterField(zap.String("outcome", "rejected")).All()
	if len(rejected) != 1 || !strings.HasPrefix(rejected[0].ContextMap()["event"].(string), "POST /v1/transfers") {
		t.Fatalf("rejection not audited: %+v", rejected)
	}
}

func TestRequestValidation(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	tok := c.token("u1")

	cases := []struct {
		name string
		path string
		body any
		code string
	}{
		{"precision", "/v1/investments", map[string]string{"amount": "1000.001"}, "invalid_amount"},
		{"not a number", "/v1/investments", map[string]string{"amount": "lots"}, "invalid_amount"},
		{"unknown field", "/v1/investments", map[string]string{"amount": "1000", "rate": "99"}, "invalid_body"},
		{"below minimum", "/v1/investments", map[string]string{"amount": "999.99"}, "below_minimum"},
		{"motive", "/v1/transfers", map[string]string{"destination_alias": "a.b.c", "amount": "1", "motive": "XXX"}, "invalid_motive"},
		{"destination", "/v1/transfers", map[string]string{"amount": "1", "motive": "VAR"}, "missing_destination"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			c.expect(c.do(http.MethodPost, tc.path, tok, tc.body, nil), http.StatusBadRequest, &body)
			if body.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, body)
			}
		})
	}

	c.expect(c.do(http.MethodGet, "/v1/wallet/movements?page=0", tok, nil, nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/wallet/movements?type=BOGUS", tok, nil, nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/wallet/movements?date_from=yesterday", tok, nil, nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/investments?status=open", tok, nil, nil), http.StatusBadRequest, nil)
}

func TestInvestmentLifecycle(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	c.fund("u1", "5000")
	tok := c.token("u1")

	var p investment.Projection
	c.expect(c.do(http.MethodGet, "/v1/investments/simulate?amount=1000&months=12", tok, nil, nil), http.StatusOK, &p)
	if !p.FinalValue.GreaterThan(dec("1000")) {
		t.Fatalf("projection did not grow: %+v", p)
	}

	var inv ledger.Investment
	c.expect(c.do(http.MethodPost, "/v1/investments", tok, map[string]string{"amount": "2000"}, nil), http.StatusCreated, &inv)
	if !inv.CreditLimit.Equal(dec("300")) {
		t.Fatalf("credit limit = %s", inv.CreditLimit)
	}
	if got := c.balance("u1"); !got.Available.Equal(dec("3000")) || !got.Invested.Equal(dec("2000")) {
		t.Fatalf("unexpected balance after deposit: %+v", got)
	}

	var list struct {
		Items []ledger.Investment `json:"items"`
	}
	c.expect(c.do(http.MethodGet, "/v1/investments?status=active", tok, nil, nil), http.StatusOK, &list)
	if len(list.Items) != 1 || list.Items[0].ID != inv.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	c.expect(c.do(http.MethodGet, "/v1/investments/"+inv.ID, c.token("intruder"), nil, nil), http.StatusNotFound, nil)

	var liquidated ledger.Investment
	c.expect(c.do(http.MethodPost, "/v1/investments/"+inv.ID+"/liquidate", tok, nil, nil), http.StatusOK, &liquidated)
	if liquidated.Status != ledger.InvestmentLiquidated {
		t.Fatalf("status = %s", liquidated.Status)
	}
	if got := c.balance("u1").Available; !got.Equal(dec("5000")) {
		t.Fatalf("balance after liquidation = %s", got)
	}
	c.expect(c.do(http.MethodPost, "/v1/investments/"+inv.ID+"/liquidate", tok, nil, nil), http.StatusNotFound, nil)
}

func TestFinancingPayAndDrop(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	c.fund("u1", "10000")
	tok := c.token("u1")

	var inv ledger.Investment
	c.expect(c.do(http.MethodPost, "/v1/investments", tok, map[string]string{"amount": "10000"}, nil), http.StatusCreated, &inv)

	var tooMuch errorBody
	c.expect(c.do(http.MethodPost, "/v1/financings", tok, map[string]any{
		"investment_id": inv.ID, "amount": "2000", "installments_count": 2,
	}, nil), http.StatusUnprocessableEntity, &tooMuch)
	if tooMuch.Code != "insufficient_credit" || tooMuch.Available != "1500.00" {
		t.Fatalf("unexpected credit error: %+v", tooMuch)
	}

	var fin financing.Detail
	c.expect(c.do(http.MethodPost, "/v1/financings", tok, map[string]any{
		"investment_id": inv.ID, "amount": "1000", "installments_count": 2,
	}, nil), http.StatusCreated, &fin)
	if len(fin.Installments) != 2 || !fin.InstallmentAmount.Equal(dec("500")) {
		t.Fatalf("unexpected plan: %+v", fin)
	}

	c.expect(c.do(http.MethodPost, "/v1/investments/"+inv.ID+"/liquidate", tok, nil, nil), http.StatusConflict, nil)

	var paid financing.Payment
	c.expect(c.do(http.MethodPost, "/v1/installments/"+fin.Installments[0].ID+"/pay", tok, nil, nil), http.StatusOK, &paid)
	if paid.Installment.Status != ledger.InstallmentPaid || !paid.Financing.Remaining.Equal(dec("500")) {
		t.Fatalf("unexpected payment: %+v", paid)
	}
	c.expect(c.do(http.MethodPost, "/v1/installments/"+fin.Installments[0].ID+"/pay", tok, nil, nil), http.StatusConflict, nil)

	var b financing.Breakdown
	c.expect(c.do(http.MethodPost, "/v1/financings/"+fin.ID+"/drop", tok, nil, nil), http.StatusOK, &b)
	if b.InvestmentID != inv.ID || !b.DebtPaid.Equal(dec("500")) || !b.PenaltyCharged.Equal(dec("15")) {
		t.Fatalf("unexpected breakdown: %+v", b)
	}

	var got financing.Detail
	c.expect(c.do(http.MethodGet, "/v1/financings/"+fin.ID, tok, nil, nil), http.StatusOK, &got)
	if got.Status != ledger.FinancingLiquidated {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestExternalTransferSettlement(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	c.fund("u1", "300")
	external := "0140999803200000000001"

	var res transfer.Result
	c.expect(c.do(http.MethodPost, "/v1/transfers", c.token("u1"),
		map[string]string{"destination_cvu": external, "amount": "200", "motive": "FAC"}, nil),
		http.StatusAccepted, &res)
	if !res.External || res.Outgoing.Status != ledger.TxProcessing {
		t.Fatalf("expected processing external transfer: %+v", res)
	}
	if got := c.balance("u1").Available; !got.Equal(dec("99")) {
		t.Fatalf("balance after debit = %s", got)
	}

	path := "/internal/transfers/" + res.Outgoing.ID + "/settle"
	c.expect(c.do(http.MethodPost, path, c.token("u1"), map[string]string{"status": "FAILED"}, nil), http.StatusForbidden, nil)

	var settled ledger.Transaction
	c.expect(c.do(http.MethodPost, path, c.admin(), map[string]string{"status": "failed", "reason": "rejected by bank"}, nil), http.StatusOK, &settled)
	if settled.Status != ledger.TxFailed {
		t.Fatalf("status = %s", settled.Status)
	}
	if got := c.balance("u1").Available; !got.Equal(dec("300")) {
		t.Fatalf("balance after refund = %s", got)
	}
	c.expect(c.do(http.MethodPost, path, c.admin(), map[string]string{"status": "COMPLETED"}, nil), http.StatusConflict, nil)
}

func TestContactsEndpoints(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	tok := c.token("u1")
	cvu := "0140999803200000000002"

	var saved ledger.Contact
	c.expect(c.do(http.MethodPost, "/v1/contacts", tok, map[string]any{"cvu": cvu, "name": "Ana"}, nil), http.StatusOK, &saved)
	if saved.Name != "Ana" || saved.IsFavorite {
		t.Fatalf("unexpected contact: %+v", saved)
	}

	var fav ledger.Contact
	c.expect(c.do(http.MethodPost, "/v1/contacts/"+cvu+"/favorite", tok, nil, nil), http.StatusOK, &fav)
	if !fav.IsFavorite {
		t.Fatal("expected favorite")
	}

	var list struct {
		Items []ledger.Contact `json:"items"`
	}
	c.expect(c.do(http.MethodGet, "/v1/contacts", tok, nil, nil), http.StatusOK, &list)
	if len(list.Items) != 1 {
		t.Fatalf("unexpected contacts: %+v", list)
	}

	c.expect(c.do(http.MethodDelete, "/v1/contacts/"+cvu, tok, nil, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodDelete, "/v1/contacts/"+cvu, tok, nil, nil), http.StatusNotFound, nil)
	c.expect(c.do(http.MethodPost, "/v1/contacts", tok, map[string]any{"cvu": "123"}, nil), http.StatusBadRequest, nil)
}

func TestValidateDestinationAndQuotes(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u1")
	dst := c.provision("u2")
	tok := c.token("u1")

	var d transfer.Destination
	c.expect(c.do(http.MethodPost, "/v1/transfers/validate", tok, map[string]string{"destination": dst.Alias}, nil), http.StatusOK, &d)
	if !d.Found || d.CVU != dst.CVU {
		t.Fatalf("unexpected destination: %+v", d)
	}

	var fee map[string]string
	c.expect(c.do(http.MethodGet, "/v1/transfers/fee?amount=1000", tok, nil, nil), http.StatusOK, &fee)
	if fee["fee"] != "5.00" || fee["total"] != "1005.00" {
		t.Fatalf("unexpected fee quote: %v", fee)
	}

	var motives struct {
		Items []motive `json:"items"`
	}
	c.expect(c.do(http.MethodGet, "/v1/transfers/motives", tok, nil, nil), http.StatusOK, &motives)
	if len(motives.Items) != len(transfer.Motives) || motives.Items[0].Code != "ALQ" {
		t.Fatalf("unexpected motives: %+v", motives)
	}
}

func TestSweepEndpoints(t *testing.T) {
	c := newTestAPI(t)

	var report sweep.Report
	c.expect(c.do(http.MethodPost, "/internal/sweeps/daily-returns?date=2026-03-07", c.admin(), nil, nil), http.StatusOK, &report)
	if report.Sweep != sweep.DailyReturns || !report.NonBusinessDay {
		t.Fatalf("saturday should be skipped: %+v", report)
	}

	c.expect(c.do(http.MethodPost, "/internal/sweeps/overdue-installments", c.admin(), nil, nil), http.StatusOK, &report)
	if report.Sweep != sweep.OverdueInstallments || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	c.expect(c.do(http.MethodPost, "/internal/sweeps/daily-returns?date=03/02/2026", c.admin(), nil, nil), http.StatusBadRequest, nil)
}

func TestIssueToken(t *testing.T) {
	c := newTestAPI(t)
	c.provision("u9")

	var tok tokenResponse
	c.expect(c.do(http.MethodPost, "/internal/tokens", c.admin(), map[string]any{"user": "u9", "roles": []string{"user"}, "ttl": "10m"}, nil), http.StatusCreated, &tok)
	if tok.Token == "" || time.Until(tok.ExpiresAt) > 11*time.Minute {
		t.Fatalf("unexpected token response: %+v", tok)
	}
	c.expect(c.do(http.MethodGet, "/v1/wallet/balance", tok.Token, nil, nil), http.StatusOK, nil)

	c.expect(c.do(http.MethodPost, "/internal/tokens", c.admin(), map[string]any{"user": "u9", "ttl": "48h"}, nil), http.StatusBadRequest, nil)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t)
	var body errorBody
	c.expect(c.do(http.MethodGet, "/nope", "", nil, nil), http.StatusNotFound, &body)
	if body.Code != "not_found" {
		t.Fatalf("unexpected body: %+v", body)
	}
	c.expect(c.do(http.MethodDelete, "/healthz", "", nil, nil), http.StatusMethodNotAllowed, nil)
}

func TestStatusForKinds(t *testing.T) {
	cases := map[ledger.Kind]int{
		ledger.KindValidation:             http.StatusBadRequest,
		ledger.KindNotFound:               http.StatusNotFound,
		ledger.KindForbidden:              http.StatusForbidden,
		ledger.KindConflict:               http.StatusConflict,
		ledger.KindInsufficientFunds:      http.StatusUnprocessableEntity,
		ledger.KindInsufficientCredit:     http.StatusUnprocessableEntity,
		ledger.KindInsufficientCollateral: http.StatusUnprocessableEntity,
		ledger.KindLimitExceeded:          http.StatusUnprocessableEntity,
		ledger.KindState:                  http.StatusConflict,
		ledger.KindProvisioning:           http.StatusServiceUnavailable,
		ledger.KindInternal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestDateToCoversWholeDay(t *testing.T) {
	to, err := parseDate("2026-03-02", true)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC); !to.Equal(want) {
		t.Fatalf("date_to = %s, want %s", to, want)
	}
	f := ledger.MovementFilter{DateTo: to}
	last := ledger.Transaction{CreatedAt: time.Date(2026, 3, 2, 23, 59, 59, 999999999, time.UTC)}
	next := ledger.Transaction{CreatedAt: *to}
	if !f.Matches(last) || f.Matches(next) {
		t.Fatalf("date_to bound: last=%v next=%v", f.Matches(last), f.Matches(next))
	}
	from, _ := parseDate("2026-03-02", false)
	if !from.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date_from = %s", from)
	}
}
