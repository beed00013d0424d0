package obs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                           "/",
		"/metrics":                                   "/metrics",
		"/v1/investments/01HZX3":                     "/v1/investments/:id",
		"/v1/investments/simulate":                   "/v1/investments/simulate",
		"/v1/investments/01HZX3/liquidate":           "/v1/investments/:id/liquidate",
		"/v1/installments/01HZX9/pay":                "/v1/installments/:id/pay",
		"/v1/transfers/validate?identifier=a.b.c":    "/v1/transfers/validate",
		"/internal/transfers/01HZXA/settle":          "/internal/transfers/:id/settle",
		"/v1/contacts/0000003100000000000001/toggle": "/v1/contacts/:id/toggle",
		"/v1/wallet/balance":                         "/v1/wallet/balance",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentUsesRoute(t *testing.T) {
	Init()
	h := Instrument(func(*http.Request) string { return "/v1/things/{id}" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/things/{id}", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/things/42", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/things/{id}", "418"))
	if rec.Code != http.StatusTeapot || after-before != 1 {
		t.Fatalf("code=%d delta=%v", rec.Code, after-before)
	}
}

func TestSweepObserver(t *testing.T) {
	Init()
	before := testutil.ToFloat64(sweepEntities.WithLabelValues(sweep.DailyReturns, "processed"))
	SweepObserver{}.ObserveSweep(sweep.Report{Sweep: sweep.DailyReturns, Processed: 3, Failed: 1}, time.Second)
	if got := testutil.ToFloat64(sweepEntities.WithLabelValues(sweep.DailyReturns, "processed")) - before; got != 3 {
		t.Fatalf("processed delta = %v", got)
	}
}

func TestEventCounter(t *testing.T) {
	before := testutil.ToFloat64(ledgerEvents.WithLabelValues(events.InstallmentOverdue))
	_ = EventCounter{}.Publish(context.Background(), events.New(events.InstallmentOverdue, "u1", nil))
	if got := testutil.ToFloat64(ledgerEvents.WithLabelValues(events.InstallmentOverdue)) - before; got != 1 {
		t.Fatalf("event delta = %v", got)
	}
}
