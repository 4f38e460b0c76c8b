package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"hodl/loan"
	"hodl/snapshot"
)

type fakeLedger struct {
	count    uint64
	countErr error
	loans    map[uint64]loan.Record
	price    uint64
	balances map[string]uint64
}

func (f *fakeLedger) GetLoanCount(ctx context.Context) (uint64, error) {
	return f.count, f.countErr
}

func (f *fakeLedger) GetLoan(ctx context.Context, id uint64) (loan.Record, bool) {
	rec, ok := f.loans[id]
	return rec, ok
}

func (f *fakeLedger) GetBTCPrice(ctx context.Context) uint64 { return f.price }

func (f *fakeLedger) GetBalance(ctx context.Context, principal string) uint64 {
	return f.balances[principal]
}

func newTestServer(t *testing.T, ledger *fakeLedger) *httptest.Server {
	t.Helper()
	ctrl := snapshot.NewController(ledger, nil)
	srv := httptest.NewServer(NewServer(ctrl, ledger, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func seededLedger() *fakeLedger {
	return &fakeLedger{
		count: 2,
		loans: map[uint64]loan.Record{
			0: {ID: 0, Lender: "ST1LENDER", LoanAmountMicro: 20_000_000_000},
			1: {
				ID:                   1,
				Lender:               "ST1LENDER",
				Borrower:             "ST2BORROWER",
				CollateralBTCAddress: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
				CollateralBTCSats:    100_000_000,
				LoanAmountMicro:      20_000_000_000,
			},
		},
		price:    30_000,
		balances: map[string]uint64{"ST2BORROWER": 123_456},
	}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t, seededLedger())

	var view struct {
		Loans []struct {
			ID              uint64  `json:"id"`
			Status          string  `json:"status"`
			CollateralRatio float64 `json:"collateralRatio"`
			Liquidatable    bool    `json:"liquidatable"`
		} `json:"loans"`
		PriceUSD uint64 `json:"priceUsd"`
	}
	if code := getJSON(t, srv.URL+"/v1/snapshot", &view); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(view.Loans) != 2 || view.PriceUSD != 30_000 {
		t.Fatalf("view = %+v", view)
	}
	if view.Loans[1].Status != "accepted" || view.Loans[1].CollateralRatio != 150 {
		t.Fatalf("loan view = %+v", view.Loans[1])
	}
	if view.Loans[1].Liquidatable {
		t.Fatalf("150%% collateral must not be liquidatable")
	}
}

func TestLoanByID(t *testing.T) {
	srv := newTestServer(t, seededLedger())

	var view struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	if code := getJSON(t, srv.URL+"/v1/loans/1", &view); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if view.ID != 1 || view.Status != "accepted" {
		t.Fatalf("view = %+v", view)
	}

	if code := getJSON(t, srv.URL+"/v1/loans/99", nil); code != http.StatusNotFound {
		t.Fatalf("missing loan status = %d", code)
	}
	if code := getJSON(t, srv.URL+"/v1/loans/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", code)
	}
}

func TestPriceAndBalanceEndpoints(t *testing.T) {
	srv := newTestServer(t, seededLedger())

	var price map[string]uint64
	if code := getJSON(t, srv.URL+"/v1/price", &price); code != http.StatusOK {
		t.Fatalf("price status = %d", code)
	}
	if price["priceUsd"] != 30_000 {
		t.Fatalf("price = %v", price)
	}

	var balance struct {
		Principal string `json:"principal"`
		Balance   uint64 `json:"balance"`
	}
	if code := getJSON(t, srv.URL+"/v1/address/ST2BORROWER/balance", &balance); code != http.StatusOK {
		t.Fatalf("balance status = %d", code)
	}
	if balance.Balance != 123_456 {
		t.Fatalf("balance = %+v", balance)
	}
}

func TestUnreachableLedgerReturnsRetryAffordance(t *testing.T) {
	srv := newTestServer(t, &fakeLedger{countErr: errors.New("node unreachable")})

	var body map[string]string
	if code := getJSON(t, srv.URL+"/v1/snapshot", &body); code != http.StatusBadGateway {
		t.Fatalf("status = %d", code)
	}
	if body["retry"] == "" {
		t.Fatalf("error body missing retry affordance: %v", body)
	}
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	ledger := seededLedger()
	srv := newTestServer(t, ledger)

	if code := getJSON(t, srv.URL+"/v1/snapshot", nil); code != http.StatusOK {
		t.Fatalf("seed snapshot: %d", code)
	}

	ledger.loans[2] = loan.Record{ID: 2, Lender: "ST1LENDER", LoanAmountMicro: 1_000_000}
	ledger.count = 3

	resp, err := http.Post(srv.URL+"/v1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	defer resp.Body.Close()
	var summary struct {
		Loans int `json:"loans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || summary.Loans != 3 {
		t.Fatalf("refresh = %d %+v", resp.StatusCode, summary)
	}

	var view struct {
		Loans []struct {
			ID uint64 `json:"id"`
		} `json:"loans"`
	}
	getJSON(t, srv.URL+"/v1/snapshot", &view)
	if len(view.Loans) != 3 {
		t.Fatalf("snapshot not replaced: %+v", view)
	}
}
