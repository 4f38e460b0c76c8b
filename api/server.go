package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hodl/loan"
	"hodl/snapshot"
)

// LedgerReader is the direct read surface the server exposes alongside the
// snapshot: spot price and account balances bypass the held snapshot.
type LedgerReader interface {
	GetBTCPrice(ctx context.Context) uint64
	GetBalance(ctx context.Context, principal string) uint64
}

// Server serves the read-side HTTP API over a snapshot controller.
type Server struct {
	loans   *snapshot.Controller
	ledger  LedgerReader
	log     *slog.Logger
	timeout time.Duration
}

// NewServer wires the HTTP API.
func NewServer(loans *snapshot.Controller, ledger LedgerReader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		loans:   loans,
		ledger:  ledger,
		log:     log.With("component", "api"),
		timeout: 10 * time.Second,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/loans", s.handleLoans)
		r.Get("/loans/{id}", s.handleLoan)
		r.Get("/price", s.handlePrice)
		r.Get("/address/{principal}/balance", s.handleBalance)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/stream", s.handleStream)
	})
	return otelhttp.NewHandler(r, "hodl.api")
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// loanView is a loan valued at a snapshot price.
type loanView struct {
	loan.Loan
	CollateralRatio float64 `json:"collateralRatio"`
	Liquidatable    bool    `json:"liquidatable"`
}

type snapshotView struct {
	Loans    []loanView `json:"loans"`
	PriceUSD uint64     `json:"priceUsd"`
	TakenAt  time.Time  `json:"takenAt"`
}

func viewOf(snap *snapshot.Snapshot) snapshotView {
	views := make([]loanView, 0, len(snap.Loans))
	for _, l := range snap.Loans {
		views = append(views, loanView{
			Loan:            l,
			CollateralRatio: loan.CollateralRatio(l, snap.PriceUSD),
			Liquidatable:    loan.Liquidatable(l, snap.PriceUSD),
		})
	}
	return snapshotView{Loans: views, PriceUSD: snap.PriceUSD, TakenAt: snap.TakenAt}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentOrFetch returns the held snapshot, fetching one on first use. A fetch
// failure is reported with the refresh affordance; the server never retries on
// its own.
func (s *Server) currentOrFetch(w http.ResponseWriter, r *http.Request) (*snapshot.Snapshot, bool) {
	if snap := s.loans.Current(); snap != nil {
		return snap, true
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	snap, err := s.loans.Refetch(ctx)
	if err != nil {
		s.log.Error("snapshot fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "loan book unavailable",
			"retry": "POST /v1/refresh",
		})
		return nil, false
	}
	return snap, true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.currentOrFetch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.currentOrFetch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap).Loans)
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "loan id must be a non-negative integer"})
		return
	}
	snap, ok := s.currentOrFetch(w, r)
	if !ok {
		return
	}
	for _, l := range snap.Loans {
		if l.ID == id {
			writeJSON(w, http.StatusOK, loanView{
				Loan:            l,
				CollateralRatio: loan.CollateralRatio(l, snap.PriceUSD),
				Liquidatable:    loan.Liquidatable(l, snap.PriceUSD),
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "loan not found"})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]uint64{"priceUsd": s.ledger.GetBTCPrice(ctx)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	ctx, cancel := s.context(r.Context())
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal": principal,
		"balance":   s.ledger.GetBalance(ctx, principal),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	snap, err := s.loans.Refetch(ctx)
	if err != nil {
		s.log.Error("refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "refresh failed",
			"retry": "POST /v1/refresh",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loans":   len(snap.Loans),
		"takenAt": snap.TakenAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
