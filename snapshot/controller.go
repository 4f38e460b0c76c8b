package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"hodl/loan"
	"hodl/observability"
)

// Reader is the read-only ledger surface the controller aggregates.
type Reader interface {
	GetLoanCount(ctx context.Context) (uint64, error)
	GetLoan(ctx context.Context, id uint64) (loan.Record, bool)
	GetBTCPrice(ctx context.Context) uint64
}

// Snapshot is one consistent view of the loan book: every reachable loan plus
// the price they were valued at. Loans are ordered by ascending id.
type Snapshot struct {
	Loans    []loan.Loan `json:"loans"`
	PriceUSD uint64      `json:"priceUsd"`
	TakenAt  time.Time   `json:"takenAt"`
}

// Controller aggregates ledger reads into snapshots and holds the latest one
// for presentation. Refetch replaces the snapshot wholesale; there is no
// incremental update and no automatic retry.
type Controller struct {
	reader   Reader
	fanLimit int
	tracer   trace.Tracer
	log      *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
	subs    map[chan *Snapshot]struct{}
}

// NewController wires a Controller over the given reader.
func NewController(reader Reader, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		reader:   reader,
		fanLimit: 8,
		tracer:   otel.Tracer("hodl/snapshot"),
		log:      log.With("component", "snapshot"),
		subs:     make(map[chan *Snapshot]struct{}),
	}
}

// Fetch assembles a fresh snapshot. The loan-count read is the only failure
// that surfaces: individual loan reads that come back absent are excluded
// silently, and a failed price read already degraded to the fallback inside
// the ledger client. Per-id reads run concurrently with the price read; the
// result is still ordered by ascending id.
func (c *Controller) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "snapshot.fetch")
	defer span.End()

	count, err := c.reader.GetLoanCount(ctx)
	if err != nil {
		observability.Snapshot().RecordRefresh("error", 0)
		return nil, fmt.Errorf("snapshot: loan count: %w", err)
	}
	span.SetAttributes(attribute.Int64("loan_count", int64(count)))

	observed := time.Now()
	slots := make([]*loan.Loan, count)

	var price uint64
	var priceGroup errgroup.Group
	priceGroup.Go(func() error {
		price = c.reader.GetBTCPrice(ctx)
		return nil
	})

	var fan errgroup.Group
	fan.SetLimit(c.fanLimit)
	for id := uint64(0); id < count; id++ {
		id := id
		fan.Go(func() error {
			if rec, ok := c.reader.GetLoan(ctx, id); ok {
				mapped := loan.FromRecord(rec, observed)
				slots[id] = &mapped
			}
			return nil
		})
	}
	_ = fan.Wait()
	_ = priceGroup.Wait()

	loans := make([]loan.Loan, 0, count)
	for _, l := range slots {
		if l != nil {
			loans = append(loans, *l)
		}
	}
	if excluded := int(count) - len(loans); excluded > 0 {
		c.log.Warn("snapshot excluded unreadable loans", "excluded", excluded, "total", count)
	}

	snap := &Snapshot{Loans: loans, PriceUSD: price, TakenAt: observed}
	observability.Snapshot().RecordRefresh("ok", len(loans))
	return snap, nil
}

// Refetch replaces the held snapshot and notifies subscribers. This is the
// system's only retry affordance.
func (c *Controller) Refetch(ctx context.Context) (*Snapshot, error) {
	snap, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.current = snap
	for sub := range c.subs {
		select {
		case sub <- snap:
		default:
			// Slow subscriber keeps only the freshest snapshot.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- snap:
			default:
			}
		}
	}
	c.mu.Unlock()
	return snap, nil
}

// Current returns the last successfully fetched snapshot, or nil before the
// first Refetch.
func (c *Controller) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Subscribe returns a channel receiving snapshot replacements and a cancel
// function that must be called when done.
func (c *Controller) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	cancel := func() {
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
	}
	return ch, cancel
}
