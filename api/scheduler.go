/*
scheduler.go - Automated stock drift audit

PURPOSE:
  Periodically scans products and sales and reports drift an operator has
  to repair: products with negative quantity (left behind by a partially
  applied operation) and sale lines pointing at deleted products.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass is bounded by the interval so a slow store cannot stack passes
  - Results are logged and handed to an AuditObserver (Prometheus gauges)

CONFIGURATION:
  - Interval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAuditScheduler(store, logger, prom)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Audit endpoint (manual run)
  - inventory/audit.go: Audit
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/inventory-engine/inventory"
	"go.uber.org/zap"
)

// AuditObserver receives audit results. A nil report marks a failed pass.
// metrics.Prometheus implements it.
type AuditObserver interface {
	ObserveAudit(report *inventory.DriftReport, at time.Time)
}

// AuditScheduler runs inventory.Audit on a ticker.
type AuditScheduler struct {
	Source   inventory.AuditSource
	Observer AuditObserver
	Logger   *zap.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.Mutex
	last   *inventory.DriftReport
}

const defaultAuditInterval = time.Minute

// NewAuditScheduler creates a new scheduler. observer may be nil.
func NewAuditScheduler(src inventory.AuditSource, log *zap.Logger, observer AuditObserver) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Source:   src,
		Observer: observer,
		Logger:   log.Named("audit"),
		Interval: defaultAuditInterval,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Logger.Info("disabled, not starting")
		return
	}
	if as.ticker != nil {
		return
	}
	if as.Interval <= 0 {
		as.Interval = defaultAuditInterval
	}

	as.ticker = time.NewTicker(as.Interval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run()

	as.Logger.Info("started", zap.Duration("interval", as.Interval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.ticker = nil
		as.Logger.Info("stopped")
	}
}

func (as *AuditScheduler) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.checkAndReport()

	for {
		select {
		case <-as.ticker.C:
			as.checkAndReport()
		case <-as.stop:
			return
		}
	}
}

func (as *AuditScheduler) checkAndReport() (inventory.DriftReport, error) {
	timeout := as.Interval
	if timeout <= 0 {
		timeout = defaultAuditInterval
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	now := time.Now()
	report, err := inventory.Audit(ctx, as.Source)
	if err != nil {
		as.Logger.Error("audit failed", zap.Error(err))
		if as.Observer != nil {
			as.Observer.ObserveAudit(nil, now)
		}
		return inventory.DriftReport{}, err
	}

	if as.Observer != nil {
		as.Observer.ObserveAudit(&report, now)
	}

	as.lastMu.Lock()
	as.last = &report
	as.lastMu.Unlock()

	fields := []zap.Field{
		zap.Int("products", report.Products),
		zap.Int("sales", report.Sales),
		zap.Int("negative_products", len(report.NegativeProducts)),
		zap.Int("dangling_items", len(report.DanglingItems)),
	}
	if !report.Clean() {
		ids := make([]string, len(report.NegativeProducts))
		for i, p := range report.NegativeProducts {
			ids[i] = string(p.ID)
		}
		as.Logger.Warn("stock drift detected", append(fields, zap.Strings("product_ids", ids))...)
	} else {
		as.Logger.Debug("audit clean", fields...)
	}
	return report, nil
}

// RunNow triggers an immediate check (for testing/admin).
func (as *AuditScheduler) RunNow() (inventory.DriftReport, error) {
	return as.checkAndReport()
}

// LastReport returns the most recent successful report, or nil.
func (as *AuditScheduler) LastReport() *inventory.DriftReport {
	as.lastMu.Lock()
	defer as.lastMu.Unlock()
	return as.last
}
