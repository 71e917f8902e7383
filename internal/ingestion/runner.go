package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sentiment-pipeline/internal/configstore"
	"sentiment-pipeline/internal/observability"
)

// Cycle outcomes, also used as metric labels.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// SymbolIngester runs one symbol's cycle.
type SymbolIngester interface {
	IngestSymbol(ctx context.Context, symbol string, configIDs []string) SymbolReport
}

var _ SymbolIngester = (*Manager)(nil)

// Runner schedules ingestion cycles over all tracked symbols.
type Runner struct {
	ingester    SymbolIngester
	symbols     configstore.SymbolSource
	interval    time.Duration
	cycleBudget time.Duration
	concurrency int
	logger      logrus.FieldLogger
	now         func() time.Time
	onCycle     func(*CycleReport)
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Ingester    SymbolIngester
	Symbols     configstore.SymbolSource
	Interval    time.Duration // Default: 1m
	CycleBudget time.Duration // Default: 30s - wall-clock limit per cycle
	Concurrency int           // Default: 4 - symbols processed in parallel
	Logger      logrus.FieldLogger
	Now         func() time.Time
	// OnCycle, when set, receives every finished cycle report.
	OnCycle func(*CycleReport)
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		ingester:    opts.Ingester,
		symbols:     opts.Symbols,
		interval:    opts.Interval,
		cycleBudget: opts.CycleBudget,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
		onCycle:     opts.OnCycle,
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	if r.cycleBudget <= 0 {
		r.cycleBudget = 30 * time.Second
	}
	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	Duration   time.Duration
	Symbols    int
	Reports    []SymbolReport // one per symbol, in symbol order
	BudgetHit  bool
	Outcome    string
	ListingErr error
}

// Run starts the scheduler. The first cycle runs immediately.
// It blocks until context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.WithFields(logrus.Fields{
		"interval":     r.interval,
		"cycle_budget": r.cycleBudget,
		"concurrency":  r.concurrency,
	}).Info("ingestion runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("ingestion runner stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle lists tracked symbols and ingests each of them on a bounded
// worker pool under the cycle budget. A failing symbol never affects the
// others; when the budget expires in-flight calls are cancelled and the
// cycle is reported partial with whatever was already produced.
func (r *Runner) RunCycle(ctx context.Context) *CycleReport {
	started := r.now()
	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: started}
	log := r.logger.WithField("cycle", report.CycleID)

	cctx, cancel := context.WithTimeout(ctx, r.cycleBudget)
	defer cancel()

	tracked, err := r.symbols.ListTrackedSymbols(cctx)
	if err != nil {
		report.ListingErr = fmt.Errorf("list tracked symbols: %w", err)
		report.Outcome = OutcomeFailed
		log.WithError(err).Error("failed to list tracked symbols")
		r.finish(report, log)
		return report
	}

	symbols, configs := configstore.GroupBySymbol(tracked)
	report.Symbols = len(symbols)
	report.Reports = make([]SymbolReport, len(symbols))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			if err := cctx.Err(); err != nil {
				report.Reports[i] = SymbolReport{Symbol: symbol, Partial: true, Errors: []error{err}}
				return nil
			}
			report.Reports[i] = r.ingester.IngestSymbol(cctx, symbol, configs[symbol])
			return nil
		})
	}
	_ = g.Wait()

	report.BudgetHit = errors.Is(cctx.Err(), context.DeadlineExceeded)
	report.Outcome = OutcomeOK
	if report.BudgetHit {
		report.Outcome = OutcomePartial
		log.Warn("cycle budget exhausted, cycle is partial")
	}
	for _, sr := range report.Reports {
		if sr.Partial {
			report.Outcome = OutcomePartial
			break
		}
	}

	r.finish(report, log)
	return report
}

func (r *Runner) finish(report *CycleReport, log logrus.FieldLogger) {
	report.Duration = r.now().Sub(report.StartedAt)
	observability.RecordCycle(report.Outcome, report.Duration.Seconds(), r.now().Unix())

	var inserted, published, failed int
	for _, sr := range report.Reports {
		inserted += sr.Inserted
		published += sr.Published
		failed += sr.FailedWrites
	}
	log.WithFields(logrus.Fields{
		"outcome":       report.Outcome,
		"symbols":       report.Symbols,
		"inserted":      inserted,
		"published":     published,
		"failed_writes": failed,
		"duration":      report.Duration,
	}).Info("ingestion cycle finished")

	if r.onCycle != nil {
		r.onCycle(report)
	}
}
