package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/pipeline"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

const (
	defaultTickInterval = 15 * time.Minute
	defaultDrainBudget  = 10 * time.Minute
	shutdownGrace       = 60 * time.Second

	discoverWorkers  = 8
	fetchWorkers     = 4
	extractWorkers   = 2
	triageWorkers    = 2
	caseBuildWorkers = 1
)

// Scheduler periodically drives the pipeline: discover across all
// enabled sources, then drain the stage queues. It is an explicit value
// owned by the process entry point, not process-global state.
type Scheduler struct {
	repo interfaces.Repository
	pipe *pipeline.Pipeline

	tickInterval time.Duration
	drainBudget  time.Duration
	budgetEUR    float64

	clock func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTickInterval overrides the tick period
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.tickInterval = d
	}
}

// WithDrainBudget overrides the per-tick drain time budget
func WithDrainBudget(d time.Duration) Option {
	return func(s *Scheduler) {
		s.drainBudget = d
	}
}

// WithBudget sets the monthly LLM budget used for pause clearing
func WithBudget(eur float64) Option {
	return func(s *Scheduler) {
		s.budgetEUR = eur
	}
}

// WithClock overrides the time source, for tests
func WithClock(f func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = f
	}
}

// New creates a Scheduler
func New(repo interfaces.Repository, pipe *pipeline.Pipeline, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		pipe:         pipe,
		tickInterval: defaultTickInterval,
		drainBudget:  defaultDrainBudget,
		budgetEUR:    10.0,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until the context is cancelled. On cancellation the current
// tick stops claiming new work; in-flight work gets a bounded grace
// period before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	logger.Info("scheduler starting",
		"tickInterval", s.tickInterval.String(), "drainBudget", s.drainBudget.String())

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	runTick := func() <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := s.Tick(ctx); err != nil {
				logger.Error("tick failed", "error", err.Error())
			}
		}()
		return done
	}

	done := runTick()
	for {
		select {
		case <-ctx.Done():
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				logger.Warn("abandoning in-flight work after grace period")
			}
			logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			select {
			case <-done:
				done = runTick()
			default:
				logger.Warn("previous tick still running, skipping")
			}
		}
	}
}

// TickReport summarizes one scheduler tick
type TickReport struct {
	RunID          string
	Sources        int
	CooledDown     int
	Failed         int
	NewDocuments   int
	BudgetResumed  int64
	StageProcessed map[types.Stage]int
}

// Tick runs one full cycle: budget rollover check, discover fan-out,
// pipeline drain.
func (s *Scheduler) Tick(ctx context.Context) (*TickReport, error) {
	runID := uuid.New().String()[:8]
	logger := logging.From(ctx).With("run", runID)
	ctx = logging.With(ctx, logger)

	report := &TickReport{
		RunID:          runID,
		StageProcessed: make(map[types.Stage]int),
	}

	// Documents paused on budget resume once the window rolls over.
	spent, err := s.repo.Usage().MonthToDateCost(ctx, s.clock())
	if err != nil {
		return report, err
	}
	if spent < s.budgetEUR {
		resumed, err := s.repo.Document().ClearAllBudgetExhausted(ctx)
		if err != nil {
			return report, err
		}
		report.BudgetResumed = resumed
		if resumed > 0 {
			logger.Info("resumed budget-paused documents", "count", resumed)
		}
	}

	sources, err := s.repo.Source().ListEnabled(ctx)
	if err != nil {
		return report, err
	}
	now := s.clock()

	var runnable []*model.Source
	for _, src := range sources {
		if src.InCooldown(now) {
			report.CooledDown++
			logger.Info("source in cooldown",
				"sourceID", src.ID, "municipality", src.Municipality,
				"failures", src.ConsecutiveFailures, "nextAttempt", src.NextAttemptAt())
			continue
		}
		if src.Stale(now) {
			logger.Warn("source needs admin attention: no success in 72 hours",
				"sourceID", src.ID, "municipality", src.Municipality)
		}
		runnable = append(runnable, src)
	}
	report.Sources = len(runnable)

	// Each source owns its connector; the gateway's per-host limiter is
	// the only shared state across the fan-out.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(discoverWorkers)
	results := make([]*pipeline.DiscoverReport, len(runnable))
	for i, src := range runnable {
		eg.Go(func() error {
			results[i] = s.pipe.RunDiscover(egCtx, src)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		report.NewDocuments += r.New
		if r.Err != nil {
			report.Failed++
		}
	}

	if err := s.Drain(ctx, report); err != nil {
		return report, err
	}

	logger.Info("tick finished",
		"sources", report.Sources, "failed", report.Failed,
		"newDocuments", report.NewDocuments, "processed", report.StageProcessed)
	return report, nil
}

// stagePool describes one drain pool
type stagePool struct {
	stage   types.Stage
	workers int
	runOne  func(context.Context) (bool, error)
}

// Drain runs the stage pools in pipeline order, repeating until no stage
// finds work or the per-tick time budget expires.
func (s *Scheduler) Drain(ctx context.Context, report *TickReport) error {
	ctx, cancel := context.WithTimeout(ctx, s.drainBudget)
	defer cancel()

	pools := []stagePool{
		{types.StageFetch, fetchWorkers, s.pipe.RunFetchOne},
		{types.StageExtract, extractWorkers, s.pipe.RunExtractOne},
		{types.StageTriage, triageWorkers, s.pipe.RunTriageOne},
		{types.StageCaseBuild, caseBuildWorkers, s.pipe.RunCaseBuildOne},
	}

	for {
		processed := 0
		for _, pool := range pools {
			n, err := s.runPool(ctx, pool)
			processed += n
			if report != nil {
				report.StageProcessed[pool.stage] += n
			}
			if err != nil {
				if ctx.Err() != nil {
					logging.From(ctx).Warn("drain budget expired", "stage", pool.stage.String())
					return nil
				}
				return err
			}
		}
		if processed == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runPool runs one stage's workers until the stage has no claimable work
func (s *Scheduler) runPool(ctx context.Context, pool stagePool) (int, error) {
	logger := logging.From(ctx)

	var eg errgroup.Group
	counts := make([]int, pool.workers)
	for w := 0; w < pool.workers; w++ {
		eg.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				claimed, err := pool.runOne(ctx)
				if err != nil {
					// A failed document is already recorded; the worker
					// moves on so one bad row cannot stall the tick.
					logger.Error("stage runner error",
						"stage", pool.stage.String(), "error", err.Error())
				}
				if !claimed {
					return nil
				}
				counts[w]++
			}
		})
	}
	err := eg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	return total, err
}
