// Package scheduler orchestrates periodic and on-demand refresh cycles
// across all source connectors.
//
// Each source runs its own pipeline goroutine: fetch pages, normalize and
// score with a bounded worker pool, then commit the whole cycle's batch to
// the index in one atomic step. Sources are fully isolated: one source
// failing, backing off, or being rate limited never blocks another, and the
// index keeps serving the last-good snapshot for a failed source.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/index"
	"github.com/stackscout/stackscout/internal/metrics"
	"github.com/stackscout/stackscout/internal/normalize"
	"github.com/stackscout/stackscout/internal/score"
)

// State is a source pipeline's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes the scheduler.
type Config struct {
	Interval       time.Duration // between cycles per source
	CycleTimeout   time.Duration // hard cap on one source's cycle
	GlobalFetchCap int64         // in-flight page fetches across all sources
	Workers        int           // normalize/score pool size per source
	PageRetries    int           // transient retries per page before failing the cycle
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = time.Hour
	}
	if c.GlobalFetchCap <= 0 {
		c.GlobalFetchCap = 8
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PageRetries <= 0 {
		c.PageRetries = 3
	}
}

// Scheduler owns one runner per source.
type Scheduler struct {
	cfg      Config
	store    *index.Store
	scorer   *score.Scorer
	log      *slog.Logger
	met      *metrics.Metrics
	fetchSem *semaphore.Weighted

	mu      sync.Mutex
	runners map[core.Source]*runner
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type runner struct {
	conn    core.Connector
	trigger chan struct{}

	mu          sync.Mutex
	state       State
	cancelCycle context.CancelFunc
	lastError   error
	lastSuccess time.Time
}

// New builds a scheduler over the given connectors.
func New(store *index.Store, scorer *score.Scorer, conns []core.Connector, cfg Config, logger *slog.Logger, met *metrics.Metrics) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		scorer:   scorer,
		log:      logger,
		met:      met,
		fetchSem: semaphore.NewWeighted(cfg.GlobalFetchCap),
		runners:  make(map[core.Source]*runner),
	}
	for _, conn := range conns {
		s.runners[conn.Source()] = &runner{
			conn:    conn,
			trigger: make(chan struct{}, 1),
		}
	}
	return s
}

// Start launches one pipeline goroutine per source. Each runs an immediate
// first cycle, then repeats on the configured interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for src, r := range s.runners {
		s.wg.Add(1)
		go func(src core.Source, r *runner) {
			defer s.wg.Done()
			s.runLoop(runCtx, src, r)
		}(src, r)
	}
}

// Stop cancels all in-flight cycles and waits for the runners to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Trigger requests an immediate refresh cycle for one source. An in-flight
// cycle for that source is cancelled first; its partial batch is discarded
// and the index is left unchanged.
func (s *Scheduler) Trigger(src core.Source) error {
	s.mu.Lock()
	r, ok := s.runners[src]
	s.mu.Unlock()
	if !ok {
		return &core.InvalidArgumentError{Reason: "unknown source: " + string(src)}
	}

	r.mu.Lock()
	if r.cancelCycle != nil {
		r.cancelCycle()
	}
	r.mu.Unlock()

	select {
	case r.trigger <- struct{}{}:
	default: // a trigger is already pending
	}
	return nil
}

// TriggerAll requests an immediate refresh of every source.
func (s *Scheduler) TriggerAll() {
	s.mu.Lock()
	sources := make([]core.Source, 0, len(s.runners))
	for src := range s.runners {
		sources = append(sources, src)
	}
	s.mu.Unlock()
	for _, src := range sources {
		_ = s.Trigger(src)
	}
}

// SourceState reports a source pipeline's current state.
func (s *Scheduler) SourceState(src core.Source) (State, error) {
	s.mu.Lock()
	r, ok := s.runners[src]
	s.mu.Unlock()
	if !ok {
		return StateIdle, &core.InvalidArgumentError{Reason: "unknown source: " + string(src)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (s *Scheduler) runLoop(ctx context.Context, src core.Source, r *runner) {
	// Failure backoff: exponential with jitter, capped, reset on success.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Minute
	bo.MaxInterval = s.cfg.Interval
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	runOnce := func() {
		err := s.RunCycle(ctx, src)
		switch {
		case err == nil:
			bo.Reset()
			s.setState(src, r, StateIdle)
		case errors.Is(err, context.Canceled):
			s.setState(src, r, StateIdle)
		default:
			s.setState(src, r, StateFailed)
			delay := bo.NextBackOff()
			s.log.Error("cycle failed",
				"source", src, "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			s.setState(src, r, StateIdle)
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		case <-r.trigger:
			runOnce()
		}
	}
}

// RunCycle executes one full ingestion cycle for a source synchronously:
// fetch every page, normalize and score the records, then commit them as
// one batch. Nothing reaches the index unless the whole cycle succeeds.
func (s *Scheduler) RunCycle(ctx context.Context, src core.Source) error {
	s.mu.Lock()
	r, ok := s.runners[src]
	s.mu.Unlock()
	if !ok {
		return &core.InvalidArgumentError{Reason: "unknown source: " + string(src)}
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	r.mu.Lock()
	r.cancelCycle = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelCycle = nil
		r.mu.Unlock()
	}()

	started := time.Now()
	cycleTime := started.UTC()
	s.log.Info("cycle starting", "source", src)

	s.setState(src, r, StateFetching)
	raws, err := s.fetchAll(cycleCtx, src, r.conn)
	if err != nil {
		s.finishCycle(src, r, started, 0, err)
		return err
	}

	s.setState(src, r, StateNormalizing)
	scored, err := s.normalizeAndScore(cycleCtx, src, raws, cycleTime)
	if err != nil {
		s.finishCycle(src, r, started, 0, err)
		return err
	}

	s.setState(src, r, StateCommitting)
	s.store.CommitCycle(src, scored)

	s.finishCycle(src, r, started, len(scored), nil)
	s.log.Info("cycle committed",
		"source", src, "records", len(scored), "elapsed", time.Since(started))
	return nil
}

// fetchAll walks the connector's page sequence. Transient page failures are
// retried in place without advancing the cursor; the global semaphore caps
// concurrent upstream fetches across all sources.
func (s *Scheduler) fetchAll(ctx context.Context, src core.Source, conn core.Connector) ([]core.RawRecord, error) {
	var all []core.RawRecord
	cursor := ""

	pageBackoff := backoff.NewExponentialBackOff()
	pageBackoff.InitialInterval = time.Second
	pageBackoff.MaxInterval = 30 * time.Second
	pageBackoff.MaxElapsedTime = 0
	pageBackoff.Reset()

	for {
		var (
			records []core.RawRecord
			next    string
			err     error
		)

		for attempt := 0; ; attempt++ {
			if err = s.fetchSem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			records, next, err = conn.FetchPage(ctx, cursor)
			s.fetchSem.Release(1)

			if err == nil || !core.IsTransient(err) {
				break
			}
			if attempt+1 >= s.cfg.PageRetries {
				break
			}
			s.log.Warn("transient page failure, retrying",
				"source", src, "cursor", cursor, "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pageBackoff.NextBackOff()):
			}
		}
		if err != nil {
			return nil, err
		}

		all = append(all, records...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// normalizeAndScore runs the CPU side of the pipeline over a bounded worker
// pool. Malformed records are skipped and logged, never aborting the batch.
// The output is sorted by name so commits are deterministic.
func (s *Scheduler) normalizeAndScore(ctx context.Context, src core.Source, raws []core.RawRecord, cycleTime time.Time) ([]core.ScoredRecord, error) {
	var (
		mu     sync.Mutex
		scored = make([]core.ScoredRecord, 0, len(raws))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, raw := range raws {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			rec, err := normalize.Normalize(raw, src, cycleTime)
			if err != nil {
				var malformed *core.MalformedRecordError
				if errors.As(err, &malformed) {
					s.log.Warn("skipping malformed record",
						"source", src, "reason", malformed.Reason)
					if s.met != nil {
						s.met.RecordsSkipped.WithLabelValues(string(src), "malformed").Inc()
					}
					return nil
				}
				return err
			}

			sr := core.ScoredRecord{
				PackageRecord: rec,
				Score:         s.scorer.Score(rec),
			}

			mu.Lock()
			scored = append(scored, sr)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Name < scored[j].Name
	})
	return scored, nil
}

func (s *Scheduler) setState(src core.Source, r *runner, st State) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	if s.met != nil {
		s.met.SourceState.WithLabelValues(string(src)).Set(float64(st))
	}
}

func (s *Scheduler) finishCycle(src core.Source, r *runner, started time.Time, committed int, err error) {
	r.mu.Lock()
	r.lastError = err
	if err == nil {
		r.lastSuccess = time.Now()
	}
	r.mu.Unlock()

	if s.met == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, context.Canceled) {
			result = "cancelled"
		}
	}
	s.met.CyclesTotal.WithLabelValues(string(src), result).Inc()
	s.met.CycleDuration.WithLabelValues(string(src)).Observe(time.Since(started).Seconds())

	if err == nil {
		s.met.RecordsIngested.WithLabelValues(string(src)).Add(float64(committed))
		stats := s.store.Stats()
		s.met.IndexSize.Set(float64(stats.TotalLibraries))
		s.met.IndexStale.Set(float64(stats.StaleCount))
	}
}
