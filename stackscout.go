// Package stackscout continuously ingests package metadata from public
// registries, scores each library's trustworthiness, and serves the scored
// index through an embeddable query API.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/stackscout/stackscout"
//		_ "github.com/stackscout/stackscout/all"
//	)
//
//	cfg, err := stackscout.LoadConfig("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine, err := stackscout.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine.Start(context.Background())
//	defer engine.Stop()
//
//	page, err := engine.Search("left-pad", stackscout.SearchOptions{})
//
// Importing the all package registers every supported source connector;
// individual connectors can be imported instead to trim the build.
package stackscout

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/stackscout/stackscout/client"
	"github.com/stackscout/stackscout/internal/config"
	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/index"
	"github.com/stackscout/stackscout/internal/metrics"
	"github.com/stackscout/stackscout/internal/normalize"
	"github.com/stackscout/stackscout/internal/query"
	"github.com/stackscout/stackscout/internal/scheduler"
	"github.com/stackscout/stackscout/internal/score"
)

// Re-export types from internal/core
type (
	// Source identifies an upstream package registry.
	Source = core.Source

	// ID is the stable (ecosystem, name) identity of a package.
	ID = core.ID

	// PackageRecord is the canonical snapshot of one package.
	PackageRecord = core.PackageRecord

	// Signals are the structured metrics feeding the health scorer.
	Signals = core.Signals

	// HealthScore is the composite 0-100 trust metric with its breakdown.
	HealthScore = core.HealthScore

	// SignalContribution is one signal's share of a health score.
	SignalContribution = core.SignalContribution

	// ScoredRecord pairs a canonical record with its score and lifecycle.
	ScoredRecord = core.ScoredRecord

	// AggregateStats are the index-wide aggregates.
	AggregateStats = core.AggregateStats

	// LicenseRiskTier buckets a license by the obligations it imposes.
	LicenseRiskTier = core.LicenseRiskTier

	// RecordStatus tracks a record through the stale-then-evict lifecycle.
	RecordStatus = core.RecordStatus
)

// Re-export constants
const (
	SourcePyPI  = core.SourcePyPI
	SourceNPM   = core.SourceNPM
	SourceMaven = core.SourceMaven
	SourceNuGet = core.SourceNuGet

	TierPermissive     = core.TierPermissive
	TierWeakCopyleft   = core.TierWeakCopyleft
	TierStrongCopyleft = core.TierStrongCopyleft
	TierUnknown        = core.TierUnknown

	StatusFresh = core.StatusFresh
	StatusStale = core.StatusStale
)

// Re-export errors
var ErrNotFound = core.ErrNotFound

// Error types
type (
	HTTPError            = core.HTTPError
	RateLimitError       = core.RateLimitError
	TransientFetchError  = core.TransientFetchError
	FatalSourceError     = core.FatalSourceError
	InvalidWeightsError  = core.InvalidWeightsError
	InvalidArgumentError = core.InvalidArgumentError
)

// Config is the validated engine configuration.
type Config = config.Config

// SourceConfig configures one upstream connector.
type SourceConfig = config.SourceConfig

// WeightTable holds the per-signal scoring weights.
type WeightTable = score.WeightTable

// DefaultWeights returns the shipped weight table.
func DefaultWeights() WeightTable {
	return score.DefaultWeights()
}

// SearchOptions filter and page a search.
type SearchOptions = query.Options

// SearchResult is one page of search hits.
type SearchResult = query.Result

// SourceState is a source pipeline's position in its refresh cycle.
type SourceState = scheduler.State

// LoadConfig reads configuration from the given file (or config.yaml in the
// working directory when empty), .env, and STACKSCOUT_ environment variables.
func LoadConfig(cfgFile string) (Config, error) {
	return config.Load(cfgFile)
}

// SupportedSources returns all registered sources. Connector packages must be
// imported to register; import the all package to get every ecosystem.
func SupportedSources() []Source {
	return core.SupportedSources()
}

// Engine wires the connectors, scorer, index, and scheduler into one
// embeddable component.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	met    *metrics.Metrics
	store  *index.Store
	scorer *score.Scorer
	sched  *scheduler.Scheduler
	qs     *query.Service
	conns  map[Source]core.Connector
}

// New builds an engine from the given configuration. Connectors are created
// for every enabled source that has a registered factory; Start must be
// called before the index fills.
func New(cfg Config) (*Engine, error) {
	logger := newLogger(cfg.LogLevel)

	scorer, err := score.New(cfg.Weights, score.WithHorizon(cfg.StalenessHorizon))
	if err != nil {
		return nil, err
	}

	conns := make(map[Source]core.Connector)
	for _, src := range core.SupportedSources() {
		sc, ok := cfg.Sources[src]
		if ok && !sc.Enabled {
			continue
		}
		conn, err := core.New(src, sc.BaseURL, newSourceClient(sc))
		if err != nil {
			return nil, err
		}
		conns[src] = conn
	}

	met := metrics.New()
	store := index.New(cfg.EvictAfterMissed)

	connList := make([]core.Connector, 0, len(conns))
	for _, conn := range conns {
		connList = append(connList, conn)
	}

	sched := scheduler.New(store, scorer, connList, scheduler.Config{
		Interval:       cfg.RefreshInterval,
		CycleTimeout:   cfg.CycleTimeout,
		GlobalFetchCap: cfg.GlobalFetchCap,
		Workers:        cfg.Workers,
	}, logger, met)

	return &Engine{
		cfg:    cfg,
		log:    logger,
		met:    met,
		store:  store,
		scorer: scorer,
		sched:  sched,
		qs:     query.New(store, logger),
		conns:  conns,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newSourceClient(sc SourceConfig) *client.Client {
	opts := []client.Option{}
	if sc.RateLimit > 0 {
		opts = append(opts, client.WithRateLimit(sc.RateLimit, sc.Burst))
	}
	if token := sc.Token; token != "" {
		opts = append(opts, client.WithAuthFunc(func(string) (string, string) {
			return "Authorization", "Bearer " + token
		}))
	}
	return client.NewClient(opts...)
}

// Start launches the background refresh pipelines. Each source runs an
// immediate first cycle, then repeats on the configured interval.
func (e *Engine) Start(ctx context.Context) {
	e.sched.Start(ctx)
}

// Stop cancels all in-flight cycles and waits for the pipelines to exit.
// The index stays readable after Stop.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// Search returns one page of scored records matching text and the options'
// filters. An empty text matches everything.
func (e *Engine) Search(text string, opts SearchOptions) (SearchResult, error) {
	return e.qs.Search(text, opts)
}

// Get looks up one record by id, accepting "npm/left-pad" and
// "pkg:npm/left-pad" forms. Returns ErrNotFound when the index has no such
// record.
func (e *Engine) Get(id string) (ScoredRecord, error) {
	return e.qs.Get(id)
}

// Stats returns the index-wide aggregates.
func (e *Engine) Stats() AggregateStats {
	return e.qs.Stats()
}

// TriggerRefresh requests an immediate refresh cycle for one source,
// cancelling any cycle already in flight for it.
func (e *Engine) TriggerRefresh(src Source) error {
	return e.sched.Trigger(src)
}

// TriggerRefreshAll requests an immediate refresh of every source.
func (e *Engine) TriggerRefreshAll() {
	e.sched.TriggerAll()
}

// RefreshState reports a source pipeline's current state.
func (e *Engine) RefreshState(src Source) (SourceState, error) {
	return e.sched.SourceState(src)
}

// CollectOne fetches, normalizes, scores, and indexes a single package on
// demand, without waiting for the next refresh cycle. Returns ErrNotFound
// when the upstream has no such package.
func (e *Engine) CollectOne(ctx context.Context, src Source, name string) (ScoredRecord, error) {
	conn, ok := e.conns[src]
	if !ok {
		return ScoredRecord{}, &InvalidArgumentError{Reason: "unknown or disabled source: " + string(src)}
	}

	raw, err := conn.FetchOne(ctx, name)
	if err != nil {
		return ScoredRecord{}, err
	}

	rec, err := normalize.Normalize(*raw, src, time.Now().UTC())
	if err != nil {
		return ScoredRecord{}, err
	}

	sr := ScoredRecord{
		PackageRecord: rec,
		Score:         e.scorer.Score(rec),
	}
	e.store.UpsertBatch([]core.ScoredRecord{sr})

	e.log.Info("collected on demand", "source", src, "name", rec.Name, "score", sr.Score.Value)
	return e.store.Get(rec.ID)
}

// PackageURLs returns the registry, documentation, and purl links for a
// package, keyed "registry", "docs", and "purl". Empty links are omitted.
func (e *Engine) PackageURLs(src Source, name, version string) (map[string]string, error) {
	conn, ok := e.conns[src]
	if !ok {
		return nil, &InvalidArgumentError{Reason: "unknown or disabled source: " + string(src)}
	}
	return client.BuildURLs(conn.URLs(), name, version), nil
}

// MetricsHandler returns the HTTP handler serving this engine's Prometheus
// metrics.
func (e *Engine) MetricsHandler() http.Handler {
	return e.met.Handler()
}
