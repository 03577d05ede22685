// Package metrics exposes Prometheus instrumentation for backtest runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for pairsrun
type Registry struct {
	registry *prometheus.Registry

	// Step duration metrics
	StepDuration *prometheus.HistogramVec

	// Pair outcome metrics
	PairDuration *prometheus.HistogramVec
	PairsTotal   *prometheus.CounterVec
	PairTrades   prometheus.Counter

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Portfolio metrics
	PortfolioReturn     prometheus.Gauge
	PortfolioVolatility prometheus.Gauge
	PortfolioSharpe     prometheus.Gauge
	PortfolioPairs      prometheus.Gauge

	// System metrics
	ActiveRuns prometheus.Gauge
	TotalRuns  prometheus.Counter

	mu         sync.Mutex
	cacheTypes map[string]bool
}

// NewRegistry creates a registry with every pairsrun metric registered on a
// private Prometheus registry
func NewRegistry() *Registry {
	r := &Registry{
		registry:   prometheus.NewRegistry(),
		cacheTypes: make(map[string]bool),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pairsrun_step_duration_seconds",
				Help:    "Duration of each run step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"step", "result"},
		),

		PairDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pairsrun_pair_duration_seconds",
				Help:    "Wall time of a single pair backtest",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		PairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_pairs_total",
				Help: "Pairs backtested by outcome (traded, idle, failed)",
			},
			[]string{"status"},
		),

		PairTrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_pair_trades_total",
				Help: "Positions opened across all pairs",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		PortfolioReturn: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_portfolio_total_return",
				Help: "Total return of the last aggregated portfolio",
			},
		),

		PortfolioVolatility: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_portfolio_annualized_volatility",
				Help: "Annualized volatility of the last aggregated portfolio",
			},
		),

		PortfolioSharpe: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_portfolio_annualized_sharpe",
				Help: "Annualized Sharpe ratio of the last aggregated portfolio",
			},
		),

		PortfolioPairs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_portfolio_pairs",
				Help: "Pairs contributing to the last aggregated portfolio",
			},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pairsrun_active_runs",
				Help: "Number of currently active backtest runs",
			},
		),

		TotalRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_runs_total",
				Help: "Total number of backtest runs started",
			},
		),
	}

	r.registry.MustRegister(
		r.StepDuration,
		r.PairDuration,
		r.PairsTotal,
		r.PairTrades,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.PortfolioReturn,
		r.PortfolioVolatility,
		r.PortfolioSharpe,
		r.PortfolioPairs,
		r.ActiveRuns,
		r.TotalRuns,
	)

	return r
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler serving this registry
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for run steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a run step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: r,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Run step completed")
}

// ObservePair records one pair outcome
func (r *Registry) ObservePair(status string, duration time.Duration, trades int) {
	r.PairsTotal.WithLabelValues(status).Inc()
	r.PairDuration.WithLabelValues(status).Observe(duration.Seconds())
	r.PairTrades.Add(float64(trades))
}

// ObservePortfolio records the aggregate statistics of a finished run
func (r *Registry) ObservePortfolio(totalReturn, volatility, sharpe float64, pairs int) {
	r.PortfolioReturn.Set(totalReturn)
	r.PortfolioVolatility.Set(volatility)
	r.PortfolioSharpe.Set(sharpe)
	r.PortfolioPairs.Set(float64(pairs))
}

// RunStarted increments the active runs gauge
func (r *Registry) RunStarted() {
	r.ActiveRuns.Inc()
	r.TotalRuns.Inc()
}

// RunFinished decrements the active runs gauge
func (r *Registry) RunFinished() {
	r.ActiveRuns.Dec()
}

// RecordCacheHit records a cache hit for the specified cache type
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

// RecordCacheMiss records a cache miss for the specified cache type
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio(cacheType)
}

// updateCacheHitRatio recomputes the hit ratio over every cache type seen so far
func (r *Registry) updateCacheHitRatio(cacheType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheTypes[cacheType] = true

	totalHits, totalMisses := 0.0, 0.0
	for ct := range r.cacheTypes {
		totalHits += counterValue(r.CacheHits, ct)
		totalMisses += counterValue(r.CacheMisses, ct)
	}

	if total := totalHits + totalMisses; total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, label string) float64 {
	counter, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}

	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
