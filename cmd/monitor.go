package cmd

import (
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/sampler"
)

// monitor publishes run progress as prometheus metrics over HTTP. Metrics
// live in a private registry so several monitors can coexist in tests.
type monitor struct {
	reg     *prometheus.Registry
	logger  *zap.Logger
	stopped chan struct{}
	server  *http.Server
	addr    net.Addr
	started time.Time

	DrawsDone    prometheus.Gauge
	DrawsTotal   prometheus.Gauge
	ChainsTuning prometheus.Gauge
	Divergences  prometheus.Gauge
	RunTime      prometheus.Gauge
	Updates      prometheus.Counter
}

func newMonitor(logger *zap.Logger) *monitor {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &monitor{
		reg:    reg,
		logger: logger,

		DrawsDone: f.NewGauge(prometheus.GaugeOpts{
			Name: "nutsgo_draws_done",
			Help: "Draws written to the trace buffers so far",
		}),
		DrawsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "nutsgo_draws_total",
			Help: "Draws in a complete run (chains * (tune + draws))",
		}),
		ChainsTuning: f.NewGauge(prometheus.GaugeOpts{
			Name: "nutsgo_chains_tuning",
			Help: "Chains still in warmup",
		}),
		Divergences: f.NewGauge(prometheus.GaugeOpts{
			Name: "nutsgo_divergences",
			Help: "Diverging draws after warmup",
		}),
		RunTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "nutsgo_run_seconds",
			Help: "Seconds since the monitor started",
		}),
		Updates: f.NewCounter(prometheus.CounterOpts{
			Name: "nutsgo_progress_updates_total",
			Help: "Progress updates received",
		}),
	}
}

// Start begins serving /metrics on addr.
func (m *monitor) Start(addr string) error {
	if m.server != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "Could not listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	// Redirect to the only thing currently available
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/metrics", http.StatusTemporaryRedirect)
	})

	m.addr = ln.Addr()
	m.started = time.Now()
	m.stopped = make(chan struct{})
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(m.stopped)
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Warn("Monitor server failed", zap.Error(err))
		}
	}()

	m.logger.Info("HTTP metrics available", zap.String("addr", m.addr.String()))
	return nil
}

// Update is a sampler.ProgressFunc.
func (m *monitor) Update(p sampler.Progress) error {
	m.Updates.Inc()
	m.DrawsDone.Set(float64(p.Done))
	m.DrawsTotal.Set(float64(p.Total))
	m.ChainsTuning.Set(float64(p.ChainsTuning))
	m.Divergences.Set(float64(p.Divergences))
	if !m.started.IsZero() {
		m.RunTime.Set(time.Since(m.started).Seconds())
	}
	return nil
}

// Stop shuts the server down, waiting a short while for it.
func (m *monitor) Stop() {
	if m.server == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		m.logger.Debug("HTTP metrics stopped")
	case <-time.After(2 * time.Second):
		m.logger.Warn("HTTP metrics would NOT stop: just continuing on")
	}
}
