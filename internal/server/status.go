package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/lambda-feedback/hotswap/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxGoroutines = 10000

var (
	errNoWorker   = errors.New("no live worker")
	errWorkerGone = errors.New("worker process is gone")
)

type StatusSource interface {
	Status() supervisor.Status
}

// NewStatusHandler serves the supervisor status as json.
func NewStatusHandler(source StatusSource, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(source.Status()); err != nil {
			log.Debug("failed to write status", zap.Error(err))
		}
	})
}

// NewHealthHandler serves /live and /ready. The tool is ready while a
// worker is live and its process exists.
func NewHealthHandler(source StatusSource) healthcheck.Handler {
	health := healthcheck.NewHandler()

	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))

	health.AddReadinessCheck("worker", func() error {
		status := source.Status()
		if !status.Live() {
			return errNoWorker
		}
		if !util.IsProcessAlive(status.Pid) {
			return errWorkerGone
		}
		return nil
	})

	return health
}

// NewMetricsHandler serves the metrics gathered by g.
func NewMetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
