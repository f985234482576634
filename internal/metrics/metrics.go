package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/memory"
)

// Exporter espone le metriche degli agenti in formato Prometheus.
// Le metriche per-richiesta vengono registrate dall'handler HTTP,
// quelle di salute vengono campionate periodicamente dal registry.
type Exporter struct {
	registry *agents.Registry
	repo     memory.Repository

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	agentSuccess    *prometheus.GaugeVec
	agentLatency    *prometheus.GaugeVec
	activeThreads   prometheus.Gauge

	updateInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

func NewExporter(reg *agents.Registry, repo memory.Repository, namespace string) *Exporter {
	if namespace == "" {
		namespace = "moya"
	}

	e := &Exporter{
		registry:       reg,
		repo:           repo,
		updateInterval: 15 * time.Second,
		stopCh:         make(chan struct{}),
	}

	e.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of agent requests by agent and status",
		},
		[]string{"agent", "status"},
	)

	e.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_milliseconds",
			Help:      "Agent request duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"agent"},
	)

	e.agentSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_success_rate",
			Help:      "Success rate of each agent (0.0-1.0)",
		},
		[]string{"agent"},
	)

	e.agentLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_avg_latency_milliseconds",
			Help:      "Running average response time of each agent",
		},
		[]string{"agent"},
	)

	e.activeThreads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_threads",
			Help:      "Number of conversation threads in the repository",
		},
	)

	return e
}

// ObserveRequest registra l'esito di una singola richiesta.
func (e *Exporter) ObserveRequest(agent string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.requestsTotal.WithLabelValues(agent, status).Inc()
	e.requestDuration.WithLabelValues(agent).Observe(float64(elapsed.Milliseconds()))
}

// Start avvia il campionamento periodico delle metriche di salute.
func (e *Exporter) Start() {
	e.wg.Add(1)
	go e.sampleLoop()
	log.Info().Dur("interval", e.updateInterval).Msg("metrics exporter avviato")
}

// Stop ferma il campionamento.
func (e *Exporter) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	log.Info().Msg("metrics exporter fermato")
}

func (e *Exporter) sampleLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sample()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Exporter) sample() {
	for _, info := range e.registry.Describe() {
		e.agentSuccess.WithLabelValues(info.Name).Set(info.Health.SuccessRate())
		e.agentLatency.WithLabelValues(info.Name).Set(float64(info.Health.AverageResponseTime.Milliseconds()))
	}

	if e.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ids, err := e.repo.ListThreadIDs(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("conteggio thread non disponibile")
			return
		}
		e.activeThreads.Set(float64(len(ids)))
	}
}
