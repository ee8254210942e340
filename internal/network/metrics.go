package network

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics содержит Prometheus-метрики RPC-сервиса и мира.
//
// Метрики:
// * voxel_rpc_request_duration_seconds{op,ok} — histogram
// * voxel_rpc_requests_inflight — gauge
// * voxel_rpc_request_errors_total{op} — counter
// * voxel_world_loaded_chunks — gauge
// * voxel_world_dirty_chunks — gauge
// * voxel_sessions_active — gauge
type Metrics struct {
	reqDuration  *prometheus.HistogramVec
	reqInflight  prometheus.Gauge
	reqErrors    *prometheus.CounterVec
	loadedChunks prometheus.Gauge
	dirtyChunks  prometheus.Gauge
	sessions     prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в дефолтном регистре.
func NewMetrics() *Metrics {
	m := &Metrics{
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voxel",
			Name:      "rpc_request_duration_seconds",
			Help:      "Длительность обработки RPC-запросов.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op", "ok"}),
		reqInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "rpc_requests_inflight",
			Help:      "Текущее количество обрабатываемых RPC-запросов.",
		}),
		reqErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel",
			Name:      "rpc_request_errors_total",
			Help:      "Общее число запросов, завершившихся ok=false.",
		}, []string{"op"}),
		loadedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "world_loaded_chunks",
			Help:      "Число загруженных чанков мира.",
		}),
		dirtyChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "world_dirty_chunks",
			Help:      "Размер множества изменённых чанков.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "sessions_active",
			Help:      "Число активных сессий игроков.",
		}),
	}

	prometheus.MustRegister(
		m.reqDuration, m.reqInflight, m.reqErrors,
		m.loadedChunks, m.dirtyChunks, m.sessions,
	)
	return m
}

// ObserveRequest фиксирует обработку одного запроса.
func (m *Metrics) ObserveRequest(op string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.reqDuration.WithLabelValues(op, strconv.FormatBool(ok)).Observe(duration.Seconds())
	if !ok {
		m.reqErrors.WithLabelValues(op).Inc()
	}
}

// RequestStarted увеличивает счётчик обрабатываемых запросов.
func (m *Metrics) RequestStarted() {
	if m != nil {
		m.reqInflight.Inc()
	}
}

// RequestFinished уменьшает счётчик обрабатываемых запросов.
func (m *Metrics) RequestFinished() {
	if m != nil {
		m.reqInflight.Dec()
	}
}

// SetWorldState обновляет гейджи состояния мира.
func (m *Metrics) SetWorldState(loadedChunks, dirtyChunks, activeSessions int) {
	if m == nil {
		return
	}
	m.loadedChunks.Set(float64(loadedChunks))
	m.dirtyChunks.Set(float64(dirtyChunks))
	m.sessions.Set(float64(activeSessions))
}

// ServeMetrics запускает HTTP-сервер с /metrics на указанном адресе.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
