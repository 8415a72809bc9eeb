package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/John-Robertt/airsync/internal/domain"
)

const namespace = "airsync"

// Metrics 是一次运行的计数器集合，挂在独立的 Registry 上（测试互不干扰）。
type Metrics struct {
	Registry *prometheus.Registry

	candidates      *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	fieldsUpdated   prometheus.Counter
	droppedRows     *prometheus.CounterVec
	partitionErrors *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates processed, by partition and outcome (matched/added).",
		}, []string{"partition", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutations emitted, by kind (insert/update/merge).",
		}, []string{"kind"}),
		fieldsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_updated_total",
			Help:      "Reference fields overwritten by update mutations.",
		}),
		droppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_rows_total",
			Help:      "Source rows that could not be parsed, by partition.",
		}, []string{"partition"}),
		partitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_errors_total",
			Help:      "Partitions that failed, by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(
		m.candidates,
		m.mutations,
		m.fieldsUpdated,
		m.droppedRows,
		m.partitionErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDecision 记录一个候选记录的判定结果。
func (m *Metrics) ObserveDecision(partition string, d domain.Decision) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(partition, d.Outcome).Inc()
	for _, mu := range d.Mutations {
		m.mutations.WithLabelValues(mu.Kind).Inc()
		if mu.Kind == domain.MutationUpdate {
			m.fieldsUpdated.Add(float64(len(mu.Fields)))
		}
	}
}

// ObservePartition 记录分区级别的结果（丢弃行与失败）。
func (m *Metrics) ObservePartition(pr domain.PartitionResult) {
	if m == nil {
		return
	}
	if n := len(pr.Dropped); n > 0 {
		m.droppedRows.WithLabelValues(pr.Key).Add(float64(n))
	}
	if pr.Status == domain.StatusFailed {
		m.partitionErrors.WithLabelValues(pr.ErrorCode).Inc()
	}
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
