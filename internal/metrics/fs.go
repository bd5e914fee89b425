// Package metrics provides optional Prometheus instrumentation for the
// mounted filesystem. Components take an FSMetrics; passing nil or the no-op
// implementation disables collection.
package metrics

import (
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FSMetrics records kernel operations and query executions.
type FSMetrics interface {
	// RecordOperation records one completed kernel request. errno is 0 on success.
	RecordOperation(op string, duration time.Duration, errno syscall.Errno)

	// RecordBytesRead records bytes returned by read(2).
	RecordBytesRead(n int)

	// RecordQueryExecution records one query directory (re-)execution.
	RecordQueryExecution(duration time.Duration, failed bool)
}

type fsMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesRead         prometheus.Counter
	queriesTotal      *prometheus.CounterVec
	queryDuration     prometheus.Histogram
}

// NewFSMetrics returns a Prometheus-backed FSMetrics registered on reg.
// A nil registry yields the no-op implementation.
func NewFSMetrics(reg *prometheus.Registry) FSMetrics {
	if reg == nil {
		return NewNoopFSMetrics()
	}

	return &fsMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "biblfs_fs_operations_total",
				Help: "Total number of filesystem operations by operation and status",
			},
			[]string{"op", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "biblfs_fs_operation_duration_seconds",
				Help: "Duration of filesystem operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
			[]string{"op"},
		),
		bytesRead: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "biblfs_fs_read_bytes_total",
				Help: "Total bytes returned by read operations",
			},
		),
		queriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "biblfs_query_executions_total",
				Help: "Total number of query directory executions by result",
			},
			[]string{"result"},
		),
		queryDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "biblfs_query_duration_seconds",
				Help:    "Duration of query directory executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *fsMetrics) RecordOperation(op string, duration time.Duration, errno syscall.Errno) {
	status := "ok"
	if errno != 0 {
		status = errnoLabel(errno)
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *fsMetrics) RecordBytesRead(n int) {
	m.bytesRead.Add(float64(n))
}

func (m *fsMetrics) RecordQueryExecution(duration time.Duration, failed bool) {
	result := "success"
	if failed {
		result = "error"
	}
	m.queriesTotal.WithLabelValues(result).Inc()
	m.queryDuration.Observe(duration.Seconds())
}

// errnoLabel keeps label cardinality bounded to the codes the filesystem returns.
func errnoLabel(errno syscall.Errno) string {
	switch errno {
	case syscall.ENOENT:
		return "ENOENT"
	case syscall.ENOSYS:
		return "ENOSYS"
	case syscall.ENOTSUP:
		return "ENOTSUP"
	case syscall.ENODATA:
		return "ENODATA"
	case syscall.EEXIST:
		return "EEXIST"
	case syscall.ERANGE:
		return "ERANGE"
	case syscall.EINVAL:
		return "EINVAL"
	case syscall.EIO:
		return "EIO"
	default:
		return "other"
	}
}

// noopFSMetrics discards everything.
type noopFSMetrics struct{}

// NewNoopFSMetrics returns an FSMetrics that records nothing.
func NewNoopFSMetrics() FSMetrics { return noopFSMetrics{} }

func (noopFSMetrics) RecordOperation(string, time.Duration, syscall.Errno) {}
func (noopFSMetrics) RecordBytesRead(int)                                  {}
func (noopFSMetrics) RecordQueryExecution(time.Duration, bool)             {}
