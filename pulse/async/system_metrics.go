package async

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/logger"
)

// systemScrapeTimeout bounds the store queries made during one scrape.
const systemScrapeTimeout = 2 * time.Second

// SystemCollector exports queue depth by status and host memory at scrape
// time. Register one per process alongside Metrics.
type SystemCollector struct {
	store  Store
	logger *zap.SugaredLogger

	jobs         *prometheus.Desc
	memTotal     *prometheus.Desc
	memAvailable *prometheus.Desc

	// memoryStats is swapped in tests
	memoryStats func(ctx context.Context) (total, available uint64, err error)
}

var _ prometheus.Collector = (*SystemCollector)(nil)

// NewSystemCollector creates a collector reading counts from store.
func NewSystemCollector(store Store, log *zap.SugaredLogger) *SystemCollector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SystemCollector{
		store:  store,
		logger: log.Named("metrics"),
		jobs: prometheus.NewDesc("pulseq_jobs",
			"Jobs currently in the store, by status.",
			[]string{"status"}, nil),
		memTotal: prometheus.NewDesc("pulseq_host_memory_total_bytes",
			"Total host memory.", nil, nil),
		memAvailable: prometheus.NewDesc("pulseq_host_memory_available_bytes",
			"Host memory available to new work.", nil, nil),
		memoryStats: getMemoryStats,
	}
}

// Describe implements prometheus.Collector.
func (c *SystemCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.memTotal
	ch <- c.memAvailable
}

// Collect implements prometheus.Collector. Failed queries are logged and
// their series skipped so one bad scrape does not hide the rest.
func (c *SystemCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), systemScrapeTimeout)
	defer cancel()

	for _, status := range AllStatuses {
		count, err := c.store.CountByStatus(ctx, status)
		if err != nil {
			c.logger.Warnw("Failed to count jobs for metrics",
				logger.FieldStatus, status,
				logger.FieldError, err,
			)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(count), string(status))
	}

	total, available, err := c.memoryStats(ctx)
	if err != nil {
		c.logger.Debugw("Host memory unavailable", logger.FieldError, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.memAvailable, prometheus.GaugeValue, float64(available))
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats(ctx context.Context) (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}

	return v.Total, v.Available, nil
}
