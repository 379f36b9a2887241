package async

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulseq/errors"
)

func TestSystemCollector(t *testing.T) {
	office := newTestQueue(t)
	office.dispatch(t, greeting{Name: "ada"})
	office.dispatch(t, greeting{Name: "grace"})
	office.dispatch(t, firework{Message: "boom", Attempts: 1})
	// Oldest first: both greetings complete, the firework stays pending
	for range 2 {
		_, err := office.service.ProcessNext(context.Background(), "default")
		require.NoError(t, err)
	}

	collector := NewSystemCollector(office.store, zaptest.NewLogger(t).Sugar())
	collector.memoryStats = func(ctx context.Context) (uint64, uint64, error) {
		return 16 << 30, 4 << 30, nil
	}

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(collector))

	expected := `
# HELP pulseq_jobs Jobs currently in the store, by status.
# TYPE pulseq_jobs gauge
pulseq_jobs{status="completed"} 2
pulseq_jobs{status="failed"} 0
pulseq_jobs{status="pending"} 1
pulseq_jobs{status="processing"} 0
# HELP pulseq_host_memory_total_bytes Total host memory.
# TYPE pulseq_host_memory_total_bytes gauge
pulseq_host_memory_total_bytes 1.7179869184e+10
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pulseq_jobs", "pulseq_host_memory_total_bytes"))
}

func TestSystemCollector_SkipsFailedSeries(t *testing.T) {
	office := newTestQueue(t)
	broken := &countFailingStore{Store: office.store}

	collector := NewSystemCollector(broken, zaptest.NewLogger(t).Sugar())
	collector.memoryStats = func(ctx context.Context) (uint64, uint64, error) {
		return 0, 0, errors.New("not supported")
	}

	assert.Equal(t, 0, testutil.CollectAndCount(collector))
}

type countFailingStore struct {
	Store
}

func (countFailingStore) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	return 0, errors.New("database is locked")
}
