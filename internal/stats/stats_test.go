package stats

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SuccessAndFailureRate(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Record("database", Outcome{Success: true, Attempts: 1})
	}
	r.Record("database", Outcome{Success: false, Attempts: 3, RetryTime: 300 * time.Millisecond})

	s, ok := r.Get("database")
	require.True(t, ok)
	assert.EqualValues(t, 4, s.TotalCalls)
	assert.EqualValues(t, 3, s.SuccessfulCalls)
	assert.EqualValues(t, 1, s.FailedCalls)
	assert.EqualValues(t, 6, s.TotalAttempts)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-9)
	assert.InDelta(t, 1.5, s.AverageAttempts, 1e-9)
	assert.Equal(t, 300*time.Millisecond, s.TotalRetryTime)
	assert.False(t, s.LastSuccessAt.IsZero())
	assert.False(t, s.LastFailureAt.IsZero())
}

func TestRecord_AttemptsDefaultToOne(t *testing.T) {
	r := NewRegistry()
	r.Record(ResourceInference, Outcome{Success: true, Latency: 20 * time.Millisecond})
	r.Record(ResourceInference, Outcome{Success: true, Latency: 40 * time.Millisecond})
	s, _ := r.Get(ResourceInference)
	assert.EqualValues(t, 2, s.TotalAttempts)
	assert.Equal(t, 30*time.Millisecond, s.AverageLatency)
}

func TestGet_UnknownResource(t *testing.T) {
	r := NewRegistry()
	s, ok := r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "missing", s.Name)
	assert.Zero(t, s.TotalCalls)
}

func TestReset_KeepsEntryZeroed(t *testing.T) {
	r := NewRegistry()
	r.Record("cache", Outcome{Success: true})
	r.Record("network", Outcome{Success: false})
	r.Reset("cache")
	r.Reset("unknown")

	s, ok := r.Get("cache")
	require.True(t, ok)
	assert.Zero(t, s.TotalCalls)

	n, _ := r.Get("network")
	assert.EqualValues(t, 1, n.TotalCalls)

	r.ResetAll()
	n, _ = r.Get("network")
	assert.Zero(t, n.TotalCalls)
}

func TestSnapshot_SortedByName(t *testing.T) {
	r := NewRegistry()
	r.Record("network", Outcome{Success: true})
	r.Record("cache", Outcome{Success: true})
	r.Record("inference", Outcome{Success: true})
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"cache", "inference", "network"}, []string{snap[0].Name, snap[1].Name, snap[2].Name})
}

func TestRecord_ConcurrentCompletions(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record("inference", Outcome{Success: i%2 == 0})
		}(i)
	}
	wg.Wait()
	s, _ := r.Get("inference")
	assert.EqualValues(t, 50, s.TotalCalls)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
}

func TestCollector_ExportsPerResource(t *testing.T) {
	r := NewRegistry()
	r.Record("database", Outcome{Success: true})
	r.Record("database", Outcome{Success: false})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(r)))

	expected := `
# HELP inferd_service_calls_total Completed calls per resource and result
# TYPE inferd_service_calls_total counter
inferd_service_calls_total{resource="database",result="failure"} 1
inferd_service_calls_total{resource="database",result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "inferd_service_calls_total"))
}
