package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/catalogsearch/search/internal/search"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	calls  int32
	result *search.ClusterHealth
	err    error
}

func (f *fakeProber) ClusterHealth(ctx context.Context, timeout time.Duration) (*search.ClusterHealth, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

func TestGate_FirstCallProbesAndGoesUp(t *testing.T) {
	prober := &fakeProber{result: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 10}}
	g := New(prober)

	require.True(t, g.IsAvailable(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&prober.calls))
}

func TestGate_ProbeFailureGoesDownAndIncrementsFailures(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	g := New(prober)

	require.False(t, g.IsAvailable(context.Background()))
	snap := g.Snapshot()
	require.Equal(t, StatusDown, snap.Status)
	require.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestGate_RedStatusCountsAsDown(t *testing.T) {
	prober := &fakeProber{result: &search.ClusterHealth{Status: search.StatusRed, ElapsedMs: 10}}
	g := New(prober)

	require.False(t, g.IsAvailable(context.Background()))
}

func TestGate_CachedVerdictSkipsProbeWithinBackoffWindow(t *testing.T) {
	prober := &fakeProber{result: &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 10}}
	g := New(prober)

	g.IsAvailable(context.Background())
	g.IsAvailable(context.Background())
	g.IsAvailable(context.Background())

	require.Equal(t, int32(1), atomic.LoadInt32(&prober.calls))
}

func TestGate_SuccessAfterFailuresResetsCounter(t *testing.T) {
	prober := &fakeProber{err: errors.New("timeout")}
	g := New(prober)
	g.IsAvailable(context.Background())
	require.Equal(t, 1, g.Snapshot().ConsecutiveFailures)

	g.mu.Lock()
	g.lastCheckAt = time.Time{}
	g.mu.Unlock()

	prober.err = nil
	prober.result = &search.ClusterHealth{Status: search.StatusGreen, ElapsedMs: 5}
	require.True(t, g.IsAvailable(context.Background()))
	require.Equal(t, 0, g.Snapshot().ConsecutiveFailures)
}

func TestBackoff_MonotonicallyIncreasesAndCaps(t *testing.T) {
	require.Equal(t, 30*time.Second, backoff(0))
	require.Equal(t, 40*time.Second, backoff(1))
	require.Equal(t, 300*time.Second, backoff(1000))

	prev := backoff(0)
	for failures := 1; failures <= 50; failures++ {
		cur := backoff(failures)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}
