// Package health implements the circuit breaker that shields the query
// path from a degraded search engine (§4.6). Between probes, isAvailable
// returns the cached verdict without I/O.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/catalogsearch/search/internal/search"
)

// Status is the breaker's tri-state verdict.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

const (
	probeTimeout    = 5 * time.Second
	probeFloor      = 30 * time.Second
	probeCeiling    = 300 * time.Second
	failurePenalty  = 10 * time.Second
)

// Prober is the subset of search.Backend the gate needs to probe health.
type Prober interface {
	ClusterHealth(ctx context.Context, timeout time.Duration) (*search.ClusterHealth, error)
}

// Gate is the HealthGate: one per process, shared by every QueryService
// call, guarding a single in-flight probe at a time.
type Gate struct {
	prober Prober

	mu                  sync.Mutex
	status              Status
	lastCheckAt         time.Time
	consecutiveFailures int

	probeMu sync.Mutex
}

// New constructs a Gate in the UNKNOWN state; the first isAvailable call
// triggers a probe.
func New(prober Prober) *Gate {
	return &Gate{prober: prober, status: StatusUnknown}
}

// backoff computes the re-probe interval: min(300s, 30s + 10s·failures).
func backoff(failures int) time.Duration {
	d := probeFloor + time.Duration(failures)*failurePenalty
	if d > probeCeiling {
		return probeCeiling
	}
	return d
}

// IsAvailable returns the cached verdict, probing first if the backoff
// interval has elapsed or no probe has ever run.
func (g *Gate) IsAvailable(ctx context.Context) bool {
	g.mu.Lock()
	due := g.status == StatusUnknown || time.Since(g.lastCheckAt) >= backoff(g.consecutiveFailures)
	g.mu.Unlock()

	if due {
		g.probe(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status == StatusUp
}

// probe runs one clusterHealth call and updates the breaker state. Callers
// overlapping on a due probe is harmless: probe takes the lock only to
// read/write the cached fields, not across the network call, but a single
// Gate instance serializes its own probes via probeMu so concurrent
// isAvailable calls never issue duplicate network probes.
func (g *Gate) probe(ctx context.Context) {
	g.probeMu.Lock()
	defer g.probeMu.Unlock()

	g.mu.Lock()
	stillDue := g.status == StatusUnknown || time.Since(g.lastCheckAt) >= backoff(g.consecutiveFailures)
	g.mu.Unlock()
	if !stillDue {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result, err := g.prober.ClusterHealth(probeCtx, probeTimeout)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCheckAt = time.Now()

	up := err == nil && result != nil &&
		(result.Status == search.StatusGreen || result.Status == search.StatusYellow) &&
		result.ElapsedMs < probeTimeout.Milliseconds()

	if up {
		g.status = StatusUp
		g.consecutiveFailures = 0
		return
	}
	g.status = StatusDown
	g.consecutiveFailures++
}

// Snapshot reports the gate's current state for diagnostics/admin endpoints.
type Snapshot struct {
	Status              Status
	LastCheckAt         time.Time
	ConsecutiveFailures int
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Status: g.status, LastCheckAt: g.lastCheckAt, ConsecutiveFailures: g.consecutiveFailures}
}
