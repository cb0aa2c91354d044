package queryconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultPriority is the priority of endpoints without an explicit one.
const DefaultPriority = 100

// Endpoint is one server a Failover may connect to.
type Endpoint struct {
	Addr string

	// Priority orders failover. Higher values are tried first; endpoints of
	// equal priority are used round-robin. Zero means DefaultPriority.
	Priority int

	// Options are appended to the Failover's options for this endpoint.
	Options []Option
}

// DefaultBreakerSettings trips an endpoint after three consecutive failed
// opens and probes it again after 30 seconds.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// AllUnavailableError is returned when no endpoint could be opened.
type AllUnavailableError struct {
	LastError error
}

func (e *AllUnavailableError) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("queryconn: all endpoints unavailable, last error: %v", e.LastError)
	}
	return "queryconn: all endpoints unavailable"
}

func (e *AllUnavailableError) Unwrap() error {
	return e.LastError
}

// Failover opens a connection to the best available endpoint, guarding each
// endpoint with a circuit breaker.
type Failover struct {
	mu        sync.Mutex
	endpoints []Endpoint
	breakers  []*gobreaker.CircuitBreaker[*Conn]
	tiers     [][]int
	tierIndex map[int]int
	opts      []Option
	logger    *slog.Logger
}

// NewFailover creates a Failover over endpoints. opts apply to every Conn it
// opens.
func NewFailover(endpoints []Endpoint, settings gobreaker.Settings, opts ...Option) *Failover {
	sorted := make([]Endpoint, len(endpoints))
	copy(sorted, endpoints)
	for i := range sorted {
		if sorted[i].Priority == 0 {
			sorted[i].Priority = DefaultPriority
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	f := &Failover{
		endpoints: sorted,
		breakers:  make([]*gobreaker.CircuitBreaker[*Conn], len(sorted)),
		tierIndex: make(map[int]int),
		opts:      opts,
		logger:    New("", opts...).logger,
	}
	for i, ep := range sorted {
		st := settings
		st.Name = ep.Addr
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			f.logger.Info("endpoint breaker state changed", "addr", name, "from", from.String(), "to", to.String())
		}
		f.breakers[i] = gobreaker.NewCircuitBreaker[*Conn](st)
	}
	f.tiers = groupByPriority(sorted)
	return f
}

// groupByPriority returns endpoint indices grouped by equal priority.
// endpoints must be sorted by priority descending.
func groupByPriority(endpoints []Endpoint) [][]int {
	var tiers [][]int
	for i, ep := range endpoints {
		if i == 0 || ep.Priority != endpoints[i-1].Priority {
			tiers = append(tiers, nil)
		}
		tiers[len(tiers)-1] = append(tiers[len(tiers)-1], i)
	}
	return tiers
}

// Open tries endpoints in priority order and returns the first connection
// that completes the greeting. Endpoints whose breaker is open are skipped.
func (f *Failover) Open(ctx context.Context) (*Conn, error) {
	var lastErr error
	for _, idx := range f.order() {
		ep := f.endpoints[idx]
		opts := append(append([]Option{}, f.opts...), ep.Options...)

		conn, err := f.breakers[idx].Execute(func() (*Conn, error) {
			c := New(ep.Addr, opts...)
			if err := c.Open(ctx); err != nil {
				return nil, err
			}
			return c, nil
		})
		if err == nil {
			return conn, nil
		}

		var cfg *ConfigError
		if errors.As(err, &cfg) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("endpoint unavailable", "addr", ep.Addr, "error", err)
		lastErr = err
	}
	return nil, &AllUnavailableError{LastError: lastErr}
}

// order lists the endpoints to try for one Open, highest tier first and
// rotated within each tier.
func (f *Failover) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []int
	for _, tier := range f.tiers {
		priority := f.endpoints[tier[0]].Priority
		start := f.tierIndex[priority]
		f.tierIndex[priority] = (start + 1) % len(tier)
		for i := range tier {
			idx := tier[(start+i)%len(tier)]
			if f.breakers[idx].State() != gobreaker.StateOpen {
				out = append(out, idx)
			}
		}
	}
	return out
}

// AllUnavailable reports whether every endpoint's breaker is open.
func (f *Failover) AllUnavailable() bool {
	for _, b := range f.breakers {
		if b.State() != gobreaker.StateOpen {
			return false
		}
	}
	return true
}

// Len returns the number of endpoints.
func (f *Failover) Len() int {
	return len(f.endpoints)
}
