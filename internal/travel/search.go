// Package travel provides the simulated flight and hotel search providers.
// Results are generated, not fetched, and are stable for a given query and
// seed so that repeated searches show the same options.
package travel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// ErrUnavailable is returned when a simulated provider outage is triggered.
var ErrUnavailable = errors.New("search provider unavailable")

const dateLayout = "2006-01-02"

// Searcher serves flight and hotel searches.
type Searcher struct {
	latency     time.Duration
	failureRate float64
	seed        uint64

	mu   sync.Mutex
	fail *rand.Rand // decides simulated outages

	now func() time.Time
	log *logging.Logger
}

// New creates a searcher from the search config.
func New(cfg config.SearchConfig, log *logging.Logger) *Searcher {
	seed := uint64(cfg.Seed)
	return &Searcher{
		latency:     cfg.Latency(),
		failureRate: cfg.FailureRate,
		seed:        seed,
		fail:        rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15)),
		now:         time.Now,
		log:         log.Sub("travel"),
	}
}

// wait simulates provider latency and rolls for an outage.
func (s *Searcher) wait(ctx context.Context, what string) error {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s search: %w", what, context.Cause(ctx))
		case <-timer.C:
		}
	}
	if s.failureRate <= 0 {
		return nil
	}
	s.mu.Lock()
	roll := s.fail.Float64()
	s.mu.Unlock()
	if roll < s.failureRate {
		s.log.Debug().Str("search", what).Msg("simulated outage")
		return fmt.Errorf("%s search: %w", what, ErrUnavailable)
	}
	return nil
}

// rng returns a generator seeded from the query key so that equal queries
// produce equal results.
func (s *Searcher) rng(key string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(key))
	return rand.New(rand.NewPCG(h.Sum64(), s.seed))
}

func parseDate(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	return fallback
}

// weighted picks an index with probability proportional to its weight.
func weighted(r *rand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := r.IntN(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
