package travel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearcher(cfg config.SearchConfig) *Searcher {
	return New(cfg, logging.New(nil, "silent"))
}

func TestSearchFlightsDefaultsRoute(t *testing.T) {
	s := newSearcher(config.SearchConfig{})

	out, err := s.SearchFlights(context.Background(), domain.FlightParams{})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.False(t, out.Partial)
	for _, f := range out.Results {
		assert.Equal(t, domain.DefaultOrigin, f.Origin)
		assert.Equal(t, domain.DefaultDestination, f.Destination)
		assert.Contains(t, f.ID, "flight_JFK_LAX_")
		assert.Equal(t, "economy", f.CabinClass)
	}
}

func TestSearchFlightsDeterministic(t *testing.T) {
	s := newSearcher(config.SearchConfig{Seed: 7})
	params := domain.FlightParams{Origin: "sfo", Destination: "LHR", DepartDate: "2026-11-02"}

	a, err := s.SearchFlights(context.Background(), params)
	require.NoError(t, err)
	b, err := s.SearchFlights(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "SFO", a.Results[0].Origin)
	assert.Contains(t, a.Results[0].DepartureTime, "2026-11-02T")
}

func TestSearchFlightsSortedByPrice(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	out, err := s.SearchFlights(context.Background(), domain.FlightParams{Origin: "BOS", Destination: "MIA"})
	require.NoError(t, err)
	for i := 1; i < len(out.Results); i++ {
		assert.LessOrEqual(t, out.Results[i-1].Price, out.Results[i].Price)
	}
}

func TestSearchFlightsMaxStops(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	direct := 0
	out, err := s.SearchFlights(context.Background(), domain.FlightParams{MaxStops: &direct})
	require.NoError(t, err)
	for _, f := range out.Results {
		assert.Zero(t, f.Stops)
		assert.NotContains(t, f.ID, "multileg")
	}
}

func TestSearchFlightsCabinMultiplier(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	eco, err := s.SearchFlights(context.Background(), domain.FlightParams{CabinClass: "economy"})
	require.NoError(t, err)
	first, err := s.SearchFlights(context.Background(), domain.FlightParams{CabinClass: "first"})
	require.NoError(t, err)
	assert.Greater(t, first.Results[0].Price, eco.Results[0].Price)
}

func TestSearchHotelsDefaultsCity(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	low := 2.5

	out, err := s.SearchHotels(context.Background(), domain.HotelParams{MinRating: &low})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.LessOrEqual(t, len(out.Results), maxHotels)
	for _, h := range out.Results {
		assert.Equal(t, domain.DefaultCity, h.City)
		assert.Contains(t, h.ID, "hotel_Los_Angeles_")
		assert.GreaterOrEqual(t, len(h.Amenities), 3)
	}
}

func TestSearchHotelsMinRating(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	floor := 4.0
	out, err := s.SearchHotels(context.Background(), domain.HotelParams{City: "Paris", MinRating: &floor})
	require.NoError(t, err)
	for _, h := range out.Results {
		assert.GreaterOrEqual(t, h.StarRating, 4.0)
	}
}

func TestSearchHotelsTotalPriceCoversNights(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	low := 2.5
	out, err := s.SearchHotels(context.Background(), domain.HotelParams{
		City: "Tokyo", CheckIn: "2026-12-01", CheckOut: "2026-12-04", MinRating: &low,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	for _, h := range out.Results {
		assert.InDelta(t, h.PricePerNight*3, h.TotalPrice, 0.01)
	}
}

func TestSearchHonoursContext(t *testing.T) {
	s := newSearcher(config.SearchConfig{LatencyMs: 5000})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.SearchFlights(ctx, domain.FlightParams{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSearchSimulatedOutage(t *testing.T) {
	s := newSearcher(config.SearchConfig{FailureRate: 1})

	_, err := s.SearchHotels(context.Background(), domain.HotelParams{})
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = s.SearchFlights(context.Background(), domain.FlightParams{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWeighted(t *testing.T) {
	s := newSearcher(config.SearchConfig{})
	r := s.rng("weights")
	for range 100 {
		assert.Equal(t, 1, weighted(r, []int{0, 5, 0}))
	}
}
