package travel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

var airlines = []string{
	"United Airlines",
	"Delta Air Lines",
	"American Airlines",
	"Southwest Airlines",
	"JetBlue Airways",
	"Alaska Airlines",
	"Spirit Airlines",
	"Frontier Airlines",
}

var cabinMultipliers = map[string]float64{
	"economy":         1.0,
	"premium_economy": 1.5,
	"business":        3.0,
	"first":           5.0,
}

// SearchFlights returns five to ten flights for the route, cheapest first.
func (s *Searcher) SearchFlights(ctx context.Context, p domain.FlightParams) (domain.FlightSearch, error) {
	if err := s.wait(ctx, "flight"); err != nil {
		return domain.FlightSearch{}, err
	}

	origin := strings.ToUpper(orDefault(p.Origin, domain.DefaultOrigin))
	dest := strings.ToUpper(orDefault(p.Destination, domain.DefaultDestination))
	cabin := strings.ToLower(orDefault(p.CabinClass, "economy"))
	depart := parseDate(p.DepartDate, s.now().AddDate(0, 0, 30))

	r := s.rng(origin + dest)
	count := 5 + r.IntN(6)
	baseDuration := 90 + r.IntN(420)
	multiplier, ok := cabinMultipliers[cabin]
	if !ok {
		multiplier = 1.0
	}

	flights := make([]domain.FlightResult, 0, count)
	for i := range count {
		airline := airlines[r.IntN(len(airlines))]
		stops := weighted(r, []int{60, 30, 10})
		hour := (5+r.IntN(18)+i)%18 + 5
		minute := 15 * r.IntN(4)
		leave := time.Date(depart.Year(), depart.Month(), depart.Day(), hour, minute, 0, 0, time.UTC)

		duration := baseDuration + stops*(45+r.IntN(136))
		price := (float64(duration)*0.5 + float64(stops)*50) * (0.8 + 0.4*r.Float64()) * multiplier
		id := fmt.Sprintf("flight_%s_%s_%d", origin, dest, i)
		if stops > 0 {
			price *= 0.85
			id += "_multileg"
		}

		flights = append(flights, domain.FlightResult{
			ID:              id,
			Airline:         airline,
			FlightNumber:    fmt.Sprintf("%s%d", strings.ToUpper(airline[:2]), 1000+r.IntN(9000)),
			Origin:          origin,
			Destination:     dest,
			DepartureTime:   leave.Format(time.RFC3339),
			ArrivalTime:     leave.Add(time.Duration(duration) * time.Minute).Format(time.RFC3339),
			DurationMinutes: duration,
			Stops:           stops,
			Price:           round2(price),
			Currency:        "USD",
			CabinClass:      cabin,
		})
	}

	if p.MaxStops != nil {
		kept := flights[:0]
		for _, f := range flights {
			if f.Stops <= *p.MaxStops {
				kept = append(kept, f)
			}
		}
		flights = kept
	}
	sort.SliceStable(flights, func(i, j int) bool { return flights[i].Price < flights[j].Price })

	s.log.Debug().Str("origin", origin).Str("destination", dest).Int("results", len(flights)).Msg("flight search")
	return domain.FlightSearch{Results: flights}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
