package travel

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/soyeahso/wayfarer/internal/domain"
)

const maxHotels = 10

var (
	hotelChains = []string{"Hilton", "Marriott", "Hyatt", "Holiday Inn", "Best Western", "Sheraton", "Westin", "Radisson"}
	hotelTypes  = []string{"Hotel", "Resort", "Suites", "Inn", "Grand Hotel"}
	streets     = []string{"Main St", "Park Ave", "Ocean Blvd", "Downtown Dr", "Harbor Way", "Airport Rd"}

	amenityPool = []string{
		"WiFi", "Pool", "Gym", "Spa", "Restaurant", "Bar", "Room Service",
		"Parking", "Business Center", "Airport Shuttle", "Pet Friendly", "Breakfast Included",
	}

	starRatings = []float64{2.5, 3.0, 3.5, 4.0, 4.5, 5.0}
	starWeights = []int{5, 15, 25, 30, 20, 5}
)

type priceRange struct{ min, max float64 }

var budgetRanges = map[string]priceRange{
	"budget": {60, 120},
	"mid":    {120, 250},
	"luxury": {250, 600},
}

// SearchHotels returns up to ten hotels in the city at or above the
// requested rating, best value first.
func (s *Searcher) SearchHotels(ctx context.Context, p domain.HotelParams) (domain.HotelSearch, error) {
	if err := s.wait(ctx, "hotel"); err != nil {
		return domain.HotelSearch{}, err
	}

	city := orDefault(p.City, domain.DefaultCity)
	checkIn := parseDate(p.CheckIn, s.now())
	checkOut := parseDate(p.CheckOut, checkIn.AddDate(0, 0, 7))
	if !checkOut.After(checkIn) {
		checkOut = checkIn.AddDate(0, 0, 1)
	}
	nights := int(math.Ceil(checkOut.Sub(checkIn).Hours() / 24))

	minRating := 3.0
	if p.MinRating != nil {
		minRating = *p.MinRating
	}
	prices, ok := budgetRanges[strings.ToLower(p.Budget)]
	if !ok {
		prices = budgetRanges["mid"]
	}

	r := s.rng(strings.ToLower(city))
	count := 5 + r.IntN(6)
	hotels := make([]domain.HotelResult, 0, count)
	for i := range count {
		chain := hotelChains[r.IntN(len(hotelChains))]
		kind := hotelTypes[r.IntN(len(hotelTypes))]
		stars := starRatings[weighted(r, starWeights)]
		if stars < minRating {
			continue
		}

		review := math.Max(1, math.Min(10, round1(stars*1.7+r.Float64()-0.5)))
		factor := math.Max(0, (stars-3.0)/2.0)
		perNight := round2((prices.min + (prices.max-prices.min)*factor) * (0.9 + 0.2*r.Float64()))

		amenities := slices.Clone(amenityPool)
		r.Shuffle(len(amenities), func(a, b int) { amenities[a], amenities[b] = amenities[b], amenities[a] })
		amenities = amenities[:3+r.IntN(6)]
		sort.Strings(amenities)

		hotels = append(hotels, domain.HotelResult{
			ID:            fmt.Sprintf("hotel_%s_%d", strings.ReplaceAll(city, " ", "_"), i),
			Name:          fmt.Sprintf("%s %s %s", chain, city, kind),
			City:          city,
			Address:       fmt.Sprintf("%d %s, %s", 100+r.IntN(9000), streets[i%len(streets)], city),
			StarRating:    stars,
			ReviewScore:   review,
			ReviewCount:   50 + r.IntN(451) + int(stars*100),
			PricePerNight: perNight,
			TotalPrice:    round2(perNight * float64(nights)),
			Currency:      "USD",
			Amenities:     amenities,
		})
	}

	sort.SliceStable(hotels, func(i, j int) bool {
		return hotels[i].ReviewScore/hotels[i].PricePerNight > hotels[j].ReviewScore/hotels[j].PricePerNight
	})
	if len(hotels) > maxHotels {
		hotels = hotels[:maxHotels]
	}

	s.log.Debug().Str("city", city).Int("results", len(hotels)).Msg("hotel search")
	return domain.HotelSearch{Results: hotels}, nil
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
