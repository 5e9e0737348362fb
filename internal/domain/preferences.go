package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Preference categories.
const (
	PrefFlightTime  = "flight_time"
	PrefCabinClass  = "cabin_class"
	PrefAirline     = "airline"
	PrefMaxStops    = "max_stops"
	PrefHotelRating = "min_hotel_rating"
	PrefHotelBudget = "hotel_budget"
	PrefAmenity     = "amenity"
	PrefBudgetRange = "budget_range"
)

// PreferenceCategories lists every category a preference may have.
var PreferenceCategories = []string{
	PrefFlightTime, PrefCabinClass, PrefAirline, PrefMaxStops,
	PrefHotelRating, PrefHotelBudget, PrefAmenity, PrefBudgetRange,
}

// IsPreferenceCategory reports whether category is known.
func IsPreferenceCategory(category string) bool {
	return slices.Contains(PreferenceCategories, category)
}

// multiValued categories accumulate distinct values instead of holding one.
var multiValued = []string{PrefAirline, PrefAmenity}

// IsMultiValued reports whether a category keeps a list of values.
func IsMultiValued(category string) bool {
	return slices.Contains(multiValued, category)
}

// PreferenceItem is one learned preference.
type PreferenceItem struct {
	Category   string    `json:"category"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	LearnedAt  time.Time `json:"learnedAt"`
}

// Preferences holds what has been learned about a user. Single-valued
// categories keep one item each; multi-valued ones keep one item per value.
type Preferences struct {
	Items     []PreferenceItem `json:"items"`
	UpdatedAt time.Time        `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy.
func (p Preferences) Clone() Preferences {
	return Preferences{Items: slices.Clone(p.Items), UpdatedAt: p.UpdatedAt}
}

// Empty reports whether nothing has been learned.
func (p Preferences) Empty() bool { return len(p.Items) == 0 }

// Value returns the value of a single-valued category.
func (p Preferences) Value(category string) (string, bool) {
	for _, it := range p.Items {
		if it.Category == category {
			return it.Value, true
		}
	}
	return "", false
}

// Values returns every value held for a category, in learning order.
func (p Preferences) Values(category string) []string {
	var out []string
	for _, it := range p.Items {
		if it.Category == category {
			out = append(out, it.Value)
		}
	}
	return out
}

// Merge folds new items in and returns the ones that changed something.
// A single-valued category is only replaced by an item of equal or higher
// confidence; multi-valued categories gain values they don't hold yet.
func (p *Preferences) Merge(items []PreferenceItem) []PreferenceItem {
	var applied []PreferenceItem
	for _, it := range items {
		if it.Category == "" || it.Value == "" {
			continue
		}
		if it.LearnedAt.IsZero() {
			it.LearnedAt = time.Now()
		}
		if IsMultiValued(it.Category) {
			if slices.Contains(p.Values(it.Category), it.Value) {
				continue
			}
			p.Items = append(p.Items, it)
			applied = append(applied, it)
			continue
		}
		idx := slices.IndexFunc(p.Items, func(x PreferenceItem) bool { return x.Category == it.Category })
		switch {
		case idx < 0:
			p.Items = append(p.Items, it)
		case it.Confidence < p.Items[idx].Confidence:
			continue
		case it.Value == p.Items[idx].Value && it.Confidence == p.Items[idx].Confidence:
			continue
		default:
			p.Items[idx] = it
		}
		applied = append(applied, it)
	}
	if len(applied) > 0 {
		p.UpdatedAt = applied[len(applied)-1].LearnedAt
	}
	return applied
}

// ApplyToFlight fills unset flight criteria from preferences.
func (p Preferences) ApplyToFlight(fp FlightParams) FlightParams {
	if cabin, ok := p.Value(PrefCabinClass); ok && (fp.CabinClass == "" || fp.CabinClass == "economy") {
		fp.CabinClass = cabin
	}
	if fp.MaxStops == nil {
		if v, ok := p.Value(PrefMaxStops); ok {
			if n, err := strconv.Atoi(v); err == nil {
				fp.MaxStops = &n
			}
		}
	}
	return fp
}

// ApplyToHotel fills unset hotel criteria from preferences.
func (p Preferences) ApplyToHotel(hp HotelParams) HotelParams {
	if hp.MinRating == nil {
		if v, ok := p.Value(PrefHotelRating); ok {
			if r, err := strconv.ParseFloat(v, 64); err == nil {
				hp.MinRating = &r
			}
		}
	}
	if hp.Budget == "" {
		if v, ok := p.Value(PrefHotelBudget); ok {
			hp.Budget = v
		}
	}
	return hp
}

// Summary renders preferences as a short human-readable line.
func (p Preferences) Summary() string {
	var parts []string
	if v, ok := p.Value(PrefFlightTime); ok {
		parts = append(parts, fmt.Sprintf("Prefers %s flights", v))
	}
	if v, ok := p.Value(PrefCabinClass); ok && v != "economy" {
		parts = append(parts, fmt.Sprintf("Prefers %s class", v))
	}
	if v, ok := p.Value(PrefMaxStops); ok {
		if v == "0" {
			parts = append(parts, "Prefers direct flights")
		} else {
			parts = append(parts, fmt.Sprintf("Accepts up to %s stops", v))
		}
	}
	if v, ok := p.Value(PrefHotelRating); ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			parts = append(parts, fmt.Sprintf("Prefers %g+ star hotels", r))
		}
	}
	if amenities := p.Values(PrefAmenity); len(amenities) > 0 {
		if len(amenities) > 3 {
			amenities = amenities[:3]
		}
		parts = append(parts, "Likes amenities: "+strings.Join(amenities, ", "))
	}
	if len(parts) == 0 {
		return "No preferences learned yet"
	}
	return strings.Join(parts, "; ")
}
