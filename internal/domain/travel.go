package domain

import "strings"

// Intent is the classifier's reading of what a user message asks for.
type Intent string

const (
	IntentFlight   Intent = "flight"
	IntentHotel    Intent = "hotel"
	IntentCombined Intent = "combined"
	IntentRefine   Intent = "refine"
	IntentOther    Intent = "other"
)

// ParseIntent maps free-form classifier output onto a known intent.
// Unknown values become IntentOther.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentFlight:
		return IntentFlight
	case IntentHotel:
		return IntentHotel
	case IntentCombined:
		return IntentCombined
	case IntentRefine:
		return IntentRefine
	default:
		return IntentOther
	}
}

// WantsFlights reports whether the intent calls for a flight search.
func (i Intent) WantsFlights() bool { return i == IntentFlight || i == IntentCombined }

// WantsHotels reports whether the intent calls for a hotel search.
func (i Intent) WantsHotels() bool { return i == IntentHotel || i == IntentCombined }

// Search defaults used when a message leaves the route or city open.
const (
	DefaultOrigin      = "JFK"
	DefaultDestination = "LAX"
	DefaultCity        = "Los Angeles"
)

// FlightParams are the search criteria for flights.
type FlightParams struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	DepartDate  string `json:"departDate,omitempty"` // YYYY-MM-DD
	ReturnDate  string `json:"returnDate,omitempty"`
	Passengers  int    `json:"passengers,omitempty"`
	CabinClass  string `json:"cabinClass,omitempty"` // "economy" | "business" | "first"
	MaxStops    *int   `json:"maxStops,omitempty"`
}

// HotelParams are the search criteria for hotels.
type HotelParams struct {
	City      string   `json:"city,omitempty"`
	CheckIn   string   `json:"checkIn,omitempty"`
	CheckOut  string   `json:"checkOut,omitempty"`
	Guests    int      `json:"guests,omitempty"`
	Budget    string   `json:"budget,omitempty"` // "budget" | "mid" | "luxury"
	MinRating *float64 `json:"minRating,omitempty"`
}

// FlightResult is one flight option.
type FlightResult struct {
	ID              string  `json:"id"`
	Airline         string  `json:"airline"`
	FlightNumber    string  `json:"flightNumber,omitempty"`
	Origin          string  `json:"origin"`
	Destination     string  `json:"destination"`
	DepartureTime   string  `json:"departureTime"`
	ArrivalTime     string  `json:"arrivalTime"`
	DurationMinutes int     `json:"durationMinutes"`
	Stops           int     `json:"stops"`
	Price           float64 `json:"price"`
	Currency        string  `json:"currency"`
	CabinClass      string  `json:"cabinClass"`
	IsPartial       bool    `json:"isPartial"`
}

// HotelResult is one hotel option.
type HotelResult struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	City          string   `json:"city"`
	Address       string   `json:"address,omitempty"`
	StarRating    float64  `json:"starRating,omitempty"`
	ReviewScore   float64  `json:"reviewScore,omitempty"`
	ReviewCount   int      `json:"reviewCount,omitempty"`
	PricePerNight float64  `json:"pricePerNight"`
	TotalPrice    float64  `json:"totalPrice,omitempty"`
	Currency      string   `json:"currency"`
	Amenities     []string `json:"amenities,omitempty"`
	IsPartial     bool     `json:"isPartial"`
}

// ItemKind distinguishes flight items from hotel items in selections and bookings.
type ItemKind string

const (
	ItemFlight ItemKind = "flight"
	ItemHotel  ItemKind = "hotel"
)

// SelectionAction is what the user did with an item.
type SelectionAction string

const (
	ActionSelect SelectionAction = "select"
	ActionBook   SelectionAction = "book"
)

// Selection is a user pick of a flight or hotel, either from the UI or
// recognized by the classifier in a message.
type Selection struct {
	Kind       ItemKind        `json:"kind"`
	Action     SelectionAction `json:"action"`
	Identifier string          `json:"identifier"`
}

// MatchesID reports whether a loosely typed identifier refers to id.
// Matching is case-insensitive and accepts a substring either way so that
// "UA123" matches "flight_UA123_0".
func MatchesID(identifier, id string) bool {
	a, b := strings.ToLower(identifier), strings.ToLower(id)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// FlightSearch is what a flight search returned. Partial is set when the
// provider could only produce part of the result set.
type FlightSearch struct {
	Results []FlightResult `json:"results"`
	Partial bool           `json:"partial,omitempty"`
}

// HotelSearch is what a hotel search returned.
type HotelSearch struct {
	Results []HotelResult `json:"results"`
	Partial bool          `json:"partial,omitempty"`
}
