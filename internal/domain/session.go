package domain

import "time"

// Sender identifies who produced a conversation turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Turn is a single entry in a conversation.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"runId,omitempty"`
}

// Summary replaces a span of older turns after history compaction.
type Summary struct {
	Text      string    `json:"text"`
	TurnCount int       `json:"turnCount"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Passenger is the traveller named on a booking.
type Passenger struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// BookingRequest asks to complete the booking of a flight or a hotel.
type BookingRequest struct {
	FlightID  string    `json:"flightId,omitempty"`
	HotelID   string    `json:"hotelId,omitempty"`
	Passenger Passenger `json:"passenger"`
	Seat      string    `json:"seat,omitempty"`
	RoomType  string    `json:"roomType,omitempty"`
	CheckIn   string    `json:"checkIn,omitempty"`
	CheckOut  string    `json:"checkOut,omitempty"`
	Guests    int       `json:"guests,omitempty"`
}

// Kind reports which item the request books. Flights win when both are set.
func (r BookingRequest) Kind() ItemKind {
	if r.FlightID != "" {
		return ItemFlight
	}
	return ItemHotel
}

// ItemID returns the id of the booked item.
func (r BookingRequest) ItemID() string {
	if r.FlightID != "" {
		return r.FlightID
	}
	return r.HotelID
}

// Booking is a confirmed reservation.
type Booking struct {
	Reference string        `json:"reference"`
	SessionID string        `json:"sessionId"`
	Kind      ItemKind      `json:"kind"`
	ItemID    string        `json:"itemId"`
	Passenger Passenger     `json:"passenger"`
	Seat      string        `json:"seat,omitempty"`
	Flight    *FlightResult `json:"flight,omitempty"`
	Hotel     *HotelResult  `json:"hotel,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// SessionState is a point-in-time copy of a session, safe to hand to
// readers outside the session's critical section.
type SessionState struct {
	ID                   string         `json:"id"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	History              []Turn         `json:"history"`
	Summaries            []Summary      `json:"summaries,omitempty"`
	Preferences          Preferences    `json:"preferences"`
	Intent               Intent         `json:"intent,omitempty"`
	FlightParams         *FlightParams  `json:"flightParams,omitempty"`
	HotelParams          *HotelParams   `json:"hotelParams,omitempty"`
	FlightResults        []FlightResult `json:"flightResults"`
	HotelResults         []HotelResult  `json:"hotelResults"`
	SelectedFlightID     string         `json:"selectedFlightId,omitempty"`
	SelectedHotelID      string         `json:"selectedHotelId,omitempty"`
	PendingFlightBooking string         `json:"pendingFlightBooking,omitempty"`
	PendingHotelBooking  string         `json:"pendingHotelBooking,omitempty"`
	ConfirmedBooking     string         `json:"confirmedBookingReference,omitempty"`
	IsInterrupted        bool           `json:"isInterrupted"`
	CurrentRunID         string         `json:"currentRunId,omitempty"`
}
