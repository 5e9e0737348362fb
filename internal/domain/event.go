package domain

import "time"

// EventKind names a session event pushed to clients.
type EventKind string

const (
	EventStatus             EventKind = "status"
	EventMessage            EventKind = "message"
	EventFlightResults      EventKind = "flight_results"
	EventHotelResults       EventKind = "hotel_results"
	EventError              EventKind = "error"
	EventPreferenceUpdate   EventKind = "preference_update"
	EventPreferencesCleared EventKind = "preferences_cleared"
	EventAgentStatus        EventKind = "agent_status"
	EventBookingConfirmed   EventKind = "booking_confirmed"
)

// RunStatus is the payload of a status event.
type RunStatus string

const (
	StatusProcessing         RunStatus = "processing"
	StatusCancellingPrevious RunStatus = "cancelling_previous"
	StatusCancelled          RunStatus = "cancelled"
	StatusCompleted          RunStatus = "completed"
)

// Terminal reports whether no further events follow for the run.
func (s RunStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Event is one entry in a session's event stream. Seq is assigned by the
// publisher and increases by one per published event within a session.
type Event struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"sessionId"`
	RunID     string    `json:"runId,omitempty"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data,omitempty"`
}

// StatusData is carried by EventStatus.
type StatusData struct {
	Status RunStatus `json:"status"`
}

// MessageData is carried by EventMessage.
type MessageData struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// FlightResultsData is carried by EventFlightResults. An empty result list
// tells clients to hide the flight view.
type FlightResultsData struct {
	Results   []FlightResult `json:"results"`
	IsPartial bool           `json:"isPartial"`
}

// HotelResultsData is carried by EventHotelResults.
type HotelResultsData struct {
	Results   []HotelResult `json:"results"`
	IsPartial bool          `json:"isPartial"`
}

// ErrorData is carried by EventError.
type ErrorData struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// PreferenceData is carried by EventPreferenceUpdate.
type PreferenceData struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

// AgentStatusData is carried by EventAgentStatus.
type AgentStatusData struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
	Step   string `json:"step"`
}

// BookingData is carried by EventBookingConfirmed.
type BookingData struct {
	Reference string   `json:"bookingReference"`
	Kind      ItemKind `json:"kind"`
	ItemID    string   `json:"itemId"`
}

// NewStatus builds a status event for a run.
func NewStatus(sessionID, runID string, status RunStatus) Event {
	return Event{Kind: EventStatus, SessionID: sessionID, RunID: runID, Data: StatusData{Status: status}}
}

// StatusOf returns the status carried by a status event.
func (e Event) StatusOf() (RunStatus, bool) {
	if e.Kind != EventStatus {
		return "", false
	}
	d, ok := e.Data.(StatusData)
	return d.Status, ok
}
