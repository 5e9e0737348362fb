package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		input string
		want  Intent
	}{
		{"flight", IntentFlight},
		{" Hotel ", IntentHotel},
		{"COMBINED", IntentCombined},
		{"refine", IntentRefine},
		{"other", IntentOther},
		{"weather", IntentOther},
		{"", IntentOther},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntent(tt.input))
		})
	}
}

func TestIntentWants(t *testing.T) {
	assert.True(t, IntentFlight.WantsFlights())
	assert.False(t, IntentFlight.WantsHotels())
	assert.True(t, IntentCombined.WantsFlights())
	assert.True(t, IntentCombined.WantsHotels())
	assert.False(t, IntentRefine.WantsFlights())
	assert.False(t, IntentOther.WantsHotels())
}

func TestMatchesID(t *testing.T) {
	assert.True(t, MatchesID("UA123", "flight_ua123_0"))
	assert.True(t, MatchesID("hotel_paris_2", "PARIS_2"))
	assert.False(t, MatchesID("", "flight_1"))
	assert.False(t, MatchesID("DL9", "flight_UA123_0"))
}

func TestBookingRequestKind(t *testing.T) {
	r := BookingRequest{HotelID: "h1"}
	assert.Equal(t, ItemHotel, r.Kind())
	assert.Equal(t, "h1", r.ItemID())

	r.FlightID = "f1"
	assert.Equal(t, ItemFlight, r.Kind())
	assert.Equal(t, "f1", r.ItemID())
}

func TestPreferencesMergeKeepsHigherConfidence(t *testing.T) {
	var p Preferences
	applied := p.Merge([]PreferenceItem{{Category: PrefCabinClass, Value: "business", Confidence: 1.0}})
	require.Len(t, applied, 1)

	applied = p.Merge([]PreferenceItem{{Category: PrefCabinClass, Value: "economy", Confidence: 0.9}})
	assert.Empty(t, applied)
	v, _ := p.Value(PrefCabinClass)
	assert.Equal(t, "business", v)

	applied = p.Merge([]PreferenceItem{{Category: PrefCabinClass, Value: "first", Confidence: 1.0}})
	require.Len(t, applied, 1)
	v, _ = p.Value(PrefCabinClass)
	assert.Equal(t, "first", v)
	assert.Len(t, p.Items, 1)
}

func TestPreferencesMergeMultiValued(t *testing.T) {
	var p Preferences
	p.Merge([]PreferenceItem{
		{Category: PrefAmenity, Value: "WiFi", Confidence: 0.9},
		{Category: PrefAmenity, Value: "Pool", Confidence: 0.9},
		{Category: PrefAmenity, Value: "WiFi", Confidence: 1.0},
	})
	assert.Equal(t, []string{"WiFi", "Pool"}, p.Values(PrefAmenity))
}

func TestPreferencesMergeSkipsEmptyAndDuplicates(t *testing.T) {
	var p Preferences
	p.Merge([]PreferenceItem{{Category: PrefMaxStops, Value: "0", Confidence: 0.9}})
	applied := p.Merge([]PreferenceItem{
		{Category: "", Value: "x"},
		{Category: PrefFlightTime, Value: ""},
		{Category: PrefMaxStops, Value: "0", Confidence: 0.9},
	})
	assert.Empty(t, applied)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestPreferencesApply(t *testing.T) {
	var p Preferences
	p.Merge([]PreferenceItem{
		{Category: PrefCabinClass, Value: "business", Confidence: 0.9},
		{Category: PrefMaxStops, Value: "0", Confidence: 0.9},
		{Category: PrefHotelRating, Value: "4.0", Confidence: 0.9},
		{Category: PrefHotelBudget, Value: "luxury", Confidence: 0.9},
	})

	fp := p.ApplyToFlight(FlightParams{CabinClass: "economy"})
	assert.Equal(t, "business", fp.CabinClass)
	require.NotNil(t, fp.MaxStops)
	assert.Equal(t, 0, *fp.MaxStops)

	explicit := 2
	fp = p.ApplyToFlight(FlightParams{CabinClass: "first", MaxStops: &explicit})
	assert.Equal(t, "first", fp.CabinClass)
	assert.Equal(t, 2, *fp.MaxStops)

	hp := p.ApplyToHotel(HotelParams{})
	require.NotNil(t, hp.MinRating)
	assert.Equal(t, 4.0, *hp.MinRating)
	assert.Equal(t, "luxury", hp.Budget)
}

func TestPreferencesSummary(t *testing.T) {
	var p Preferences
	assert.Equal(t, "No preferences learned yet", p.Summary())

	p.Merge([]PreferenceItem{
		{Category: PrefMaxStops, Value: "0", Confidence: 0.9},
		{Category: PrefHotelRating, Value: "4.0", Confidence: 0.9},
		{Category: PrefAmenity, Value: "WiFi", Confidence: 0.9},
	})
	assert.Equal(t, "Prefers direct flights; Prefers 4+ star hotels; Likes amenities: WiFi", p.Summary())
}

func TestIsPreferenceCategory(t *testing.T) {
	for _, c := range PreferenceCategories {
		assert.True(t, IsPreferenceCategory(c), c)
	}
	assert.False(t, IsPreferenceCategory("seat_color"))
	assert.False(t, IsPreferenceCategory(""))
}

func TestPreferencesCloneIsIndependent(t *testing.T) {
	var p Preferences
	p.Merge([]PreferenceItem{{Category: PrefFlightTime, Value: "morning", Confidence: 0.9}})
	c := p.Clone()
	c.Items[0].Value = "evening"
	v, _ := p.Value(PrefFlightTime)
	assert.Equal(t, "morning", v)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusCancellingPrevious.Terminal())
}

func TestEventJSON(t *testing.T) {
	e := NewStatus("s1", "r1", StatusProcessing)
	e.Seq = 3
	e.Time = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "status", decoded["type"])
	assert.Equal(t, "s1", decoded["sessionId"])
	assert.Equal(t, "r1", decoded["runId"])
	assert.Equal(t, float64(3), decoded["seq"])
	assert.Equal(t, map[string]any{"status": "processing"}, decoded["data"])

	status, ok := e.StatusOf()
	assert.True(t, ok)
	assert.Equal(t, StatusProcessing, status)

	_, ok = Event{Kind: EventMessage}.StatusOf()
	assert.False(t, ok)
}
