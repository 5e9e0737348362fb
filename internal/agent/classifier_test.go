package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassificationFlight(t *testing.T) {
	cls, err := ParseClassification(`{
		"intent": "flight",
		"flight_params": {"origin": "JFK", "destination": "LAX", "depart_date": "2026-11-01", "passengers": "2", "cabin_class": "Business", "max_stops": 0},
		"hotel_params": null,
		"selected_item": null,
		"is_correction": false
	}`)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFlight, cls.Intent)
	require.NotNil(t, cls.FlightParams)
	assert.Equal(t, "JFK", cls.FlightParams.Origin)
	assert.Equal(t, 2, cls.FlightParams.Passengers)
	assert.Equal(t, "business", cls.FlightParams.CabinClass)
	require.NotNil(t, cls.FlightParams.MaxStops)
	assert.Equal(t, 0, *cls.FlightParams.MaxStops)
	assert.Nil(t, cls.HotelParams)
	assert.Nil(t, cls.Selection)
}

func TestParseClassificationFencedWithProse(t *testing.T) {
	reply := "Here you go:\n```json\n{\"intent\": \"hotel\", \"hotel_params\": {\"city\": \"Paris\", \"guests\": 2, \"budget\": 300}}\n```\nHope that helps."
	cls, err := ParseClassification(reply)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentHotel, cls.Intent)
	require.NotNil(t, cls.HotelParams)
	assert.Equal(t, "Paris", cls.HotelParams.City)
	assert.Equal(t, 2, cls.HotelParams.Guests)
	assert.Equal(t, "300", cls.HotelParams.Budget)
}

func TestParseClassificationSelection(t *testing.T) {
	cls, err := ParseClassification(`{"intent": "other", "selected_item": {"type": "flight", "identifier": "confirmed"}}`)
	require.NoError(t, err)
	require.NotNil(t, cls.Selection)
	assert.Equal(t, domain.ActionBook, cls.Selection.Action)

	cls, err = ParseClassification(`{"intent": "other", "selected_item": {"type": "hotel", "identifier": "Hotel Lumiere"}}`)
	require.NoError(t, err)
	require.NotNil(t, cls.Selection)
	assert.Equal(t, domain.ItemHotel, cls.Selection.Kind)
	assert.Equal(t, domain.ActionSelect, cls.Selection.Action)

	cls, err = ParseClassification(`{"intent": "other", "selected_item": {"type": "car", "identifier": "x"}}`)
	require.NoError(t, err)
	assert.Nil(t, cls.Selection)
}

func TestParseClassificationUnknownIntent(t *testing.T) {
	cls, err := ParseClassification(`{"intent": "weather"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentOther, cls.Intent)
}

func TestParseClassificationErrors(t *testing.T) {
	_, err := ParseClassification("not json at all")
	assert.Error(t, err)
	_, err = ParseClassification(`{"flight_params": {}}`)
	assert.Error(t, err)
}

func TestKeywordClassify(t *testing.T) {
	tests := []struct {
		msg    string
		intent domain.Intent
	}{
		{"Find flights from NYC to LA", domain.IntentFlight},
		{"I want to fly to Boston", domain.IntentFlight},
		{"Need a hotel in Paris", domain.IntentHotel},
		{"somewhere to stay in Rome", domain.IntentHotel},
		{"Flights and hotels for my vacation", domain.IntentCombined},
		{"Plan a trip to Tokyo", domain.IntentCombined},
		{"what's the weather like", domain.IntentOther},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.intent, KeywordClassify(tt.msg).Intent)
		})
	}
}

func TestKeywordClassifyParams(t *testing.T) {
	cls := KeywordClassify("Find direct flights from Boston to Denver on 2026-12-20")
	require.NotNil(t, cls.FlightParams)
	assert.Equal(t, "Boston", cls.FlightParams.Origin)
	assert.Equal(t, "Denver", cls.FlightParams.Destination)
	assert.Equal(t, "2026-12-20", cls.FlightParams.DepartDate)
	require.NotNil(t, cls.FlightParams.MaxStops)
	assert.Equal(t, 0, *cls.FlightParams.MaxStops)

	cls = KeywordClassify("Find flights to San Francisco")
	require.NotNil(t, cls.FlightParams)
	assert.Equal(t, "San Francisco", cls.FlightParams.Destination)
	assert.Empty(t, cls.FlightParams.Origin)

	cls = KeywordClassify("book a hotel in New York please")
	require.NotNil(t, cls.HotelParams)
	assert.Equal(t, "New York", cls.HotelParams.City)

	assert.Nil(t, KeywordClassify("show me some flights").FlightParams)
}

func TestKeywordClassifySelections(t *testing.T) {
	for _, msg := range []string{"yes", "Sure!", "ok.", "please book it", "go ahead and confirm"} {
		cls := KeywordClassify(msg)
		require.NotNil(t, cls.Selection, msg)
		assert.Equal(t, domain.ActionBook, cls.Selection.Action, msg)
		assert.Equal(t, domain.IntentOther, cls.Intent, msg)
	}

	cls := KeywordClassify("I'll take the Delta flight")
	require.NotNil(t, cls.Selection)
	assert.Equal(t, domain.ItemFlight, cls.Selection.Kind)
	assert.Equal(t, domain.ActionSelect, cls.Selection.Action)

	cls = KeywordClassify("choose the second hotel")
	require.NotNil(t, cls.Selection)
	assert.Equal(t, domain.ItemHotel, cls.Selection.Kind)

	cls = KeywordClassify("United 7am")
	require.NotNil(t, cls.Selection)
	assert.Equal(t, domain.ItemFlight, cls.Selection.Kind)
}

func TestLLMClassifierUsesModel(t *testing.T) {
	var got llm.CompletionRequest
	client := &llm.MockClient{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		got = req
		return &llm.CompletionResponse{Content: `{"intent": "hotel", "hotel_params": {"city": "Lisbon"}}`}, nil
	}}
	c := NewLLMClassifier(client, silentLog())
	c.now = func() time.Time { return time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC) }

	prefs := domain.Preferences{}
	prefs.Merge([]domain.PreferenceItem{{Category: domain.PrefMaxStops, Value: "0", Confidence: 0.9}})
	cls, err := c.Classify(context.Background(), ClassifyInput{
		Message:     "somewhere nice to stay",
		History:     []domain.Turn{{Sender: domain.SenderUser, Text: "hi"}},
		Preferences: prefs,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentHotel, cls.Intent)
	assert.Equal(t, "Lisbon", cls.HotelParams.City)

	assert.True(t, got.JSON)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Contains(t, got.System, "Current date: 2026-10-16")
	assert.Contains(t, got.System, "Prefers direct flights")
	require.Len(t, got.Messages, 1)
	assert.True(t, strings.HasSuffix(got.Messages[0].Content, "Current user message: somewhere nice to stay"))
	assert.Contains(t, got.Messages[0].Content, "user: hi")
}

func TestLLMClassifierFallsBack(t *testing.T) {
	bad := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "I think they want a flight"}, nil
	}}
	cls, err := NewLLMClassifier(bad, silentLog()).Classify(context.Background(), ClassifyInput{Message: "flights to Denver"})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFlight, cls.Intent)

	failing := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("connection refused")
	}}
	cls, err = NewLLMClassifier(failing, silentLog()).Classify(context.Background(), ClassifyInput{Message: "hotel in Rome"})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentHotel, cls.Intent)

	cls, err = NewLLMClassifier(nil, silentLog()).Classify(context.Background(), ClassifyInput{Message: "yes"})
	require.NoError(t, err)
	require.NotNil(t, cls.Selection)
}

func TestLLMClassifierCancelled(t *testing.T) {
	client := &llm.MockClient{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLLMClassifier(client, silentLog()).Classify(ctx, ClassifyInput{Message: "flights"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncateRuneSafe(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "abc", truncate("abc", 10))
}
