package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPreferences(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		msg      string
		category string
		value    string
	}{
		{"I prefer morning flights", domain.PrefFlightTime, "morning"},
		{"I usually take evening flights", domain.PrefFlightTime, "evening"},
		{"I always fly business class", domain.PrefCabinClass, "business"},
		{"I only want direct flights", domain.PrefMaxStops, "0"},
		{"I hate layovers", domain.PrefMaxStops, "0"},
		{"I prefer 4-star hotels", domain.PrefHotelRating, "4.0"},
		{"I like luxury hotels", domain.PrefHotelRating, "5.0"},
		{"We need wifi", domain.PrefAmenity, "WiFi"},
		{"must have a pool", domain.PrefAmenity, "Pool"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			items := ExtractPreferences(tt.msg, now)
			require.NotEmpty(t, items)
			var found bool
			for _, it := range items {
				if it.Category == tt.category && it.Value == tt.value {
					found = true
					assert.Equal(t, learnedConfidence, it.Confidence)
					assert.Equal(t, tt.msg, it.Source)
					assert.Equal(t, now, it.LearnedAt)
				}
			}
			assert.True(t, found, "%v", items)
		})
	}
}

func TestExtractPreferencesNone(t *testing.T) {
	assert.Empty(t, ExtractPreferences("Find flights to Denver", time.Now()))
	assert.Empty(t, ExtractPreferences("", time.Now()))
}

func TestExtractPreferencesTruncatesSource(t *testing.T) {
	msg := "I prefer direct flights " + strings.Repeat("please ", 30)
	items := ExtractPreferences(msg, time.Now())
	require.NotEmpty(t, items)
	assert.Len(t, []rune(items[0].Source), maxSourceLen)
}
