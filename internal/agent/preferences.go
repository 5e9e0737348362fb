package agent

import (
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// learnedConfidence is the confidence given to pattern-matched preferences.
const learnedConfidence = 0.9

const maxSourceLen = 100

type preferencePattern struct {
	re       *regexp.Regexp
	category string
	value    string
}

func pref(expr, category, value string) preferencePattern {
	return preferencePattern{re: regexp.MustCompile(expr), category: category, value: value}
}

var preferencePatterns = []preferencePattern{
	pref(`\b(prefer|like|want|always|usually|taking)\b.*\b(morning|early morning|dawn|sunrise)\b.*\bflights?\b`, domain.PrefFlightTime, "morning"),
	pref(`\b(prefer|like|want|always|usually|taking)\b.*\b(afternoon|midday|lunch)\b.*\bflights?\b`, domain.PrefFlightTime, "afternoon"),
	pref(`\b(prefer|like|want|always|usually|taking)\b.*\b(evening|night|late|sunset)\b.*\bflights?\b`, domain.PrefFlightTime, "evening"),

	pref(`\b(prefer|like|want|always|usually)\b.*\bbusiness( class)?\b`, domain.PrefCabinClass, "business"),
	pref(`\b(prefer|like|want|always|usually)\b.*\bfirst[ -]class\b`, domain.PrefCabinClass, "first"),
	pref(`\b(prefer|like|want|always|usually)\b.*\b(economy|coach)\b`, domain.PrefCabinClass, "economy"),

	pref(`\b(prefer|like|want|only)\b.*\b(direct flights?|non-?stop|no stops?)\b`, domain.PrefMaxStops, "0"),
	pref(`\b(don't like|hate|avoid|never)\b.*\b(layovers?|connections?|stops?)\b`, domain.PrefMaxStops, "0"),

	pref(`\b(prefer|like|want|always)\b.*(\b4[ -]star|\bfour[ -]star|\b4\*)`, domain.PrefHotelRating, "4.0"),
	pref(`\b(prefer|like|want|always)\b.*(\b5[ -]star|\bfive[ -]star|\b5\*|\bluxury hotels?\b)`, domain.PrefHotelRating, "5.0"),
	pref(`\b(prefer|like|want|always)\b.*(\b3[ -]star|\bthree[ -]star|\b3\*)`, domain.PrefHotelRating, "3.0"),

	pref(`\b(prefer|like|want|always)\b.*\b(budget|cheap|affordable|inexpensive)\b`, domain.PrefHotelBudget, "budget"),
	pref(`\b(prefer|like|want|always)\b.*\b(luxury|high[ -]end|expensive|premium)\b`, domain.PrefHotelBudget, "luxury"),

	pref(`\b(need|want|must have|prefer)\b.*\b(wifi|wi-fi|internet)\b`, domain.PrefAmenity, "WiFi"),
	pref(`\b(need|want|must have|prefer)\b.*\b(pool|swimming)\b`, domain.PrefAmenity, "Pool"),
	pref(`\b(need|want|must have|prefer)\b.*\b(gym|fitness)\b`, domain.PrefAmenity, "Gym"),
}

// ExtractPreferences finds travel preferences stated in a user message.
// Every match is returned; merging decides which ones stick.
func ExtractPreferences(message string, now time.Time) []domain.PreferenceItem {
	lower := strings.ToLower(message)
	source := truncate(message, maxSourceLen)

	var items []domain.PreferenceItem
	for _, p := range preferencePatterns {
		if !p.re.MatchString(lower) {
			continue
		}
		items = append(items, domain.PreferenceItem{
			Category:   p.category,
			Value:      p.value,
			Confidence: learnedConfidence,
			Source:     source,
			LearnedAt:  now,
		})
	}
	return items
}
