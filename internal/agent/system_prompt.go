package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

const classifierGuidelines = `You are a travel planning coordinator. Understand the user's travel intent,
extract search parameters and classify the request.

Distinguish SELECTING (the user indicates a preference for an option) from BOOKING
(an explicit confirmation to proceed).

Rules:
- Convert relative dates ("tomorrow", "next weekend", "in 2 weeks") to YYYY-MM-DD.
- Normalize budgets to USD.
- When the user corrects earlier input ("Actually I meant Paris"), set "is_correction": true.
- "direct" or "non-stop" means max_stops 0; "1 stop" means 1; leave it out when not mentioned.

Respond with a single JSON object:
{
  "intent": "flight" | "hotel" | "combined" | "refine" | "other",
  "flight_params": {"origin", "destination", "depart_date", "return_date", "passengers", "cabin_class", "max_stops"},
  "hotel_params": {"city", "check_in", "check_out", "guests", "budget", "min_rating"},
  "selected_item": {"type": "flight" | "hotel", "identifier": "...", "action": "select" | "book"},
  "is_correction": false
}
Leave out anything that does not apply.

Examples:
"Direct flights to Paris tomorrow" -> {"intent": "flight", "flight_params": {"destination": "Paris", "depart_date": "<tomorrow>", "max_stops": 0}}
"Find me hotels in Miami for 2 guests" -> {"intent": "hotel", "hotel_params": {"city": "Miami", "guests": 2}}
"I'll take the JetBlue flight" -> {"intent": "other", "selected_item": {"type": "flight", "identifier": "JetBlue", "action": "select"}}
"Yes, book it" -> {"intent": "other", "selected_item": {"type": "flight", "identifier": "confirmed", "action": "book"}}

Only respond with valid JSON.`

const responderGuidelines = `You are a friendly travel assistant. Write a short, conversational reply (2-4 sentences).

- Summarize the search results and highlight the best 2-3 options by name and price.
- After a selection, confirm the choice and ask whether to proceed with booking.
- Only confirm a booking when the user has explicitly confirmed one.
- If a search failed, say so plainly and suggest trying again.
- Never book automatically.`

const summarizerGuidelines = `You summarize travel planning conversations. In 2-3 sentences capture what the
user searched for (destinations, dates, preferences), key results, and any selections made.
Focus on facts, not pleasantries.`

// BuildClassifierPrompt constructs the classifier's system prompt.
func BuildClassifierPrompt(now time.Time, prefs domain.Preferences) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))
	b.WriteString(classifierGuidelines)
	if !prefs.Empty() {
		fmt.Fprintf(&b, "\n\nKnown user preferences: %s\n", prefs.Summary())
	}
	return b.String()
}

// BuildClassifierMessage renders the recent conversation and the new message.
func BuildClassifierMessage(in ClassifyInput) string {
	var b strings.Builder

	if ctx := conversationContext(in.Summaries, in.History, 3); ctx != "" {
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	b.WriteString("Current user message: ")
	b.WriteString(in.Message)
	return b.String()
}

// BuildResponsePrompt renders the facts the responder should talk about.
func BuildResponsePrompt(rc ResponseContext) string {
	var parts []string

	if ctx := conversationContext(rc.Summaries, rc.History, 5); ctx != "" {
		parts = append(parts, ctx)
	}
	if rc.Message != "" {
		parts = append(parts, "User request: "+rc.Message)
	}
	if rc.PreferenceSummary != "" {
		parts = append(parts, "Known preferences: "+rc.PreferenceSummary)
	}

	if rc.Selection != nil {
		id := rc.Selection.Identifier
		switch rc.SelectionOutcome {
		case "pending":
			parts = append(parts, fmt.Sprintf("User is SELECTING %s %s (not booking yet). Ask whether to proceed with booking.", rc.Selection.Kind, id))
		case "confirmed":
			parts = append(parts, fmt.Sprintf("User has CONFIRMED the %s booking. Say the booking is confirmed.", rc.Selection.Kind))
		}
	}
	if rc.SelectedFlightID != "" && rc.PendingFlightID == "" && len(rc.Flights) == 0 {
		parts = append(parts, "User previously confirmed flight "+rc.SelectedFlightID+".")
	}
	if rc.SelectedHotelID != "" && rc.PendingHotelID == "" && len(rc.Hotels) == 0 {
		parts = append(parts, "User previously confirmed hotel "+rc.SelectedHotelID+".")
	}

	if len(rc.Flights) > 0 {
		var lines []string
		for _, f := range rc.Flights[:min(3, len(rc.Flights))] {
			lines = append(lines, fmt.Sprintf("- %s %s: $%.2f (%d stops, departs %s)", f.Airline, f.FlightNumber, f.Price, f.Stops, clock(f.DepartureTime)))
		}
		parts = append(parts, fmt.Sprintf("Available flights (%d total):\n%s", len(rc.Flights), strings.Join(lines, "\n")))
	}
	if len(rc.Hotels) > 0 {
		var lines []string
		for _, h := range rc.Hotels[:min(3, len(rc.Hotels))] {
			lines = append(lines, fmt.Sprintf("- %s: $%.2f/night (%.1f stars, %.1f/10)", h.Name, h.PricePerNight, h.StarRating, h.ReviewScore))
		}
		parts = append(parts, fmt.Sprintf("Available hotels (%d total):\n%s", len(rc.Hotels), strings.Join(lines, "\n")))
	}
	if rc.FlightError != "" {
		parts = append(parts, "The flight search failed: "+rc.FlightError)
	}
	if rc.HotelError != "" {
		parts = append(parts, "The hotel search failed: "+rc.HotelError)
	}

	parts = append(parts, "Generate a helpful, friendly response to the user.")
	return strings.Join(parts, "\n\n")
}

func conversationContext(summaries []domain.Summary, history []domain.Turn, recent int) string {
	var parts []string
	if len(summaries) > 0 {
		var lines []string
		for _, s := range summaries {
			lines = append(lines, fmt.Sprintf("[Earlier conversation - %d messages]: %s", s.TurnCount, s.Text))
		}
		parts = append(parts, "Previous conversation context:\n"+strings.Join(lines, "\n"))
	}
	if len(history) > 0 {
		var lines []string
		for _, t := range history[max(0, len(history)-recent):] {
			lines = append(lines, fmt.Sprintf("%s: %s", t.Sender, t.Text))
		}
		parts = append(parts, "Recent conversation:\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// clock returns the HH:MM part of an RFC 3339 timestamp.
func clock(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Format("15:04")
	}
	return "N/A"
}
