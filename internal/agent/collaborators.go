// Package agent runs the classify, search and respond pipeline for one user
// message and provides the language-model backed collaborators it calls.
package agent

import (
	"context"
	"fmt"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/llm"
)

// Classifier reads a user message and decides what to do with it.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// FlightSearcher finds flights.
type FlightSearcher interface {
	SearchFlights(ctx context.Context, p domain.FlightParams) (domain.FlightSearch, error)
}

// HotelSearcher finds hotels.
type HotelSearcher interface {
	SearchHotels(ctx context.Context, p domain.HotelParams) (domain.HotelSearch, error)
}

// Responder writes the assistant's reply.
type Responder interface {
	Respond(ctx context.Context, rc ResponseContext) (string, error)
}

// Summarizer condenses older conversation turns.
type Summarizer interface {
	Summarize(ctx context.Context, turns []domain.Turn) (string, error)
}

// Completer is the part of an LLM client the collaborators need.
// Both llm.Client and FailoverClient satisfy it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// ClassifyInput is what the classifier sees.
type ClassifyInput struct {
	Message     string
	History     []domain.Turn
	Summaries   []domain.Summary
	Preferences domain.Preferences
}

// Classification is the classifier's verdict.
type Classification struct {
	Intent       domain.Intent
	FlightParams *domain.FlightParams
	HotelParams  *domain.HotelParams
	Selection    *domain.Selection
	IsCorrection bool
}

// ResponseContext is everything the responder may talk about.
type ResponseContext struct {
	Intent      domain.Intent
	Message     string
	History     []domain.Turn
	Summaries   []domain.Summary
	Flights     []domain.FlightResult
	Hotels      []domain.HotelResult
	FlightError string
	HotelError  string

	Selection        *domain.Selection
	SelectionOutcome string // "pending" | "confirmed" | "ignored" when Selection is set
	SelectedFlightID string
	PendingFlightID  string
	SelectedHotelID  string
	PendingHotelID   string

	PreferenceSummary string
}

// CollaboratorError is a failed call to a classifier, search provider,
// responder or summarizer.
type CollaboratorError struct {
	Stage string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
