// Package flights defines the flight data model and the upstream sources
// that produce it.
//
// Each source implements Source. The HTTP handlers never talk to a source
// directly: they go through the cache first and through a Guarded source
// (circuit breaker + metrics) on a miss.
package flights

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a source has no data for the identifier.
var ErrNotFound = errors.New("flights: not found")

type (
	// Aircraft describes the airframe operating a flight.
	Aircraft struct {
		Registration string  `json:"registration"`
		Model        string  `json:"model"`
		Age          float64 `json:"age"`
		Image        string  `json:"image,omitempty"`
	}

	// Route holds IATA airport codes.
	Route struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	// Flight is a point-in-time lookup result. Timestamp is epoch milliseconds.
	Flight struct {
		FlightNumber string   `json:"flightNumber"`
		Aircraft     Aircraft `json:"aircraft"`
		Airline      string   `json:"airline"`
		Route        *Route   `json:"route,omitempty"`
		Status       string   `json:"status,omitempty"`
		Timestamp    int64    `json:"timestamp"`
	}

	// Leg is one past flight operated by an airframe.
	Leg struct {
		Date         string `json:"date"`
		FlightNumber string `json:"flightNumber"`
		From         string `json:"from"`
		To           string `json:"to"`
		Duration     string `json:"duration"`
		Airline      string `json:"airline"`
	}

	// AircraftHistory lists recent legs, newest first.
	AircraftHistory struct {
		Registration string `json:"registration"`
		Flights      []Leg  `json:"flights"`
	}
)

// Source produces flight data from some upstream.
type Source interface {
	Name() string
	Flight(ctx context.Context, number string) (*Flight, error)
	AircraftHistory(ctx context.Context, registration string) (*AircraftHistory, error)
	HealthCheck(ctx context.Context) error
}

// StatusError is returned when an upstream answers with an unexpected status.
type StatusError struct {
	Source string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flights: %s: upstream status %d", e.Source, e.Code)
}

// NormalizeNumber canonicalizes a flight number or registration for lookups
// and cache keys.
func NormalizeNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
