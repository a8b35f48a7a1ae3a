package flights

import (
	"context"
	"time"
)

// StaticSource serves a fixed catalogue. It stands in for a real flight
// data provider in development and tests.
type StaticSource struct {
	flights   map[string]Flight
	histories map[string]AircraftHistory
	latency   time.Duration
	now       func() time.Time
}

// StaticOption configures a StaticSource.
type StaticOption func(*StaticSource)

// WithLatency delays every lookup to mimic a remote call.
func WithLatency(d time.Duration) StaticOption {
	return func(s *StaticSource) { s.latency = d }
}

// WithFlight adds or replaces a catalogue entry.
func WithFlight(f Flight) StaticOption {
	return func(s *StaticSource) { s.flights[NormalizeNumber(f.FlightNumber)] = f }
}

// NewStaticSource returns a source preloaded with the demo catalogue.
func NewStaticSource(opts ...StaticOption) *StaticSource {
	s := &StaticSource{
		flights:   make(map[string]Flight),
		histories: make(map[string]AircraftHistory),
		now:       time.Now,
	}

	a320 := Aircraft{Registration: "VT-ANJ", Model: "Airbus A320neo", Age: 3.5}
	for _, f := range []Flight{
		{FlightNumber: "AI202", Aircraft: a320, Airline: "Air India", Route: &Route{From: "DEL", To: "BOM"}, Status: "In Flight"},
		{FlightNumber: "AI101", Aircraft: Aircraft{Registration: "VT-ALJ", Model: "Boeing 777-300ER", Age: 11.2}, Airline: "Air India", Route: &Route{From: "DEL", To: "JFK"}, Status: "Scheduled"},
		{FlightNumber: "6E2134", Aircraft: Aircraft{Registration: "VT-IJA", Model: "Airbus A321neo", Age: 2.1}, Airline: "IndiGo", Route: &Route{From: "BLR", To: "DEL"}, Status: "Landed"},
		{FlightNumber: "UK955", Aircraft: Aircraft{Registration: "VT-TNE", Model: "Boeing 787-9", Age: 4.0}, Airline: "Vistara", Route: &Route{From: "BOM", To: "DEL"}, Status: "Delayed"},
	} {
		s.flights[f.FlightNumber] = f
	}

	s.histories["VT-ANJ"] = AircraftHistory{
		Registration: "VT-ANJ",
		Flights: []Leg{
			{Date: "2026-10-16", FlightNumber: "AI202", From: "DEL", To: "BOM", Duration: "2h 10m", Airline: "Air India"},
			{Date: "2026-10-16", FlightNumber: "AI203", From: "BOM", To: "DEL", Duration: "2h 05m", Airline: "Air India"},
			{Date: "2026-10-15", FlightNumber: "AI865", From: "DEL", To: "CCU", Duration: "2h 20m", Airline: "Air India"},
		},
	}

	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Flight(ctx context.Context, number string) (*Flight, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	f, ok := s.flights[NormalizeNumber(number)]
	if !ok {
		return nil, ErrNotFound
	}
	f.Timestamp = s.now().UnixMilli()
	return &f, nil
}

func (s *StaticSource) AircraftHistory(ctx context.Context, registration string) (*AircraftHistory, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	h, ok := s.histories[NormalizeNumber(registration)]
	if !ok {
		return nil, ErrNotFound
	}
	h.Flights = append([]Leg(nil), h.Flights...)
	return &h, nil
}

func (s *StaticSource) HealthCheck(_ context.Context) error { return nil }

func (s *StaticSource) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
