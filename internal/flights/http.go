package flights

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSource reads flight data from a REST upstream:
//
//	GET {base}/flights/{number}
//	GET {base}/aircraft/{registration}/history
//	GET {base}/health
//
// A bearer API key is sent when configured.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type HTTPOption func(*HTTPSource)

func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSource) { s.apiKey = key }
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Flight(ctx context.Context, number string) (*Flight, error) {
	var f Flight
	if err := s.getJSON(ctx, "/flights/"+url.PathEscape(NormalizeNumber(number)), &f); err != nil {
		return nil, err
	}
	if f.FlightNumber == "" {
		f.FlightNumber = NormalizeNumber(number)
	}
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	return &f, nil
}

func (s *HTTPSource) AircraftHistory(ctx context.Context, registration string) (*AircraftHistory, error) {
	var h AircraftHistory
	path := "/aircraft/" + url.PathEscape(NormalizeNumber(registration)) + "/history"
	if err := s.getJSON(ctx, path, &h); err != nil {
		return nil, err
	}
	if h.Registration == "" {
		h.Registration = NormalizeNumber(registration)
	}
	return &h, nil
}

func (s *HTTPSource) HealthCheck(ctx context.Context) error {
	resp, err := s.do(ctx, "/health")
	if err != nil {
		return fmt.Errorf("flights: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Source: s.Name(), Code: resp.StatusCode}
	}
	return nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := s.do(ctx, path)
	if err != nil {
		return fmt.Errorf("flights: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Source: s.Name(), Code: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("flights: decode %s: %w", path, err)
	}
	return nil
}

func (s *HTTPSource) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	return s.client.Do(req)
}
