// Package calendar is the client for the external appointment calendar the
// merge engine syncs from. The core only reads each event's id and summary;
// everything else about the calendar product is out of scope.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Event is one appointment event as returned by the calendar source.
type Event struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day"`
}

// EventSource lists appointment events overlapping [startInclusive, endExclusive).
type EventSource interface {
	ListEvents(ctx context.Context, calendarID string, startInclusive, endExclusive time.Time) ([]Event, error)
}

// HTTPSource talks to the calendar sync gateway over HTTP. Transient
// failures (network errors, 5xx) are retried with backoff here so callers
// never loop on fetches themselves.
type HTTPSource struct {
	baseURL     string
	token       string
	client      *http.Client
	retryDelays []time.Duration
}

// NewHTTPSource creates a calendar client for the given gateway base URL.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		baseURL:     baseURL,
		token:       token,
		client:      &http.Client{Timeout: 15 * time.Second},
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second},
	}
}

func (s *HTTPSource) ListEvents(ctx context.Context, calendarID string, startInclusive, endExclusive time.Time) ([]Event, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events?start=%s&end=%s",
		s.baseURL,
		url.PathEscape(calendarID),
		url.QueryEscape(startInclusive.Format(time.RFC3339)),
		url.QueryEscape(endExclusive.Format(time.RFC3339)))

	var lastErr error
	for attempt := 0; attempt <= len(s.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelays[attempt-1]):
			}
		}

		events, retryable, err := s.fetch(ctx, endpoint)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("list events for calendar %s: %w", calendarID, lastErr)
}

func (s *HTTPSource) fetch(ctx context.Context, endpoint string) (events []Event, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out []Event
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, false, fmt.Errorf("decode events: %w", err)
		}
		return out, false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("calendar source returned %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("calendar source returned %d", resp.StatusCode)
	}
}
