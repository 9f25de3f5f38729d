package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const jsonAPI = "application/vnd.api+json"

// APIError is a non-2xx answer from the Reservio API
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reservio API %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is a rate-limited HTTP client for the Reservio v2 API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Reservio client allowing rps requests per second.
func NewClient(baseURL, accessToken string, rps float64) *Client {
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("reservio marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", jsonAPI)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", jsonAPI)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reservio %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reservio read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("reservio parse %s: %w", path, err)
	}
	return nil
}

// --- Reservio API types ---

type resource[A any] struct {
	ID         string `json:"id,omitempty"`
	Type       string `json:"type"`
	Attributes A      `json:"attributes"`
}

type document[T any] struct {
	Data T `json:"data"`
}

type serviceAttributes struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
}

type slotAttributes struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Service is a bookable service of a business
type Service struct {
	ID   string
	Name string
}

// Booking is the appointment sent to CreateBooking
type Booking struct {
	ServiceID string
	Name      string
	Email     string
	Phone     string
	Note      string
	Start     time.Time
	End       time.Time
}

func businessPath(unit, rest string) string {
	return "/businesses/" + url.PathEscape(unit) + rest
}

// --- API methods ---

// ListServices returns the services offered by a business unit.
func (c *Client) ListServices(ctx context.Context, unit string) ([]Service, error) {
	var doc document[[]resource[serviceAttributes]]
	if err := c.do(ctx, http.MethodGet, businessPath(unit, "/services"), nil, nil, &doc); err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(doc.Data))
	for _, r := range doc.Data {
		out = append(out, Service{ID: r.ID, Name: r.Attributes.Name})
	}
	return out, nil
}

// ListSlots returns the free start times of a service on the given day.
func (c *Client) ListSlots(ctx context.Context, unit, serviceID string, day time.Time) ([]time.Time, error) {
	d := day.Format("2006-01-02")
	query := url.Values{
		"filter[from]":      {d},
		"filter[to]":        {d},
		"filter[serviceId]": {serviceID},
	}
	var doc document[[]resource[slotAttributes]]
	if err := c.do(ctx, http.MethodGet, businessPath(unit, "/availability/booking-slots"), query, nil, &doc); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(doc.Data))
	for _, r := range doc.Data {
		out = append(out, r.Attributes.Start)
	}
	return out, nil
}

type relation[T any] struct {
	Data T `json:"data"`
}

type bookingPayload struct {
	Type       string `json:"type"`
	Attributes struct {
		BookedClientName string `json:"bookedClientName"`
		Note             string `json:"note"`
	} `json:"attributes"`
	Relationships struct {
		Event  relation[eventPayload]              `json:"event"`
		Client relation[resource[clientAttributes]] `json:"client"`
	} `json:"relationships"`
}

type eventPayload struct {
	Type       string `json:"type"`
	Attributes struct {
		Start     string `json:"start"`
		End       string `json:"end"`
		Name      string `json:"name"`
		EventType string `json:"eventType"`
	} `json:"attributes"`
	Relationships struct {
		Service relation[resource[struct{}]] `json:"service"`
	} `json:"relationships"`
}

type clientAttributes struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CreateBooking books an appointment and returns the booking id.
func (c *Client) CreateBooking(ctx context.Context, unit string, b Booking) (string, error) {
	var p bookingPayload
	p.Type = "booking"
	p.Attributes.BookedClientName = b.Name
	p.Attributes.Note = b.Note

	ev := &p.Relationships.Event.Data
	ev.Type = "event"
	ev.Attributes.Start = b.Start.Format(time.RFC3339)
	ev.Attributes.End = b.End.Format(time.RFC3339)
	ev.Attributes.Name = b.Name
	ev.Attributes.EventType = "appointment"
	ev.Relationships.Service.Data = resource[struct{}]{ID: b.ServiceID, Type: "service"}

	p.Relationships.Client.Data = resource[clientAttributes]{
		Type:       "client",
		Attributes: clientAttributes{Name: b.Name, Email: b.Email, Phone: b.Phone},
	}

	var created document[resource[json.RawMessage]]
	if err := c.do(ctx, http.MethodPost, businessPath(unit, "/bookings"), nil, document[bookingPayload]{Data: p}, &created); err != nil {
		return "", err
	}
	return created.Data.ID, nil
}
