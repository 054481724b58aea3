// Package bookingclient talks to the booking API over HTTP and watches a
// booking until a driver accepts it.
package bookingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("booking not found")
	ErrValidation = errors.New("request rejected")
	// ErrTransient marks failures worth retrying: transport errors, 5xx and 429.
	ErrTransient      = errors.New("transient failure")
	ErrWatchExhausted = errors.New("watch exhausted")
)

type Location struct {
	Longitude float64
	Latitude  float64
	Address   string
}

type CreateRequest struct {
	PassengerID     string
	Pickup          Location
	Dropoff         Location
	Fare            float64
	PaymentMethod   string
	DistanceKm      float64
	DurationMinutes float64
}

type Driver struct {
	Name    string `json:"name"`
	Vehicle string `json:"vehicle"`
	Plate   string `json:"plate"`
	Phone   string `json:"phone"`
}

type Status struct {
	Status string  `json:"status"`
	Driver *Driver `json:"driver,omitempty"`
}

type Estimate struct {
	DistanceKm      float64  `json:"distanceKm"`
	DurationMinutes float64  `json:"durationMinutes"`
	Fare            float64  `json:"fare"`
	DriverETASec    *float64 `json:"driverEtaSec,omitempty"`
	DriverID        string   `json:"driverId,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New builds a client for baseURL. A nil httpClient gets a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// WithToken returns a copy that sends a bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type geoJSON struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Address     string    `json:"address"`
}

func toGeoJSON(l Location) geoJSON {
	return geoJSON{Type: "Point", Coordinates: []float64{l.Longitude, l.Latitude}, Address: l.Address}
}

type createBody struct {
	PassengerID     string  `json:"passengerId"`
	PickupLocation  geoJSON `json:"pickupLocation"`
	DropoffLocation geoJSON `json:"dropoffLocation"`
	Fare            float64 `json:"fare"`
	PaymentMethod   string  `json:"paymentMethod"`
	DistanceKm      float64 `json:"distanceKm"`
	DurationMinutes float64 `json:"durationMinutes"`
}

// CreateBooking submits a ride request and returns the new booking id.
// A non-empty idempotencyKey makes retries of the same request safe.
func (c *Client) CreateBooking(ctx context.Context, idempotencyKey string, req CreateRequest) (string, error) {
	payload, err := json.Marshal(createBody{
		PassengerID:     req.PassengerID,
		PickupLocation:  toGeoJSON(req.Pickup),
		DropoffLocation: toGeoJSON(req.Dropoff),
		Fare:            req.Fare,
		PaymentMethod:   req.PaymentMethod,
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return "", fmt.Errorf("encode booking request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/booking/request", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var out struct {
		Message   string `json:"message"`
		BookingID string `json:"bookingId"`
	}
	if err := c.do(httpReq, &out); err != nil {
		return "", err
	}
	if out.BookingID == "" {
		return "", fmt.Errorf("%w: response without bookingId", ErrTransient)
	}
	return out.BookingID, nil
}

// GetStatus reads the current status of a booking.
func (c *Client) GetStatus(ctx context.Context, bookingID string) (Status, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/booking/status/"+url.PathEscape(bookingID), nil)
	if err != nil {
		return Status{}, err
	}
	var out Status
	if err := c.do(httpReq, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// Cancel moves a pending or accepted booking to cancelled.
func (c *Client) Cancel(ctx context.Context, bookingID string) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/booking/"+url.PathEscape(bookingID)+"/cancel", nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, nil)
}

// Estimate asks for a fare and ETA quote between two points.
func (c *Client) Estimate(ctx context.Context, pickup, dropoff Location) (Estimate, error) {
	q := url.Values{}
	q.Set("pickup_lat", strconv.FormatFloat(pickup.Latitude, 'f', -1, 64))
	q.Set("pickup_lng", strconv.FormatFloat(pickup.Longitude, 'f', -1, 64))
	q.Set("dropoff_lat", strconv.FormatFloat(dropoff.Latitude, 'f', -1, 64))
	q.Set("dropoff_lng", strconv.FormatFloat(dropoff.Longitude, 'f', -1, 64))
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/estimate?"+q.Encode(), nil)
	if err != nil {
		return Estimate{}, err
	}
	var out Estimate
	if err := c.do(httpReq, &out); err != nil {
		return Estimate{}, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransient, err)
		}
		return nil
	}

	msg := errorMessage(body, resp.Status)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	default:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	}
}

func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return fallback
}
