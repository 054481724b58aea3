package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/shego/internal/auth"
	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/handler"
	"github.com/example/shego/internal/booking/repository"
	"github.com/example/shego/internal/booking/service"
)

const requestBody = `{
  "passengerId": "645f3b1a9f1b2c0012345672",
  "driverId": null,
  "pickupLocation": {"type": "Point", "coordinates": [-0.1257, 51.5085], "address": "10 Downing Street"},
  "dropoffLocation": {"type": "Point", "coordinates": [-0.1426, 51.5010], "address": "Buckingham Palace"},
  "fare": 25.75,
  "status": "pending",
  "paymentMethod": "credit_card",
  "requestedAt": "2024-05-01T10:00:00Z",
  "distanceKm": 4.8,
  "durationMinutes": 25
}`

type fixture struct {
	server *httptest.Server
	svc    *service.Service
	repo   *repository.MemoryRepository
}

func newFixture(t *testing.T, secret string) fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	drivers := repository.NewMemoryDriverDirectory(map[string]domain.DriverInfo{
		"d1": {Name: "Asha", Vehicle: "Toyota Prius", Plate: "AB12 CDE", Phone: "+44 20 7946 0000"},
	})
	svc := service.New(repo, nil, drivers, nil, repository.NewMemoryIdempotencyRepo(), nil)
	srv := httptest.NewServer(handler.NewHTTP(svc, nil, secret, 3).Router())
	t.Cleanup(srv.Close)
	return fixture{server: srv, svc: svc, repo: repo}
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createBooking(t *testing.T, f fixture) string {
	t.Helper()
	resp := post(t, f.server.URL+"/api/booking/request", requestBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "Booking created successfully", body["message"])
	id, _ := body["bookingId"].(string)
	require.NotEmpty(t, id)
	return id
}

func getStatus(t *testing.T, f fixture, id string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + "/api/booking/status/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCreateThenStatusIsPending(t *testing.T) {
	f := newFixture(t, "")
	id := createBooking(t, f)

	code, body := getStatus(t, f, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pending", body["status"])
	_, hasDriver := body["driver"]
	require.False(t, hasDriver)

	stored, err := f.repo.GetBookingByID(context.Background(), id)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), stored.RequestedAt, time.Minute)
}

func TestCreateMissingFareIsRejected(t *testing.T) {
	f := newFixture(t, "")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(requestBody), &payload))
	delete(payload, "fare")
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	resp := post(t, f.server.URL+"/api/booking/request", string(raw), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decode(t, resp)["error"], "fare")

	hits, err := f.repo.NearbyBookings(context.Background(), domain.StatusPending, domain.GeoPoint{Longitude: -0.1257, Latitude: 51.5085}, 100, 0)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestCreateRejectsPresetDriverAndBadJSON(t *testing.T) {
	f := newFixture(t, "")
	body := strings.Replace(requestBody, `"driverId": null`, `"driverId": "d1"`, 1)
	resp := post(t, f.server.URL+"/api/booking/request", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decode(t, resp)["error"], "driverId")

	resp = post(t, f.server.URL+"/api/booking/request", `{"passengerId":`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateWithIdempotencyKey(t *testing.T) {
	f := newFixture(t, "")
	header := http.Header{"Idempotency-Key": []string{"abc"}}
	first := decode(t, post(t, f.server.URL+"/api/booking/request", requestBody, header))
	second := decode(t, post(t, f.server.URL+"/api/booking/request", requestBody, header))
	require.Equal(t, first["bookingId"], second["bookingId"])
}

func TestStatusUnknownBooking(t *testing.T) {
	f := newFixture(t, "")
	code, body := getStatus(t, f, "unknown")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "Booking not found", body["error"])
}

func TestAcceptedStatusCarriesDriver(t *testing.T) {
	f := newFixture(t, "")
	id := createBooking(t, f)

	resp := post(t, f.server.URL+"/api/booking/"+id+"/accept", `{"driverId":"d1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, body := getStatus(t, f, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "accepted", body["status"])
	driver, ok := body["driver"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Asha", driver["name"])
	require.Equal(t, "Toyota Prius", driver["vehicle"])
	require.Equal(t, "AB12 CDE", driver["plate"])
	require.Equal(t, "+44 20 7946 0000", driver["phone"])

	resp = post(t, f.server.URL+"/api/booking/"+id+"/accept", `{"driverId":"d2"}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTransitionsRequireDriverToken(t *testing.T) {
	const secret = "secret"
	f := newFixture(t, secret)
	id := createBooking(t, f)

	resp := post(t, f.server.URL+"/api/booking/"+id+"/accept", ``, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	passenger, err := auth.Issue(secret, "p1", auth.RolePassenger, time.Minute)
	require.NoError(t, err)
	resp = post(t, f.server.URL+"/api/booking/"+id+"/accept", ``, http.Header{"Authorization": []string{"Bearer " + passenger}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	driver, err := auth.Issue(secret, "d1", auth.RoleDriver, time.Minute)
	require.NoError(t, err)
	bearer := http.Header{"Authorization": []string{"Bearer " + driver}}
	resp = post(t, f.server.URL+"/api/booking/"+id+"/accept", ``, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "d1", decode(t, resp)["driverId"])

	resp = post(t, f.server.URL+"/api/booking/"+id+"/start", ``, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, f.server.URL+"/api/booking/"+id+"/cancel", ``, bearer)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = post(t, f.server.URL+"/api/booking/"+id+"/complete", ``, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, body := getStatus(t, f, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["status"])
}

func TestCancelRequiresOwnership(t *testing.T) {
	const secret = "secret"
	f := newFixture(t, secret)
	id := createBooking(t, f)
	bearerFor := func(subject, role string) http.Header {
		token, err := auth.Issue(secret, subject, role, time.Minute)
		require.NoError(t, err)
		return http.Header{"Authorization": []string{"Bearer " + token}}
	}
	cancelURL := f.server.URL + "/api/booking/" + id + "/cancel"

	resp := post(t, cancelURL, ``, bearerFor("someone-else", auth.RolePassenger))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = post(t, cancelURL, ``, bearerFor("d9", auth.RoleDriver))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	code, body := getStatus(t, f, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pending", body["status"])

	resp = post(t, cancelURL, ``, bearerFor("645f3b1a9f1b2c0012345672", auth.RolePassenger))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cancelled", decode(t, resp)["status"])
}

func TestNearbyEndpoint(t *testing.T) {
	f := newFixture(t, "")
	id := createBooking(t, f)

	resp, err := http.Get(f.server.URL + "/api/booking/nearby?lng=-0.1257&lat=51.5085&radius_km=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Bookings []struct {
			ID             string `json:"id"`
			PickupLocation struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"pickupLocation"`
		} `json:"bookings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Bookings, 1)
	require.Equal(t, id, body.Bookings[0].ID)
	require.Equal(t, []float64{-0.1257, 51.5085}, body.Bookings[0].PickupLocation.Coordinates)

	bad, err := http.Get(f.server.URL + "/api/booking/nearby?lng=x&lat=1")
	require.NoError(t, err)
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestGetBookingReturnsFullRecord(t *testing.T) {
	f := newFixture(t, "")
	id := createBooking(t, f)

	resp, err := http.Get(f.server.URL + "/api/booking/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	require.Equal(t, "pending", body["status"])
	require.Nil(t, body["driverId"])
	require.Equal(t, 25.75, body["fare"])
	require.Equal(t, "credit_card", body["paymentMethod"])
}
