package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/estimate/handler"
	"github.com/example/shego/internal/estimate/service"
	"github.com/example/shego/internal/location"
)

func TestEstimateEndpoint(t *testing.T) {
	observer := location.NewStreamObserver(0)
	observer.Update("d1", domain.GeoPoint{Longitude: -0.1258, Latitude: 51.5086}, 0, 0)
	router := handler.New(service.New(observer, service.Pricing{})).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/estimate?pickup_lat=51.5085&pickup_lng=-0.1257&dropoff_lat=51.5010&dropoff_lng=-0.1426", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Greater(t, body["distanceKm"].(float64), 1.0)
	require.Greater(t, body["fare"].(float64), 0.0)
	require.Equal(t, "d1", body["driverId"])
	require.Contains(t, body, "driverEtaSec")
}

func TestEstimateRejectsBadCoordinates(t *testing.T) {
	router := handler.New(service.New(nil, service.Pricing{})).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/estimate?pickup_lat=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/estimate?pickup_lat=95&pickup_lng=0&dropoff_lat=0&dropoff_lng=0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
