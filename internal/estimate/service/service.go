package service

import (
	"context"
	"math"
	"time"

	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/location"
)

// Repository exposes read methods for location snapshots.
type Repository interface {
	All() []location.Snapshot
}

// Pricing holds the tariff used to approximate a fare.
type Pricing struct {
	BaseFare       float64
	PerKm          float64
	PerMinute      float64
	MinimumFare    float64
	TripSpeedKmh   float64
	PickupSpeedKmh float64
}

// DefaultPricing is used for zero fields.
var DefaultPricing = Pricing{
	BaseFare:       2.50,
	PerKm:          1.75,
	PerMinute:      0.45,
	MinimumFare:    5,
	TripSpeedKmh:   35,
	PickupSpeedKmh: 30,
}

// Quote is a pre-booking estimate. Values are rounded to two decimals so they
// can be sent back unchanged in a booking request.
type Quote struct {
	DistanceKm      float64 `json:"distanceKm"`
	DurationMinutes float64 `json:"durationMinutes"`
	Fare            float64 `json:"fare"`
}

// Service calculates quotes and ETAs using haversine distance and average speeds.
type Service struct {
	repo    Repository
	pricing Pricing
}

// New creates an estimate service; repo may be nil when no driver feed is wired.
func New(repo Repository, pricing Pricing) *Service {
	if pricing.BaseFare == 0 {
		pricing.BaseFare = DefaultPricing.BaseFare
	}
	if pricing.PerKm == 0 {
		pricing.PerKm = DefaultPricing.PerKm
	}
	if pricing.PerMinute == 0 {
		pricing.PerMinute = DefaultPricing.PerMinute
	}
	if pricing.MinimumFare == 0 {
		pricing.MinimumFare = DefaultPricing.MinimumFare
	}
	if pricing.TripSpeedKmh <= 0 {
		pricing.TripSpeedKmh = DefaultPricing.TripSpeedKmh
	}
	if pricing.PickupSpeedKmh <= 0 {
		pricing.PickupSpeedKmh = DefaultPricing.PickupSpeedKmh
	}
	return &Service{repo: repo, pricing: pricing}
}

// Quote returns distance, duration and fare for a trip.
func (s *Service) Quote(_ context.Context, pickup, dropoff domain.GeoPoint) Quote {
	km := domain.HaversineKM(pickup, dropoff)
	minutes := km / s.pricing.TripSpeedKmh * 60
	fare := s.pricing.BaseFare + km*s.pricing.PerKm + minutes*s.pricing.PerMinute
	if fare < s.pricing.MinimumFare {
		fare = s.pricing.MinimumFare
	}
	return Quote{DistanceKm: round2(km), DurationMinutes: round2(minutes), Fare: round2(fare)}
}

// EstimateDriverETA returns the fastest driver estimate from available
// snapshots. ok is false when no driver is known.
func (s *Service) EstimateDriverETA(_ context.Context, pickup domain.GeoPoint) (eta time.Duration, driverID string, ok bool) {
	if s.repo == nil {
		return 0, "", false
	}
	for _, snap := range s.repo.All() {
		hours := domain.HaversineKM(snap.Point, pickup) / s.pricing.PickupSpeedKmh
		d := time.Duration(hours * float64(time.Hour)).Round(time.Second)
		if !ok || d < eta {
			eta, driverID, ok = d, snap.DriverID, true
		}
	}
	return eta, driverID, ok
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
