package domain

import (
	"fmt"
	"math"
	"time"
)

// GeoPoint is a coordinate pair with a human readable label. The address is
// supplied by the passenger and is never reconciled with the coordinates.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Address   string  `json:"address"`
}

// CheckCoordinates verifies the WGS 84 ranges.
func (p GeoPoint) CheckCoordinates() error {
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Longitude)
	}
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Latitude)
	}
	return nil
}

// HaversineKM returns the great-circle distance between two points in kilometres.
func HaversineKM(a, b GeoPoint) float64 {
	const earthRadiusKM = 6371.0
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dlat := toRadians(b.Latitude - a.Latitude)
	dlon := toRadians(b.Longitude - a.Longitude)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// DriverInfo is the public part of a driver profile shown to the passenger.
type DriverInfo struct {
	Name    string `json:"name"`
	Vehicle string `json:"vehicle"`
	Plate   string `json:"plate"`
	Phone   string `json:"phone"`
}

// PaymentMethod tags how the passenger pays.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentPayPal     PaymentMethod = "paypal"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentPayPal:
		return true
	default:
		return false
	}
}

// Booking is a persisted ride request.
type Booking struct {
	ID              string
	PassengerID     string
	DriverID        string
	Driver          *DriverInfo
	Pickup          GeoPoint
	Dropoff         GeoPoint
	Fare            float64
	Status          Status
	PaymentMethod   PaymentMethod
	RequestedAt     time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	DistanceKm      float64
	DurationMinutes float64
	UpdatedAt       time.Time
	Version         int64
}

// Accept moves a pending booking to accepted and assigns the driver.
func (b Booking) Accept(driverID string, driver *DriverInfo, at time.Time) (Booking, error) {
	if driverID == "" {
		return Booking{}, NewValidationError("driverId", "is required")
	}
	if err := b.guard(StatusAccepted); err != nil {
		return Booking{}, err
	}
	b.Status = StatusAccepted
	b.DriverID = driverID
	if driver != nil {
		d := *driver
		b.Driver = &d
	}
	b.UpdatedAt = at
	return b, nil
}

// Start moves an accepted booking to ongoing.
func (b Booking) Start(at time.Time) (Booking, error) {
	if err := b.guard(StatusOngoing); err != nil {
		return Booking{}, err
	}
	b.Status = StatusOngoing
	b.StartedAt = &at
	b.UpdatedAt = at
	return b, nil
}

// Complete moves an ongoing booking to completed.
func (b Booking) Complete(at time.Time) (Booking, error) {
	if err := b.guard(StatusCompleted); err != nil {
		return Booking{}, err
	}
	b.Status = StatusCompleted
	b.CompletedAt = &at
	b.UpdatedAt = at
	return b, nil
}

// Cancel moves a pending or accepted booking to cancelled.
func (b Booking) Cancel(at time.Time) (Booking, error) {
	if err := b.guard(StatusCancelled); err != nil {
		return Booking{}, err
	}
	b.Status = StatusCancelled
	b.CancelledAt = &at
	b.UpdatedAt = at
	return b, nil
}

func (b Booking) guard(next Status) error {
	if b.Status == next || !b.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
	}
	return nil
}

// CheckInvariants verifies that fields required by the current status are set.
func (b Booking) CheckInvariants() error {
	if !b.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, b.Status)
	}
	if b.Status.DriverAssigned() && b.DriverID == "" {
		return fmt.Errorf("%w: status %s requires driverId", ErrInvariantViolation, b.Status)
	}
	if (b.Status == StatusOngoing || b.Status == StatusCompleted) && b.StartedAt == nil {
		return fmt.Errorf("%w: status %s requires startedAt", ErrInvariantViolation, b.Status)
	}
	if b.Status == StatusCompleted && b.CompletedAt == nil {
		return fmt.Errorf("%w: status %s requires completedAt", ErrInvariantViolation, b.Status)
	}
	return nil
}

// CheckUpdate verifies that next is a legal successor of prev. Stores call it
// inside their atomic section so a rejected write never becomes visible.
func CheckUpdate(prev, next Booking) error {
	switch {
	case next.ID != prev.ID:
		return immutable("id")
	case next.PassengerID != prev.PassengerID:
		return immutable("passengerId")
	case next.Pickup != prev.Pickup:
		return immutable("pickup")
	case next.Dropoff != prev.Dropoff:
		return immutable("dropoff")
	case next.Fare != prev.Fare:
		return immutable("fare")
	case next.PaymentMethod != prev.PaymentMethod:
		return immutable("paymentMethod")
	case !next.RequestedAt.Equal(prev.RequestedAt):
		return immutable("requestedAt")
	case next.DistanceKm != prev.DistanceKm || next.DurationMinutes != prev.DurationMinutes:
		return immutable("estimates")
	case prev.DriverID != "" && next.DriverID != prev.DriverID:
		return immutable("driverId")
	}
	if !prev.Status.CanTransitionTo(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	return next.CheckInvariants()
}

func immutable(field string) error {
	return fmt.Errorf("%w: %s is immutable", ErrInvariantViolation, field)
}

// Clone returns a deep copy so callers cannot alias stored pointers.
func (b Booking) Clone() Booking {
	b.StartedAt = cloneTime(b.StartedAt)
	b.CompletedAt = cloneTime(b.CompletedAt)
	b.CancelledAt = cloneTime(b.CancelledAt)
	if b.Driver != nil {
		d := *b.Driver
		b.Driver = &d
	}
	return b
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
