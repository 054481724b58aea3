package service

import (
	"math"
	"strings"

	"github.com/example/shego/internal/booking/domain"
)

func validateCreate(req CreateBookingRequest) error {
	if strings.TrimSpace(req.PassengerID) == "" {
		return domain.NewValidationError("passengerId", "is required")
	}
	if err := validateLocation("pickupLocation", req.Pickup); err != nil {
		return err
	}
	if err := validateLocation("dropoffLocation", req.Dropoff); err != nil {
		return err
	}
	if err := validateAmount("fare", req.Fare); err != nil {
		return err
	}
	if !req.PaymentMethod.Valid() {
		return domain.NewValidationError("paymentMethod", "must be one of credit_card, paypal")
	}
	if err := validateAmount("distanceKm", req.DistanceKm); err != nil {
		return err
	}
	return validateAmount("durationMinutes", req.DurationMinutes)
}

func validateLocation(field string, p domain.GeoPoint) error {
	if strings.TrimSpace(p.Address) == "" {
		return domain.NewValidationError(field+".address", "is required")
	}
	if err := p.CheckCoordinates(); err != nil {
		return domain.NewValidationError(field+".coordinates", err.Error())
	}
	return nil
}

func validateAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.NewValidationError(field, "must be a finite number")
	}
	if v < 0 {
		return domain.NewValidationError(field, "must not be negative")
	}
	return nil
}
