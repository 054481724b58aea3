package domain

import "fmt"

// ActorRole names who is acting on a booking. The values match the token roles.
type ActorRole string

const (
	ActorSystem    ActorRole = ""
	ActorPassenger ActorRole = "passenger"
	ActorDriver    ActorRole = "driver"
	ActorOps       ActorRole = "ops"
)

// Actor identifies the caller behind a lifecycle request. The zero Actor is an
// internal caller with no token, as when authentication is disabled.
type Actor struct {
	Role ActorRole
	ID   string
}

// CanCancel returns nil when a may cancel b. Passengers may cancel their own
// bookings and drivers only those assigned to them.
func (a Actor) CanCancel(b Booking) error {
	switch a.Role {
	case ActorSystem, ActorOps:
		return nil
	case ActorPassenger:
		if a.ID == "" || a.ID != b.PassengerID {
			return fmt.Errorf("%w: %s", ErrPassengerMismatch, a.ID)
		}
		return nil
	case ActorDriver:
		if a.ID == "" || a.ID != b.DriverID {
			return fmt.Errorf("%w: %s", ErrDriverMismatch, a.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q", ErrForbiddenActor, a.Role)
	}
}

// Label is recorded on events as the cancelling party.
func (a Actor) Label() string {
	if a.Role == ActorSystem {
		return "system"
	}
	return string(a.Role)
}
