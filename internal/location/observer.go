package location

import (
	"sync"
	"time"

	"github.com/example/shego/internal/booking/domain"
)

// Snapshot is the latest known position of a driver.
type Snapshot struct {
	DriverID string
	Point    domain.GeoPoint
	Speed    float64
	Accuracy float64
	Updated  time.Time
}

// StreamObserver stores latest driver location snapshots. Snapshots older than
// maxAge are ignored by All.
type StreamObserver struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	maxAge    time.Duration
	now       func() time.Time
}

// NewStreamObserver constructs the observer. A zero maxAge keeps snapshots forever.
func NewStreamObserver(maxAge time.Duration) *StreamObserver {
	return &StreamObserver{
		snapshots: make(map[string]Snapshot),
		maxAge:    maxAge,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Update stores snapshot data.
func (o *StreamObserver) Update(driverID string, point domain.GeoPoint, speed, accuracy float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[driverID] = Snapshot{
		DriverID: driverID,
		Point:    point,
		Speed:    speed,
		Accuracy: accuracy,
		Updated:  o.now(),
	}
}

// Snapshot returns the stored snapshot.
func (o *StreamObserver) Snapshot(driverID string) (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.snapshots[driverID]
	return snap, ok
}

// All returns every fresh snapshot.
func (o *StreamObserver) All() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cutoff := time.Time{}
	if o.maxAge > 0 {
		cutoff = o.now().Add(-o.maxAge)
	}
	res := make([]Snapshot, 0, len(o.snapshots))
	for _, snap := range o.snapshots {
		if snap.Updated.Before(cutoff) {
			continue
		}
		res = append(res, snap)
	}
	return res
}
