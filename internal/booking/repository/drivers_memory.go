package repository

import (
	"context"
	"sync"

	"github.com/example/shego/internal/booking/domain"
)

// MemoryDriverDirectory resolves driver profiles from a static, config-seeded table.
type MemoryDriverDirectory struct {
	mu      sync.RWMutex
	drivers map[string]domain.DriverInfo
}

func NewMemoryDriverDirectory(seed map[string]domain.DriverInfo) *MemoryDriverDirectory {
	drivers := make(map[string]domain.DriverInfo, len(seed))
	for id, info := range seed {
		drivers[id] = info
	}
	return &MemoryDriverDirectory{drivers: drivers}
}

func (d *MemoryDriverDirectory) LookupDriver(_ context.Context, driverID string) (domain.DriverInfo, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.drivers[driverID]
	return info, ok, nil
}

// Register adds or replaces a driver profile.
func (d *MemoryDriverDirectory) Register(driverID string, info domain.DriverInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drivers[driverID] = info
}
