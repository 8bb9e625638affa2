package vehicletracker

import (
	"sync"
	"time"

	"github.com/travigo/travigo-eta/pkg/ctdf"
)

// vehicleEntry is only read or written while its lock is held
type vehicleEntry struct {
	sync.Mutex

	vehicle ctdf.Vehicle
	// shape the last match was made against, a different pointer means the shape was replaced
	shape *ctdf.Shape
	// realtime journey that has been matched at least once, stops passed after that are skipped not unobserved
	matchedJourney string

	removed bool
}

type vehicleArena struct {
	mutex    sync.Mutex
	vehicles map[string]*vehicleEntry
}

func newVehicleArena() *vehicleArena {
	return &vehicleArena{
		vehicles: map[string]*vehicleEntry{},
	}
}

// acquire returns the locked entry for the vehicle, creating it if needed.
// The caller must Unlock it.
func (a *vehicleArena) acquire(vehicleRef string) *vehicleEntry {
	for {
		a.mutex.Lock()
		entry, exists := a.vehicles[vehicleRef]
		if !exists {
			entry = &vehicleEntry{vehicle: ctdf.Vehicle{PrimaryIdentifier: vehicleRef}}
			a.vehicles[vehicleRef] = entry
		}
		a.mutex.Unlock()

		entry.Lock()
		if !entry.removed {
			return entry
		}
		entry.Unlock()
	}
}

// lookup returns the locked entry for a vehicle already in the arena, or nil
func (a *vehicleArena) lookup(vehicleRef string) *vehicleEntry {
	a.mutex.Lock()
	entry, exists := a.vehicles[vehicleRef]
	a.mutex.Unlock()

	if !exists {
		return nil
	}

	entry.Lock()
	if entry.removed {
		entry.Unlock()
		return nil
	}
	return entry
}

func (a *vehicleArena) refs() []string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	refs := make([]string, 0, len(a.vehicles))
	for ref := range a.vehicles {
		refs = append(refs, ref)
	}
	return refs
}

// prune forgets vehicles that have not reported since the cutoff. Each vehicle is checked under
// its own lock so a vehicle busy processing a report never holds up the others.
func (a *vehicleArena) prune(cutoff time.Time) int {
	a.mutex.Lock()
	candidates := make(map[string]*vehicleEntry, len(a.vehicles))
	for ref, entry := range a.vehicles {
		candidates[ref] = entry
	}
	a.mutex.Unlock()

	removed := 0
	for ref, entry := range candidates {
		entry.Lock()
		if !entry.removed && entry.vehicle.LastReportTime.Before(cutoff) {
			entry.removed = true

			a.mutex.Lock()
			if a.vehicles[ref] == entry {
				delete(a.vehicles, ref)
			}
			a.mutex.Unlock()

			removed++
		}
		entry.Unlock()
	}

	return removed
}
