package response

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type energyEntry struct {
	grid      []float64
	clients   map[string]bool
	shareable bool
}

// EnergyRegistry deduplicates energy grids across spectra. Entries are
// reference counted by client name and only change at configuration time;
// a sealed registry rejects mutation while a fit is running.
type EnergyRegistry struct {
	mu      sync.RWMutex
	next    int
	entries map[int]*energyEntry
	sealed  bool
}

func NewEnergyRegistry() *EnergyRegistry {
	return &EnergyRegistry{entries: make(map[int]*energyEntry)}
}

// Acquire registers client as a user of grid and returns the id of the
// shared entry. Identical shareable grids resolve to the same id; dontShare
// forces a private entry.
func (r *EnergyRegistry) Acquire(client string, grid []float64, dontShare bool) (int, error) {
	if client == "" {
		return 0, fmt.Errorf("energy client name is required")
	}
	if err := ValidateGrid(grid); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return 0, ErrRegistrySealed
	}
	if !dontShare {
		for _, id := range r.sortedIDsLocked() {
			entry := r.entries[id]
			if entry.shareable && sameGrid(entry.grid, grid) {
				entry.clients[client] = true
				return id, nil
			}
		}
	}
	r.next++
	r.entries[r.next] = &energyEntry{
		grid:      append([]float64(nil), grid...),
		clients:   map[string]bool{client: true},
		shareable: !dontShare,
	}
	return r.next, nil
}

// Release drops client from entry id; the entry is destroyed with its last
// client.
func (r *EnergyRegistry) Release(client string, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrEnergyNotFound, id)
	}
	if !entry.clients[client] {
		return fmt.Errorf("%w: %s on %d", ErrClientNotHolder, client, id)
	}
	delete(entry.clients, client)
	if len(entry.clients) == 0 {
		delete(r.entries, id)
	}
	return nil
}

func (r *EnergyRegistry) Grid(id int) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEnergyNotFound, id)
	}
	return entry.grid, nil
}

func (r *EnergyRegistry) Clients(id int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(entry.clients))
	for name := range entry.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *EnergyRegistry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDsLocked()
}

func (r *EnergyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *EnergyRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *EnergyRegistry) Unseal() {
	r.mu.Lock()
	r.sealed = false
	r.mu.Unlock()
}

func (r *EnergyRegistry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *EnergyRegistry) sortedIDsLocked() []int {
	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sameGrid(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		scale := math.Max(math.Abs(a[i]), 1)
		if math.Abs(a[i]-b[i]) > 1e-12*scale {
			return false
		}
	}
	return true
}
