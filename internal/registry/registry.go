// Package registry keeps the table of recently sighted pots.
package registry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultStaleTimeout is the age after which an unseen device becomes evictable
const DefaultStaleTimeout = 21 * time.Second

// DiscoveredDevice is a single registry entry
type DiscoveredDevice struct {
	ID                  string    `json:"id"`
	DisplayName         string    `json:"display_name"`
	LastSeen            time.Time `json:"last_seen"`
	ManufacturerPayload []byte    `json:"manufacturer_payload,omitempty"`
	RSSI                int       `json:"rssi"`
}

// Registry is an in-memory, insertion ordered device table.
// Entries are keyed by id; the first sighting fixes the snapshot position.
type Registry struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, DiscoveredDevice]
	stale   time.Duration
	logger  *logrus.Logger
}

// New creates a registry; a non-positive staleTimeout selects DefaultStaleTimeout
func New(staleTimeout time.Duration, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Registry{
		entries: orderedmap.New[string, DiscoveredDevice](),
		stale:   staleTimeout,
		logger:  logger,
	}
}

// StaleTimeout returns the configured eviction age
func (r *Registry) StaleTimeout() time.Duration {
	return r.stale
}

// Upsert inserts or replaces the entry keyed by dev.ID and refreshes LastSeen to now.
// Returns true when the id was not present before.
func (r *Registry) Upsert(dev DiscoveredDevice, now time.Time) bool {
	if dev.ID == "" {
		return false
	}
	dev.LastSeen = now

	r.mu.Lock()
	_, existed := r.entries.Set(dev.ID, dev)
	r.mu.Unlock()

	if !existed {
		r.logger.WithFields(logrus.Fields{
			"device_id": dev.ID,
			"name":      dev.DisplayName,
			"rssi":      dev.RSSI,
		}).Info("Discovered new device")
	}
	return !existed
}

// EvictStale removes every entry with now-LastSeen >= stale timeout, except keepID.
// Returns the evicted ids in snapshot order.
func (r *Registry) EvictStale(now time.Time, keepID string) []string {
	r.mu.Lock()
	var evicted []string
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == keepID {
			continue
		}
		if now.Sub(pair.Value.LastSeen) >= r.stale {
			evicted = append(evicted, pair.Key)
		}
	}
	for _, id := range evicted {
		r.entries.Delete(id)
	}
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.logger.WithFields(logrus.Fields{
			"evicted": evicted,
			"keep_id": keepID,
		}).Debug("Evicted stale devices")
	}
	return evicted
}

// Snapshot returns a copy of the entries in insertion order
func (r *Registry) Snapshot() []DiscoveredDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DiscoveredDevice, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Get returns the entry for id
func (r *Registry) Get(id string) (DiscoveredDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Get(id)
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Clear drops every entry
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = orderedmap.New[string, DiscoveredDevice]()
	r.mu.Unlock()
}
