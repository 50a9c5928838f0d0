package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/srg/potlink/internal/plants"
)

// PairedKey is the blob key holding the paired-device map
const PairedKey = "plants"

// PairedDeviceRecord is the durable record of a configured pot, keyed by its identity
type PairedDeviceRecord struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	AddedAt           int64                    `json:"addedAt"` // unix milliseconds
	MeasurementSystem plants.MeasurementSystem `json:"measurementSystem"`
	Plant             string                   `json:"plant"`
}

// PairedDevices is the whole-map persistence capability.
// There is no partial update; callers read, modify and write the full map.
type PairedDevices interface {
	GetPairedDevices(ctx context.Context) (map[string]PairedDeviceRecord, error)
	SetPairedDevices(ctx context.Context, records map[string]PairedDeviceRecord) error
}

// SortedByAddedAt returns the records ordered oldest first, ties broken by id
func SortedByAddedAt(records map[string]PairedDeviceRecord) []PairedDeviceRecord {
	out := make([]PairedDeviceRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt < out[j].AddedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Put read-modify-writes the full map with rec stored under rec.ID
func Put(ctx context.Context, store PairedDevices, rec PairedDeviceRecord) error {
	records, err := store.GetPairedDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load paired devices: %w", err)
	}
	if records == nil {
		records = make(map[string]PairedDeviceRecord)
	}
	records[rec.ID] = rec
	return store.SetPairedDevices(ctx, records)
}

// Remove read-modify-writes the full map without id. Returns false when id was not paired.
func Remove(ctx context.Context, store PairedDevices, id string) (bool, error) {
	records, err := store.GetPairedDevices(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load paired devices: %w", err)
	}
	if _, ok := records[id]; !ok {
		return false, nil
	}
	delete(records, id)
	return true, store.SetPairedDevices(ctx, records)
}
