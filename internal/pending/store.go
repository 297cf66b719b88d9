// Package pending persists alerts whose delivery has started but not concluded,
// so they can be replayed after a crash.
//
// One record exists per in-flight alert, keyed by a dispatcher-assigned sequence id.
// A record is written before dispatch begins and removed once dispatch concludes.
package pending

import (
	"context"
	"errors"
	"sort"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// ErrCorrupt is returned for a persisted record that cannot be decoded.
var ErrCorrupt = errors.New("corrupt pending record")

// Record is one persisted in-flight alert.
// Err is set (wrapping ErrCorrupt) when the stored payload could not be decoded;
// the ID is still reported so callers never reuse it.
type Record struct {
	ID    uint64
	Event alert.Event
	Err   error
}

// Store is the storage abstraction behind crash recovery.
type Store interface {
	// Put writes the record for id, replacing any existing one.
	Put(ctx context.Context, id uint64, ev alert.Event) error

	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id uint64) error

	// List returns every stored record ordered by id.
	List(ctx context.Context) ([]Record, error)
}

// MaxID returns the highest id among records, and false when there are none.
func MaxID(records []Record) (uint64, bool) {
	if len(records) == 0 {
		return 0, false
	}
	var highest uint64
	for _, r := range records {
		if r.ID > highest {
			highest = r.ID
		}
	}
	return highest, true
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

func decodeRecord(id uint64, payload []byte) Record {
	ev, err := Unmarshal(payload)
	if err != nil {
		return Record{ID: id, Err: err}
	}
	return Record{ID: id, Event: ev}
}
