// Package catalog persists engine metadata in a Pebble store: the last
// applied topology, active migration checkpoints and cumulative worker
// error counters. The data plane never touches the catalog; it exists so
// restarts can tell what configuration was in force and whether a
// topology migration was interrupted.
package catalog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/config"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

var (
	keyApplied         = []byte("topology/applied")
	keyMigration       = []byte("migration/active")
	errCounterPrefix   = []byte("errors/")
	errCounterPrefixHi = []byte("errors0") // '/'+1, iteration upper bound
)

// Catalog is the durable metadata store.
type Catalog struct {
	db *pebblestore.DB
}

// Open opens (creating if needed) the catalog under dir.
func Open(dir string) (*Catalog, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: dir,
		Fsync:   pebblestore.FsyncModeAlways,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying store.
func (c *Catalog) Close() error { return c.db.Close() }

// Applied describes the configuration last applied to the engine.
type Applied struct {
	Version   string        `json:"version"`
	Config    config.Config `json:"config"`
	AppliedAt time.Time     `json:"appliedAt"`
}

// SetApplied records cfg as the configuration now in force.
func (c *Catalog) SetApplied(cfg *config.Config) error {
	a := Applied{
		Version:   cfg.Topology.Version(),
		Config:    *cfg,
		AppliedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("catalog: encode applied: %w", err)
	}
	return c.db.Set(keyApplied, b)
}

// AppliedConfig returns the last applied configuration, or ok=false on a
// fresh catalog.
func (c *Catalog) AppliedConfig() (Applied, bool, error) {
	b, err := c.db.Get(keyApplied)
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Applied{}, false, nil
		}
		return Applied{}, false, fmt.Errorf("catalog: read applied: %w", err)
	}
	var a Applied
	if err := json.Unmarshal(b, &a); err != nil {
		return Applied{}, false, fmt.Errorf("catalog: decode applied: %w", err)
	}
	return a, true, nil
}

// Checkpoint marks a topology migration in progress. It survives a crash
// so an interrupted rezone/recache is operator-visible at next startup.
type Checkpoint struct {
	// ID correlates the log lines and catalog record of one migration.
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // "rezone" or "recache"
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion"`
	StartedAt   time.Time `json:"startedAt"`
}

// BeginMigration persists a checkpoint before any migration work starts.
func (c *Catalog) BeginMigration(cp Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("catalog: encode checkpoint: %w", err)
	}
	return c.db.Set(keyMigration, b)
}

// EndMigration clears the active checkpoint after a completed migration.
func (c *Catalog) EndMigration() error {
	return c.db.Delete(keyMigration)
}

// ActiveMigration returns the in-progress checkpoint, if any.
func (c *Catalog) ActiveMigration() (Checkpoint, bool, error) {
	b, err := c.db.Get(keyMigration)
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("catalog: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("catalog: decode checkpoint: %w", err)
	}
	return cp, true, nil
}

// AddErrors adds n to worker's cumulative error counter.
func (c *Catalog) AddErrors(worker string, n uint64) error {
	key := append(append([]byte(nil), errCounterPrefix...), worker...)
	var cur uint64
	if b, err := c.db.Get(key); err == nil && len(b) == 8 {
		cur = binary.BigEndian.Uint64(b)
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return fmt.Errorf("catalog: read counter: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cur+n)
	return c.db.Set(key, buf[:])
}

// ErrorCounts returns all worker error counters.
func (c *Catalog) ErrorCounts() (map[string]uint64, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: errCounterPrefix,
		UpperBound: errCounterPrefixHi,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: iterate counters: %w", err)
	}
	defer iter.Close()

	out := make(map[string]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, errCounterPrefix) {
			continue
		}
		v := iter.Value()
		if len(v) != 8 {
			continue
		}
		out[string(key[len(errCounterPrefix):])] = binary.BigEndian.Uint64(v)
	}
	return out, iter.Error()
}
