// Package db is the embedding facade over the storage engine: one struct
// carrying every operation, suitable for linking into another process or
// serving over the HTTP surface.
package db

import (
	"context"

	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/crypt"
	"github.com/rzbill/strata/internal/engine"
	"github.com/rzbill/strata/pkg/log"
)

// Re-exported engine types so embedders need only this package.
type (
	GcControl   = engine.GcControl
	StateReport = engine.StateReport
)

// Sentinel errors surfaced by the facade.
var (
	ErrNotFound = engine.ErrNotFound
	ErrNotOwner = engine.ErrNotOwner
	ErrShutdown = engine.ErrShutdown
)

// Options configures an engine opened through the facade.
type Options struct {
	Config *config.Config
	Logger log.Logger
	// Encrypter transforms values at rest; nil stores them as-is.
	Encrypter crypt.Encrypter
	// ConfigPath, when set, is polled for topology changes.
	ConfigPath string
	// Force opens past a halted-migration checkpoint.
	Force bool
}

// DB is a handle on an open engine. The handle returned by Open owns the
// engine; handles derived with Handle share it but may not close it.
type DB struct {
	eng   *engine.Engine
	owner bool
}

// Open starts the engine and returns its owning handle.
func Open(opts Options) (*DB, error) {
	eng, err := engine.Open(engine.Options{
		Config:     opts.Config,
		Logger:     opts.Logger,
		Encrypter:  opts.Encrypter,
		ConfigPath: opts.ConfigPath,
		Force:      opts.Force,
	})
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng, owner: true}, nil
}

// Handle returns a non-owning handle sharing the same engine. It serves
// every operation except Close.
func (d *DB) Handle() *DB {
	return &DB{eng: d.eng}
}

// Put stores value under key.
func (d *DB) Put(ctx context.Context, key, value []byte) error {
	return d.eng.Put(ctx, key, value)
}

// Get returns the value under key. The boolean flags a possibly-stale
// read taken across a concurrent compaction.
func (d *DB) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return d.eng.Get(ctx, key)
}

// Delete tombstones key. Deleting an absent key succeeds.
func (d *DB) Delete(ctx context.Context, key []byte) error {
	return d.eng.Delete(ctx, key)
}

// DumpState reports topology, shard sizes, worker health and error
// counters.
func (d *DB) DumpState(ctx context.Context) (*StateReport, error) {
	return d.eng.DumpState(ctx)
}

// ClearCache drops cached values across all shards, keeping locations.
func (d *DB) ClearCache(ctx context.Context) error {
	return d.eng.ClearCache(ctx)
}

// SetGcControl updates compaction behavior across all file-workers.
func (d *DB) SetGcControl(ctx context.Context, ctl GcControl) error {
	return d.eng.SetGcControl(ctx, ctl)
}

// ChangeTopology applies a new configuration, migrating data when the
// zone or shard layout changed.
func (d *DB) ChangeTopology(ctx context.Context, cfg *config.Config) error {
	return d.eng.ChangeTopology(ctx, cfg)
}

// Close shuts the engine down. Only the owning handle may close; derived
// handles get ErrNotOwner.
func (d *DB) Close() error {
	if !d.owner {
		return ErrNotOwner
	}
	return d.eng.Close()
}
