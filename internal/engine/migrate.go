package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rzbill/strata/internal/catalog"
	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/id"
	"github.com/rzbill/strata/pkg/log"
)

// migrationIDs labels each checkpoint so its log lines and catalog record
// can be correlated.
var migrationIDs = id.NewGenerator()

// applyChange moves the engine from the applied configuration to next.
// Tunable changes are pushed to live workers; recache and rezone quiesce
// the fleet, migrate state and swap in a freshly built topology. The
// write side of the operation gate keeps external traffic out for the
// duration.
func (e *Engine) applyChange(kind config.ChangeKind, next *config.Config) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.closed.Load() {
		return ErrShutdown
	}

	switch kind {
	case config.ChangeTunable:
		return e.applyTunables(next)
	case config.ChangeRecache:
		return e.recache(next)
	case config.ChangeRezone:
		return e.rezone(next)
	default:
		return nil
	}
}

// applyTunables pushes runtime tunables to every live worker. No state
// moves and no worker restarts.
func (e *Engine) applyTunables(next *config.Config) error {
	rt := e.rt.Load()
	msg := tunablesMsg{
		maxFileBytes:    next.MaxFileBytes,
		cacheValueLimit: next.CacheValueLimitBytes,
		gcRatio:         next.GcRatio,
	}

	e.gcMu.Lock()
	e.gc.Auto = next.GcAuto
	ctl := e.gc
	e.gcMu.Unlock()

	for _, z := range rt.zones {
		z.wbot.data <- msg
		for _, cb := range z.cbots {
			cb.writeCh <- msg
		}
		for _, fb := range z.fbots {
			fb.data <- msg
			fb.data <- gcControlMsg{ctl: ctl}
		}
	}
	e.sup.setTiming(
		time.Duration(next.HealthIntervalMs)*time.Millisecond,
		time.Duration(next.HealthTimeoutMs)*time.Millisecond)

	return e.commitApplied(next)
}

// recache rebuilds the worker fleet on a new per-zone shard layout,
// carrying cache entries and file bookkeeping over in memory. No record
// moves on disk and the zone directories stay in place.
func (e *Engine) recache(next *config.Config) error {
	old := e.rt.Load()
	applied := e.appliedConfig()

	mid := migrationIDs.Next().String()
	e.quiesce(old)
	if err := e.cat.BeginMigration(catalog.Checkpoint{
		ID:          mid,
		Kind:        "recache",
		FromVersion: applied.Topology.Version(),
		ToVersion:   next.Topology.Version(),
		StartedAt:   time.Now().UTC(),
	}); err != nil {
		e.resumeGC(old)
		return err
	}
	e.sup.setWorkers(nil)

	newRt := &routing{cfg: *next, version: next.Topology.Version()}
	reportEvery := time.Duration(next.HealthIntervalMs) * time.Millisecond
	gc := e.gcControl()

	// First pass: retire the per-zone writers and idle workers, then
	// stand up the new pools. Routing lookups divide by the zone count,
	// so every zone must exist before any state is redistributed.
	liveNums := make([]store.FileNum, len(old.zones))
	for zi, oz := range old.zones {
		// The writer goes down first so the live file is synced and
		// closed before its number is re-adopted. The zone-worker holds
		// the allocation counter, so it is read after its stop.
		e.sup.stopWorkers([]handle{oz.wbot.handle()})
		var idle []handle
		for _, b := range oz.rbots {
			idle = append(idle, b.handle())
		}
		for _, b := range oz.igbots {
			idle = append(idle, b.handle())
		}
		idle = append(idle, oz.zbot.handle())
		e.sup.stopWorkers(idle)

		liveNums[zi] = oz.wbot.live.Num
		nextNum := oz.zbot.next

		nz := &zoneSet{rt: newRt, idx: zi, dir: oz.dir}
		nz.zbot = newZonebot(zi, oz.dir, nextNum, reportEvery, e.log)
		for j := 0; j < next.Topology.CbotsPerZone; j++ {
			nz.cbots = append(nz.cbots, newCachebot(nz, j, next.CacheValueLimitBytes, reportEvery, e.log))
		}
		for j := 0; j < next.Topology.FbotsPerZone; j++ {
			nz.fbots = append(nz.fbots, newFilebot(nz, j, gc, next.GcRatio, reportEvery, e.log))
		}
		for j := 0; j < next.Topology.IgbotsPerZone; j++ {
			nz.igbots = append(nz.igbots, newInitgcbot(nz, j, e.hasher, e.log))
		}
		for j := 0; j < next.Topology.RbotsPerZone; j++ {
			nz.rbots = append(nz.rbots, newReaderbot(nz, j, e.hasher, e.enc, e.log))
		}
		go nz.zbot.run()
		for _, b := range nz.cbots {
			go b.run()
		}
		for _, b := range nz.fbots {
			go b.run()
		}
		for _, b := range nz.igbots {
			go b.run()
		}
		for _, b := range nz.rbots {
			go b.run()
		}
		newRt.zones = append(newRt.zones, nz)
	}

	// Second pass: move the bookkeeping, reopen the live files and
	// retire the old stateful shards.
	for zi, oz := range old.zones {
		nz := newRt.zones[zi]
		e.transferFiles(oz, nz)
		e.transferCache(oz, nz, newRt)

		nz.wbot = newWriterbot(nz, e.hasher, e.enc, next.MaxFileBytes, e.log)
		if err := nz.wbot.openLive(liveNums[zi]); err != nil {
			e.markHalted("recache", err)
			return fmt.Errorf("%w: reopen live file for zone %d: %v", ErrMigrationHalted, zi, err)
		}
		go nz.wbot.run()

		var rest []handle
		for _, b := range oz.cbots {
			rest = append(rest, b.handle())
		}
		for _, b := range oz.fbots {
			rest = append(rest, b.handle())
		}
		e.sup.stopWorkers(rest)
	}

	e.rt.Store(newRt)
	if err := e.commitApplied(next); err != nil {
		e.markHalted("recache", err)
		return fmt.Errorf("%w: %v", ErrMigrationHalted, err)
	}
	if err := e.cat.EndMigration(); err != nil {
		e.markHalted("recache", err)
		return fmt.Errorf("%w: %v", ErrMigrationHalted, err)
	}
	e.sup.setWorkers(newRt.handles())
	e.sup.addWorker(e.cfgbot.handle())
	e.log.Info("recache complete",
		log.Str("migration", mid), log.Str("topology", newRt.version))
	return nil
}

// rezone rebuilds the engine on a new zone layout in fresh directories,
// rewriting every current record through the new write pipeline. Old
// directories are removed once the new topology is in force.
func (e *Engine) rezone(next *config.Config) error {
	old := e.rt.Load()
	applied := e.appliedConfig()

	oldZv := applied.Topology.ZoneVersion()
	newZv := next.Topology.ZoneVersion()
	oldDirs := make(map[string]bool, len(old.zones))
	for i := range old.zones {
		oldDirs[applied.ZoneDir(oldZv, i)] = true
	}
	for i := 0; i < next.Topology.NumZones; i++ {
		if d := next.ZoneDir(newZv, i); oldDirs[d] {
			return fmt.Errorf("%w: new zone %d directory %s is part of the current topology",
				ErrConsistency, i, d)
		}
	}

	mid := migrationIDs.Next().String()
	e.quiesce(old)
	if err := e.cat.BeginMigration(catalog.Checkpoint{
		ID:          mid,
		Kind:        "rezone",
		FromVersion: applied.Topology.Version(),
		ToVersion:   next.Topology.Version(),
		StartedAt:   time.Now().UTC(),
	}); err != nil {
		e.resumeGC(old)
		return err
	}
	e.sup.setWorkers(nil)

	// Writers down first so live files are flushed; readers and GC
	// workers are idle after the quiesce. Cache and file shards stay up
	// to serve the migration scan.
	var front []handle
	for _, z := range old.zones {
		front = append(front, z.wbot.handle())
		for _, b := range z.rbots {
			front = append(front, b.handle())
		}
		for _, b := range z.igbots {
			front = append(front, b.handle())
		}
	}
	e.sup.stopWorkers(front)

	newRt, err := e.buildRouting(next)
	if err != nil {
		e.markHalted("rezone", err)
		return fmt.Errorf("%w: build new topology: %v", ErrMigrationHalted, err)
	}
	// Adopt leftovers from a previously interrupted attempt; the rewrite
	// below supersedes anything stale.
	if err := e.initReplay(newRt); err != nil {
		e.markHalted("rezone", err)
		return fmt.Errorf("%w: replay new topology: %v", ErrMigrationHalted, err)
	}

	for _, oz := range old.zones {
		for _, oc := range oz.cbots {
			if err := e.rewriteShard(oz, oc, newRt); err != nil {
				e.markHalted("rezone", err)
				return fmt.Errorf("%w: %v", ErrMigrationHalted, err)
			}
		}
	}

	var rest []handle
	for _, z := range old.zones {
		for _, b := range z.cbots {
			rest = append(rest, b.handle())
		}
		for _, b := range z.fbots {
			rest = append(rest, b.handle())
		}
		rest = append(rest, z.zbot.handle())
	}
	e.sup.stopWorkers(rest)

	e.rt.Store(newRt)
	if err := e.commitApplied(next); err != nil {
		e.markHalted("rezone", err)
		return fmt.Errorf("%w: %v", ErrMigrationHalted, err)
	}
	if err := e.cat.EndMigration(); err != nil {
		e.markHalted("rezone", err)
		return fmt.Errorf("%w: %v", ErrMigrationHalted, err)
	}
	e.sup.setWorkers(newRt.handles())
	e.sup.addWorker(e.cfgbot.handle())

	for dir := range oldDirs {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("remove old zone directory", log.Str("dir", dir), log.Err(err))
		}
	}
	e.log.Info("rezone complete",
		log.Str("migration", mid), log.Str("topology", newRt.version))
	return nil
}

// rewriteShard writes every current record of one old cache shard into
// the new topology. Cached values are used when present; otherwise the
// record is read back from the old zone's files. Tombstones are dropped:
// the new directories hold no older record to resurrect.
func (e *Engine) rewriteShard(oz *zoneSet, oc *cachebot, newRt *routing) error {
	type kvEntry struct {
		key string
		ent store.CacheEntry
	}
	var entries []kvEntry
	done := make(chan struct{}, 1)
	oc.writeCh <- cacheEachMsg{
		fn: func(k string, ent store.CacheEntry) {
			entries = append(entries, kvEntry{key: k, ent: ent})
		},
		reply: done,
	}
	<-done

	ctx := context.Background()
	for _, kv := range entries {
		if kv.ent.Deleted {
			continue
		}
		value := kv.ent.Value
		if value == nil {
			rec, err := zone.ReadRecord(oz.dir, kv.ent.Loc)
			if err != nil {
				return fmt.Errorf("read %q from zone %d: %w", kv.key, oz.idx, err)
			}
			if value, err = e.enc.Decrypt(rec.Value); err != nil {
				return fmt.Errorf("decrypt %q: %w", kv.key, err)
			}
		}

		key := []byte(kv.key)
		nz := newRt.zoneFor(e.hasher.Hash(key))
		reply := make(chan putReply, 1)
		nz.wbot.data <- putMsg{ctx: ctx, key: key, value: value, reply: reply}
		if rep := <-reply; rep.err != nil {
			return fmt.Errorf("rewrite %q: %w", kv.key, rep.err)
		}
	}
	return nil
}

// transferFiles redistributes one zone's file bookkeeping across the new
// file-worker pool.
func (e *Engine) transferFiles(oz, nz *zoneSet) {
	byOwner := make(map[*filebot][]*store.FileState)
	for _, fb := range oz.fbots {
		reply := make(chan []*store.FileState, 1)
		fb.data <- fileTransferMsg{reply: reply}
		for _, fs := range <-reply {
			owner := nz.fbotFor(fs.File)
			byOwner[owner] = append(byOwner[owner], fs)
		}
	}
	for owner, states := range byOwner {
		ack := make(chan struct{}, 1)
		owner.data <- fileInstallMsg{states: states, reply: ack}
		<-ack
	}
}

// transferCache redistributes one zone's cache entries across the new
// cache-worker pool. Zone assignment is unchanged in a recache, so every
// entry stays within nz.
func (e *Engine) transferCache(oz, nz *zoneSet, newRt *routing) {
	for _, oc := range oz.cbots {
		type kvEntry struct {
			key string
			ent store.CacheEntry
		}
		var entries []kvEntry
		done := make(chan struct{}, 1)
		oc.writeCh <- cacheEachMsg{
			fn: func(k string, ent store.CacheEntry) {
				entries = append(entries, kvEntry{key: k, ent: ent})
			},
			reply: done,
		}
		<-done

		for _, kv := range entries {
			cb := newRt.cbotFor(nz, e.hasher.Hash([]byte(kv.key)))
			ack := make(chan struct{}, 1)
			cb.writeCh <- cacheInstallMsg{key: kv.key, entry: kv.ent, reply: ack}
			<-ack
		}
	}
}

// quiesce turns off compaction and drains every queue so no worker has
// in-flight state when migration starts.
func (e *Engine) quiesce(rt *routing) {
	for _, z := range rt.zones {
		for _, fb := range z.fbots {
			fb.data <- gcControlMsg{}
		}
	}
	e.drainFleet(rt, true)
}

// resumeGC restores the operator-set compaction control after an aborted
// quiesce.
func (e *Engine) resumeGC(rt *routing) {
	ctl := e.gcControl()
	for _, z := range rt.zones {
		for _, fb := range z.fbots {
			fb.data <- gcControlMsg{ctl: ctl}
		}
	}
}

// commitApplied records next as the configuration in force, both in
// memory and in the catalog.
func (e *Engine) commitApplied(next *config.Config) error {
	cp := *next
	e.applied.Store(&cp)
	return e.cat.SetApplied(next)
}

// markHalted takes the engine out of service after a migration failed
// with old workers already stopped. The checkpoint stays in the catalog;
// a restart surfaces it to the operator.
func (e *Engine) markHalted(kind string, err error) {
	e.closed.Store(true)
	e.log.Error("topology migration halted; engine requires restart",
		log.Str("kind", kind), log.Err(err))
}
