// Package engine implements the log-structured, sharded storage core: a
// fleet of single-purpose workers communicating exclusively over
// channels, with no shared mutable state. Each worker exclusively owns
// one shard of the cache or file bookkeeping; per-key and per-file
// serialization follows from that ownership rather than from locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/strata/internal/catalog"
	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/crypt"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/log"
)

// Options configures an Engine.
type Options struct {
	Config *config.Config
	Logger log.Logger
	// Hasher selects shards; defaults to FNV-1a.
	Hasher crypt.KeyHasher
	// Encrypter transforms values at rest; defaults to none.
	Encrypter crypt.Encrypter
	// ConfigPath, when set, is polled for topology changes.
	ConfigPath string
	// Force opens the engine even when the catalog records a halted
	// topology migration. The checkpoint is preserved.
	Force bool
}

// Engine is the storage core. All public methods are safe for concurrent
// use; they hand work to the fleet and wait on request-scoped reply
// channels.
type Engine struct {
	log    log.Logger
	cat    *catalog.Catalog
	hasher crypt.KeyHasher
	enc    crypt.Encrypter

	rt      atomic.Pointer[routing]
	applied atomic.Pointer[config.Config]

	gcMu sync.Mutex
	gc   GcControl

	sup    *supervisor
	cfgbot *configbot

	// opMu is the migration gate: operations hold the read side for
	// their full duration, a topology migration holds the write side.
	// Taking the write side therefore waits out every in-flight
	// operation before the fleet is touched.
	opMu   sync.RWMutex
	closed atomic.Bool
}

// Open builds the worker fleet, replays existing files into cache and
// file state, and records the applied configuration. Startup failures
// are returned to the caller; no persistent state has been written yet.
func Open(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		c := config.Default()
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	cat, err := catalog.Open(cfg.CatalogDir())
	if err != nil {
		return nil, err
	}

	if cp, active, err := cat.ActiveMigration(); err != nil {
		cat.Close()
		return nil, err
	} else if active && !opts.Force {
		cat.Close()
		return nil, fmt.Errorf("%w: %s %s from %s to %s started %s; resolve or open with Force",
			ErrMigrationHalted, cp.Kind, cp.ID, cp.FromVersion, cp.ToVersion,
			cp.StartedAt.Format(time.RFC3339))
	}

	// A catalog topology that differs from the file config wins at
	// startup; migrating is the config-worker's job, not Open's.
	startCfg := *cfg
	if a, ok, err := cat.AppliedConfig(); err != nil {
		cat.Close()
		return nil, err
	} else if ok {
		if kind := config.Diff(&a.Config, cfg); kind == config.ChangeRecache || kind == config.ChangeRezone {
			logger.Warn("configured topology differs from applied; starting on applied topology",
				log.Str("applied", a.Version),
				log.Str("configured", cfg.Topology.Version()),
				log.Str("change", kind.String()))
			startCfg.Topology = a.Config.Topology
		}
	}

	e := &Engine{
		log:    logger,
		cat:    cat,
		hasher: opts.Hasher,
		enc:    opts.Encrypter,
		gc:     GcControl{Enabled: true, Auto: startCfg.GcAuto},
	}
	if e.hasher == nil {
		e.hasher = crypt.FnvHasher{}
	}
	if e.enc == nil {
		e.enc = crypt.NoEncrypter{}
	}

	rt, err := e.buildRouting(&startCfg)
	if err != nil {
		cat.Close()
		return nil, err
	}
	e.rt.Store(rt)
	e.applied.Store(&startCfg)

	interval := time.Duration(startCfg.HealthIntervalMs) * time.Millisecond
	timeout := time.Duration(startCfg.HealthTimeoutMs) * time.Millisecond
	e.sup = newSupervisor(cat, interval, timeout, logger)
	e.sup.setWorkers(rt.handles())
	go e.sup.run()

	if err := e.initReplay(rt); err != nil {
		e.shutdownFleet(rt)
		e.sup.stop()
		cat.Close()
		return nil, err
	}

	if err := cat.SetApplied(&startCfg); err != nil {
		e.shutdownFleet(rt)
		e.sup.stop()
		cat.Close()
		return nil, err
	}

	e.cfgbot = newConfigbot(e, opts.ConfigPath, interval*4, logger)
	go e.cfgbot.run()
	e.sup.addWorker(e.cfgbot.handle())

	logger.Info("engine open",
		log.Str("topology", rt.version),
		log.Int("zones", len(rt.zones)))
	return e, nil
}

// buildRouting creates the directories and worker fleet for cfg and
// starts every worker. The caller swaps it into service.
func (e *Engine) buildRouting(cfg *config.Config) (*routing, error) {
	rt := &routing{cfg: *cfg, version: cfg.Topology.Version()}
	zoneVersion := cfg.Topology.ZoneVersion()
	reportEvery := time.Duration(cfg.HealthIntervalMs) * time.Millisecond
	gc := e.gcControl()

	for i := 0; i < cfg.Topology.NumZones; i++ {
		dir := cfg.ZoneDir(zoneVersion, i)
		if err := zone.Ensure(dir); err != nil {
			return nil, fmt.Errorf("create zone %d: %w", i, err)
		}
		if m, err := zone.ReadManifest(dir); err == nil {
			if m.Zone != i {
				return nil, fmt.Errorf("%w: directory %s belongs to zone %d, not %d",
					ErrConsistency, dir, m.Zone, i)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			if err := zone.WriteManifest(dir, zone.Manifest{
				Zone:            i,
				TopologyVersion: zoneVersion,
				CreatedAt:       time.Now().UTC(),
			}); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}

		files, err := zone.Survey(dir)
		if err != nil {
			return nil, err
		}
		live, next := zone.ChooseLive(files, cfg.MaxFileBytes)

		z := &zoneSet{rt: rt, idx: i, dir: dir}
		z.zbot = newZonebot(i, dir, next, reportEvery, e.log)
		for j := 0; j < cfg.Topology.CbotsPerZone; j++ {
			z.cbots = append(z.cbots, newCachebot(z, j, cfg.CacheValueLimitBytes, reportEvery, e.log))
		}
		for j := 0; j < cfg.Topology.FbotsPerZone; j++ {
			z.fbots = append(z.fbots, newFilebot(z, j, gc, cfg.GcRatio, reportEvery, e.log))
		}
		for j := 0; j < cfg.Topology.IgbotsPerZone; j++ {
			z.igbots = append(z.igbots, newInitgcbot(z, j, e.hasher, e.log))
		}
		for j := 0; j < cfg.Topology.RbotsPerZone; j++ {
			z.rbots = append(z.rbots, newReaderbot(z, j, e.hasher, e.enc, e.log))
		}
		z.wbot = newWriterbot(z, e.hasher, e.enc, cfg.MaxFileBytes, e.log)

		for _, fi := range files {
			z.initFiles = append(z.initFiles, fileToInit{
				num:      fi.Num,
				dataSize: fi.DataSize,
				hasIndex: fi.HasIndex,
			})
		}

		go z.zbot.run()
		for _, b := range z.cbots {
			go b.run()
		}
		for _, b := range z.fbots {
			go b.run()
		}
		for _, b := range z.igbots {
			go b.run()
		}
		for _, b := range z.rbots {
			go b.run()
		}
		if err := z.wbot.openLive(live); err != nil {
			return nil, fmt.Errorf("open live file for zone %d: %w", i, err)
		}
		go z.wbot.run()

		rt.zones = append(rt.zones, z)
	}
	return rt, nil
}

// initReplay replays every surveyed file through the cache insertion
// path, spread across the init/GC-workers, then drains the cache and
// file shards so all forwarded state has landed before serving begins.
func (e *Engine) initReplay(rt *routing) error {
	type pending struct {
		name  string
		reply chan error
	}
	var waits []pending
	for _, z := range rt.zones {
		for _, fi := range z.initFiles {
			reply := make(chan error, 1)
			z.igbotNext().data <- initFileMsg{info: fi, reply: reply}
			waits = append(waits, pending{name: fi.num.String(), reply: reply})
		}
		z.initFiles = nil
	}
	for _, w := range waits {
		if err := <-w.reply; err != nil {
			return fmt.Errorf("initialize file %s: %w", w.name, err)
		}
	}
	e.drainFleet(rt, false)
	return nil
}

// begin admits one operation past the migration gate. On success the
// caller must release with end.
func (e *Engine) begin() error {
	e.opMu.RLock()
	if e.closed.Load() {
		e.opMu.RUnlock()
		return ErrShutdown
	}
	return nil
}

func (e *Engine) end() { e.opMu.RUnlock() }

// Put stores value under key, replying once the record is appended and
// the cache installed.
func (e *Engine) Put(ctx context.Context, key, value []byte) error {
	return e.write(ctx, key, value, false)
}

// Delete tombstones key. Deleting an absent key succeeds; the tombstone
// still guards against resurrection from older files.
func (e *Engine) Delete(ctx context.Context, key []byte) error {
	return e.write(ctx, key, nil, true)
}

func (e *Engine) write(ctx context.Context, key, value []byte, tombstone bool) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrConsistency)
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	rt := e.rt.Load()
	z := rt.zoneFor(e.hasher.Hash(key))

	reply := make(chan putReply, 1)
	msg := putMsg{ctx: ctx, key: key, value: value, tombstone: tombstone, reply: reply}
	select {
	case z.wbot.data <- msg:
	case <-ctx.Done():
		return ErrTimeout
	}
	select {
	case rep := <-reply:
		return rep.err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Get returns the value stored under key. The boolean reports a
// possibly-stale read: the record was resolved through a compaction's
// move map, so a concurrent overwrite may already have superseded it.
func (e *Engine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, fmt.Errorf("%w: empty key", ErrConsistency)
	}
	if err := e.begin(); err != nil {
		return nil, false, err
	}
	defer e.end()
	rt := e.rt.Load()
	z := rt.zoneFor(e.hasher.Hash(key))

	reply := make(chan getReply, 1)
	select {
	case z.rbotNext().data <- getMsg{ctx: ctx, key: key, reply: reply}:
	case <-ctx.Done():
		return nil, false, ErrTimeout
	}
	select {
	case rep := <-reply:
		return rep.value, rep.maybeStale, rep.err
	case <-ctx.Done():
		return nil, false, ErrTimeout
	}
}

// DumpState reports topology, per-zone shard sizes, worker health and
// cumulative error counters.
func (e *Engine) DumpState(ctx context.Context) (*StateReport, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	rt := e.rt.Load()
	report := &StateReport{
		TopologyVersion: rt.version,
		GcControl:       e.gcControl(),
	}

	for _, z := range rt.zones {
		zsReply := make(chan ZoneState, 1)
		select {
		case z.zbot.data <- zoneStateMsg{reply: zsReply}:
		case <-ctx.Done():
			return nil, ErrTimeout
		}
		var zs ZoneState
		select {
		case zs = <-zsReply:
		case <-ctx.Done():
			return nil, ErrTimeout
		}

		// The zone-worker's aggregate is refreshed on worker report
		// ticks; query the shards directly for a current dump.
		zs.CacheEntries, zs.CacheValueBytes = 0, 0
		zs.Files = nil
		for _, cb := range z.cbots {
			r := make(chan cacheStats, 1)
			cb.readCh <- cacheStatsMsg{reply: r}
			cs := <-r
			zs.CacheEntries += cs.entries
			zs.CacheValueBytes += cs.valueBytes
		}
		for _, fb := range z.fbots {
			r := make(chan []FileSummary, 1)
			fb.data <- fileStatsMsg{reply: r}
			zs.Files = append(zs.Files, <-r...)
		}
		report.Zones = append(report.Zones, zs)
	}

	report.Workers = e.sup.report()
	counts, err := e.cat.ErrorCounts()
	if err != nil {
		return nil, err
	}
	report.ErrorCounts = counts
	return report, nil
}

// ClearCache drops every shard's cached values; locations are retained,
// so subsequent reads fall through to the files.
func (e *Engine) ClearCache(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	rt := e.rt.Load()
	var replies []chan struct{}
	for _, z := range rt.zones {
		for _, cb := range z.cbots {
			r := make(chan struct{}, 1)
			select {
			case cb.writeCh <- cacheClearMsg{reply: r}:
				replies = append(replies, r)
			case <-ctx.Done():
				return ErrTimeout
			}
		}
	}
	for _, r := range replies {
		select {
		case <-r:
		case <-ctx.Done():
			return ErrTimeout
		}
	}
	return nil
}

// SetGcControl updates compaction behavior across all file-workers.
func (e *Engine) SetGcControl(ctx context.Context, ctl GcControl) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	e.gcMu.Lock()
	e.gc = ctl
	e.gcMu.Unlock()

	rt := e.rt.Load()
	for _, z := range rt.zones {
		for _, fb := range z.fbots {
			select {
			case fb.data <- gcControlMsg{ctl: ctl}:
			case <-ctx.Done():
				return ErrTimeout
			}
		}
	}
	return nil
}

func (e *Engine) gcControl() GcControl {
	e.gcMu.Lock()
	defer e.gcMu.Unlock()
	return e.gc
}

// ChangeTopology applies a new configuration, migrating data when the
// zone or shard layout changed. Serialized through the config-worker.
func (e *Engine) ChangeTopology(ctx context.Context, cfg *config.Config) error {
	if e.closed.Load() {
		return ErrShutdown
	}
	reply := make(chan error, 1)
	select {
	case e.cfgbot.data <- changeTopologyMsg{cfg: cfg, reply: reply}:
	case <-ctx.Done():
		return ErrTimeout
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// appliedConfig returns the configuration currently in force.
func (e *Engine) appliedConfig() *config.Config {
	return e.applied.Load()
}

// Close stops the fleet and the catalog. Further operations return
// ErrShutdown.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Wait out in-flight operations and any running migration.
	e.opMu.Lock()
	defer e.opMu.Unlock()
	rt := e.rt.Load()
	if e.cfgbot != nil {
		e.cfgbot.handle().stop(stopTimeout)
	}
	e.shutdownFleet(rt)
	e.sup.stop()
	e.log.Info("engine closed")
	return e.cat.Close()
}

// shutdownFleet drains in-flight work, then stops workers downstream
// last so nothing sends on a dead worker's channel.
func (e *Engine) shutdownFleet(rt *routing) {
	e.drainFleet(rt, true)
	e.sup.stopWorkers(rt.handles())
}

// drainFleet pushes a marker through every queue, in pipeline order, and
// waits for each: writers and readers first, then GC workers, then cache
// and file shards. includeFrontline skips the writer/reader stage during
// initialization, where they have no traffic yet.
func (e *Engine) drainFleet(rt *routing, includeFrontline bool) {
	if includeFrontline {
		for _, z := range rt.zones {
			e.drainChan(z.wbot.data)
			for _, b := range z.rbots {
				e.drainChan(b.data)
			}
		}
	}
	for _, z := range rt.zones {
		for _, b := range z.igbots {
			e.drainChan(b.data)
		}
	}
	for _, z := range rt.zones {
		for _, b := range z.cbots {
			e.drainChan(b.writeCh)
			e.drainChan(b.readCh)
		}
	}
	for _, z := range rt.zones {
		for _, b := range z.fbots {
			e.drainChan(b.data)
		}
		e.drainChan(z.zbot.data)
	}
}

func (e *Engine) drainChan(ch chan any) {
	reply := make(chan struct{}, 1)
	ch <- drainMsg{reply: reply}
	<-reply
}
