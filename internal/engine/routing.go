package engine

import (
	"sync/atomic"

	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/store"
)

// routing is one topology generation: the full worker fleet plus the
// deterministic shard mapping. A topology change builds a new routing and
// swaps the pointer only after migration is acknowledged, so the mapping
// is stable for the lifetime of a version.
type routing struct {
	cfg     config.Config
	version string
	zones   []*zoneSet
}

// zoneSet is one zone's worker pools.
type zoneSet struct {
	rt  *routing
	idx int
	dir string

	zbot   *zonebot
	wbot   *writerbot
	rbots  []*readerbot
	cbots  []*cachebot
	fbots  []*filebot
	igbots []*initgcbot

	rbotRR  atomic.Uint32
	igbotRR atomic.Uint32

	// initFiles is the startup survey, replayed once the fleet is up.
	initFiles []fileToInit
}

// zoneFor selects the zone owning a key hash.
func (r *routing) zoneFor(h uint64) *zoneSet {
	return r.zones[h%uint64(len(r.zones))]
}

// cbotFor selects the cache-worker owning a key hash within z. The zone
// bits are divided out so cache sharding stays uniform per zone.
func (r *routing) cbotFor(z *zoneSet, h uint64) *cachebot {
	return z.cbots[(h/uint64(len(r.zones)))%uint64(len(z.cbots))]
}

// fbotFor selects the file-worker owning a file number.
func (z *zoneSet) fbotFor(f store.FileNum) *filebot {
	return z.fbots[int(uint64(f)%uint64(len(z.fbots)))]
}

// rbotNext picks a reader-worker round robin; they are stateless peers.
func (z *zoneSet) rbotNext() *readerbot {
	return z.rbots[int(z.rbotRR.Add(1))%len(z.rbots)]
}

// igbotNext picks an init/GC-worker round robin.
func (z *zoneSet) igbotNext() *initgcbot {
	return z.igbots[int(z.igbotRR.Add(1))%len(z.igbots)]
}

// handles lists every worker in the routing, supervisor order: per zone
// the zbot, writer, readers, caches, files, gc workers.
func (r *routing) handles() []handle {
	var out []handle
	for _, z := range r.zones {
		out = append(out, z.zbot.handle())
		out = append(out, z.wbot.handle())
		for _, b := range z.rbots {
			out = append(out, b.handle())
		}
		for _, b := range z.cbots {
			out = append(out, b.handle())
		}
		for _, b := range z.fbots {
			out = append(out, b.handle())
		}
		for _, b := range z.igbots {
			out = append(out, b.handle())
		}
	}
	return out
}
