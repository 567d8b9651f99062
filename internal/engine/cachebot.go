package engine

import (
	"fmt"
	"time"

	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/pkg/log"
)

// cachebot owns one cache shard. It has two inbound channels so writes
// keep priority over reads when both queues are hot; each message is
// served to completion before the next, which is what serializes all
// mutations of the shard.
type cachebot struct {
	bot
	z     *zoneSet
	cache *store.Cache

	writeCh chan any
	readCh  chan any

	reportEvery time.Duration
}

func newCachebot(z *zoneSet, idx int, valueLimit int64, reportEvery time.Duration, logger log.Logger) *cachebot {
	name := fmt.Sprintf("zone%d/cbot%d", z.idx, idx)
	return &cachebot{
		bot:         newBot(name, logger),
		z:           z,
		cache:       store.NewCache(valueLimit),
		writeCh:     make(chan any, defaultQueueLen),
		readCh:      make(chan any, defaultQueueLen),
		reportEvery: reportEvery,
	}
}

func (c *cachebot) run() {
	ticker := time.NewTicker(c.reportEvery)
	defer ticker.Stop()
	for {
		// Drain control and write-priority work before touching reads.
		select {
		case m := <-c.ctl:
			if !c.handleCtl(m) {
				close(c.done)
				return
			}
			continue
		case m := <-c.writeCh:
			c.handleWrite(m)
			continue
		default:
		}
		select {
		case m := <-c.ctl:
			if !c.handleCtl(m) {
				close(c.done)
				return
			}
		case m := <-c.writeCh:
			c.handleWrite(m)
		case m := <-c.readCh:
			c.handleRead(m)
		case <-ticker.C:
			c.report()
		}
	}
}

func (c *cachebot) handleWrite(msg any) {
	switch m := msg.(type) {
	case cacheInsertMsg:
		var old store.Location
		var had bool
		if m.tombstone {
			old, had = c.cache.InsertTombstone(m.key, m.loc)
		} else {
			old, had = c.cache.Insert(m.key, m.loc, m.value)
		}
		// The append already happened; this entry is durable. Answer the
		// caller before the file-state bookkeeping fans out.
		m.reply <- putReply{}
		c.forwardAdd(m.loc, false)
		if had {
			c.forwardGarbage(old, false)
		}

	case initInsertMsg:
		loser, hadLoser, won := c.cache.InsertIfNewer(m.key, m.loc, nil, m.tombstone)
		if won {
			c.forwardAdd(m.loc, true)
		}
		if hadLoser {
			c.forwardGarbage(loser, true)
		}
		if m.done != nil {
			m.done <- struct{}{}
		}

	case cacheValueMsg:
		c.cache.CacheValue(m.key, m.value)

	case gcCacheUpdateMsg:
		acked := make([]uint64, 0, len(m.moves))
		for _, mv := range m.moves {
			if c.cache.Relocate(mv.key, mv.oldLoc, mv.newLoc) {
				acked = append(acked, mv.oldLoc.Offset)
			}
		}
		m.reply <- gcCacheUpdateReply{acked: acked}

	case cacheClearMsg:
		c.cache.ClearValues()
		m.reply <- struct{}{}

	case cacheInstallMsg:
		c.cache.Install(m.key, m.entry)
		m.reply <- struct{}{}

	case cacheEachMsg:
		c.cache.Each(func(k string, e *store.CacheEntry) bool {
			m.fn(k, *e)
			return true
		})
		m.reply <- struct{}{}

	case tunablesMsg:
		c.cache.SetValueLimit(m.cacheValueLimit)

	case drainMsg:
		m.reply <- struct{}{}

	default:
		c.countError("unexpected write message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

func (c *cachebot) handleRead(msg any) {
	switch m := msg.(type) {
	case cacheLookupMsg:
		e := c.cache.Lookup(m.key)
		if e == nil {
			m.reply <- cacheLookupReply{}
			return
		}
		m.reply <- cacheLookupReply{
			found:   true,
			deleted: e.Deleted,
			loc:     e.Loc,
			value:   e.Value,
		}

	case cacheStatsMsg:
		m.reply <- cacheStats{entries: c.cache.Len(), valueBytes: c.cache.ValueBytes()}

	case drainMsg:
		m.reply <- struct{}{}

	default:
		c.countError("unexpected read message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

// forwardAdd tells the owning file-worker about a fresh record.
func (c *cachebot) forwardAdd(loc store.Location, noGc bool) {
	c.z.fbotFor(loc.File).data <- fileAddEntryMsg{loc: loc, noGc: noGc}
}

// forwardGarbage tells the owning file-worker a record was superseded.
func (c *cachebot) forwardGarbage(loc store.Location, noGc bool) {
	c.z.fbotFor(loc.File).data <- fileMarkGarbageMsg{loc: loc, noGc: noGc}
}

// report pushes shard sizes to the zone-worker; dropped when it is busy.
func (c *cachebot) report() {
	push := zoneStatsPushMsg{
		fromCache: true,
		worker:    c.name,
		cache:     cacheStats{entries: c.cache.Len(), valueBytes: c.cache.ValueBytes()},
	}
	select {
	case c.z.zbot.data <- push:
	default:
	}
}
