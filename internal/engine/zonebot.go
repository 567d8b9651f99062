package engine

import (
	"fmt"
	"time"

	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/pkg/log"
)

// zonebot owns one zone's directory lifecycle: it allocates file numbers,
// tracks the live file and aggregates the periodic shard-size reports from
// its cache- and file-workers into a ZoneState.
type zonebot struct {
	bot
	idx int
	dir string

	data chan any

	next store.FileNum
	live store.FileNum

	cacheSizes map[string]cacheStats
	fileSizes  map[string][]FileSummary

	logEvery time.Duration
}

func newZonebot(idx int, dir string, next store.FileNum, logEvery time.Duration, logger log.Logger) *zonebot {
	return &zonebot{
		bot:        newBot(fmt.Sprintf("zone%d/zbot", idx), logger),
		idx:        idx,
		dir:        dir,
		data:       make(chan any, defaultQueueLen),
		next:       next,
		cacheSizes: make(map[string]cacheStats),
		fileSizes:  make(map[string][]FileSummary),
		logEvery:   logEvery,
	}
}

func (z *zonebot) run() {
	ticker := time.NewTicker(z.logEvery)
	defer ticker.Stop()
	for {
		select {
		case m := <-z.ctl:
			if !z.handleCtl(m) {
				close(z.done)
				return
			}
		case m := <-z.data:
			z.dispatch(m)
		case <-ticker.C:
			s := z.state()
			z.log.Debug("zone state",
				log.Str("live", s.LiveFile.String()),
				log.Int("cacheEntries", s.CacheEntries),
				log.Int64("cacheValueBytes", s.CacheValueBytes),
				log.Int("files", len(s.Files)))
		}
	}
}

func (z *zonebot) dispatch(msg any) {
	switch m := msg.(type) {
	case nextFileMsg:
		n := z.next
		z.next++
		m.reply <- n

	case liveChangedMsg:
		z.live = m.file
		if m.file >= z.next {
			z.next = m.file + 1
		}

	case zoneStatsPushMsg:
		if m.fromCache {
			z.cacheSizes[m.worker] = m.cache
		} else {
			z.fileSizes[m.worker] = m.files
		}

	case zoneStateMsg:
		m.reply <- z.state()

	case drainMsg:
		m.reply <- struct{}{}

	default:
		z.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

func (z *zonebot) state() ZoneState {
	s := ZoneState{Zone: z.idx, Dir: z.dir, LiveFile: z.live}
	for _, cs := range z.cacheSizes {
		s.CacheEntries += cs.entries
		s.CacheValueBytes += cs.valueBytes
	}
	for _, fsums := range z.fileSizes {
		s.Files = append(s.Files, fsums...)
	}
	return s
}
