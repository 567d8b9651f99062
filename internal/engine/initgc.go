package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rzbill/strata/internal/crypt"
	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/log"
)

// initgcbot has two jobs sharing one scan-and-route core: replaying files
// into cache/file state at startup and compacting files during live
// operation.
type initgcbot struct {
	bot
	z *zoneSet

	data chan any

	hasher crypt.KeyHasher
}

func newInitgcbot(z *zoneSet, idx int, hasher crypt.KeyHasher, logger log.Logger) *initgcbot {
	return &initgcbot{
		bot:    newBot(fmt.Sprintf("zone%d/igbot%d", z.idx, idx), logger),
		z:      z,
		data:   make(chan any, defaultQueueLen),
		hasher: hasher,
	}
}

func (g *initgcbot) run() {
	for {
		select {
		case m := <-g.ctl:
			if !g.handleCtl(m) {
				close(g.done)
				return
			}
		case m := <-g.data:
			g.dispatch(m)
		}
	}
}

func (g *initgcbot) dispatch(msg any) {
	switch m := msg.(type) {
	case initFileMsg:
		m.reply <- g.initFile(m.info)
	case gcFileMsg:
		g.compact(m.file)
	case drainMsg:
		m.reply <- struct{}{}
	default:
		g.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

// initFile replays one surveyed file through the cache insertion path.
// The index file is preferred; a missing or corrupt index falls back to
// scanning the data file and regenerating the index. Compaction triggers
// stay disabled: bootstrap is about correctness, not space.
func (g *initgcbot) initFile(info fileToInit) error {
	if info.hasIndex {
		if err := g.replayIndex(info.num); err == nil {
			return nil
		}
		g.log.Warn("index replay failed, rebuilding from data file",
			log.Str("file", info.num.String()))
	}
	return g.replayData(info.num)
}

func (g *initgcbot) replayIndex(num store.FileNum) error {
	f, err := os.Open(zone.IndexPath(g.z.dir, num))
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	n := 0
	for {
		entry, _, err := record.ReadIndex(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn index tail would silently drop the newest records;
			// the data file is the source of truth.
			return err
		}
		g.routeInit(entry.Key, store.Location{
			File:   num,
			Offset: entry.Offset,
			Length: entry.Length,
		}, entry.Tombstone())
		n++
	}
	g.log.Debug("replayed index file", log.Str("file", num.String()), log.Int("entries", n))
	return nil
}

func (g *initgcbot) replayData(num store.FileNum) error {
	f, err := os.Open(zone.DataPath(g.z.dir, num))
	if err != nil {
		return fmt.Errorf("init %s: %w", num, err)
	}
	defer f.Close()

	var entries []record.IndexEntry
	var offset int64
	r := bufio.NewReader(f)
	for {
		rec, n, err := record.ReadData(r)
		if err == io.EOF {
			break
		}
		if errors.Is(err, record.ErrTorn) {
			g.log.Warn("truncating torn tail",
				log.Str("file", num.String()), log.Int64("offset", offset))
			if terr := zone.TruncateData(g.z.dir, num, offset); terr != nil {
				return fmt.Errorf("truncate %s: %w", num, terr)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("init %s: %w", num, err)
		}
		entries = append(entries, record.IndexEntry{
			Key:    rec.Key,
			Offset: uint64(offset),
			Length: uint64(n),
			Flags:  rec.Flags,
		})
		offset += n
	}

	if err := zone.RebuildIndex(g.z.dir, num, entries); err != nil {
		return err
	}
	for _, e := range entries {
		g.routeInit(e.Key, store.Location{File: num, Offset: e.Offset, Length: e.Length}, e.Tombstone())
	}
	g.log.Info("rebuilt index from data file",
		log.Str("file", num.String()), log.Int("entries", len(entries)))
	return nil
}

func (g *initgcbot) routeInit(key []byte, loc store.Location, tombstone bool) {
	cb := g.z.rt.cbotFor(g.z, g.hasher.Hash(key))
	cb.writeCh <- initInsertMsg{key: key, loc: loc, tombstone: tombstone}
}

// compact rewrites one file, dropping superseded records, and installs
// the move map so references issued against the old layout stay
// resolvable until every cache shard has acknowledged the new locations.
func (g *initgcbot) compact(file store.FileNum) {
	fb := g.z.fbotFor(file)

	begin := make(chan gcBeginReply, 1)
	fb.data <- gcBeginMsg{file: file, reply: begin}
	rep := <-begin
	if !rep.ok {
		return
	}

	rw, err := zone.BeginRewrite(g.z.dir, file)
	if err != nil {
		g.countError("begin rewrite", err)
		fb.data <- gcAbortedMsg{file: file}
		return
	}

	moved := make(map[uint64]store.Location, len(rep.entries))
	movesByShard := make(map[*cachebot][]gcMove)
	for _, loc := range rep.entries {
		rec, err := zone.ReadRecord(g.z.dir, loc)
		if err != nil {
			g.countError("read surviving record", err)
			rw.Abort()
			fb.data <- gcAbortedMsg{file: file}
			return
		}
		newLoc, err := rw.Append(rec.Key, rec.Value, rec.Flags)
		if err != nil {
			g.countError("rewrite record", err)
			rw.Abort()
			fb.data <- gcAbortedMsg{file: file}
			return
		}
		moved[loc.Offset] = newLoc
		cb := g.z.rt.cbotFor(g.z, g.hasher.Hash(rec.Key))
		movesByShard[cb] = append(movesByShard[cb], gcMove{key: rec.Key, oldLoc: loc, newLoc: newLoc})
	}

	newSize := rw.Size()
	if err := rw.Commit(); err != nil {
		g.countError("commit rewrite", err)
		fb.data <- gcAbortedMsg{file: file}
		return
	}

	// Batched cache updates, one message per shard. Unacknowledged moves
	// stay in the move map: the entry was superseded mid-compaction and
	// an in-flight reference may still need the translation.
	var acked []uint64
	for cb, moves := range movesByShard {
		reply := make(chan gcCacheUpdateReply, 1)
		cb.writeCh <- gcCacheUpdateMsg{file: file, moves: moves, reply: reply}
		acked = append(acked, (<-reply).acked...)
	}

	finished := make(chan struct{}, 1)
	fb.data <- gcFinishedMsg{file: file, moved: moved, newSize: newSize, acked: acked, reply: finished}
	<-finished

	g.log.Info("compacted file",
		log.Str("file", file.String()),
		log.Int("survivors", len(moved)),
		log.Int("unacked", len(moved)-len(acked)),
		log.Uint64("bytes", newSize))
}
