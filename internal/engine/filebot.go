package engine

import (
	"fmt"
	"time"

	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/log"
)

// filebot owns one shard of a zone's files. All mutations of its
// FileStates flow through its single data channel. While a file is under
// compaction, messages touching that file are buffered and replayed once
// the move map is installed, so no caller ever sees a torn view.
type filebot struct {
	bot
	z   *zoneSet
	dir string

	data  chan any
	files *store.FileSet

	gc      GcControl
	gcRatio float64
	// gcActive flags files handed to an init/GC-worker but not yet under
	// way; gcBuf holds messages for files mid-compaction.
	gcActive map[store.FileNum]bool
	gcBuf    map[store.FileNum][]any

	reportEvery time.Duration
}

func newFilebot(z *zoneSet, idx int, gc GcControl, gcRatio float64, reportEvery time.Duration, logger log.Logger) *filebot {
	name := fmt.Sprintf("zone%d/fbot%d", z.idx, idx)
	return &filebot{
		bot:         newBot(name, logger),
		z:           z,
		dir:         z.dir,
		data:        make(chan any, defaultQueueLen),
		files:       store.NewFileSet(),
		gc:          gc,
		gcRatio:     gcRatio,
		gcActive:    make(map[store.FileNum]bool),
		gcBuf:       make(map[store.FileNum][]any),
		reportEvery: reportEvery,
	}
}

func (f *filebot) run() {
	ticker := time.NewTicker(f.reportEvery)
	defer ticker.Stop()
	for {
		select {
		case m := <-f.ctl:
			if !f.handleCtl(m) {
				close(f.done)
				return
			}
		case m := <-f.data:
			f.dispatch(m)
		case <-ticker.C:
			f.report()
		}
	}
}

func (f *filebot) dispatch(msg any) {
	switch m := msg.(type) {
	case fileAddEntryMsg:
		if f.buffered(m.loc.File, msg) {
			return
		}
		fs := f.files.GetOrCreate(m.loc.File)
		fs.AddEntry(m.loc.Offset, m.loc.Length)
		f.maybeTrigger(fs, m.noGc)

	case fileMarkGarbageMsg:
		if f.buffered(m.loc.File, msg) {
			return
		}
		fs := f.files.GetOrCreate(m.loc.File)
		// The mark may reference the pre-compaction layout: the record was
		// superseded while the file was under GC and the rewrite carried it
		// as a survivor. Translate through the move map so the garbage is
		// booked against the relocated record, not a dead offset.
		off, ok := fs.Resolve(m.loc.Offset)
		if !ok {
			off = m.loc.Offset
		}
		fs.MarkGarbage(off, m.loc.Length)
		if off != m.loc.Offset {
			// The translation's only referent is now garbage; a late reader
			// holding the old offset falls back to the cache.
			fs.ClearMoved(m.loc.Offset)
		}
		f.maybeTrigger(fs, m.noGc)

	case openLiveMsg:
		// An existing state is adopted, not replaced; its entries were
		// installed by initialization or a topology migration.
		fs := f.files.GetOrCreate(m.file)
		fs.Status = store.StatusLive
		m.reply <- nil

	case closeLiveMsg:
		fs := f.files.GetOrCreate(m.oldFile)
		fs.Status = store.StatusStale
		f.maybeTrigger(fs, false)
		owner := f.z.fbotFor(m.newFile)
		if owner == f {
			next := f.files.GetOrCreate(m.newFile)
			next.Status = store.StatusLive
			m.reply <- nil
			return
		}
		// Second leg of the rollover handshake; the new owner acks the
		// writer directly.
		owner.data <- openLiveMsg{file: m.newFile, reply: m.reply}

	case readLeaseMsg:
		if f.buffered(m.loc.File, msg) {
			return
		}
		fs := f.files.Get(m.loc.File)
		if fs == nil {
			m.reply <- readLeaseReply{err: ErrStaleRead}
			return
		}
		resolved, ok := fs.LookupEntry(m.loc.Offset)
		if !ok {
			m.reply <- readLeaseReply{err: ErrStaleRead}
			return
		}
		fs.IncReaders()
		m.reply <- readLeaseReply{loc: resolved, maybeStale: resolved.Offset != m.loc.Offset}

	case readDoneMsg:
		fs := f.files.Get(m.file)
		if fs == nil {
			f.countError("read release for unknown file", fmt.Errorf("%w: file %s", ErrConsistency, m.file))
			return
		}
		if err := fs.DecReaders(); err != nil {
			f.countError("read release", err)
			return
		}
		f.collectIfEmpty(fs)

	case gcControlMsg:
		f.gc = m.ctl

	case tunablesMsg:
		f.gcRatio = m.gcRatio

	case gcBeginMsg:
		fs := f.files.Get(m.file)
		if fs == nil || fs.BeginGC() != nil {
			delete(f.gcActive, m.file)
			m.reply <- gcBeginReply{}
			return
		}
		f.gcBuf[m.file] = nil
		m.reply <- gcBeginReply{ok: true, entries: fs.Entries()}

	case gcFinishedMsg:
		fs := f.files.Get(m.file)
		if fs == nil {
			f.countError("gc finish for unknown file", fmt.Errorf("%w: file %s", ErrConsistency, m.file))
			m.reply <- struct{}{}
			return
		}
		if err := fs.FinishGC(m.moved, m.newSize); err != nil {
			f.countError("gc finish", err)
		}
		for _, off := range m.acked {
			fs.ClearMoved(off)
		}
		delete(f.gcActive, m.file)
		m.reply <- struct{}{}
		f.replay(m.file)
		f.collectIfEmpty(fs)

	case gcAbortedMsg:
		if fs := f.files.Get(m.file); fs != nil && fs.Status == store.StatusUnderGC {
			fs.Status = store.StatusStale
		}
		delete(f.gcActive, m.file)
		f.replay(m.file)

	case fileStatsMsg:
		m.reply <- f.summaries()

	case fileTransferMsg:
		var out []*store.FileState
		f.files.Each(func(fs *store.FileState) bool {
			out = append(out, fs)
			return true
		})
		m.reply <- out

	case fileInstallMsg:
		for _, fs := range m.states {
			f.files.Put(fs)
		}
		m.reply <- struct{}{}

	case drainMsg:
		m.reply <- struct{}{}

	default:
		f.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

// buffered queues msg when its file is mid-compaction.
func (f *filebot) buffered(file store.FileNum, msg any) bool {
	buf, ok := f.gcBuf[file]
	if !ok {
		return false
	}
	f.gcBuf[file] = append(buf, msg)
	return true
}

// replay re-handles messages buffered while file was under compaction, in
// arrival order.
func (f *filebot) replay(file store.FileNum) {
	buf, ok := f.gcBuf[file]
	if !ok {
		return
	}
	delete(f.gcBuf, file)
	for _, msg := range buf {
		f.dispatch(msg)
	}
}

// maybeTrigger hands the file to an init/GC-worker when it crosses the
// garbage threshold. An empty file skips compaction and is deleted
// outright.
func (f *filebot) maybeTrigger(fs *store.FileState, noGc bool) {
	if noGc || !f.gc.Enabled || !f.gc.Auto {
		return
	}
	if fs.Status != store.StatusStale || f.gcActive[fs.File] {
		return
	}
	if f.collectIfEmpty(fs) {
		return
	}
	if fs.GarbageRatio() < f.gcRatio {
		return
	}
	f.gcActive[fs.File] = true
	select {
	case f.z.igbotNext().data <- gcFileMsg{file: fs.File}:
	default:
		// GC workers saturated; the next garbage event retries.
		delete(f.gcActive, fs.File)
	}
}

// collectIfEmpty deletes a file that holds no current records.
func (f *filebot) collectIfEmpty(fs *store.FileState) bool {
	if !fs.Collectible() {
		return false
	}
	if err := zone.RemovePair(f.dir, fs.File); err != nil {
		f.countError("collect empty file", err)
		return false
	}
	f.files.Remove(fs.File)
	f.log.Info("collected empty file", log.Str("file", fs.File.String()))
	return true
}

func (f *filebot) summaries() []FileSummary {
	var out []FileSummary
	f.files.Each(func(fs *store.FileState) bool {
		out = append(out, FileSummary{
			File:         fs.File,
			Status:       fs.Status.String(),
			Size:         fs.Size,
			Entries:      fs.EntryCount(),
			GarbageBytes: fs.GarbageBytes(),
			Readers:      fs.Readers(),
			MovePending:  fs.MovePending(),
		})
		return true
	})
	return out
}

func (f *filebot) report() {
	push := zoneStatsPushMsg{worker: f.name, files: f.summaries()}
	select {
	case f.z.zbot.data <- push:
	default:
	}
}
