package engine

import (
	"fmt"

	"github.com/rzbill/strata/internal/crypt"
	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/log"
)

// writerbot drives its zone's write pipeline. It is the sole owner of the
// zone's live file handle; appending to that file is the durability point
// of every put.
type writerbot struct {
	bot
	z *zoneSet

	data chan any

	hasher       crypt.KeyHasher
	enc          crypt.Encrypter
	maxFileBytes int64

	live *zone.LiveFile
}

func newWriterbot(z *zoneSet, hasher crypt.KeyHasher, enc crypt.Encrypter, maxFileBytes int64, logger log.Logger) *writerbot {
	return &writerbot{
		bot:          newBot(fmt.Sprintf("zone%d/wbot", z.idx), logger),
		z:            z,
		data:         make(chan any, defaultQueueLen),
		hasher:       hasher,
		enc:          enc,
		maxFileBytes: maxFileBytes,
	}
}

// openLive opens the zone's live file and registers its Live state with
// the owning file-worker. Called before the worker loop starts so
// initialization replay finds the state in place.
func (w *writerbot) openLive(num store.FileNum) error {
	lf, err := zone.OpenLive(w.z.dir, num)
	if err != nil {
		return err
	}
	w.live = lf
	ack := make(chan error, 1)
	w.z.fbotFor(num).data <- openLiveMsg{file: num, reply: ack}
	if err := <-ack; err != nil {
		lf.Close()
		return err
	}
	w.z.zbot.data <- liveChangedMsg{file: num}
	return nil
}

func (w *writerbot) run() {
	for {
		select {
		case m := <-w.ctl:
			if !w.handleCtl(m) {
				if w.live != nil {
					if err := w.live.Close(); err != nil {
						w.log.Error("close live file", log.Err(err))
					}
				}
				close(w.done)
				return
			}
		case m := <-w.data:
			w.dispatch(m)
		}
	}
}

func (w *writerbot) dispatch(msg any) {
	switch m := msg.(type) {
	case putMsg:
		w.put(m)
	case tunablesMsg:
		w.maxFileBytes = m.maxFileBytes
	case drainMsg:
		m.reply <- struct{}{}
	default:
		w.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

func (w *writerbot) put(m putMsg) {
	if err := m.ctx.Err(); err != nil {
		m.reply <- putReply{err: ErrTimeout}
		return
	}

	stored := m.value
	var flags byte
	if m.tombstone {
		stored = nil
		flags = record.FlagTombstone
	} else if w.enc != nil {
		var err error
		if stored, err = w.enc.Encrypt(m.value); err != nil {
			w.countError("encrypt value", err)
			m.reply <- putReply{err: err}
			return
		}
	}

	need := record.DataSize(len(m.key), len(stored))
	if w.live.Size() > 0 && int64(w.live.Size())+need > w.maxFileBytes {
		if err := w.rollover(); err != nil {
			w.countError("rollover", err)
			m.reply <- putReply{err: err}
			return
		}
	}

	loc, err := w.live.Append(m.key, stored, flags)
	if err != nil {
		w.countError("append", err)
		m.reply <- putReply{err: err}
		return
	}

	// The cache-worker answers the caller and fans out file-state updates.
	rt := w.z.rt
	cb := rt.cbotFor(w.z, w.hasher.Hash(m.key))
	cb.writeCh <- cacheInsertMsg{
		key:       m.key,
		loc:       loc,
		value:     m.value,
		tombstone: m.tombstone,
		reply:     m.reply,
	}
}

// rollover retires the live file and opens the next. The outgoing file's
// owner downgrades it to Stale and forwards the open to the new owner;
// only after that ack does the writer resume appending.
func (w *writerbot) rollover() error {
	numReply := make(chan store.FileNum, 1)
	w.z.zbot.data <- nextFileMsg{reply: numReply}
	next := <-numReply

	ack := make(chan error, 1)
	w.z.fbotFor(w.live.Num).data <- closeLiveMsg{oldFile: w.live.Num, newFile: next, reply: ack}
	if err := <-ack; err != nil {
		return err
	}

	if err := w.live.Close(); err != nil {
		return fmt.Errorf("close outgoing live file: %w", err)
	}
	lf, err := zone.OpenLive(w.z.dir, next)
	if err != nil {
		return err
	}
	old := w.live.Num
	w.live = lf
	w.z.zbot.data <- liveChangedMsg{file: next}
	w.log.Info("rolled over live file",
		log.Str("old", old.String()), log.Str("new", next.String()))
	return nil
}
