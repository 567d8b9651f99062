package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/strata/internal/crypt"
	"github.com/rzbill/strata/internal/zone"
	"github.com/rzbill/strata/pkg/log"
)

// readLeaseAttempts bounds how often a read chases a record that keeps
// moving under concurrent compaction before giving up.
const readLeaseAttempts = 3

// readerbot resolves keys to values: cache shard first, then a leased
// file read through the owning file-worker. Reader-workers are stateless
// peers; a zone runs a pool of them.
type readerbot struct {
	bot
	z *zoneSet

	data chan any

	hasher crypt.KeyHasher
	enc    crypt.Encrypter
}

func newReaderbot(z *zoneSet, idx int, hasher crypt.KeyHasher, enc crypt.Encrypter, logger log.Logger) *readerbot {
	return &readerbot{
		bot:    newBot(fmt.Sprintf("zone%d/rbot%d", z.idx, idx), logger),
		z:      z,
		data:   make(chan any, defaultQueueLen),
		hasher: hasher,
		enc:    enc,
	}
}

func (r *readerbot) run() {
	for {
		select {
		case m := <-r.ctl:
			if !r.handleCtl(m) {
				close(r.done)
				return
			}
		case m := <-r.data:
			r.dispatch(m)
		}
	}
}

func (r *readerbot) dispatch(msg any) {
	switch m := msg.(type) {
	case getMsg:
		m.reply <- r.get(m.ctx, m.key)
	case drainMsg:
		m.reply <- struct{}{}
	default:
		r.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
	}
}

func (r *readerbot) get(ctx context.Context, key []byte) getReply {
	cb := r.z.rt.cbotFor(r.z, r.hasher.Hash(key))

	for attempt := 0; attempt < readLeaseAttempts; attempt++ {
		lookup := make(chan cacheLookupReply, 1)
		select {
		case cb.readCh <- cacheLookupMsg{key: key, reply: lookup}:
		case <-ctx.Done():
			return getReply{err: ErrTimeout}
		}
		var lr cacheLookupReply
		select {
		case lr = <-lookup:
		case <-ctx.Done():
			return getReply{err: ErrTimeout}
		}

		if !lr.found || lr.deleted {
			return getReply{err: ErrNotFound}
		}
		if lr.value != nil {
			return getReply{value: lr.value}
		}

		reply := r.readFromFile(ctx, key, lr, cb)
		if errors.Is(reply.err, ErrStaleRead) {
			// The record moved between the cache lookup and the lease;
			// the refreshed cache entry resolves it.
			continue
		}
		return reply
	}
	return getReply{err: fmt.Errorf("%w: key kept moving under compaction", ErrStaleRead)}
}

func (r *readerbot) readFromFile(ctx context.Context, key []byte, lr cacheLookupReply, cb *cachebot) getReply {
	fb := r.z.fbotFor(lr.loc.File)
	lease := make(chan readLeaseReply, 1)
	select {
	case fb.data <- readLeaseMsg{loc: lr.loc, reply: lease}:
	case <-ctx.Done():
		return getReply{err: ErrTimeout}
	}

	var lease0 readLeaseReply
	select {
	case lease0 = <-lease:
	case <-ctx.Done():
		// The lease may still be granted after we leave; release it so
		// the reader count cannot leak.
		go func() {
			if late := <-lease; late.err == nil {
				fb.data <- readDoneMsg{file: late.loc.File}
			}
		}()
		return getReply{err: ErrTimeout}
	}
	if lease0.err != nil {
		return getReply{err: lease0.err}
	}

	rec, err := zone.ReadRecord(r.z.dir, lease0.loc)
	fb.data <- readDoneMsg{file: lease0.loc.File}
	if err != nil {
		r.countError("file read", err)
		return getReply{err: err}
	}
	if !bytes.Equal(rec.Key, key) {
		err := fmt.Errorf("%w: read %q at %s@%d, wanted %q",
			ErrConsistency, rec.Key, lease0.loc.File, lease0.loc.Offset, key)
		r.countError("key mismatch", err)
		return getReply{err: err}
	}
	if rec.Tombstone() {
		return getReply{err: ErrNotFound}
	}

	value := rec.Value
	if r.enc != nil {
		if value, err = r.enc.Decrypt(rec.Value); err != nil {
			r.countError("decrypt value", err)
			return getReply{err: err}
		}
	}

	// Warm the cache for the next read of this key.
	select {
	case cb.writeCh <- cacheValueMsg{key: key, value: value}:
	default:
	}
	return getReply{value: value, maybeStale: lease0.maybeStale}
}
