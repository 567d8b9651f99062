package store

// CacheEntry is one key's cached state: an authoritative location plus an
// optional copy of the value bytes. A Deleted entry is retained so that a
// tombstoned key is not resurrected from older files during replay.
type CacheEntry struct {
	Loc     Location
	Value   []byte // nil when only the location is cached
	Deleted bool

	// valueSeq ties the cached value to its eviction-queue slot.
	valueSeq uint64
}

// HasValue reports whether the value bytes are cached.
func (e *CacheEntry) HasValue() bool { return e.Value != nil }

// Cache is one cache shard: key -> CacheEntry, owned exclusively by a
// single cache-worker. Value bytes are bounded by valueLimit; locations
// are always retained.
type Cache struct {
	entries    map[string]*CacheEntry
	valueBytes int64
	valueLimit int64 // 0 means unlimited
	valueOrder []valueRef
	valueSeq   uint64
}

// valueRef is one eviction-queue slot. The sequence number detects slots
// orphaned by a drop or re-cache of the same key.
type valueRef struct {
	key string
	seq uint64
}

// NewCache creates a shard with the given cached-value byte limit.
func NewCache(valueLimit int64) *Cache {
	return &Cache{
		entries:    make(map[string]*CacheEntry),
		valueLimit: valueLimit,
	}
}

// Insert installs or replaces the entry for key, caching the value when it
// fits. It returns the superseded location, if any, for garbage marking.
func (c *Cache) Insert(key []byte, loc Location, value []byte) (old Location, hadOld bool) {
	k := string(key)
	if prev, ok := c.entries[k]; ok {
		old, hadOld = prev.Loc, true
		c.dropValue(prev)
	}
	e := &CacheEntry{Loc: loc}
	c.entries[k] = e
	c.setValue(k, e, value)
	return old, hadOld
}

// InsertTombstone installs a deletion marker for key, returning the
// superseded location for garbage marking.
func (c *Cache) InsertTombstone(key []byte, loc Location) (old Location, hadOld bool) {
	k := string(key)
	if prev, ok := c.entries[k]; ok {
		old, hadOld = prev.Loc, true
		c.dropValue(prev)
	}
	c.entries[k] = &CacheEntry{Loc: loc, Deleted: true}
	return old, hadOld
}

// InsertIfNewer installs (key, loc, value) only when loc is later in the
// log than the current entry's location. Used during initialization, where
// files are replayed concurrently and out of order. The deleted flag
// carries tombstone records. Returns the loser location for garbage
// marking and whether the insert won.
func (c *Cache) InsertIfNewer(key []byte, loc Location, value []byte, deleted bool) (loser Location, hadLoser bool, won bool) {
	k := string(key)
	if prev, ok := c.entries[k]; ok {
		if !loc.After(prev.Loc) {
			return loc, true, false
		}
		loser, hadLoser = prev.Loc, true
		c.dropValue(prev)
	}
	e := &CacheEntry{Loc: loc, Deleted: deleted}
	c.entries[k] = e
	if !deleted {
		c.setValue(k, e, value)
	}
	return loser, hadLoser, true
}

// Lookup returns the entry for key, or nil.
func (c *Cache) Lookup(key []byte) *CacheEntry { return c.entries[string(key)] }

// CacheValue attaches value bytes to an existing entry, typically after a
// file read. No-op if the key is absent or deleted.
func (c *Cache) CacheValue(key, value []byte) {
	k := string(key)
	e, ok := c.entries[k]
	if !ok || e.Deleted || e.Value != nil {
		return
	}
	c.setValue(k, e, value)
}

// Relocate updates the location of key after compaction moved its record.
// The update is skipped when the entry no longer points at oldLoc, which
// means a fresh write superseded the record mid-compaction.
func (c *Cache) Relocate(key []byte, oldLoc, newLoc Location) bool {
	e, ok := c.entries[string(key)]
	if !ok || e.Loc != oldLoc {
		return false
	}
	e.Loc = newLoc
	return true
}

// Install places a migrated entry wholesale, preserving its deleted flag
// and cached value. Used when a topology change redistributes shards.
func (c *Cache) Install(key string, e CacheEntry) {
	if prev, ok := c.entries[key]; ok {
		c.dropValue(prev)
	}
	installed := &CacheEntry{Loc: e.Loc, Deleted: e.Deleted}
	c.entries[key] = installed
	if !e.Deleted {
		c.setValue(key, installed, e.Value)
	}
}

// ClearValues drops all cached value bytes, retaining locations.
func (c *Cache) ClearValues() {
	for _, e := range c.entries {
		e.Value = nil
	}
	c.valueBytes = 0
	c.valueOrder = c.valueOrder[:0]
}

// SetValueLimit changes the cached-value byte limit, evicting down to the
// new bound immediately.
func (c *Cache) SetValueLimit(limit int64) {
	c.valueLimit = limit
	c.evict()
}

// Len returns the number of entries, tombstones included.
func (c *Cache) Len() int { return len(c.entries) }

// ValueBytes returns the bytes held by cached values.
func (c *Cache) ValueBytes() int64 { return c.valueBytes }

// Each visits every entry; stop by returning false.
func (c *Cache) Each(fn func(key string, e *CacheEntry) bool) {
	for k, e := range c.entries {
		if !fn(k, e) {
			return
		}
	}
}

func (c *Cache) setValue(k string, e *CacheEntry, value []byte) {
	if value == nil {
		return
	}
	if c.valueLimit > 0 && int64(len(value)) > c.valueLimit {
		return
	}
	c.valueSeq++
	e.Value = value
	e.valueSeq = c.valueSeq
	c.valueBytes += int64(len(value))
	c.valueOrder = append(c.valueOrder, valueRef{key: k, seq: c.valueSeq})
	c.evict()
}

func (c *Cache) dropValue(e *CacheEntry) {
	if e.Value != nil {
		c.valueBytes -= int64(len(e.Value))
		e.Value = nil
	}
}

// evict sheds oldest cached values until under the limit. A slot is
// honored only while its sequence matches the entry's: a re-cached value
// must age from its newest slot, not its oldest.
func (c *Cache) evict() {
	if c.valueLimit <= 0 {
		return
	}
	for c.valueBytes > c.valueLimit && len(c.valueOrder) > 0 {
		ref := c.valueOrder[0]
		c.valueOrder = c.valueOrder[1:]
		if e, ok := c.entries[ref.key]; ok && e.valueSeq == ref.seq {
			c.dropValue(e)
		}
	}
}
