package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"knowte-api/internal/metrics"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
)

const storeTimeout = 2 * time.Second

// Options controls construction of a BoundedTTLCache.
type Options[M any] struct {
	// Name labels logs and metrics.
	Name string

	// MaxEntries bounds the number of live entries. Must be positive.
	MaxEntries int

	// MaxItemsPerEntry bounds each entry's history. If <= 0, history is unbounded.
	MaxItemsPerEntry int

	// TTL is the maximum age of an entry, measured from creation. If <= 0, entries never expire.
	TTL time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// OnRemove is called for every entry removed by Delete, expiry or eviction.
	OnRemove CleanupFunc[M]

	// Store, when set, receives write-through copies of every entry.
	Store Store[M]

	// Rehydrate loads unknown keys from Store before creating a new entry.
	Rehydrate bool
}

// BoundedTTLCache maps opaque keys to entries plus per-entry sub-resources.
//
// Capacity eviction removes the oldest-INSERTED entry first. Reads never
// promote an entry: the index is only touched through Peek, so its order is
// insertion order, not access order. A conversation used seconds ago is still
// evicted before a newer idle one. This is intentional.
//
// Expiry is lazy: every public method sweeps expired entries before doing its
// own work. There is no background janitor.
//
// Store I/O and cleanup callbacks never run under mu. Mirror writes are queued
// inside the critical section with a sequence number and applied after it,
// serialized per key; a write older than one already applied for the same
// key is dropped. Writes to different keys do not wait on each other.
type BoundedTTLCache[M, S any] struct {
	mu   sync.RWMutex
	opts Options[M]
	log  *logrus.Entry

	// entries is the FIFO index, oldest first.
	entries *simplelru.LRU[string, *Entry[M]]
	subs    map[string]map[int]S
	seq     uint64

	storeMu sync.Mutex
	writers map[string]*keyWriter
}

// keyWriter orders mirror writes for one key. refs counts queued writes not
// yet applied; the writer is dropped when it reaches zero.
type keyWriter struct {
	mu      sync.Mutex
	written uint64
	refs    int
}

type removal[M any] struct {
	entry  Entry[M]
	reason RemovalReason
}

// storeOp is a queued mirror write. A nil entry deletes key.
type storeOp[M any] struct {
	seq    uint64
	key    string
	entry  *Entry[M]
	writer *keyWriter
}

// pending is the work a call defers until mu is released.
type pending[M any] struct {
	removed []removal[M]
	writes  []storeOp[M]
}

// New constructs a cache. Its lifetime is that of the owning service.
func New[M, S any](opts Options[M]) (*BoundedTTLCache[M, S], error) {
	if opts.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache %q: max entries must be positive, got %d", opts.Name, opts.MaxEntries)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	index, err := simplelru.NewLRU[string, *Entry[M]](opts.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", opts.Name, err)
	}
	return &BoundedTTLCache[M, S]{
		opts:    opts,
		log:     logrus.WithField("cache", opts.Name),
		entries: index,
		subs:    make(map[string]map[int]S),
		writers: make(map[string]*keyWriter),
	}, nil
}

// GetOrCreate returns the live entry for key unchanged, or creates one from
// seed. An empty key allocates a fresh one. The boolean reports creation.
func (c *BoundedTTLCache[M, S]) GetOrCreate(key string, seed Seed[M, S]) (Entry[M], bool) {
	return c.GetOrCreateAppend(key, seed)
}

// GetOrCreateAppend is GetOrCreate followed by appending items, in a single
// critical section, so no eviction can fall between the two. The returned
// snapshot includes the appended items.
func (c *BoundedTTLCache[M, S]) GetOrCreateAppend(key string, seed Seed[M, S], items ...Item) (Entry[M], bool) {
	now := c.opts.Clock()
	var p pending[M]
	defer c.flush(&p)
	c.sweepAt(&p, now)

	var loaded *Entry[M]
	if key != "" && !c.live(key, now) {
		if e, ok := c.load(key, now); ok {
			loaded = &e
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	created := false
	e, ok := c.peekLiveLocked(&p, key, now)
	switch {
	case ok:
	case loaded != nil:
		// Rehydrated rows are already in the store.
		e = loaded
		c.insertLocked(&p, e)
	default:
		if key == "" {
			key = uuid.NewString()
		}
		e = &Entry[M]{
			Key:       key,
			CreatedAt: now,
			Meta:      seed.Meta,
			History:   stamp(append([]Item(nil), seed.History...), now),
		}
		c.insertLocked(&p, e)
		if len(seed.SubResources) > 0 {
			subs := make(map[int]S, len(seed.SubResources))
			for i, s := range seed.SubResources {
				subs[i] = s
			}
			c.subs[key] = subs
		}
		created = true
	}

	if len(items) > 0 {
		e.History = append(e.History, stamp(append([]Item(nil), items...), now)...)
		c.trim(e)
	}
	if created || len(items) > 0 {
		c.queueSaveLocked(&p, e)
	}
	return e.snapshot(), created
}

// Append adds items to the end of key's history and trims it from the front.
func (c *BoundedTTLCache[M, S]) Append(key string, items ...Item) error {
	now := c.opts.Clock()
	var p pending[M]
	defer c.flush(&p)
	c.sweepAt(&p, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.peekLiveLocked(&p, key, now)
	if !ok {
		return fmt.Errorf("append %q: %w", key, ErrNotFound)
	}
	e.History = append(e.History, stamp(append([]Item(nil), items...), now)...)
	c.trim(e)
	c.queueSaveLocked(&p, e)
	return nil
}

// Get returns a snapshot of key's entry. With Rehydrate set, a key missing
// from memory is loaded from the store.
func (c *BoundedTTLCache[M, S]) Get(key string) (Entry[M], error) {
	now := c.opts.Clock()
	var p pending[M]
	defer c.flush(&p)
	c.sweepAt(&p, now)

	c.mu.RLock()
	if e, ok := c.entries.Peek(key); ok && !c.expired(e, now) {
		snap := e.snapshot()
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	loaded, ok := c.load(key, now)
	if !ok {
		return Entry[M]{}, fmt.Errorf("get %q: %w", key, ErrNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.peekLiveLocked(&p, key, now); ok {
		return e.snapshot(), nil
	}
	c.insertLocked(&p, &loaded)
	return loaded.snapshot(), nil
}

// History returns a copy of key's ordered history.
func (c *BoundedTTLCache[M, S]) History(key string) ([]Item, error) {
	e, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	return e.History, nil
}

// Delete removes key with its sub-resources and runs the cleanup callback.
// The mirrored copy is always deleted. It reports whether either copy
// existed; deleting an absent key returns false and changes nothing.
func (c *BoundedTTLCache[M, S]) Delete(key string) bool {
	now := c.opts.Clock()
	var p pending[M]
	defer c.flush(&p)
	c.sweepAt(&p, now)

	stored := false
	if !c.live(key, now) {
		_, stored = c.load(key, now)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.removeLocked(&p, key, RemovalDeleted)
	if !ok {
		c.queueDeleteLocked(&p, key)
	}
	return ok || stored
}

// Sweep removes every expired entry and returns the removed keys.
func (c *BoundedTTLCache[M, S]) Sweep() []string {
	var p pending[M]
	c.sweepAt(&p, c.opts.Clock())
	c.flush(&p)
	keys := make([]string, 0, len(p.removed))
	for _, r := range p.removed {
		keys = append(keys, r.entry.Key)
	}
	return keys
}

// PutSubResource stores a sub-resource under (key, index).
func (c *BoundedTTLCache[M, S]) PutSubResource(key string, index int, resource S) error {
	now := c.opts.Clock()
	var p pending[M]
	defer c.flush(&p)
	c.sweepAt(&p, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peekLiveLocked(&p, key, now); !ok {
		return fmt.Errorf("put sub-resource %q/%d: %w", key, index, ErrNotFound)
	}
	subs, ok := c.subs[key]
	if !ok {
		subs = make(map[int]S)
		c.subs[key] = subs
	}
	subs[index] = resource
	return nil
}

// GetSubResource returns the sub-resource at (key, index). It returns
// ErrNotFound for an unknown entry and ErrSubResourceNotFound for a missing index.
func (c *BoundedTTLCache[M, S]) GetSubResource(key string, index int) (S, error) {
	now := c.opts.Clock()
	c.sweep(now)

	var zero S
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries.Peek(key)
	if !ok || c.expired(e, now) {
		return zero, fmt.Errorf("get sub-resource %q/%d: %w", key, index, ErrNotFound)
	}
	s, ok := c.subs[key][index]
	if !ok {
		return zero, fmt.Errorf("get sub-resource %q/%d: %w", key, index, ErrSubResourceNotFound)
	}
	return s, nil
}

// SubResourceCount returns how many sub-resources are held under key.
func (c *BoundedTTLCache[M, S]) SubResourceCount(key string) int {
	c.sweep(c.opts.Clock())
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[key])
}

// Len returns the number of live entries.
func (c *BoundedTTLCache[M, S]) Len() int {
	c.sweep(c.opts.Clock())
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Keys returns live keys in insertion order, oldest first.
func (c *BoundedTTLCache[M, S]) Keys() []string {
	c.sweep(c.opts.Clock())
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Keys()
}

func (c *BoundedTTLCache[M, S]) expired(e *Entry[M], now time.Time) bool {
	return c.opts.TTL > 0 && now.Sub(e.CreatedAt) > c.opts.TTL
}

func (c *BoundedTTLCache[M, S]) live(key string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries.Peek(key)
	return ok && !c.expired(e, now)
}

// sweep runs sweepAt and its deferred work.
func (c *BoundedTTLCache[M, S]) sweep(now time.Time) {
	var p pending[M]
	c.sweepAt(&p, now)
	c.flush(&p)
}

// sweepAt removes expired entries. The scan runs under the read lock so that
// sweeps with nothing to do do not serialize readers.
func (c *BoundedTTLCache[M, S]) sweepAt(p *pending[M], now time.Time) {
	if c.opts.TTL <= 0 {
		return
	}
	c.mu.RLock()
	stale := c.expiredKeysLocked(now)
	c.mu.RUnlock()
	if len(stale) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.expiredKeysLocked(now) {
		c.removeLocked(p, key, RemovalExpired)
	}
}

func (c *BoundedTTLCache[M, S]) expiredKeysLocked(now time.Time) []string {
	var keys []string
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && c.expired(e, now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// peekLiveLocked returns key's entry, dropping it first if it has expired
// since the sweep.
func (c *BoundedTTLCache[M, S]) peekLiveLocked(p *pending[M], key string, now time.Time) (*Entry[M], bool) {
	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	if c.expired(e, now) {
		c.removeLocked(p, key, RemovalExpired)
		return nil, false
	}
	return e, true
}

// insertLocked evicts oldest-inserted entries until e fits, then adds it.
func (c *BoundedTTLCache[M, S]) insertLocked(p *pending[M], e *Entry[M]) {
	for c.entries.Len() >= c.opts.MaxEntries {
		key, _, ok := c.entries.GetOldest()
		if !ok {
			break
		}
		c.removeLocked(p, key, RemovalEvicted)
	}
	c.trim(e)
	c.entries.Add(e.Key, e)
	c.gaugeLocked()
}

// removeLocked drops key and its sub-resources and queues the mirror delete.
func (c *BoundedTTLCache[M, S]) removeLocked(p *pending[M], key string, reason RemovalReason) bool {
	e, ok := c.entries.Peek(key)
	if !ok {
		return false
	}
	c.entries.Remove(key)
	delete(c.subs, key)
	c.queueDeleteLocked(p, key)
	c.gaugeLocked()
	p.removed = append(p.removed, removal[M]{entry: e.snapshot(), reason: reason})
	return true
}

func (c *BoundedTTLCache[M, S]) queueSaveLocked(p *pending[M], e *Entry[M]) {
	if c.opts.Store == nil {
		return
	}
	snap := e.snapshot()
	c.queueLocked(p, storeOp[M]{key: e.Key, entry: &snap})
}

func (c *BoundedTTLCache[M, S]) queueDeleteLocked(p *pending[M], key string) {
	if c.opts.Store == nil {
		return
	}
	c.queueLocked(p, storeOp[M]{key: key})
}

func (c *BoundedTTLCache[M, S]) queueLocked(p *pending[M], op storeOp[M]) {
	c.seq++
	op.seq = c.seq
	c.storeMu.Lock()
	w, ok := c.writers[op.key]
	if !ok {
		w = &keyWriter{}
		c.writers[op.key] = w
	}
	w.refs++
	c.storeMu.Unlock()
	op.writer = w
	p.writes = append(p.writes, op)
}

// flush applies queued mirror writes, then runs cleanup callbacks. It must
// be called without mu held.
func (c *BoundedTTLCache[M, S]) flush(p *pending[M]) {
	for _, op := range p.writes {
		c.mirror(op)
	}
	c.notify(p.removed)
}

func (c *BoundedTTLCache[M, S]) mirror(op storeOp[M]) {
	w := op.writer
	w.mu.Lock()
	if op.seq > w.written {
		w.written = op.seq
		c.apply(op)
	}
	w.mu.Unlock()

	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if w.refs--; w.refs == 0 {
		delete(c.writers, op.key)
	}
}

func (c *BoundedTTLCache[M, S]) apply(op storeOp[M]) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if op.entry == nil {
		if err := c.opts.Store.Delete(ctx, op.key); err != nil {
			c.log.WithError(err).WithField("key", op.key).Warn("store delete failed")
		}
		return
	}
	if err := c.opts.Store.Save(ctx, *op.entry); err != nil {
		c.log.WithError(err).WithField("key", op.key).Warn("store save failed")
	}
}

// load reads key from the store when rehydration is on. It runs without mu.
func (c *BoundedTTLCache[M, S]) load(key string, now time.Time) (Entry[M], bool) {
	if key == "" || !c.opts.Rehydrate || c.opts.Store == nil {
		return Entry[M]{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	e, ok, err := c.opts.Store.Load(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("store load failed")
		return Entry[M]{}, false
	}
	if !ok || c.expired(&e, now) {
		return Entry[M]{}, false
	}
	e.Key = key
	return e, true
}

func (c *BoundedTTLCache[M, S]) trim(e *Entry[M]) {
	limit := c.opts.MaxItemsPerEntry
	if limit > 0 && len(e.History) > limit {
		e.History = append([]Item(nil), e.History[len(e.History)-limit:]...)
	}
}

func (c *BoundedTTLCache[M, S]) gaugeLocked() {
	metrics.CacheEntries.WithLabelValues(c.opts.Name).Set(float64(c.entries.Len()))
}

// notify runs the cleanup callback outside the lock.
func (c *BoundedTTLCache[M, S]) notify(removed []removal[M]) {
	for _, r := range removed {
		metrics.CacheRemovals.WithLabelValues(c.opts.Name, string(r.reason)).Inc()
		c.log.WithFields(logrus.Fields{"key": r.entry.Key, "reason": r.reason}).Debug("entry removed")
		if c.opts.OnRemove != nil {
			c.opts.OnRemove(r.entry, r.reason)
		}
	}
}

func stamp(items []Item, now time.Time) []Item {
	for i := range items {
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
	}
	return items
}
