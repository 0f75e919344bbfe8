// Package local is the in-process cache tier: a sharded, count-bounded
// LRU map with lazy TTL expiry. All operations are memory-only.
package local

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

// Store is the L1 tier. Keys are spread over shards by FNV-1a hash and
// each shard holds its own lock, so cache traffic is not serialized
// through a single mutex. The entry-count bound is split across shards;
// the tier as a whole never holds more than the configured maximum.
type Store struct {
	shards []*shard
	now    func() time.Time
}

// New builds a Store with the given total capacity spread over shardCount
// shards. now is the clock; nil means time.Now.
func New(maxEntries, shardCount int, now func() time.Time) *Store {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if shardCount < 1 {
		shardCount = 1
	}
	if shardCount > maxEntries {
		shardCount = maxEntries
	}
	if now == nil {
		now = time.Now
	}

	s := &Store{
		shards: make([]*shard, shardCount),
		now:    now,
	}
	base := maxEntries / shardCount
	extra := maxEntries % shardCount
	for i := range s.shards {
		capacity := base
		if i < extra {
			capacity++
		}
		s.shards[i] = &shard{
			capacity: capacity,
			entries:  make(map[string]*list.Element, capacity),
			order:    list.New(),
		}
	}
	return s
}

func (s *Store) shard(key string) *shard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

// Get returns the live entry for key. Expired entries are removed on the
// way out and reported as absent.
func (s *Store) Get(key string) (*Entry, bool) {
	return s.shard(key).get(key, s.now())
}

// Set inserts or replaces the entry for key, evicting if the shard is at
// capacity. Expired residents are evicted in preference to live ones.
func (s *Store) Set(key string, e *Entry) {
	s.shard(key).set(key, e, s.now())
}

// Delete removes key if present.
func (s *Store) Delete(key string) {
	s.shard(key).delete(key)
}

// Flush drops every entry.
func (s *Store) Flush() {
	for _, sh := range s.shards {
		sh.flush()
	}
}

// Len reports the number of resident entries, expired ones included.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.len()
	}
	return n
}

// Keys returns the resident keys. Used to rebuild the negative filter.
func (s *Store) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		keys = sh.appendKeys(keys)
	}
	return keys
}

type shard struct {
	capacity int
	entries  map[string]*list.Element
	// order tracks recency: front is most recently used, back is the
	// eviction candidate. Untouched entries sink by insertion age.
	order *list.List

	mu sync.Mutex
}

type item struct {
	key   string
	entry *Entry
}

func (sh *shard) get(key string, now time.Time) (*Entry, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	elem, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	it := elem.Value.(*item)
	if it.entry.Expired(now) {
		sh.remove(elem)
		return nil, false
	}
	sh.order.MoveToFront(elem)
	it.entry.Touch(now)
	return it.entry, true
}

func (sh *shard) set(key string, e *Entry, now time.Time) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if elem, ok := sh.entries[key]; ok {
		elem.Value.(*item).entry = e
		sh.order.MoveToFront(elem)
		return
	}

	if sh.order.Len() >= sh.capacity {
		sh.evict(now)
	}
	sh.entries[key] = sh.order.PushFront(&item{key: key, entry: e})
}

// evict removes one entry: the least recently used expired entry if any
// exists, otherwise the least recently used entry outright.
func (sh *shard) evict(now time.Time) {
	for elem := sh.order.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*item).entry.Expired(now) {
			sh.remove(elem)
			return
		}
	}
	if back := sh.order.Back(); back != nil {
		sh.remove(back)
	}
}

func (sh *shard) delete(key string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if elem, ok := sh.entries[key]; ok {
		sh.remove(elem)
	}
}

func (sh *shard) remove(elem *list.Element) {
	delete(sh.entries, elem.Value.(*item).key)
	sh.order.Remove(elem)
}

func (sh *shard) flush() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries = make(map[string]*list.Element)
	sh.order.Init()
}

func (sh *shard) len() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.order.Len()
}

func (sh *shard) appendKeys(keys []string) []string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for key := range sh.entries {
		keys = append(keys, key)
	}
	return keys
}
