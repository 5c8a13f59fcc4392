// Package lru implements the size-bounded local store that backs every
// CacheGroup. It is a from-scratch, byte-accounted LRU: callers set a
// max_bytes budget, and the store evicts from the tail until it fits.
//
// The design follows the original kcache LRUCache (a std::list + hash map
// pair, see _examples/original_source/src/lru.cpp) rather than reaching for
// a generic off-the-shelf LRU: the byte-accounting invariants this spec
// tests (bytes_used == sum of live entry sizes, bytes_used <= max_bytes
// after every Set) are exactly the thing a generic cache library hides
// behind an opaque eviction policy, so they are built by hand here.
package lru

import (
	"container/list"
	"sync"

	"github.com/kvmesh/kvmesh/pkg/byteview"
)

// Entry is a single (key, value) pair as it sits in the recency list.
type Entry struct {
	Key   string
	Value byteview.ByteView
}

// EvictedFunc is invoked once per evicted entry, in LRU order. It is called
// with the store's lock released, so it is safe for an EvictedFunc to call
// back into the same Store (e.g. to re-populate under a different key)
// without deadlocking. It must not be used to mutate the entry it is given;
// the Entry passed is already detached from the store.
type EvictedFunc func(key string, value byteview.ByteView)

// Store is a byte-bounded, least-recently-used cache. The zero value is not
// usable; construct with New. All exported methods are safe for concurrent
// use.
type Store struct {
	mu        sync.Mutex
	ll        *list.List
	index     map[string]*list.Element
	onEvicted EvictedFunc
	maxBytes  int64
	usedBytes int64
}

// New constructs a Store with the given byte budget. maxBytes <= 0 disables
// the cap entirely: Set never evicts.
func New(maxBytes int64, onEvicted EvictedFunc) *Store {
	return &Store{
		ll:        list.New(),
		index:     make(map[string]*list.Element),
		onEvicted: onEvicted,
		maxBytes:  maxBytes,
	}
}

// Get looks up key. A hit promotes the entry to the front of the recency
// list. A miss never mutates the store.
func (s *Store) Get(key string) (byteview.ByteView, bool) {
	s.mu.Lock()
	elem, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return byteview.ByteView{}, false
	}
	s.ll.MoveToFront(elem)
	value := elem.Value.(*Entry).Value
	s.mu.Unlock()
	return value, true
}

// Set stores value under key, replacing any existing value and promoting
// the entry to the front. If the store exceeds its byte budget afterward,
// entries are evicted from the back until it fits again (or the store is
// empty). Eviction callbacks, if any, run after the lock is released.
func (s *Store) Set(key string, value byteview.ByteView) {
	var evicted []Entry

	s.mu.Lock()
	if elem, ok := s.index[key]; ok {
		s.ll.MoveToFront(elem)
		old := elem.Value.(*Entry)
		s.usedBytes += int64(value.Len()) - int64(old.Value.Len())
		old.Value = value
	} else {
		elem := s.ll.PushFront(&Entry{Key: key, Value: value})
		s.index[key] = elem
		s.usedBytes += int64(len(key)) + int64(value.Len())
	}

	for s.maxBytes > 0 && s.usedBytes > s.maxBytes && s.ll.Len() > 0 {
		if e := s.removeOldestLocked(); e != nil {
			evicted = append(evicted, *e)
		}
	}
	s.mu.Unlock()

	s.fireEvicted(evicted)
}

// Delete removes key if present. It is a no-op if key is absent.
func (s *Store) Delete(key string) {
	var evicted *Entry

	s.mu.Lock()
	if elem, ok := s.index[key]; ok {
		evicted = s.removeElementLocked(elem)
	}
	s.mu.Unlock()

	if evicted != nil {
		s.fireEvicted([]Entry{*evicted})
	}
}

// RemoveOldest evicts the least-recently-used entry, if any.
func (s *Store) RemoveOldest() {
	s.mu.Lock()
	evicted := s.removeOldestLocked()
	s.mu.Unlock()

	if evicted != nil {
		s.fireEvicted([]Entry{*evicted})
	}
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// UsedBytes returns the current byte accounting total:
// sum(len(key) + value.Len()) over all live entries.
func (s *Store) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes
}

// removeOldestLocked must be called with s.mu held. It returns the evicted
// entry (detached, safe to read without the lock) or nil if the store was
// empty.
func (s *Store) removeOldestLocked() *Entry {
	elem := s.ll.Back()
	if elem == nil {
		return nil
	}
	return s.removeElementLocked(elem)
}

func (s *Store) removeElementLocked(elem *list.Element) *Entry {
	s.ll.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(s.index, entry.Key)
	s.usedBytes -= int64(len(entry.Key)) + int64(entry.Value.Len())
	return entry
}

func (s *Store) fireEvicted(entries []Entry) {
	if s.onEvicted == nil {
		return
	}
	for _, e := range entries {
		s.onEvicted(e.Key, e.Value)
	}
}
