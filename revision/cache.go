// Package revision maps revision ids to the location of their marker and to
// an owned copy of the document payload.
package revision

import (
	"strconv"
	"sync"
)

type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return ID(v), err
}

// MarshalText renders ids as decimal strings, the way _rev is stored.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Position locates a revision marker. Pending marks a revision written by a
// transaction that has not committed yet.
type Position struct {
	Fid     uint64
	Offset  int64
	Size    int64
	Pending bool
}

// Entry is what the cache knows about one revision. Doc is owned by the cache
// and never aliases datafile memory, so it stays valid after the datafile is
// compacted away.
type Entry struct {
	Position
	Doc []byte
}

const shards = 32

type shard struct {
	mutex   sync.RWMutex
	entries map[ID]Entry
	memory  int64
}

type Cache struct {
	shards [shards]*shard
}

func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{entries: map[ID]Entry{}}
	}
	return c
}

func (c *Cache) shard(id ID) *shard {
	return c.shards[uint64(id)%shards]
}

func entryMemory(e Entry) int64 {
	return int64(len(e.Doc)) + 48
}

// Insert stores a revision, replacing any entry with the same id.
func (c *Cache) Insert(id ID, doc []byte, pos Position) {
	s := c.shard(id)
	e := Entry{Position: pos, Doc: doc}

	s.mutex.Lock()
	if old, exists := s.entries[id]; exists {
		s.memory -= entryMemory(old)
	}
	s.entries[id] = e
	s.memory += entryMemory(e)
	s.mutex.Unlock()
}

func (c *Cache) Lookup(id ID) (Entry, bool) {
	s := c.shard(id)
	s.mutex.RLock()
	e, ok := s.entries[id]
	s.mutex.RUnlock()
	return e, ok
}

// Update repoints an existing revision, for example when a pending revision is
// promoted at commit or a compactor moved it. It reports false when the id is
// unknown.
func (c *Cache) Update(id ID, pos Position) bool {
	s := c.shard(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Position = pos
	s.entries[id] = e
	return true
}

// UpdateConditional repoints id only while it is still at oldPos.
func (c *Cache) UpdateConditional(id ID, oldPos, newPos Position) bool {
	s := c.shard(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Position != oldPos {
		return false
	}
	e.Position = newPos
	s.entries[id] = e
	return true
}

// Remove deletes a revision and returns what was stored, so the caller can
// account the freed space to the right datafile.
func (c *Cache) Remove(id ID) (Entry, bool) {
	s := c.shard(id)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return e, false
	}
	delete(s.entries, id)
	s.memory -= entryMemory(e)
	return e, true
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mutex.RLock()
		n += len(s.entries)
		s.mutex.RUnlock()
	}
	return n
}

// Memory is an estimate of the bytes held by the cache.
func (c *Cache) Memory() int64 {
	n := int64(0)
	for _, s := range c.shards {
		s.mutex.RLock()
		n += s.memory
		s.mutex.RUnlock()
	}
	return n
}

func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mutex.Lock()
		s.entries = map[ID]Entry{}
		s.memory = 0
		s.mutex.Unlock()
	}
}

// CountInDatafile returns how many cached revisions live in fid.
func (c *Cache) CountInDatafile(fid uint64) int {
	n := 0
	for _, s := range c.shards {
		s.mutex.RLock()
		for _, e := range s.entries {
			if e.Fid == fid {
				n++
			}
		}
		s.mutex.RUnlock()
	}
	return n
}
