package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

type primaryEntry struct {
	Key string
	Rev revision.ID
}

// Primary maps each document key to its current revision. Keys are unique.
type Primary struct {
	mutex sync.RWMutex
	tree  *btree.BTreeG[primaryEntry]
	bytes int64
}

func NewPrimary() *Primary {
	return &Primary{
		tree: btree.NewG(32, func(a, b primaryEntry) bool {
			return a.Key < b.Key
		}),
	}
}

func (p *Primary) Insert(key string, rev revision.ID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, exists := p.tree.Get(primaryEntry{Key: key}); exists {
		return dberr.New(dberr.KindUniqueConstraintViolated, "primary key '%s'", key)
	}
	p.tree.ReplaceOrInsert(primaryEntry{Key: key, Rev: rev})
	p.bytes += int64(len(key)) + 24
	return nil
}

func (p *Primary) Lookup(key string) (revision.ID, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	e, ok := p.tree.Get(primaryEntry{Key: key})
	return e.Rev, ok
}

// Update repoints key to rev.
func (p *Primary) Update(key string, rev revision.ID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, exists := p.tree.Get(primaryEntry{Key: key}); !exists {
		return dberr.New(dberr.KindKeyNotFound, "primary key '%s'", key)
	}
	p.tree.ReplaceOrInsert(primaryEntry{Key: key, Rev: rev})
	return nil
}

func (p *Primary) Remove(key string) (revision.ID, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, ok := p.tree.Delete(primaryEntry{Key: key})
	if ok {
		p.bytes -= int64(len(key)) + 24
	}
	return e.Rev, ok
}

func (p *Primary) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.tree.Len()
}

func (p *Primary) Memory() int64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.bytes
}

// Ascend visits keys in order starting at from ("" for the beginning). The
// tree is not locked while f runs, so f may modify the index.
func (p *Primary) Ascend(from string, f func(key string, rev revision.ID) bool) {
	const batch = 256
	for {
		entries := make([]primaryEntry, 0, batch)
		p.mutex.RLock()
		p.tree.AscendGreaterOrEqual(primaryEntry{Key: from}, func(e primaryEntry) bool {
			entries = append(entries, e)
			return len(entries) < batch
		})
		p.mutex.RUnlock()

		for _, e := range entries {
			if !f(e.Key, e.Rev) {
				return
			}
		}
		if len(entries) < batch {
			return
		}
		from = entries[len(entries)-1].Key + "\x00"
	}
}

// Keys snapshots every key in order.
func (p *Primary) Keys() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	keys := make([]string, 0, p.tree.Len())
	p.tree.Ascend(func(e primaryEntry) bool {
		keys = append(keys, e.Key)
		return true
	})
	return keys
}

func (p *Primary) Clear() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.tree.Clear(false)
	p.bytes = 0
}
