// Package statistics keeps the per datafile counters of alive and dead
// document revisions.
package statistics

import (
	"sort"
	"sync"
)

type Container struct {
	NumberAlive     int64 `json:"number_alive"`
	SizeAlive       int64 `json:"size_alive"`
	NumberDead      int64 `json:"number_dead"`
	SizeDead        int64 `json:"size_dead"`
	NumberDeletions int64 `json:"number_deletions"`
}

func (c *Container) add(o Container) {
	c.NumberAlive += o.NumberAlive
	c.SizeAlive += o.SizeAlive
	c.NumberDead += o.NumberDead
	c.SizeDead += o.SizeDead
	c.NumberDeletions += o.NumberDeletions
}

// DeadRatio is the share of dead bytes among all document bytes.
func (c Container) DeadRatio() float64 {
	total := c.SizeAlive + c.SizeDead
	if total == 0 {
		return 0
	}
	return float64(c.SizeDead) / float64(total)
}

type Statistics struct {
	mutex sync.RWMutex
	stats map[uint64]*Container
}

func New() *Statistics {
	return &Statistics{
		stats: map[uint64]*Container{},
	}
}

func (s *Statistics) get(fid uint64) *Container {
	c, ok := s.stats[fid]
	if !ok {
		c = &Container{}
		s.stats[fid] = c
	}
	return c
}

func (s *Statistics) Create(fid uint64) {
	s.mutex.Lock()
	s.get(fid)
	s.mutex.Unlock()
}

func (s *Statistics) Remove(fid uint64) {
	s.mutex.Lock()
	delete(s.stats, fid)
	s.mutex.Unlock()
}

// IncreaseAlive accounts n new revisions of size bytes in fid.
func (s *Statistics) IncreaseAlive(fid uint64, n, size int64) {
	s.mutex.Lock()
	c := s.get(fid)
	c.NumberAlive += n
	c.SizeAlive += size
	s.mutex.Unlock()
}

// IncreaseDead moves n revisions of size bytes from alive to dead in fid.
func (s *Statistics) IncreaseDead(fid uint64, n, size int64) {
	s.mutex.Lock()
	c := s.get(fid)
	c.NumberAlive -= n
	c.SizeAlive -= size
	c.NumberDead += n
	c.SizeDead += size
	s.mutex.Unlock()
}

func (s *Statistics) IncreaseDeletions(fid uint64, n int64) {
	s.mutex.Lock()
	s.get(fid).NumberDeletions += n
	s.mutex.Unlock()
}

// Get returns a copy of the counters of fid.
func (s *Statistics) Get(fid uint64) Container {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	c, ok := s.stats[fid]
	if !ok {
		return Container{}
	}
	return *c
}

// All sums the counters of every datafile.
func (s *Statistics) All() Container {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	total := Container{}
	for _, c := range s.stats {
		total.add(*c)
	}
	return total
}

// Snapshot copies every container, keyed by datafile id.
func (s *Statistics) Snapshot() map[uint64]Container {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[uint64]Container, len(s.stats))
	for fid, c := range s.stats {
		result[fid] = *c
	}
	return result
}

// Replace installs counters rebuilt elsewhere, typically by recovery.
func (s *Statistics) Replace(stats map[uint64]Container) {
	fresh := make(map[uint64]*Container, len(stats))
	for fid, c := range stats {
		c := c
		fresh[fid] = &c
	}
	s.mutex.Lock()
	s.stats = fresh
	s.mutex.Unlock()
}

// Set overwrites the counters of one datafile.
func (s *Statistics) Set(fid uint64, c Container) {
	s.mutex.Lock()
	s.stats[fid] = &c
	s.mutex.Unlock()
}

// CompactionCandidates lists, oldest first, the datafiles among sealed whose
// dead ratio reaches deadRatio with at least minDead dead revisions, plus those
// that hold no alive revision at all.
func (s *Statistics) CompactionCandidates(sealed []uint64, deadRatio float64, minDead int64) []uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := []uint64{}
	for _, fid := range sealed {
		c, ok := s.stats[fid]
		if !ok {
			continue
		}
		if c.NumberAlive == 0 && (c.NumberDead > 0 || c.NumberDeletions > 0) {
			result = append(result, fid)
			continue
		}
		if c.NumberDead >= minDead && c.DeadRatio() >= deadRatio {
			result = append(result, fid)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
