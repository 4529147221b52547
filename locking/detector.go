// Package locking implements the per collection read/write lock and the
// deadlock detector shared by every collection of a database.
package locking

import (
	"sync"

	"github.com/fulldump/segmentdb/dberr"
)

type TrxID uint64

type blockedOn struct {
	resource uint64
	write    bool
}

// Detector is the graph of who holds and who waits for which collection.
// Nodes are transactions; a blocked transaction has an edge to every holder
// of the collection it waits for that conflicts with its request.
type Detector struct {
	mutex   sync.Mutex
	active  map[uint64]map[TrxID]bool
	blocked map[TrxID]blockedOn
}

func NewDetector() *Detector {
	return &Detector{
		active:  map[uint64]map[TrxID]bool{},
		blocked: map[TrxID]blockedOn{},
	}
}

// SetBlocked registers trx as waiting for resource and checks for a cycle
// right away. On a deadlock the registration is dropped again.
func (d *Detector) SetBlocked(trx TrxID, resource uint64, write bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.blocked[trx] = blockedOn{resource: resource, write: write}
	if d.cycle(trx) {
		delete(d.blocked, trx)
		return dberr.New(dberr.KindDeadlock, "transaction %d waiting for collection %d", trx, resource)
	}
	return nil
}

// DetectDeadlock reruns cycle detection for a transaction already blocked.
func (d *Detector) DetectDeadlock(trx TrxID) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	b, ok := d.blocked[trx]
	if !ok {
		return nil
	}
	if d.cycle(trx) {
		delete(d.blocked, trx)
		return dberr.New(dberr.KindDeadlock, "transaction %d waiting for collection %d", trx, b.resource)
	}
	return nil
}

func (d *Detector) UnsetBlocked(trx TrxID) {
	d.mutex.Lock()
	delete(d.blocked, trx)
	d.mutex.Unlock()
}

// AddActive records trx as holding resource. A transaction that was blocked
// stops being so.
func (d *Detector) AddActive(trx TrxID, resource uint64, write bool, wasBlocked bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if wasBlocked {
		delete(d.blocked, trx)
	}
	holders, ok := d.active[resource]
	if !ok {
		holders = map[TrxID]bool{}
		d.active[resource] = holders
	}
	holders[trx] = write
}

func (d *Detector) UnsetActive(trx TrxID, resource uint64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	holders, ok := d.active[resource]
	if !ok {
		return
	}
	delete(holders, trx)
	if len(holders) == 0 {
		delete(d.active, resource)
	}
}

// Blocked reports whether trx is registered as waiting.
func (d *Detector) Blocked(trx TrxID) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.blocked[trx]
	return ok
}

// Holders returns the transactions holding resource and whether they write.
func (d *Detector) Holders(resource uint64) map[TrxID]bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	result := map[TrxID]bool{}
	for trx, write := range d.active[resource] {
		result[trx] = write
	}
	return result
}

// cycle walks the wait-for graph breadth first from start. Readers only
// wait for writers, writers wait for everybody. Must hold mutex.
func (d *Detector) cycle(start TrxID) bool {
	visited := map[TrxID]bool{start: true}
	queue := []TrxID{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		b, ok := d.blocked[current]
		if !ok {
			continue
		}

		for holder, holderWrites := range d.active[b.resource] {
			if holder == current {
				continue
			}
			if !b.write && !holderWrites {
				continue
			}
			if holder == start {
				return true
			}
			if !visited[holder] {
				visited[holder] = true
				queue = append(queue, holder)
			}
		}
	}

	return false
}
