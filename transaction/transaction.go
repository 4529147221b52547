// Package transaction coordinates the collections touched by one unit of
// work: the locks they hold and the commit or rollback of their changes.
package transaction

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/locking"
)

type Status int

const (
	StatusRunning Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	}
	return "unknown"
}

type LockMode int

const (
	LockNone LockMode = iota
	LockRead
	LockWrite
)

type Options struct {
	LockTimeout       time.Duration
	WaitForSync       bool
	DeadlockDetection bool

	// SingleOperation transactions wrap one document operation and never
	// take part in deadlock detection.
	SingleOperation bool
}

// Participant is a collection taking part in a transaction.
type Participant interface {
	// Commit makes the changes of trx permanent.
	Commit(trx *Transaction) error
	// Rollback undoes every change of trx, newest first.
	Rollback(trx *Transaction) error
	// Unlock releases the lock trx holds in mode.
	Unlock(trx *Transaction, mode LockMode)
}

type Transaction struct {
	ID      locking.TrxID
	Options Options

	mutex        sync.Mutex
	status       Status
	participants []Participant
	locks        map[Participant]LockMode
	onFinish     func(*Transaction)
}

func (t *Transaction) Status() Status {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.status
}

// Detect tells whether lock waits of this transaction go through the
// deadlock detector.
func (t *Transaction) Detect() bool {
	return t.Options.DeadlockDetection && !t.Options.SingleOperation
}

// LockMode returns the lock trx holds on p.
func (t *Transaction) LockMode(p Participant) LockMode {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.locks[p]
}

// CheckRunning fails once the transaction committed or aborted.
func (t *Transaction) CheckRunning() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.status != StatusRunning {
		return dberr.New(dberr.KindTransactionFinished, "transaction %d is %s", t.ID, t.status)
	}
	return nil
}

// Register records that p is now locked in mode on behalf of the transaction.
func (t *Transaction) Register(p Participant, mode LockMode) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.locks[p]; !exists {
		t.participants = append(t.participants, p)
	}
	if mode > t.locks[p] {
		t.locks[p] = mode
	}
}

// Commit commits every participant and releases their locks. A failing
// participant turns the commit into an abort of the remaining ones.
func (t *Transaction) Commit() error {
	t.mutex.Lock()
	if t.status != StatusRunning {
		t.mutex.Unlock()
		return dberr.New(dberr.KindTransactionFinished, "transaction %d is %s", t.ID, t.status)
	}
	participants := append([]Participant(nil), t.participants...)
	t.mutex.Unlock()

	var firstErr error
	for i, p := range participants {
		err := p.Commit(t)
		if err != nil {
			firstErr = err
			for j := len(participants) - 1; j > i; j-- {
				participants[j].Rollback(t)
			}
			break
		}
	}

	t.finish(StatusCommitted)
	return firstErr
}

// Abort rolls back every participant, newest first, then releases the locks.
func (t *Transaction) Abort() error {
	t.mutex.Lock()
	if t.status != StatusRunning {
		t.mutex.Unlock()
		return dberr.New(dberr.KindTransactionFinished, "transaction %d is %s", t.ID, t.status)
	}
	participants := append([]Participant(nil), t.participants...)
	t.mutex.Unlock()

	var firstErr error
	for i := len(participants) - 1; i >= 0; i-- {
		err := participants[i].Rollback(t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	t.finish(StatusAborted)
	return firstErr
}

func (t *Transaction) finish(status Status) {
	t.mutex.Lock()
	participants := t.participants
	locks := t.locks
	t.participants = nil
	t.locks = map[Participant]LockMode{}
	t.status = status
	onFinish := t.onFinish
	t.mutex.Unlock()

	for i := len(participants) - 1; i >= 0; i-- {
		participants[i].Unlock(t, locks[participants[i]])
	}
	if onFinish != nil {
		onFinish(t)
	}
}

// Manager hands out transaction ids and keeps track of the running ones.
type Manager struct {
	lastID  atomic.Uint64
	mutex   sync.Mutex
	running map[locking.TrxID]*Transaction

	// DefaultOptions fills LockTimeout and DeadlockDetection of new
	// transactions that leave them unset.
	DefaultOptions Options
}

func NewManager(defaults Options) *Manager {
	return &Manager{
		running:        map[locking.TrxID]*Transaction{},
		DefaultOptions: defaults,
	}
}

func (m *Manager) Begin(options Options) *Transaction {
	if options.LockTimeout == 0 {
		options.LockTimeout = m.DefaultOptions.LockTimeout
	}
	if !options.DeadlockDetection && !options.SingleOperation {
		options.DeadlockDetection = m.DefaultOptions.DeadlockDetection
	}

	t := &Transaction{
		ID:      locking.TrxID(m.lastID.Add(1)),
		Options: options,
		status:  StatusRunning,
		locks:   map[Participant]LockMode{},
		onFinish: func(t *Transaction) {
			m.mutex.Lock()
			delete(m.running, t.ID)
			m.mutex.Unlock()
		},
	}

	m.mutex.Lock()
	m.running[t.ID] = t
	m.mutex.Unlock()

	return t
}

// Running returns how many transactions have not finished yet.
func (m *Manager) Running() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.running)
}
