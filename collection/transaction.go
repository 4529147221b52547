package collection

import (
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/locking"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/transaction"
)

type operationKind int

const (
	operationInsert operationKind = iota
	operationUpdate
	operationRemove
)

// operation is what a write needs to be undone: the revision it replaced
// and the one it created.
type operation struct {
	kind   operationKind
	key    string
	oldRev revision.ID
	oldDoc []byte
	oldPos revision.Position
	newRev revision.ID
}

type pendingState struct {
	operations []*operation
	sync       bool
}

// lockFor takes the collection lock on behalf of trx unless it already holds
// a sufficient one. Upgrading a read lock is refused.
func (c *Collection) lockFor(trx *transaction.Transaction, write bool) error {
	held := trx.LockMode(c)
	switch {
	case held == transaction.LockWrite:
		return nil
	case held == transaction.LockRead && !write:
		return nil
	case held == transaction.LockRead && write:
		return dberr.New(dberr.KindLockUpgrade, "transaction %d holds a read lock on '%s'", trx.ID, c.Name)
	}

	timeout := trx.Options.LockTimeout
	if timeout <= 0 {
		timeout = c.config.LockTimeout
	}

	if write {
		err := c.lock.BeginWrite(trx.ID, timeout, trx.Detect())
		if err != nil {
			return err
		}
		trx.Register(c, transaction.LockWrite)
		return nil
	}

	err := c.lock.BeginRead(trx.ID, timeout, trx.Detect())
	if err != nil {
		return err
	}
	trx.Register(c, transaction.LockRead)
	return nil
}

// use prepares trx for one operation. Without a transaction a single
// operation one is started and finish commits or aborts it.
func (c *Collection) use(trx *transaction.Transaction, write bool) (*transaction.Transaction, func(error) error, error) {
	err := c.checkAvailable()
	if err != nil {
		return nil, nil, err
	}

	implicit := false
	if trx == nil {
		implicit = true
		trx = c.config.Transactions.Begin(transaction.Options{
			SingleOperation: true,
			LockTimeout:     c.config.LockTimeout,
		})
	}

	err = trx.CheckRunning()
	if err != nil {
		return nil, nil, err
	}

	err = c.lockFor(trx, write)
	if err != nil {
		if implicit {
			trx.Abort()
		}
		return nil, nil, err
	}

	finish := func(err error) error {
		if !implicit {
			return err
		}
		if err != nil {
			trx.Abort()
			return err
		}
		return trx.Commit()
	}
	return trx, finish, nil
}

func (c *Collection) record(trx *transaction.Transaction, op *operation, sync bool) {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()

	state, ok := c.pending[trx.ID]
	if !ok {
		state = &pendingState{}
		c.pending[trx.ID] = state
	}
	state.operations = append(state.operations, op)
	state.sync = state.sync || sync
}

func (c *Collection) takePending(trx locking.TrxID) *pendingState {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()

	state := c.pending[trx]
	delete(c.pending, trx)
	return state
}

// Commit promotes the pending revisions of trx and syncs the journal when
// any of its operations asked for it.
func (c *Collection) Commit(trx *transaction.Transaction) error {
	state := c.takePending(trx.ID)
	if state == nil {
		return nil
	}

	for _, op := range state.operations {
		if op.newRev == 0 {
			continue
		}
		entry, ok := c.revisions.Lookup(op.newRev)
		if !ok || !entry.Pending {
			continue
		}
		promoted := entry.Position
		promoted.Pending = false
		c.revisions.UpdateConditional(op.newRev, entry.Position, promoted)
	}

	if state.sync || trx.Options.WaitForSync || c.parameters.WaitForSync {
		return c.journal.Sync()
	}
	return nil
}

// Rollback undoes every operation of trx, newest first.
func (c *Collection) Rollback(trx *transaction.Transaction) error {
	state := c.takePending(trx.ID)
	if state == nil {
		return nil
	}

	var firstErr error
	for i := len(state.operations) - 1; i >= 0; i-- {
		err := c.undo(state.operations[i])
		if err != nil {
			c.logger.Errorf(logging.NSTxn+"rollback of '%s' key '%s' in transaction %d: %s", c.Name, state.operations[i].key, trx.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Collection) Unlock(trx *transaction.Transaction, mode transaction.LockMode) {
	switch mode {
	case transaction.LockWrite:
		c.lock.EndWrite(trx.ID)
	case transaction.LockRead:
		c.lock.EndRead(trx.ID)
	}
}
