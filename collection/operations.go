package collection

import (
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/journal"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/marker"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/transaction"
)

type OperationOptions struct {
	// Key is used when the document carries no _key.
	Key string

	// ExpectedRev must match the current revision. Zero falls back to the
	// _rev attribute of the document, if any.
	ExpectedRev revision.ID
	IgnoreRevs  bool

	WaitForSync bool

	// Update only.
	KeepNull     bool
	MergeObjects bool
}

type Result struct {
	Key    string      `json:"_key"`
	Rev    revision.ID `json:"_rev"`
	OldRev revision.ID `json:"_oldRev,omitempty"`
	Tick   uint64      `json:"tick,omitempty"`
	Doc    []byte      `json:"-"`
}

func toPosition(p journal.Position, pending bool) revision.Position {
	return revision.Position{Fid: p.Fid, Offset: p.Offset, Size: p.Size, Pending: pending}
}

func (c *Collection) secondaries() []index.Index {
	c.indexesMutex.RLock()
	defer c.indexesMutex.RUnlock()
	return append([]index.Index(nil), c.indexes...)
}

// insertSecondaries adds doc to every index. On failure the indexes already
// done are reverted.
func insertSecondaries(indexes []index.Index, rev revision.ID, doc []byte, isRollback bool) error {
	for i, idx := range indexes {
		err := idx.Insert(rev, doc, isRollback)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				indexes[j].Remove(rev, doc, true)
			}
			return err
		}
	}
	return nil
}

func removeSecondaries(indexes []index.Index, rev revision.ID, doc []byte, isRollback bool) error {
	for i, idx := range indexes {
		err := idx.Remove(rev, doc, isRollback)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				indexes[j].Insert(rev, doc, true)
			}
			return err
		}
	}
	return nil
}

func (c *Collection) checkRevision(key string, current revision.ID, doc []byte, options OperationOptions) error {
	if options.IgnoreRevs {
		return nil
	}
	expected := options.ExpectedRev
	if expected == 0 && doc != nil {
		rev, err := document.Rev(doc)
		if err != nil {
			return err
		}
		expected = rev
	}
	if expected != 0 && expected != current {
		return dberr.New(dberr.KindRevisionConflict, "key '%s': expected revision %s, current %s", key, expected, current)
	}
	return nil
}

// tombstone writes a remove marker for key.
func (c *Collection) tombstone(key string) (journal.Position, error) {
	rev := revision.ID(c.clock.Next())
	return c.journal.Append(marker.TypeRemove, document.Tombstone(key, rev), marker.CompressionNone)
}

// reassert writes doc again so replay ends on it.
func (c *Collection) reassert(doc []byte, pending bool) (revision.Position, error) {
	p, err := c.journal.Append(marker.TypeDocument, doc, c.compression)
	if err != nil {
		return revision.Position{}, err
	}
	return toPosition(p, pending), nil
}

func (c *Collection) Insert(trx *transaction.Transaction, doc []byte, options OperationOptions) (Result, error) {
	trx, finish, err := c.use(trx, true)
	if err != nil {
		return Result{}, err
	}
	result, err := c.insert(trx, doc, options)
	return result, finish(err)
}

func (c *Collection) insert(trx *transaction.Transaction, doc []byte, options OperationOptions) (Result, error) {
	err := document.Validate(doc)
	if err != nil {
		return Result{}, err
	}

	key, err := document.Key(doc)
	if err != nil {
		return Result{}, err
	}
	if key == "" {
		key = options.Key
	}
	if key == "" {
		key = c.keys.Generate()
	}
	err = document.ValidateKey(key)
	if err != nil {
		return Result{}, err
	}

	if _, exists := c.primary.Lookup(key); exists {
		return Result{}, dberr.New(dberr.KindUniqueConstraintViolated, "key '%s' already exists in '%s'", key, c.Name)
	}

	rev := revision.ID(c.clock.Next())
	payload, err := document.WithSystem(doc, key, rev)
	if err != nil {
		return Result{}, err
	}

	p, err := c.journal.Append(marker.TypeDocument, payload, c.compression)
	if err != nil {
		return Result{}, err
	}
	position := toPosition(p, true)
	c.revisions.Insert(rev, payload, position)

	err = c.insertIndexes(key, rev, payload)
	if err != nil {
		c.revisions.Remove(rev)
		c.compensateInsert(key, position)
		return Result{}, err
	}

	c.stats.IncreaseAlive(p.Fid, 1, p.Size)
	c.record(trx, &operation{kind: operationInsert, key: key, newRev: rev}, options.WaitForSync)

	return Result{Key: key, Rev: rev, Tick: p.Tick, Doc: payload}, nil
}

func (c *Collection) insertIndexes(key string, rev revision.ID, doc []byte) error {
	err := c.primary.Insert(key, rev)
	if err != nil {
		return err
	}
	err = insertSecondaries(c.secondaries(), rev, doc, false)
	if err != nil {
		c.primary.Remove(key)
		return err
	}
	return nil
}

// compensateInsert cancels the marker of a failed insert with a remove
// marker and accounts both the way replay will.
func (c *Collection) compensateInsert(key string, p revision.Position) {
	_, err := c.tombstone(key)
	if err != nil {
		c.logger.Errorf(logging.NSCollection+"'%s': cancel failed insert of key '%s': %s", c.Name, key, err)
		return
	}
	c.stats.IncreaseAlive(p.Fid, 1, p.Size)
	c.stats.IncreaseDead(p.Fid, 1, p.Size)
	c.stats.IncreaseDeletions(p.Fid, 1)
}

// Update merges doc into the current revision of its key.
func (c *Collection) Update(trx *transaction.Transaction, doc []byte, options OperationOptions) (Result, error) {
	trx, finish, err := c.use(trx, true)
	if err != nil {
		return Result{}, err
	}
	result, err := c.modify(trx, doc, options, false)
	return result, finish(err)
}

// Replace swaps the current revision of the key for doc.
func (c *Collection) Replace(trx *transaction.Transaction, doc []byte, options OperationOptions) (Result, error) {
	trx, finish, err := c.use(trx, true)
	if err != nil {
		return Result{}, err
	}
	result, err := c.modify(trx, doc, options, true)
	return result, finish(err)
}

func (c *Collection) modify(trx *transaction.Transaction, doc []byte, options OperationOptions, replace bool) (Result, error) {
	err := document.Validate(doc)
	if err != nil {
		return Result{}, err
	}

	key := options.Key
	if key == "" {
		key, err = document.Key(doc)
		if err != nil {
			return Result{}, err
		}
	}
	if key == "" {
		return Result{}, dberr.New(dberr.KindDocumentKeyBad, "missing _key")
	}

	oldRev, exists := c.primary.Lookup(key)
	if !exists {
		return Result{}, dberr.New(dberr.KindKeyNotFound, "key '%s' in '%s'", key, c.Name)
	}
	err = c.checkRevision(key, oldRev, doc, options)
	if err != nil {
		return Result{}, err
	}
	old, exists := c.revisions.Lookup(oldRev)
	if !exists {
		return Result{}, dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", oldRev, key)
	}

	rev := revision.ID(c.clock.Next())
	var payload []byte
	if replace {
		payload, err = document.Replace(doc, key, rev)
	} else {
		payload, err = document.Merge(old.Doc, doc, document.MergeOptions{
			KeepNull:     options.KeepNull,
			MergeObjects: options.MergeObjects,
		}, key, rev)
	}
	if err != nil {
		return Result{}, err
	}

	p, err := c.journal.Append(marker.TypeDocument, payload, c.compression)
	if err != nil {
		return Result{}, err
	}
	position := toPosition(p, true)
	c.revisions.Insert(rev, payload, position)

	err = c.updateIndexes(key, oldRev, old.Doc, rev, payload)
	if err != nil {
		c.revisions.Remove(rev)
		c.compensateUpdate(key, oldRev, old, position)
		return Result{}, err
	}

	c.revisions.Remove(oldRev)
	c.stats.IncreaseDead(old.Fid, 1, old.Size)
	c.stats.IncreaseAlive(p.Fid, 1, p.Size)
	c.record(trx, &operation{
		kind:   operationUpdate,
		key:    key,
		oldRev: oldRev,
		oldDoc: old.Doc,
		oldPos: old.Position,
		newRev: rev,
	}, options.WaitForSync)

	return Result{Key: key, Rev: rev, OldRev: oldRev, Tick: p.Tick, Doc: payload}, nil
}

// updateIndexes moves the secondary entries from the old revision to the new
// one and repoints the primary index. Nothing changes when it fails.
func (c *Collection) updateIndexes(key string, oldRev revision.ID, oldDoc []byte, rev revision.ID, doc []byte) error {
	indexes := c.secondaries()

	err := removeSecondaries(indexes, oldRev, oldDoc, false)
	if err != nil {
		return err
	}
	err = insertSecondaries(indexes, rev, doc, false)
	if err != nil {
		insertSecondaries(indexes, oldRev, oldDoc, true)
		return err
	}
	err = c.primary.Update(key, rev)
	if err != nil {
		removeSecondaries(indexes, rev, doc, true)
		insertSecondaries(indexes, oldRev, oldDoc, true)
		return err
	}
	return nil
}

// compensateUpdate writes the old revision again after a failed update so
// replay ends on it, and points the cache at that marker.
func (c *Collection) compensateUpdate(key string, oldRev revision.ID, old revision.Entry, p revision.Position) {
	re, err := c.reassert(old.Doc, old.Pending)
	if err != nil {
		c.logger.Errorf(logging.NSCollection+"'%s': restore revision %s of key '%s': %s", c.Name, oldRev, key, err)
		return
	}
	c.stats.IncreaseDead(old.Fid, 1, old.Size)
	c.stats.IncreaseAlive(p.Fid, 1, p.Size)
	c.stats.IncreaseDead(p.Fid, 1, p.Size)
	c.stats.IncreaseAlive(re.Fid, 1, re.Size)
	c.revisions.Update(oldRev, re)
}

func (c *Collection) Remove(trx *transaction.Transaction, key string, options OperationOptions) (Result, error) {
	trx, finish, err := c.use(trx, true)
	if err != nil {
		return Result{}, err
	}
	result, err := c.remove(trx, key, options)
	return result, finish(err)
}

func (c *Collection) remove(trx *transaction.Transaction, key string, options OperationOptions) (Result, error) {
	oldRev, exists := c.primary.Lookup(key)
	if !exists {
		return Result{}, dberr.New(dberr.KindKeyNotFound, "key '%s' in '%s'", key, c.Name)
	}
	err := c.checkRevision(key, oldRev, nil, options)
	if err != nil {
		return Result{}, err
	}
	old, exists := c.revisions.Lookup(oldRev)
	if !exists {
		return Result{}, dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", oldRev, key)
	}

	rev := revision.ID(c.clock.Next())
	p, err := c.journal.Append(marker.TypeRemove, document.Tombstone(key, rev), marker.CompressionNone)
	if err != nil {
		return Result{}, err
	}

	err = c.removeIndexes(key, oldRev, old.Doc)
	if err != nil {
		c.compensateRemove(key, oldRev, old)
		return Result{}, err
	}

	c.revisions.Remove(oldRev)
	c.stats.IncreaseDead(old.Fid, 1, old.Size)
	c.stats.IncreaseDeletions(old.Fid, 1)
	c.record(trx, &operation{
		kind:   operationRemove,
		key:    key,
		oldRev: oldRev,
		oldDoc: old.Doc,
		oldPos: old.Position,
	}, options.WaitForSync)

	return Result{Key: key, Rev: rev, OldRev: oldRev, Tick: p.Tick}, nil
}

func (c *Collection) removeIndexes(key string, rev revision.ID, doc []byte) error {
	indexes := c.secondaries()

	err := removeSecondaries(indexes, rev, doc, false)
	if err != nil {
		return err
	}
	if _, removed := c.primary.Remove(key); !removed {
		insertSecondaries(indexes, rev, doc, true)
		return dberr.New(dberr.KindKeyNotFound, "key '%s' in '%s'", key, c.Name)
	}
	return nil
}

// compensateRemove writes the removed revision again after its remove
// marker, so replay keeps the document.
func (c *Collection) compensateRemove(key string, oldRev revision.ID, old revision.Entry) {
	re, err := c.reassert(old.Doc, old.Pending)
	if err != nil {
		c.logger.Errorf(logging.NSCollection+"'%s': restore removed key '%s': %s", c.Name, key, err)
		return
	}
	c.stats.IncreaseDead(old.Fid, 1, old.Size)
	c.stats.IncreaseDeletions(old.Fid, 1)
	c.stats.IncreaseAlive(re.Fid, 1, re.Size)
	c.revisions.Update(oldRev, re)
}

// Truncate removes every document. Each remove stands on its own: a failure
// keeps the documents removed so far.
func (c *Collection) Truncate(trx *transaction.Transaction, options OperationOptions) (int, error) {
	trx, finish, err := c.use(trx, true)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range c.primary.Keys() {
		_, err = c.remove(trx, key, OperationOptions{IgnoreRevs: true, WaitForSync: options.WaitForSync})
		if err != nil {
			break
		}
		removed++
	}

	commitErr := finish(nil)
	if err == nil {
		err = commitErr
	}
	return removed, err
}

// Read returns the current revision of key.
func (c *Collection) Read(trx *transaction.Transaction, key string) (Result, error) {
	_, finish, err := c.use(trx, false)
	if err != nil {
		return Result{}, err
	}
	result, err := c.read(key)
	return result, finish(err)
}

func (c *Collection) read(key string) (Result, error) {
	rev, exists := c.primary.Lookup(key)
	if !exists {
		return Result{}, dberr.New(dberr.KindKeyNotFound, "key '%s' in '%s'", key, c.Name)
	}
	entry, exists := c.revisions.Lookup(rev)
	if !exists {
		return Result{}, dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", rev, key)
	}
	return Result{Key: key, Rev: rev, Doc: entry.Doc}, nil
}

// undo reverts one operation of an aborted transaction through the regular
// index path and writes the marker that makes replay agree.
func (c *Collection) undo(op *operation) error {
	indexes := c.secondaries()

	switch op.kind {
	case operationInsert:
		entry, exists := c.revisions.Lookup(op.newRev)
		if !exists {
			return dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", op.newRev, op.key)
		}
		err := removeSecondaries(indexes, op.newRev, entry.Doc, true)
		if err != nil {
			return err
		}
		c.primary.Remove(op.key)
		c.revisions.Remove(op.newRev)

		_, err = c.tombstone(op.key)
		if err != nil {
			return err
		}
		c.stats.IncreaseDead(entry.Fid, 1, entry.Size)
		c.stats.IncreaseDeletions(entry.Fid, 1)

	case operationUpdate:
		entry, exists := c.revisions.Lookup(op.newRev)
		if !exists {
			return dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", op.newRev, op.key)
		}
		err := removeSecondaries(indexes, op.newRev, entry.Doc, true)
		if err != nil {
			return err
		}
		err = insertSecondaries(indexes, op.oldRev, op.oldDoc, true)
		if err != nil {
			insertSecondaries(indexes, op.newRev, entry.Doc, true)
			return err
		}
		err = c.primary.Update(op.key, op.oldRev)
		if err != nil {
			return err
		}
		c.revisions.Remove(op.newRev)

		re, err := c.reassert(op.oldDoc, false)
		if err != nil {
			c.revisions.Insert(op.oldRev, op.oldDoc, op.oldPos)
			return err
		}
		c.revisions.Insert(op.oldRev, op.oldDoc, re)
		c.stats.IncreaseDead(entry.Fid, 1, entry.Size)
		c.stats.IncreaseAlive(re.Fid, 1, re.Size)

	case operationRemove:
		err := insertSecondaries(indexes, op.oldRev, op.oldDoc, true)
		if err != nil {
			return err
		}
		err = c.primary.Insert(op.key, op.oldRev)
		if err != nil {
			removeSecondaries(indexes, op.oldRev, op.oldDoc, true)
			return err
		}

		re, err := c.reassert(op.oldDoc, false)
		if err != nil {
			c.revisions.Insert(op.oldRev, op.oldDoc, op.oldPos)
			return err
		}
		c.revisions.Insert(op.oldRev, op.oldDoc, re)
		c.stats.IncreaseAlive(re.Fid, 1, re.Size)
	}

	return nil
}
