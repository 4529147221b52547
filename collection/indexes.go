package collection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/SierraSoftworks/connor"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/transaction"
)

// loadIndexes builds the secondary indexes of the parameters from the
// recovered documents.
func (c *Collection) loadIndexes() error {
	indexes := []index.Index{}
	for _, definition := range c.parameters.Indexes {
		idx, err := c.buildIndex(definition)
		if err != nil {
			return fmt.Errorf("index '%s': %w", definition.Name, err)
		}
		indexes = append(indexes, idx)
	}

	c.indexesMutex.Lock()
	c.indexes = indexes
	c.indexesMutex.Unlock()
	return nil
}

func (c *Collection) buildIndex(definition index.Definition) (index.Index, error) {
	idx, err := c.config.Registry.New(definition)
	if err != nil {
		return nil, err
	}

	c.primary.Ascend("", func(key string, rev revision.ID) bool {
		entry, exists := c.revisions.Lookup(rev)
		if !exists {
			err = dberr.New(dberr.KindInternal, "revision %s of key '%s' not cached", rev, key)
			return false
		}
		err = idx.Insert(rev, entry.Doc, false)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (c *Collection) Indexes() []index.Index {
	return c.secondaries()
}

func (c *Collection) Index(name string) (index.Index, bool) {
	for _, idx := range c.secondaries() {
		if idx.Name() == name {
			return idx, true
		}
	}
	return nil, false
}

// EnsureIndex creates the index unless one with the same definition exists.
// It reports whether a new index was built.
func (c *Collection) EnsureIndex(definition index.Definition) (bool, error) {
	_, finish, err := c.use(nil, true)
	if err != nil {
		return false, err
	}
	created, err := c.ensureIndex(definition)
	return created, finish(err)
}

func (c *Collection) ensureIndex(definition index.Definition) (bool, error) {
	c.indexesMutex.RLock()
	for _, existing := range c.parameters.Indexes {
		if existing.Name != definition.Name {
			continue
		}
		c.indexesMutex.RUnlock()
		if existing.Type == definition.Type && bytes.Equal(existing.Options, definition.Options) {
			return false, nil
		}
		return false, dberr.New(dberr.KindIndexExists, "index '%s' in '%s'", definition.Name, c.Name)
	}
	c.indexesMutex.RUnlock()

	idx, err := c.buildIndex(definition)
	if err != nil {
		return false, err
	}

	c.indexesMutex.Lock()
	defer c.indexesMutex.Unlock()

	c.parameters.Indexes = append(c.parameters.Indexes, definition)
	err = writeParameters(c.dir, c.parameters)
	if err != nil {
		c.parameters.Indexes = c.parameters.Indexes[:len(c.parameters.Indexes)-1]
		return false, err
	}
	c.indexes = append(c.indexes, idx)

	c.logger.Infof(logging.NSCollection+"'%s': created %s index '%s'", c.Name, definition.Type, definition.Name)
	return true, nil
}

func (c *Collection) DropIndex(name string) error {
	_, finish, err := c.use(nil, true)
	if err != nil {
		return err
	}
	return finish(c.dropIndex(name))
}

func (c *Collection) dropIndex(name string) error {
	c.indexesMutex.Lock()
	defer c.indexesMutex.Unlock()

	for i, definition := range c.parameters.Indexes {
		if definition.Name != name {
			continue
		}

		previous := c.parameters.Indexes
		c.parameters.Indexes = append(append([]index.Definition{}, previous[:i]...), previous[i+1:]...)
		err := writeParameters(c.dir, c.parameters)
		if err != nil {
			c.parameters.Indexes = previous
			return err
		}

		indexes := []index.Index{}
		for _, idx := range c.indexes {
			if idx.Name() != name {
				indexes = append(indexes, idx)
			}
		}
		c.indexes = indexes
		return nil
	}

	return dberr.New(dberr.KindIndexNotFound, "index '%s' in '%s'", name, c.Name)
}

// Find visits, in key order, the documents matching filter. An empty filter
// matches everything. f returning false stops the scan.
func (c *Collection) Find(trx *transaction.Transaction, filter map[string]interface{}, f func(r Result) bool) error {
	_, finish, err := c.use(trx, false)
	if err != nil {
		return err
	}
	return finish(c.find(filter, f))
}

func (c *Collection) find(filter map[string]interface{}, f func(r Result) bool) (err error) {
	hasFilter := len(filter) > 0

	c.primary.Ascend("", func(key string, rev revision.ID) bool {
		entry, exists := c.revisions.Lookup(rev)
		if !exists {
			return true
		}

		if hasFilter {
			item := map[string]interface{}{}
			err = json.Unmarshal(entry.Doc, &item)
			if err != nil {
				err = fmt.Errorf("decode '%s': %w", key, err)
				return false
			}
			match, matchErr := connor.Match(filter, item)
			if matchErr != nil {
				err = dberr.Wrap(dberr.KindBadParameter, matchErr, "filter")
				return false
			}
			if !match {
				return true
			}
		}

		return f(Result{Key: key, Rev: rev, Doc: entry.Doc})
	})

	return err
}

// FindByIndex traverses a secondary index with its own options and visits
// the matching documents.
func (c *Collection) FindByIndex(trx *transaction.Transaction, name string, options []byte, f func(r Result) bool) error {
	_, finish, err := c.use(trx, false)
	if err != nil {
		return err
	}

	idx, exists := c.Index(name)
	if !exists {
		return finish(dberr.New(dberr.KindIndexNotFound, "index '%s' in '%s'", name, c.Name))
	}

	err = idx.Traverse(options, func(rev revision.ID) bool {
		entry, exists := c.revisions.Lookup(rev)
		if !exists {
			return true
		}
		key, _ := document.Key(entry.Doc)
		return f(Result{Key: key, Rev: rev, Doc: entry.Doc})
	})
	return finish(err)
}
