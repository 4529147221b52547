package index

import (
	"sync/atomic"

	"github.com/fulldump/segmentdb/revision"
)

type Operation string

const (
	OperationInsert Operation = "insert"
	OperationRemove Operation = "remove"
)

// Consumer receives every document change of a collection. A returned error
// makes the engine undo the operation, calling the consumer again with
// isRollback set.
type Consumer func(op Operation, rev revision.ID, doc []byte, isRollback bool) error

// Callback forwards index maintenance to an external consumer such as a
// search engine.
type Callback struct {
	name     string
	typ      string
	consumer Consumer
	count    atomic.Int64
}

func NewCallback(name, typ string, consumer Consumer) *Callback {
	return &Callback{
		name:     name,
		typ:      typ,
		consumer: consumer,
	}
}

// CallbackFactory lets a consumer be registered as an index type.
func CallbackFactory(typ string, consumer Consumer) Factory {
	return func(definition Definition) (Index, error) {
		return NewCallback(definition.Name, typ, consumer), nil
	}
}

func (c *Callback) Insert(rev revision.ID, doc []byte, isRollback bool) error {
	err := c.consumer(OperationInsert, rev, doc, isRollback)
	if err == nil {
		c.count.Add(1)
	}
	return err
}

func (c *Callback) Remove(rev revision.ID, doc []byte, isRollback bool) error {
	err := c.consumer(OperationRemove, rev, doc, isRollback)
	if err == nil {
		c.count.Add(-1)
	}
	return err
}

func (c *Callback) Traverse(options []byte, f func(rev revision.ID) bool) error {
	return nil
}

func (c *Callback) Name() string {
	return c.name
}

func (c *Callback) Type() string {
	return c.typ
}

func (c *Callback) Options() interface{} {
	return nil
}

func (c *Callback) Unique() bool {
	return false
}

// Len is the number of documents the consumer has acknowledged.
func (c *Callback) Len() int {
	return int(c.count.Load())
}

func (c *Callback) Memory() int64 {
	return 0
}
