package collection

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/tidwall/gjson"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/transaction"
)

func TestTransaction_Commit(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		trx := c.config.Transactions.Begin(transaction.Options{WaitForSync: true})
		inserted, err := c.Insert(trx, []byte(`{"_key":"k1","a":1}`), OperationOptions{})
		AssertNil(err)

		entry, _ := c.revisions.Lookup(inserted.Rev)
		AssertTrue(entry.Pending)

		_, err = c.Update(trx, []byte(`{"a":2}`), OperationOptions{Key: "k1"})
		AssertNil(err)

		AssertNil(trx.Commit())
		AssertEqual(trx.Status(), transaction.StatusCommitted)

		read, err := c.Read(nil, "k1")
		AssertNil(err)
		entry, _ = c.revisions.Lookup(read.Rev)
		AssertFalse(entry.Pending)
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(2))

		_, err = c.Insert(trx, []byte(`{"_key":"k2"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrTransactionFinished))
	})
}

func TestTransaction_Abort(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))

		for i := 0; i < 3; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d","v":%d}`, i, i)), OperationOptions{})
			AssertNil(err)
		}
		before := primaryState(c)

		trx := c.config.Transactions.Begin(transaction.Options{})
		_, err := c.Insert(trx, []byte(`{"_key":"new","v":9}`), OperationOptions{})
		AssertNil(err)
		_, err = c.Update(trx, []byte(`{"v":10}`), OperationOptions{Key: "k0"})
		AssertNil(err)
		_, err = c.Replace(trx, []byte(`{"w":1}`), OperationOptions{Key: "k1"})
		AssertNil(err)
		_, err = c.Remove(trx, "k2", OperationOptions{})
		AssertNil(err)
		_, err = c.Update(trx, []byte(`{"v":11}`), OperationOptions{Key: "k0"})
		AssertNil(err)

		AssertNil(trx.Abort())
		AssertEqual(trx.Status(), transaction.StatusAborted)

		AssertEqual(primaryState(c), before)
		for i := 0; i < 3; i++ {
			read, err := c.Read(nil, fmt.Sprintf("k%d", i))
			AssertNil(err)
			AssertEqual(gjson.GetBytes(read.Doc, "v").Int(), int64(i))
		}
		_, err = c.Read(nil, "new")
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))

		stats := liveStats(c)

		c = reopen(c)
		defer c.Close()

		AssertEqual(primaryState(c), before)
		AssertEqual(liveStats(c), stats)
		for i := 0; i < 3; i++ {
			read, err := c.Read(nil, fmt.Sprintf("k%d", i))
			AssertNil(err)
			AssertEqual(gjson.GetBytes(read.Doc, "v").Int(), int64(i))
		}
	})
}

func TestTransaction_LockUpgrade(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)

		trx := c.config.Transactions.Begin(transaction.Options{})
		_, err = c.Read(trx, "k1")
		AssertNil(err)

		_, err = c.Insert(trx, []byte(`{"_key":"k2"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrLockUpgrade))

		AssertNil(trx.Commit())
	})
}

func TestTransaction_LockTimeout(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		holder := c.config.Transactions.Begin(transaction.Options{})
		_, err := c.Insert(holder, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)

		waiter := c.config.Transactions.Begin(transaction.Options{LockTimeout: 50 * time.Millisecond})
		_, err = c.Insert(waiter, []byte(`{"_key":"k2"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrLockTimeout))
		AssertNil(waiter.Abort())

		AssertNil(holder.Commit())
		AssertEqual(c.Count(), 1)
	})
}

func TestTransaction_Deadlock(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("a")
		config.LockTimeout = 5 * time.Second
		a := mustCreate(dir, config)
		defer a.Close()

		config.Name = "b"
		b, err := Create(filepath.Join(dir, "b"), config)
		AssertNil(err)
		defer b.Close()

		options := transaction.Options{DeadlockDetection: true}
		trx1 := config.Transactions.Begin(options)
		trx2 := config.Transactions.Begin(options)

		_, err = a.Insert(trx1, []byte(`{"_key":"one"}`), OperationOptions{})
		AssertNil(err)
		_, err = b.Insert(trx2, []byte(`{"_key":"two"}`), OperationOptions{})
		AssertNil(err)

		type outcome struct {
			trx *transaction.Transaction
			err error
		}
		outcomes := make(chan outcome, 2)

		go func() {
			_, err := b.Insert(trx1, []byte(`{"_key":"one"}`), OperationOptions{})
			outcomes <- outcome{trx: trx1, err: err}
		}()
		time.Sleep(50 * time.Millisecond)
		go func() {
			_, err := a.Insert(trx2, []byte(`{"_key":"two"}`), OperationOptions{})
			outcomes <- outcome{trx: trx2, err: err}
		}()

		first := <-outcomes
		AssertTrue(errors.Is(first.err, dberr.ErrDeadlock))
		AssertNil(first.trx.Abort())

		second := <-outcomes
		AssertNil(second.err)
		AssertNil(second.trx.Commit())

		AssertEqual(a.Count()+b.Count(), 2)
	})
}

func TestTruncate_InTransaction(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		for i := 0; i < 5; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d"}`, i)), OperationOptions{})
			AssertNil(err)
		}

		trx := c.config.Transactions.Begin(transaction.Options{})
		removed, err := c.Truncate(trx, OperationOptions{})
		AssertNil(err)
		AssertEqual(removed, 5)
		AssertEqual(c.Count(), 0)

		AssertNil(trx.Abort())
		AssertEqual(c.Count(), 5)
	})
}
