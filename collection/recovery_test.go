package collection

import (
	"errors"
	"fmt"
	"os"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/tidwall/gjson"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/marker"
)

func TestRecovery_Reopen(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("users")
		config.JournalSize = 8 * 1024
		c := mustCreate(dir, config)

		for i := 0; i < 60; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d","v":%d}`, i, i)), OperationOptions{})
			AssertNil(err)
		}
		for i := 0; i < 60; i += 3 {
			_, err := c.Update(nil, []byte(`{"v":-1}`), OperationOptions{Key: fmt.Sprintf("k%d", i)})
			AssertNil(err)
		}
		for i := 1; i < 60; i += 5 {
			_, err := c.Remove(nil, fmt.Sprintf("k%d", i), OperationOptions{})
			AssertNil(err)
		}

		keys := primaryState(c)
		stats := liveStats(c)
		tick := c.clock.Current()

		c = reopen(c)
		defer c.Close()

		AssertEqual(primaryState(c), keys)
		AssertEqual(liveStats(c), stats)
		AssertTrue(c.clock.Current() >= tick)

		recovery := c.Figures().Recovery
		AssertEqual(recovery.Documents, int64(80))
		AssertEqual(recovery.Removes, int64(12))
		AssertEqual(recovery.SpuriousDeletions, int64(0))
		AssertFalse(recovery.TruncatedTail)

		read, err := c.Read(nil, "k3")
		AssertNil(err)
		AssertEqual(gjson.GetBytes(read.Doc, "v").Int(), int64(-1))

		// new revisions stay ahead of everything on disk
		result, err := c.Insert(nil, []byte(`{"_key":"fresh"}`), OperationOptions{})
		AssertNil(err)
		AssertTrue(uint64(result.Rev) > tick)
	})
}

func TestRecovery_Idempotent(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("users")
		config.JournalSize = 4 * 1024
		c := mustCreate(dir, config)
		defer c.Close()

		for i := 0; i < 40; i++ {
			key := fmt.Sprintf("k%d", i%7)
			_, err := c.Insert(nil, []byte(`{"_key":"`+key+`"}`), OperationOptions{})
			if errors.Is(err, dberr.ErrUniqueConstraintViolated) {
				_, err = c.Remove(nil, key, OperationOptions{})
			}
			AssertNil(err)
		}

		first, err := c.recover()
		AssertNil(err)
		keys := primaryState(c)
		stats := c.stats.Snapshot()

		second, err := c.recover()
		AssertNil(err)

		AssertEqual(second, first)
		AssertEqual(primaryState(c), keys)
		AssertEqual(c.stats.Snapshot(), stats)
		AssertEqual(c.revisions.Len(), len(keys))
	})
}

func TestRecovery_TruncatedJournal(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))

		var last Result
		for i := 0; i < 10; i++ {
			result, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d"}`, i)), OperationOptions{})
			AssertNil(err)
			last = result
		}
		entry, _ := c.revisions.Lookup(last.Rev)
		path := c.journal.Journal().Path()
		AssertNil(c.Close())

		// the last marker only made it half way to disk
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		AssertNil(err)
		half := entry.Size / 2
		_, err = f.WriteAt(make([]byte, entry.Size-half), entry.Offset+half)
		AssertNil(err)
		AssertNil(f.Close())

		c, err = Open(c.dir, c.config)
		AssertNil(err)
		defer c.Close()

		AssertEqual(c.Count(), 9)
		_, err = c.Read(nil, "k9")
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))
		AssertTrue(c.Figures().Recovery.TruncatedTail)

		_, err = c.Insert(nil, []byte(`{"_key":"k9"}`), OperationOptions{})
		AssertNil(err)
		AssertEqual(c.Count(), 10)
	})
}

func TestRecovery_CorruptDatafile(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))

		var first Result
		for i := 0; i < 10; i++ {
			result, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d"}`, i)), OperationOptions{})
			AssertNil(err)
			if i == 0 {
				first = result
			}
		}
		entry, _ := c.revisions.Lookup(first.Rev)
		AssertNil(c.RotateJournal())
		datafiles := c.journal.Datafiles()
		path := datafiles[len(datafiles)-1].Path()
		AssertNil(c.Close())

		// damage a marker in the middle of a sealed datafile
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		AssertNil(err)
		_, err = f.WriteAt([]byte("garbage"), entry.Offset+marker.HeaderSize)
		AssertNil(err)
		AssertNil(f.Close())

		_, err = Open(c.dir, c.config)
		AssertTrue(errors.Is(err, dberr.ErrCorruptDatafile))
	})
}
