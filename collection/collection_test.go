package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/tidwall/gjson"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/marker"
	"github.com/fulldump/segmentdb/revision"
)

func TestCreate(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		AssertEqual(c.Status(), StatusAvailable)
		AssertEqual(c.Count(), 0)
		AssertEqual(c.Parameters().Name, "users")
		AssertNotEqual(c.Parameters().GloballyUniqueID, "")

		_, err := Create(filepath.Join(dir, "users"), testConfig("users"))
		AssertTrue(errors.Is(err, dberr.ErrCollectionExists))
	})
}

func TestCreate_BadParameters(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("")
		_, err := Create(filepath.Join(dir, "nameless"), config)
		AssertTrue(errors.Is(err, dberr.ErrBadParameter))

		config = testConfig("packed")
		config.Compression = "rar"
		_, err = Create(filepath.Join(dir, "packed"), config)
		AssertTrue(errors.Is(err, dberr.ErrBadParameter))
	})
}

func TestOpen_NotFound(t *testing.T) {
	Environment(func(dir string) {
		_, err := Open(filepath.Join(dir, "missing"), testConfig("missing"))
		AssertTrue(errors.Is(err, dberr.ErrCollectionNotFound))
	})
}

func TestInsert(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		result, err := c.Insert(nil, []byte(`{"_key":"fulanez","name":"Fulanez"}`), OperationOptions{})
		AssertNil(err)
		AssertEqual(result.Key, "fulanez")
		AssertNotEqual(result.Rev, revision.ID(0))

		read, err := c.Read(nil, "fulanez")
		AssertNil(err)
		AssertEqual(read.Rev, result.Rev)
		AssertEqualJson(json.RawMessage(read.Doc), map[string]interface{}{
			"_key": "fulanez",
			"_rev": result.Rev.String(),
			"name": "Fulanez",
		})
	})
}

func TestInsert_GeneratedKey(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		first, err := c.Insert(nil, []byte(`{"n":1}`), OperationOptions{})
		AssertNil(err)
		second, err := c.Insert(nil, []byte(`{"n":2}`), OperationOptions{})
		AssertNil(err)
		third, err := c.Insert(nil, []byte(`{"n":3}`), OperationOptions{Key: "explicit"})
		AssertNil(err)

		AssertNotEqual(first.Key, "")
		AssertNotEqual(first.Key, second.Key)
		AssertEqual(third.Key, "explicit")
		AssertEqual(c.Count(), 3)
	})
}

func TestInsert_Invalid(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Insert(nil, []byte(`[1,2,3]`), OperationOptions{})
		AssertNotNil(err)

		_, err = c.Insert(nil, []byte(`{"_key":"with space"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrDocumentKeyBad))

		_, err = c.Insert(nil, []byte(`{"_key":12}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrDocumentKeyBad))

		AssertEqual(c.Count(), 0)
	})
}

func TestInsert_UniqueKeys(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)
		_, err = c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrUniqueConstraintViolated))

		// many writers racing for the same keys
		keys := 20
		wins := make([]int, keys)
		winsMutex := sync.Mutex{}
		wg := sync.WaitGroup{}
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < keys; i++ {
					doc := fmt.Sprintf(`{"_key":"race%d"}`, i)
					_, err := c.Insert(nil, []byte(doc), OperationOptions{})
					if err == nil {
						winsMutex.Lock()
						wins[i]++
						winsMutex.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		for i := 0; i < keys; i++ {
			AssertEqual(wins[i], 1)
		}
		AssertEqual(c.Count(), keys+1)
		AssertEqual(c.revisions.Len(), keys+1)
	})
}

func TestUpdate_RevisionConflict(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		r1, err := c.Insert(nil, []byte(`{"_key":"k1","a":1}`), OperationOptions{})
		AssertNil(err)
		old, _ := c.revisions.Lookup(r1.Rev)

		r2, err := c.Update(nil, []byte(`{"a":2}`), OperationOptions{Key: "k1", ExpectedRev: r1.Rev})
		AssertNil(err)
		AssertEqual(r2.OldRev, r1.Rev)
		AssertTrue(r2.Rev > r1.Rev)
		AssertEqual(c.stats.Get(old.Fid).NumberDead, int64(1))
		AssertEqual(c.stats.Get(old.Fid).SizeDead, old.Size)

		_, err = c.Update(nil, []byte(`{"a":3}`), OperationOptions{Key: "k1", ExpectedRev: r1.Rev})
		AssertTrue(errors.Is(err, dberr.ErrRevisionConflict))

		// the _rev of the document is the expected revision when none is given
		_, err = c.Update(nil, []byte(`{"_key":"k1","_rev":"`+r1.Rev.String()+`","a":4}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrRevisionConflict))

		read, err := c.Read(nil, "k1")
		AssertNil(err)
		AssertEqual(read.Rev, r2.Rev)
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(2))
		AssertEqual(c.stats.Get(old.Fid).NumberDead, int64(1))
	})
}

func TestUpdate_Merge(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Insert(nil, []byte(`{"_key":"k1","a":1,"b":{"x":1,"y":2}}`), OperationOptions{})
		AssertNil(err)

		result, err := c.Update(nil, []byte(`{"a":null,"b":{"y":3}}`), OperationOptions{Key: "k1", MergeObjects: true})
		AssertNil(err)
		AssertEqualJson(json.RawMessage(result.Doc), map[string]interface{}{
			"_key": "k1",
			"_rev": result.Rev.String(),
			"b":    map[string]interface{}{"x": 1, "y": 3},
		})

		result, err = c.Update(nil, []byte(`{"a":null,"b":{"z":1}}`), OperationOptions{Key: "k1", KeepNull: true})
		AssertNil(err)
		AssertEqualJson(json.RawMessage(result.Doc), map[string]interface{}{
			"_key": "k1",
			"_rev": result.Rev.String(),
			"a":    nil,
			"b":    map[string]interface{}{"z": 1},
		})
	})
}

func TestUpdate_KeepNullKeepsLargeIntegers(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Insert(nil, []byte(`{"_key":"k","id":9007199254740993,"a":1}`), OperationOptions{})
		AssertNil(err)

		_, err = c.Update(nil, []byte(`{"a":2}`), OperationOptions{Key: "k", KeepNull: true, MergeObjects: true})
		AssertNil(err)

		read, err := c.Read(nil, "k")
		AssertNil(err)
		AssertEqual(gjson.GetBytes(read.Doc, "id").Raw, "9007199254740993")
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(2))
	})
}

func TestUpdate_NotFound(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.Update(nil, []byte(`{"a":1}`), OperationOptions{Key: "ghost"})
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))

		_, err = c.Update(nil, []byte(`{"a":1}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrDocumentKeyBad))
	})
}

func TestReplace(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		r1, err := c.Insert(nil, []byte(`{"_key":"k1","a":1,"b":2}`), OperationOptions{})
		AssertNil(err)

		r2, err := c.Replace(nil, []byte(`{"_key":"k1","c":3}`), OperationOptions{ExpectedRev: r1.Rev})
		AssertNil(err)
		AssertEqualJson(json.RawMessage(r2.Doc), map[string]interface{}{
			"_key": "k1",
			"_rev": r2.Rev.String(),
			"c":    3,
		})

		_, err = c.Replace(nil, []byte(`{"_key":"k1"}`), OperationOptions{ExpectedRev: r1.Rev})
		AssertTrue(errors.Is(err, dberr.ErrRevisionConflict))
	})
}

func TestRemove(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		r1, err := c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)
		old, _ := c.revisions.Lookup(r1.Rev)

		_, err = c.Remove(nil, "k1", OperationOptions{ExpectedRev: r1.Rev + 1})
		AssertTrue(errors.Is(err, dberr.ErrRevisionConflict))
		AssertEqual(c.Count(), 1)

		removed, err := c.Remove(nil, "k1", OperationOptions{ExpectedRev: r1.Rev})
		AssertNil(err)
		AssertEqual(removed.OldRev, r1.Rev)

		_, err = c.Read(nil, "k1")
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))
		_, err = c.Remove(nil, "k1", OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))

		AssertEqual(c.Count(), 0)
		AssertEqual(c.revisions.Len(), 0)
		AssertEqual(c.stats.Get(old.Fid).NumberAlive, int64(0))
		AssertEqual(c.stats.Get(old.Fid).NumberDead, int64(1))
		AssertEqual(c.stats.Get(old.Fid).NumberDeletions, int64(1))
	})
}

func TestTruncate(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		for i := 0; i < 10; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d"}`, i)), OperationOptions{})
			AssertNil(err)
		}

		removed, err := c.Truncate(nil, OperationOptions{})
		AssertNil(err)
		AssertEqual(removed, 10)
		AssertEqual(c.Count(), 0)
		AssertEqual(c.stats.All().NumberDeletions, int64(10))
	})
}

func TestTicksIncrease(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("ticks")
		config.JournalSize = 4 * 1024
		c := mustCreate(dir, config)
		defer c.Close()

		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("k%d", i%10)
			_, err := c.Read(nil, key)
			if errors.Is(err, dberr.ErrKeyNotFound) {
				_, err = c.Insert(nil, []byte(`{"_key":"`+key+`"}`), OperationOptions{})
			} else if i%3 == 0 {
				_, err = c.Remove(nil, key, OperationOptions{})
			} else {
				_, err = c.Update(nil, []byte(`{"i":1}`), OperationOptions{Key: key})
			}
			AssertNil(err)
		}
		AssertTrue(len(c.journal.Datafiles()) > 1)

		last := uint64(0)
		markers := 0
		err := c.Dump(0, ^uint64(0), func(e datafile.Entry) error {
			AssertTrue(e.Tick > last)
			last = e.Tick
			markers++
			return nil
		})
		AssertNil(err)
		AssertEqual(markers, 100)
	})
}

func TestLargeDocumentGrowsJournal(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("big")
		config.JournalSize = 4 * 1024
		c := mustCreate(dir, config)
		defer c.Close()

		big := fmt.Sprintf(`{"_key":"big","data":"%0*d"}`, 10*1024, 0)
		_, err := c.Insert(nil, []byte(big), OperationOptions{})
		AssertNil(err)

		read, err := c.Read(nil, "big")
		AssertNil(err)
		AssertEqual(len(gjson.GetBytes(read.Doc, "data").String()), 10*1024)
	})
}

func TestCompressedCollection(t *testing.T) {
	for _, compression := range []string{"snappy", "zstd", "lz4"} {
		Environment(func(dir string) {

			config := testConfig("packed")
			config.Compression = compression
			c := mustCreate(dir, config)

			doc := fmt.Sprintf(`{"_key":"k1","data":"%0*d"}`, 2000, 0)
			_, err := c.Insert(nil, []byte(doc), OperationOptions{})
			AssertNil(err)

			c = reopen(c)
			defer c.Close()

			read, err := c.Read(nil, "k1")
			AssertNil(err)
			AssertEqual(len(gjson.GetBytes(read.Doc, "data").String()), 2000)
		})
	}
}

func TestScenario_JournalRotation(t *testing.T) {
	Environment(func(dir string) {

		data := fmt.Sprintf("%0*d", 150, 0)
		newDoc := func(i int) []byte {
			return []byte(fmt.Sprintf(`{"_key":"k%04d","data":"%s"}`, i, data))
		}

		// every journal holds exactly 450 markers
		payload, err := document.WithSystem(newDoc(0), "k0000", revision.ID(1_000_000_000_000_000_001))
		AssertNil(err)
		size := marker.EncodedSize(len(payload))
		fixed := marker.EncodedSize(20) + marker.EncodedSize(16) + marker.FooterSize

		config := testConfig("rotation")
		config.JournalSize = fixed + 450*size + size/2
		c := mustCreate(dir, config)

		for i := 0; i < 1000; i++ {
			result, err := c.Insert(nil, newDoc(i), OperationOptions{})
			AssertNil(err)
			entry, _ := c.revisions.Lookup(result.Rev)
			AssertEqual(entry.Size, size)
		}

		datafiles := c.journal.Datafiles()
		AssertEqual(len(datafiles), 2)
		AssertNotNil(c.journal.Journal())
		AssertEqual(c.Count(), 1000)
		for _, d := range datafiles {
			AssertTrue(d.Sealed())
			AssertEqual(c.stats.Get(d.ID).NumberAlive, int64(450))
		}
		AssertEqual(c.stats.Get(c.journal.Journal().ID).NumberAlive, int64(100))

		c = reopen(c)
		defer c.Close()

		AssertEqual(c.Count(), 1000)
		AssertEqual(len(c.journal.Datafiles()), 2)
		AssertEqual(c.Figures().Recovery.Documents, int64(1000))
	})
}

func TestClose(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		AssertNil(c.Close())
		AssertEqual(c.Status(), StatusClosed)

		_, err := c.Insert(nil, []byte(`{}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrCollectionClosed))

		err = c.Close()
		AssertTrue(errors.Is(err, dberr.ErrCollectionClosed))
	})
}

func TestDrop(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		_, err := c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)

		AssertNil(c.Drop())

		_, err = Open(filepath.Join(dir, "users"), testConfig("users"))
		AssertTrue(errors.Is(err, dberr.ErrCollectionNotFound))
	})
}

func TestFigures(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		for i := 0; i < 5; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d"}`, i)), OperationOptions{})
			AssertNil(err)
		}
		_, err := c.Remove(nil, "k0", OperationOptions{})
		AssertNil(err)
		AssertNil(c.RotateJournal())

		figures := c.Figures()
		AssertEqual(figures.Documents, 4)
		AssertEqual(figures.Revisions, 4)
		AssertEqual(figures.Statistics.NumberAlive, int64(4))
		AssertEqual(figures.Statistics.NumberDead, int64(1))
		AssertEqual(len(figures.Datafiles), 1)
		AssertNil(figures.Journal)
		AssertTrue(c.Memory() > 0)
	})
}

func TestBackgroundSync(t *testing.T) {
	Environment(func(dir string) {

		config := testConfig("synced")
		config.SyncInterval = 5 * time.Millisecond
		c := mustCreate(dir, config)

		_, err := c.Insert(nil, []byte(`{"_key":"k1"}`), OperationOptions{})
		AssertNil(err)
		time.Sleep(20 * time.Millisecond)

		AssertNil(c.Close())

		c, err = Open(c.dir, c.config)
		AssertNil(err)
		defer c.Close()
		AssertEqual(c.Count(), 1)
	})
}
