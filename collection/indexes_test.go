package collection

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-json-experiment/json/jsontext"

	. "github.com/fulldump/biff"
	"github.com/tidwall/gjson"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/revision"
)

func hashDefinition(name, field string) index.Definition {
	return index.Definition{
		Name:    name,
		Type:    "hash",
		Options: jsontext.Value(`{"field":"` + field + `"}`),
	}
}

func hashLookup(c *Collection, name string, value string) []revision.ID {
	revs := []revision.ID{}
	err := c.FindByIndex(nil, name, []byte(`{"value":`+value+`}`), func(r Result) bool {
		revs = append(revs, r.Rev)
		return true
	})
	if err != nil {
		panic(err)
	}
	return revs
}

func TestEnsureIndex(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))

		for i := 0; i < 4; i++ {
			doc := fmt.Sprintf(`{"_key":"k%d","color":"%s"}`, i, []string{"red", "blue"}[i%2])
			_, err := c.Insert(nil, []byte(doc), OperationOptions{})
			AssertNil(err)
		}

		created, err := c.EnsureIndex(hashDefinition("by_color", "color"))
		AssertNil(err)
		AssertTrue(created)
		AssertEqual(len(hashLookup(c, "by_color", `"red"`)), 2)

		created, err = c.EnsureIndex(hashDefinition("by_color", "color"))
		AssertNil(err)
		AssertFalse(created)

		_, err = c.EnsureIndex(hashDefinition("by_color", "size"))
		AssertTrue(errors.Is(err, dberr.ErrIndexExists))

		_, err = c.EnsureIndex(index.Definition{Name: "weird", Type: "rtree"})
		AssertNotNil(err)

		// indexes are rebuilt on open
		c = reopen(c)
		defer c.Close()

		AssertEqual(len(c.Parameters().Indexes), 1)
		AssertEqual(len(hashLookup(c, "by_color", `"red"`)), 2)
		AssertEqual(len(hashLookup(c, "by_color", `"blue"`)), 2)

		AssertNil(c.DropIndex("by_color"))
		AssertTrue(errors.Is(c.DropIndex("by_color"), dberr.ErrIndexNotFound))

		err = c.FindByIndex(nil, "by_color", []byte(`{"value":"red"}`), func(r Result) bool { return true })
		AssertTrue(errors.Is(err, dberr.ErrIndexNotFound))
	})
}

func TestIndex_Unique(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.EnsureIndex(index.Definition{
			Name:    "by_email",
			Type:    "hash",
			Options: jsontext.Value(`{"field":"email","unique":true}`),
		})
		AssertNil(err)

		_, err = c.Insert(nil, []byte(`{"_key":"a","email":"a@example.com"}`), OperationOptions{})
		AssertNil(err)
		_, err = c.Insert(nil, []byte(`{"_key":"b","email":"a@example.com"}`), OperationOptions{})
		AssertTrue(errors.Is(err, dberr.ErrUniqueConstraintViolated))

		_, err = c.Read(nil, "b")
		AssertTrue(errors.Is(err, dberr.ErrKeyNotFound))
		AssertEqual(c.Count(), 1)

		// the failed insert left a remove marker behind
		c = reopen(c)
		defer c.Close()
		AssertEqual(c.Count(), 1)
		AssertEqual(len(hashLookup(c, "by_email", `"a@example.com"`)), 1)
	})
}

func TestUpdate_FailingIndexLeavesNoTrace(t *testing.T) {
	Environment(func(dir string) {

		consumed := []string{}
		reject := func(op index.Operation, rev revision.ID, doc []byte, isRollback bool) error {
			if op == index.OperationInsert && !isRollback && strings.Contains(string(doc), `"fail":true`) {
				return errors.New("rejected by consumer")
			}
			consumed = append(consumed, fmt.Sprintf("%s %s %v", op, rev, isRollback))
			return nil
		}

		config := testConfig("users")
		AssertNil(config.Registry.Register("reject", index.CallbackFactory("reject", reject)))
		c := mustCreate(dir, config)

		_, err := c.EnsureIndex(hashDefinition("by_a", "a"))
		AssertNil(err)
		_, err = c.EnsureIndex(index.Definition{Name: "consumer", Type: "reject"})
		AssertNil(err)

		r1, err := c.Insert(nil, []byte(`{"_key":"k1","a":1}`), OperationOptions{})
		AssertNil(err)

		stats := liveStats(c)
		byA, _ := c.Index("by_a")
		entries := byA.Len()

		_, err = c.Update(nil, []byte(`{"a":2,"fail":true}`), OperationOptions{Key: "k1"})
		AssertNotNil(err)

		read, err := c.Read(nil, "k1")
		AssertNil(err)
		AssertEqual(read.Rev, r1.Rev)
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(1))
		AssertEqual(byA.Len(), entries)
		AssertEqual(hashLookup(c, "by_a", "1"), []revision.ID{r1.Rev})
		AssertEqual(len(hashLookup(c, "by_a", "2")), 0)
		AssertEqual(c.Count(), 1)
		AssertEqual(c.revisions.Len(), 1)

		// the consumer saw the old revision leave and come back
		AssertEqual(consumed[len(consumed)-1], fmt.Sprintf("insert %s true", r1.Rev))

		_, err = c.Insert(nil, []byte(`{"_key":"k2","a":5,"fail":true}`), OperationOptions{})
		AssertNotNil(err)
		AssertEqual(len(hashLookup(c, "by_a", "5")), 0)
		AssertEqual(c.Count(), 1)

		failedStats := liveStats(c)
		AssertNotEqual(failedStats, stats)

		c = reopen(c)
		defer c.Close()

		read, err = c.Read(nil, "k1")
		AssertNil(err)
		AssertEqual(read.Rev, r1.Rev)
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(1))
		AssertEqual(c.Count(), 1)
		AssertEqual(liveStats(c), failedStats)
	})
}

func TestRemove_FailingIndexLeavesNoTrace(t *testing.T) {
	Environment(func(dir string) {

		reject := func(op index.Operation, rev revision.ID, doc []byte, isRollback bool) error {
			if op == index.OperationRemove && !isRollback && strings.Contains(string(doc), `"locked":true`) {
				return errors.New("rejected by consumer")
			}
			return nil
		}

		config := testConfig("users")
		AssertNil(config.Registry.Register("reject", index.CallbackFactory("reject", reject)))
		c := mustCreate(dir, config)

		_, err := c.EnsureIndex(hashDefinition("by_a", "a"))
		AssertNil(err)
		_, err = c.EnsureIndex(index.Definition{Name: "consumer", Type: "reject"})
		AssertNil(err)

		r1, err := c.Insert(nil, []byte(`{"_key":"k1","a":1,"locked":true}`), OperationOptions{})
		AssertNil(err)
		_, err = c.Insert(nil, []byte(`{"_key":"k2","a":2}`), OperationOptions{})
		AssertNil(err)

		alive := c.stats.All().NumberAlive
		before, _ := c.revisions.Lookup(r1.Rev)
		byA, _ := c.Index("by_a")
		entries := byA.Len()

		_, err = c.Remove(nil, "k1", OperationOptions{})
		AssertNotNil(err)

		read, err := c.Read(nil, "k1")
		AssertNil(err)
		AssertEqual(read.Rev, r1.Rev)
		AssertEqual(gjson.GetBytes(read.Doc, "a").Int(), int64(1))
		AssertEqual(primaryState(c)["k1"], r1.Rev)
		AssertEqual(byA.Len(), entries)
		AssertEqual(hashLookup(c, "by_a", "1"), []revision.ID{r1.Rev})
		AssertEqual(c.Count(), 2)
		AssertEqual(c.revisions.Len(), 2)
		AssertEqual(c.stats.All().NumberAlive, alive)

		// the revision is written again after the remove marker
		entry, _ := c.revisions.Lookup(r1.Rev)
		AssertTrue(entry.Offset > before.Offset)

		_, err = c.Remove(nil, "k2", OperationOptions{})
		AssertNil(err)

		failedStats := liveStats(c)

		c = reopen(c)
		defer c.Close()

		read, err = c.Read(nil, "k1")
		AssertNil(err)
		AssertEqual(read.Rev, r1.Rev)
		AssertEqual(c.Count(), 1)
		AssertEqual(hashLookup(c, "by_a", "1"), []revision.ID{r1.Rev})
		AssertEqual(len(hashLookup(c, "by_a", "2")), 0)
		AssertEqual(liveStats(c), failedStats)
	})
}

func TestFind(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		for i := 0; i < 6; i++ {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d","n":%d,"tags":["t%d"]}`, i, i, i%2)), OperationOptions{})
			AssertNil(err)
		}

		keys := []string{}
		err := c.Find(nil, map[string]interface{}{"n": map[string]interface{}{"$gt": 2}}, func(r Result) bool {
			keys = append(keys, r.Key)
			return true
		})
		AssertNil(err)
		AssertEqual(keys, []string{"k3", "k4", "k5"})

		count := 0
		err = c.Find(nil, nil, func(r Result) bool {
			count++
			return count < 4
		})
		AssertNil(err)
		AssertEqual(count, 4)
	})
}

func TestFindByIndex_BTree(t *testing.T) {
	Environment(func(dir string) {

		c := mustCreate(dir, testConfig("users"))
		defer c.Close()

		_, err := c.EnsureIndex(index.Definition{
			Name:    "by_n",
			Type:    "btree",
			Options: jsontext.Value(`{"fields":["n"]}`),
		})
		AssertNil(err)

		for _, n := range []int{5, 1, 4, 2, 3} {
			_, err := c.Insert(nil, []byte(fmt.Sprintf(`{"_key":"k%d","n":%d}`, n, n)), OperationOptions{})
			AssertNil(err)
		}

		keys := []string{}
		err = c.FindByIndex(nil, "by_n", []byte(`{"from":{"n":2},"to":{"n":4}}`), func(r Result) bool {
			keys = append(keys, r.Key)
			return true
		})
		AssertNil(err)
		AssertEqual(keys, []string{"k2", "k3", "k4"})
	})
}
