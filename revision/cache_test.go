package revision

import (
	"encoding/json"
	"sync"
	"testing"

	. "github.com/fulldump/biff"
)

func TestCache(t *testing.T) {

	c := NewCache()

	pos := Position{Fid: 1, Offset: 64, Size: 48}
	c.Insert(10, []byte(`{"a":1}`), pos)

	e, ok := c.Lookup(10)
	AssertTrue(ok)
	AssertEqual(e.Position, pos)
	AssertEqual(string(e.Doc), `{"a":1}`)
	AssertEqual(c.Len(), 1)
	AssertTrue(c.Memory() > 0)

	_, ok = c.Lookup(11)
	AssertFalse(ok)

	removed, ok := c.Remove(10)
	AssertTrue(ok)
	AssertEqual(removed.Fid, uint64(1))
	AssertEqual(c.Len(), 0)
	AssertEqual(c.Memory(), int64(0))

	_, ok = c.Remove(10)
	AssertFalse(ok)
}

func TestCache_Promote(t *testing.T) {

	c := NewCache()
	c.Insert(7, []byte(`{}`), Position{Fid: 3, Offset: 8, Pending: true})

	AssertTrue(c.Update(7, Position{Fid: 3, Offset: 8}))
	e, _ := c.Lookup(7)
	AssertFalse(e.Pending)

	AssertFalse(c.Update(8, Position{}))
}

func TestCache_UpdateConditional(t *testing.T) {

	c := NewCache()
	old := Position{Fid: 3, Offset: 8}
	c.Insert(7, []byte(`{}`), old)

	AssertFalse(c.UpdateConditional(7, Position{Fid: 9}, Position{Fid: 4}))
	AssertTrue(c.UpdateConditional(7, old, Position{Fid: 4, Offset: 16}))

	e, _ := c.Lookup(7)
	AssertEqual(e.Fid, uint64(4))
	AssertEqual(c.CountInDatafile(4), 1)
	AssertEqual(c.CountInDatafile(3), 0)
}

func TestCache_Concurrency(t *testing.T) {

	c := NewCache()
	wg := &sync.WaitGroup{}

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := ID(w*1000 + i)
				c.Insert(id, []byte(`{}`), Position{Fid: uint64(w)})
				c.Lookup(id)
			}
		}(w)
	}
	wg.Wait()

	AssertEqual(c.Len(), 8000)

	c.Clear()
	AssertEqual(c.Len(), 0)
}

func TestClock(t *testing.T) {

	c := NewClock(100)
	AssertEqual(c.Next(), uint64(101))

	c.Update(50)
	AssertEqual(c.Current(), uint64(101))

	c.Update(500)
	AssertEqual(c.Next(), uint64(501))
}

func TestID(t *testing.T) {

	id, err := ParseID("1234")
	AssertNil(err)
	AssertEqual(id, ID(1234))
	AssertEqual(id.String(), "1234")

	_, err = ParseID("abc")
	AssertNotNil(err)
}

func TestID_JSON(t *testing.T) {

	b, err := json.Marshal(map[string]ID{"_rev": 1234})
	AssertNil(err)
	AssertEqual(string(b), `{"_rev":"1234"}`)

	var decoded struct {
		Rev ID `json:"_rev"`
	}
	AssertNil(json.Unmarshal(b, &decoded))
	AssertEqual(decoded.Rev, ID(1234))

	AssertNotNil(json.Unmarshal([]byte(`{"_rev":"x1"}`), &decoded))
}
