package document

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/tidwall/gjson"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

func TestKeyAndRev(t *testing.T) {

	doc := []byte(`{"_key":"k1","_rev":"42","a":1}`)

	key, err := Key(doc)
	AssertNil(err)
	AssertEqual(key, "k1")

	rev, err := Rev(doc)
	AssertNil(err)
	AssertEqual(rev, revision.ID(42))

	key, err = Key([]byte(`{"a":1}`))
	AssertNil(err)
	AssertEqual(key, "")

	_, err = Key([]byte(`{"_key":12}`))
	AssertTrue(errors.Is(err, dberr.ErrDocumentKeyBad))

	_, err = Rev([]byte(`{"_rev":"abc"}`))
	AssertNotNil(err)
}

func TestWithSystem(t *testing.T) {

	doc, err := WithSystem([]byte(`{"a":1,"_key":"old"}`), "k1", 7)
	AssertNil(err)
	AssertEqualJson(json.RawMessage(doc), map[string]interface{}{"a": 1, "_key": "k1", "_rev": "7"})
}

func TestTombstone(t *testing.T) {

	doc := Tombstone(`we"ird`, 9)

	key, err := Key(doc)
	AssertNil(err)
	AssertEqual(key, `we"ird`)

	rev, err := Rev(doc)
	AssertNil(err)
	AssertEqual(rev, revision.ID(9))
}

func TestValidate(t *testing.T) {

	AssertNil(Validate([]byte(`{"a":1}`)))
	AssertNotNil(Validate([]byte(`[1,2]`)))
	AssertNotNil(Validate([]byte(`{"a":`)))
}

func TestValidateKey(t *testing.T) {

	AssertNil(ValidateKey("abc-123_:.@()+,=;$!*'%"))

	for _, key := range []string{"", "with space", "slash/", "ñ", strings.Repeat("x", MaxKeyLength+1)} {
		err := ValidateKey(key)
		AssertTrue(errors.Is(err, dberr.ErrDocumentKeyBad))
	}
}

func TestMerge_RemovesNulls(t *testing.T) {

	old := []byte(`{"_key":"k1","_rev":"1","a":1,"b":2,"nested":{"x":1,"y":2}}`)
	patch := []byte(`{"a":10,"b":null,"nested":{"y":null,"z":3}}`)

	merged, err := Merge(old, patch, MergeOptions{MergeObjects: true}, "k1", 2)
	AssertNil(err)
	AssertEqualJson(json.RawMessage(merged), map[string]interface{}{
		"_key":   "k1",
		"_rev":   "2",
		"a":      10,
		"nested": map[string]interface{}{"x": 1, "z": 3},
	})
}

func TestMerge_KeepNull(t *testing.T) {

	old := []byte(`{"_key":"k1","_rev":"1","a":1,"b":2}`)
	patch := []byte(`{"b":null}`)

	merged, err := Merge(old, patch, MergeOptions{KeepNull: true, MergeObjects: true}, "k1", 2)
	AssertNil(err)
	AssertEqualJson(json.RawMessage(merged), map[string]interface{}{
		"_key": "k1",
		"_rev": "2",
		"a":    1,
		"b":    nil,
	})
}

func TestMerge_KeepsLargeIntegers(t *testing.T) {

	old := []byte(`{"_key":"k1","_rev":"1","id":9007199254740993,"a":1,"html":"<b>"}`)
	patch := []byte(`{"a":2,"n":12345678901234567890}`)

	for _, options := range []MergeOptions{
		{KeepNull: true, MergeObjects: true},
		{},
	} {
		merged, err := Merge(old, patch, options, "k1", 2)
		AssertNil(err)
		AssertEqual(gjson.GetBytes(merged, "id").Raw, "9007199254740993")
		AssertEqual(gjson.GetBytes(merged, "n").Raw, "12345678901234567890")
		AssertEqual(gjson.GetBytes(merged, "a").Raw, "2")
		AssertEqual(gjson.GetBytes(merged, "html").Raw, `"<b>"`)
	}
}

func TestMerge_ReplaceObjects(t *testing.T) {

	old := []byte(`{"_key":"k1","_rev":"1","nested":{"x":1,"y":2}}`)
	patch := []byte(`{"nested":{"z":3}}`)

	merged, err := Merge(old, patch, MergeOptions{}, "k1", 2)
	AssertNil(err)
	AssertEqualJson(json.RawMessage(merged), map[string]interface{}{
		"_key":   "k1",
		"_rev":   "2",
		"nested": map[string]interface{}{"z": 3},
	})
}

func TestMerge_SystemAttributesWin(t *testing.T) {

	merged, err := Merge([]byte(`{"_key":"k1","_rev":"1"}`), []byte(`{"_key":"other","_rev":"99"}`), MergeOptions{MergeObjects: true}, "k1", 2)
	AssertNil(err)
	AssertEqual(gjson.GetBytes(merged, "_key").String(), "k1")
	AssertEqual(gjson.GetBytes(merged, "_rev").String(), "2")
}

func TestReplace(t *testing.T) {

	doc, err := Replace([]byte(`{"b":2}`), "k1", 3)
	AssertNil(err)
	AssertEqualJson(json.RawMessage(doc), map[string]interface{}{"_key": "k1", "_rev": "3", "b": 2})

	_, err = Replace([]byte(`"string"`), "k1", 3)
	AssertNotNil(err)
}

type fixedClock struct{ n uint64 }

func (c *fixedClock) Next() uint64 {
	c.n++
	return c.n
}

func TestKeyGenerator(t *testing.T) {

	g, err := NewKeyGenerator("traditional", &fixedClock{n: 10})
	AssertNil(err)
	AssertEqual(g.Type(), "traditional")
	AssertEqual(g.Generate(), "11")
	AssertEqual(g.Generate(), "12")

	g, err = NewKeyGenerator("uuid", nil)
	AssertNil(err)
	key := g.Generate()
	AssertEqual(len(key), 36)
	AssertNil(ValidateKey(key))

	_, err = NewKeyGenerator("autoincrement", nil)
	AssertNotNil(err)
}
