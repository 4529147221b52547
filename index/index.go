// Package index holds the primary index and the secondary index types that
// are kept in lock-step with document operations.
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/segmentdb/revision"
)

// Index is a secondary index. Entries always derive from the current revision
// of a document. isRollback is set when the call undoes an earlier change.
type Index interface {
	Name() string
	Type() string
	Options() interface{}
	Unique() bool
	Insert(rev revision.ID, doc []byte, isRollback bool) error
	Remove(rev revision.ID, doc []byte, isRollback bool) error
	Traverse(options []byte, f func(rev revision.ID) bool) error
	Len() int
	Memory() int64
}

// Definition describes an index as persisted in the collection parameters.
type Definition struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Options jsontext.Value `json:"options,omitempty"`
}

// decodeJSON keeps numbers as json.Number so large integers are not rounded.
func decodeJSON(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func decodeDoc(doc []byte) (map[string]interface{}, error) {
	item := map[string]interface{}{}
	err := decodeJSON(doc, &item)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return item, nil
}

func asNumber(v interface{}) (json.Number, bool) {
	switch n := v.(type) {
	case json.Number:
		return n, true
	case float64:
		return json.Number(strconv.FormatFloat(n, 'g', -1, 64)), true
	}
	return "", false
}

// numberRat parses n exactly. Exponent forms go through float64 so a huge
// exponent cannot blow up the rational.
func numberRat(n json.Number) (*big.Rat, bool) {
	if strings.ContainsAny(string(n), "eE") {
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		r := new(big.Rat)
		if r.SetFloat64(f) == nil {
			return nil, false
		}
		return r, true
	}
	return new(big.Rat).SetString(string(n))
}

// canonicalNumber spells equal numbers the same way. Integers keep all their
// digits.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	r, ok := numberRat(n)
	if ok && r.IsInt() {
		return r.Num().String()
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return string(n)
}

func compareNumbers(a, b json.Number) int {
	ia, errA := a.Int64()
	ib, errB := b.Int64()
	if errA == nil && errB == nil {
		if ia < ib {
			return -1
		}
		if ia > ib {
			return 1
		}
		return 0
	}

	ra, okA := numberRat(a)
	rb, okB := numberRat(b)
	if okA && okB {
		return ra.Cmp(rb)
	}
	return strings.Compare(string(a), string(b))
}

// writeKey renders value as JSON with sorted object keys and canonical
// numbers, so equal values produce equal keys.
func writeKey(sb *strings.Builder, value interface{}) {
	if n, ok := asNumber(value); ok {
		sb.WriteString(canonicalNumber(n))
		return
	}

	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case string:
		b, _ := json.Marshal(v)
		sb.Write(b)
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeKey(sb, item)
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeKey(sb, k)
			sb.WriteByte(':')
			writeKey(sb, v[k])
		}
		sb.WriteByte('}')
	default:
		b, _ := json.Marshal(v)
		sb.Write(b)
	}
}

// getField resolves dotted paths like "address.city".
func getField(item map[string]interface{}, field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	var current interface{} = item
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func decodeOptions(definition Definition, options interface{}) error {
	if len(definition.Options) == 0 {
		return nil
	}
	err := json.Unmarshal(definition.Options, options)
	if err != nil {
		return fmt.Errorf("index '%s' options: %w", definition.Name, err)
	}
	return nil
}
