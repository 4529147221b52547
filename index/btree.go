package index

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

type BTreeOptions struct {
	Fields []string `json:"fields"`
	Sparse bool     `json:"sparse"`
	Unique bool     `json:"unique"`
}

type rowOrdered struct {
	Values []interface{}
	Rev    revision.ID
}

// BTree keeps documents sorted by one or more fields. A "-" prefix sorts a
// field descending.
type BTree struct {
	name    string
	options *BTreeOptions
	fields  []string
	mutex   sync.RWMutex
	tree    *btree.BTreeG[*rowOrdered]
}

func NewBTree(name string, options *BTreeOptions) *BTree {
	fields := make([]string, len(options.Fields))
	reverse := make([]bool, len(options.Fields))
	for i, field := range options.Fields {
		reverse[i] = strings.HasPrefix(field, "-")
		fields[i] = strings.TrimPrefix(field, "-")
	}

	less := func(a, b *rowOrdered) bool {
		for i := range a.Values {
			c := compareValues(a.Values[i], b.Values[i])
			if c == 0 {
				continue
			}
			if reverse[i] {
				return c > 0
			}
			return c < 0
		}
		return a.Rev < b.Rev
	}

	return &BTree{
		name:    name,
		options: options,
		fields:  fields,
		tree:    btree.NewG(32, less),
	}
}

func newBTreeFromDefinition(definition Definition) (Index, error) {
	options := &BTreeOptions{}
	err := decodeOptions(definition, options)
	if err != nil {
		return nil, err
	}
	if len(options.Fields) == 0 {
		return nil, dberr.New(dberr.KindBadParameter, "btree index '%s': fields are mandatory", definition.Name)
	}
	return NewBTree(definition.Name, options), nil
}

func (b *BTree) row(rev revision.ID, doc []byte) (*rowOrdered, error) {
	data, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(b.fields))
	for _, field := range b.fields {
		value, exists := getField(data, field)
		if !exists && b.options.Sparse {
			return nil, nil
		}
		values = append(values, value)
	}
	return &rowOrdered{Values: values, Rev: rev}, nil
}

func (b *BTree) conflict(r *rowOrdered) bool {
	found := false
	b.tree.AscendGreaterOrEqual(&rowOrdered{Values: r.Values}, func(item *rowOrdered) bool {
		if item.Rev != r.Rev && equalValues(item.Values, r.Values) {
			found = true
		}
		return false
	})
	return found
}

func (b *BTree) Insert(rev revision.ID, doc []byte, isRollback bool) error {
	r, err := b.row(rev, doc)
	if err != nil || r == nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.options.Unique && b.conflict(r) {
		pairs := []string{}
		for i, field := range b.fields {
			pairs = append(pairs, fmt.Sprint(field, ":", r.Values[i]))
		}
		return dberr.New(dberr.KindUniqueConstraintViolated, "index '%s': key (%s) already exists", b.name, strings.Join(pairs, ","))
	}

	b.tree.ReplaceOrInsert(r)
	return nil
}

func (b *BTree) Remove(rev revision.ID, doc []byte, isRollback bool) error {
	r, err := b.row(rev, doc)
	if err != nil || r == nil {
		return err
	}

	b.mutex.Lock()
	b.tree.Delete(r)
	b.mutex.Unlock()
	return nil
}

type BTreeTraverse struct {
	Reverse bool                   `json:"reverse"`
	From    map[string]interface{} `json:"from"`
	To      map[string]interface{} `json:"to"`
}

func (b *BTree) Traverse(optionsData []byte, f func(rev revision.ID) bool) error {
	options := &BTreeTraverse{}
	err := decodeJSON(optionsData, options)
	if err != nil {
		return fmt.Errorf("traverse options: %w", err)
	}

	revs := []revision.ID{}
	iterator := func(r *rowOrdered) bool {
		revs = append(revs, r.Rev)
		return true
	}

	hasFrom := len(options.From) > 0
	hasTo := len(options.To) > 0

	pivotFrom := &rowOrdered{}
	if hasFrom {
		for _, field := range b.fields {
			pivotFrom.Values = append(pivotFrom.Values, options.From[field])
		}
	}

	// the upper pivot sorts after every row with the same values
	pivotTo := &rowOrdered{Rev: math.MaxUint64}
	if hasTo {
		for _, field := range b.fields {
			pivotTo.Values = append(pivotTo.Values, options.To[field])
		}
	}

	b.mutex.RLock()
	if !hasFrom && !hasTo {
		if options.Reverse {
			b.tree.Descend(iterator)
		} else {
			b.tree.Ascend(iterator)
		}
	} else if hasFrom && !hasTo {
		if options.Reverse {
			b.tree.DescendGreaterThan(pivotFrom, iterator)
		} else {
			b.tree.AscendGreaterOrEqual(pivotFrom, iterator)
		}
	} else if !hasFrom && hasTo {
		if options.Reverse {
			b.tree.DescendLessOrEqual(pivotTo, iterator)
		} else {
			b.tree.AscendLessThan(pivotTo, iterator)
		}
	} else {
		if options.Reverse {
			b.tree.DescendRange(pivotTo, pivotFrom, iterator)
		} else {
			b.tree.AscendRange(pivotFrom, pivotTo, iterator)
		}
	}
	b.mutex.RUnlock()

	for _, rev := range revs {
		if !f(rev) {
			return nil
		}
	}
	return nil
}

func (b *BTree) Name() string {
	return b.name
}

func (b *BTree) Type() string {
	return "btree"
}

func (b *BTree) Options() interface{} {
	return b.options
}

func (b *BTree) Unique() bool {
	return b.options.Unique
}

func (b *BTree) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.tree.Len()
}

func (b *BTree) Memory() int64 {
	return int64(b.Len()) * int64(24+16*len(b.fields))
}

func typeOrder(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, json.Number:
		return 2
	case string:
		return 3
	case []interface{}:
		return 4
	default:
		return 5
	}
}

// compareValues orders JSON values: null < bool < number < string < array < object.
func compareValues(a, b interface{}) int {
	ta, tb := typeOrder(a), typeOrder(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}

	switch va := a.(type) {
	case nil:
		return 0
	case bool:
		vb := b.(bool)
		if va == vb {
			return 0
		}
		if !va {
			return -1
		}
		return 1
	case float64, json.Number:
		na, _ := asNumber(va)
		nb, _ := asNumber(b)
		return compareNumbers(na, nb)
	case string:
		return strings.Compare(va, b.(string))
	case []interface{}:
		vb := b.([]interface{})
		for i := 0; i < len(va) && i < len(vb); i++ {
			if c := compareValues(va[i], vb[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(va), len(vb))
	case map[string]interface{}:
		vb, _ := b.(map[string]interface{})
		keys := map[string]bool{}
		for k := range va {
			keys[k] = true
		}
		for k := range vb {
			keys[k] = true
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)
		for _, k := range sorted {
			if c := compareValues(va[k], vb[k]); c != 0 {
				return c
			}
		}
		return 0
	}
	return 0
}

func compareInts(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func equalValues(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if compareValues(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}
