package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

type HashOptions struct {
	Field  string `json:"field"`
	Sparse bool   `json:"sparse"`
	Unique bool   `json:"unique"`
}

// Hash indexes one field. Array values index every element. A missing field
// is indexed as null unless the index is sparse.
type Hash struct {
	name    string
	options *HashOptions
	mutex   sync.RWMutex
	entries map[string]map[revision.ID]struct{}
	count   int
	bytes   int64
}

func NewHash(name string, options *HashOptions) *Hash {
	return &Hash{
		name:    name,
		options: options,
		entries: map[string]map[revision.ID]struct{}{},
	}
}

func newHashFromDefinition(definition Definition) (Index, error) {
	options := &HashOptions{}
	err := decodeOptions(definition, options)
	if err != nil {
		return nil, err
	}
	if options.Field == "" {
		return nil, dberr.New(dberr.KindBadParameter, "hash index '%s': field is mandatory", definition.Name)
	}
	return NewHash(definition.Name, options), nil
}

func hashKey(value interface{}) string {
	sb := &strings.Builder{}
	writeKey(sb, value)
	return sb.String()
}

func (h *Hash) values(doc []byte) ([]string, bool, error) {
	item, err := decodeDoc(doc)
	if err != nil {
		return nil, false, err
	}

	value, exists := getField(item, h.options.Field)
	if !exists || value == nil {
		if h.options.Sparse {
			return nil, false, nil
		}
		return []string{hashKey(nil)}, true, nil
	}

	if list, ok := value.([]interface{}); ok {
		seen := map[string]bool{}
		keys := []string{}
		for _, v := range list {
			k := hashKey(v)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		return keys, true, nil
	}

	return []string{hashKey(value)}, true, nil
}

func (h *Hash) Insert(rev revision.ID, doc []byte, isRollback bool) error {
	keys, ok, err := h.values(doc)
	if err != nil || !ok {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.options.Unique {
		for _, k := range keys {
			for other := range h.entries[k] {
				if other != rev {
					return dberr.New(dberr.KindUniqueConstraintViolated, "index '%s': field '%s' with value %s", h.name, h.options.Field, k)
				}
			}
		}
	}

	for _, k := range keys {
		revs, exists := h.entries[k]
		if !exists {
			revs = map[revision.ID]struct{}{}
			h.entries[k] = revs
			h.bytes += int64(len(k))
		}
		if _, exists := revs[rev]; !exists {
			revs[rev] = struct{}{}
			h.count++
			h.bytes += 16
		}
	}
	return nil
}

func (h *Hash) Remove(rev revision.ID, doc []byte, isRollback bool) error {
	keys, ok, err := h.values(doc)
	if err != nil || !ok {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, k := range keys {
		revs, exists := h.entries[k]
		if !exists {
			continue
		}
		if _, exists := revs[rev]; exists {
			delete(revs, rev)
			h.count--
			h.bytes -= 16
		}
		if len(revs) == 0 {
			delete(h.entries, k)
			h.bytes -= int64(len(k))
		}
	}
	return nil
}

type HashTraverse struct {
	Value interface{} `json:"value"`
}

func (h *Hash) Traverse(optionsData []byte, f func(rev revision.ID) bool) error {
	options := &HashTraverse{}
	err := decodeJSON(optionsData, options)
	if err != nil {
		return fmt.Errorf("traverse options: %w", err)
	}

	h.mutex.RLock()
	revs := make([]revision.ID, 0, len(h.entries[hashKey(options.Value)]))
	for rev := range h.entries[hashKey(options.Value)] {
		revs = append(revs, rev)
	}
	h.mutex.RUnlock()

	for _, rev := range revs {
		if !f(rev) {
			return nil
		}
	}
	return nil
}

func (h *Hash) Name() string {
	return h.name
}

func (h *Hash) Type() string {
	return "hash"
}

func (h *Hash) Options() interface{} {
	return h.options
}

func (h *Hash) Unique() bool {
	return h.options.Unique
}

func (h *Hash) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

func (h *Hash) Memory() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.bytes
}
