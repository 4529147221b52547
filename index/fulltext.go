package index

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

type FulltextOptions struct {
	Field     string `json:"field"`
	MinLength int    `json:"min_length"`
}

// Fulltext is an inverted index from word to revisions.
type Fulltext struct {
	name    string
	options *FulltextOptions
	mutex   sync.RWMutex
	index   map[string]map[revision.ID]struct{}
	bytes   int64
}

func NewFulltext(name string, options *FulltextOptions) *Fulltext {
	return &Fulltext{
		name:    name,
		options: options,
		index:   map[string]map[revision.ID]struct{}{},
	}
}

func newFulltextFromDefinition(definition Definition) (Index, error) {
	options := &FulltextOptions{}
	err := decodeOptions(definition, options)
	if err != nil {
		return nil, err
	}
	if options.Field == "" {
		return nil, dberr.New(dberr.KindBadParameter, "fulltext index '%s': field is mandatory", definition.Name)
	}
	return NewFulltext(definition.Name, options), nil
}

func (i *Fulltext) tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := map[string]bool{}
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < i.options.MinLength || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

func (i *Fulltext) tokens(doc []byte) ([]string, error) {
	item, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}
	value, exists := getField(item, i.options.Field)
	if !exists {
		return nil, nil
	}
	text, ok := value.(string)
	if !ok {
		return nil, nil
	}
	return i.tokenize(text), nil
}

func (i *Fulltext) Insert(rev revision.ID, doc []byte, isRollback bool) error {
	tokens, err := i.tokens(doc)
	if err != nil {
		return err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	for _, token := range tokens {
		revs, ok := i.index[token]
		if !ok {
			revs = map[revision.ID]struct{}{}
			i.index[token] = revs
			i.bytes += int64(len(token))
		}
		revs[rev] = struct{}{}
		i.bytes += 8
	}
	return nil
}

func (i *Fulltext) Remove(rev revision.ID, doc []byte, isRollback bool) error {
	tokens, err := i.tokens(doc)
	if err != nil {
		return err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	for _, token := range tokens {
		revs, ok := i.index[token]
		if !ok {
			continue
		}
		if _, exists := revs[rev]; exists {
			delete(revs, rev)
			i.bytes -= 8
		}
		if len(revs) == 0 {
			delete(i.index, token)
			i.bytes -= int64(len(token))
		}
	}
	return nil
}

type FulltextTraverse struct {
	Match string `json:"match"`
}

// Traverse yields the revisions containing every word of match.
func (i *Fulltext) Traverse(optionsData []byte, f func(rev revision.ID) bool) error {
	options := &FulltextTraverse{}
	err := json.Unmarshal(optionsData, options)
	if err != nil {
		return fmt.Errorf("traverse options: %w", err)
	}

	tokens := i.tokenize(options.Match)
	if len(tokens) == 0 {
		return nil
	}

	i.mutex.RLock()
	matches := []revision.ID{}
	for rev := range i.index[tokens[0]] {
		matchAll := true
		for _, token := range tokens[1:] {
			if _, exists := i.index[token][rev]; !exists {
				matchAll = false
				break
			}
		}
		if matchAll {
			matches = append(matches, rev)
		}
	}
	i.mutex.RUnlock()

	for _, rev := range matches {
		if !f(rev) {
			return nil
		}
	}
	return nil
}

func (i *Fulltext) Name() string {
	return i.name
}

func (i *Fulltext) Type() string {
	return "fulltext"
}

func (i *Fulltext) Options() interface{} {
	return i.options
}

func (i *Fulltext) Unique() bool {
	return false
}

func (i *Fulltext) Len() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return len(i.index)
}

func (i *Fulltext) Memory() int64 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.bytes
}
