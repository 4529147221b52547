package document

import (
	"bytes"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

type MergeOptions struct {
	// KeepNull stores null attributes of the patch instead of removing them.
	KeepNull bool
	// MergeObjects merges nested objects instead of replacing them.
	MergeObjects bool
}

// Merge applies patch to old the way an update does and stamps the system
// attributes.
func Merge(old, patch []byte, options MergeOptions, key string, rev revision.ID) ([]byte, error) {

	err := Validate(patch)
	if err != nil {
		return nil, err
	}

	var merged []byte
	if !options.KeepNull && options.MergeObjects {
		merged, err = jsonpatch.MergePatch(old, patch)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindBadParameter, err, "merge patch")
		}
	} else {
		merged, err = mergeValues(old, patch, options)
		if err != nil {
			return nil, err
		}
	}

	return WithSystem(merged, key, rev)
}

// Replace builds the new revision of a replace: doc with the system
// attributes of the document it replaces.
func Replace(doc []byte, key string, rev revision.ID) ([]byte, error) {
	err := Validate(doc)
	if err != nil {
		return nil, err
	}
	return WithSystem(doc, key, rev)
}

func mergeValues(old, patch []byte, options MergeOptions) ([]byte, error) {
	original := map[string]interface{}{}
	err := decodeNumbers(old, &original)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "decode document")
	}
	changes := map[string]interface{}{}
	err = decodeNumbers(patch, &changes)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "decode patch")
	}

	merged := applyMergeValue(original, changes, options)

	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	err = encoder.Encode(merged)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindInternal, err, "encode document")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeNumbers keeps numbers as json.Number, so values the patch does not
// touch are written back with the same digits.
func decodeNumbers(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func applyMergeValue(original, patch interface{}, options MergeOptions) interface{} {
	p, ok := patch.(map[string]interface{})
	if !ok {
		return cloneValue(patch)
	}

	originalMap, _ := original.(map[string]interface{})
	result := make(map[string]interface{}, len(originalMap)+len(p))
	for k, v := range originalMap {
		result[k] = cloneValue(v)
	}

	for k, item := range p {
		if item == nil && !options.KeepNull {
			delete(result, k)
			continue
		}

		current, exists := originalMap[k]
		_, currentIsObject := current.(map[string]interface{})
		_, itemIsObject := item.(map[string]interface{})
		if exists && options.MergeObjects && currentIsObject && itemIsObject {
			result[k] = applyMergeValue(current, item, options)
			continue
		}

		result[k] = cloneValue(item)
	}

	return result
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		cloned := make(map[string]interface{}, len(v))
		for k, item := range v {
			cloned[k] = cloneValue(item)
		}
		return cloned
	case []interface{}:
		cloned := make([]interface{}, len(v))
		for i, item := range v {
			cloned[i] = cloneValue(item)
		}
		return cloned
	default:
		return v
	}
}
