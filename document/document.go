// Package document reads and writes the system attributes of JSON documents
// and builds the payloads of update and replace operations.
package document

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/revision"
)

const (
	KeyField = "_key"
	RevField = "_rev"

	MaxKeyLength = 254
)

// Validate checks doc is a JSON object.
func Validate(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return dberr.New(dberr.KindBadParameter, "document is not valid json")
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return dberr.New(dberr.KindBadParameter, "document is not an object")
	}
	return nil
}

// Key returns the _key attribute of doc, or "" when it has none.
func Key(doc []byte) (string, error) {
	v := gjson.GetBytes(doc, KeyField)
	if !v.Exists() {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", dberr.New(dberr.KindDocumentKeyBad, "_key must be a string, got %s", v.Type)
	}
	return v.String(), nil
}

// Rev returns the _rev attribute of doc, zero when missing.
func Rev(doc []byte) (revision.ID, error) {
	v := gjson.GetBytes(doc, RevField)
	if !v.Exists() {
		return 0, nil
	}
	if v.Type != gjson.String {
		return 0, dberr.New(dberr.KindBadParameter, "_rev must be a string, got %s", v.Type)
	}
	rev, err := revision.ParseID(v.String())
	if err != nil {
		return 0, dberr.Wrap(dberr.KindBadParameter, err, "_rev '%s'", v.String())
	}
	return rev, nil
}

// WithSystem stamps key and rev into a copy of doc.
func WithSystem(doc []byte, key string, rev revision.ID) ([]byte, error) {
	result, err := sjson.SetBytes(doc, KeyField, key)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "set _key")
	}
	result, err = sjson.SetBytes(result, RevField, rev.String())
	if err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "set _rev")
	}
	return result, nil
}

// Tombstone is the payload of a remove marker.
func Tombstone(key string, rev revision.ID) []byte {
	return []byte(`{"` + KeyField + `":` + strconv.Quote(key) + `,"` + RevField + `":"` + rev.String() + `"}`)
}

func allowedKeyChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '_', '-', ':', '.', '@', '(', ')', '+', ',', '=', ';', '$', '!', '*', '\'', '%':
		return true
	}
	return false
}

// ValidateKey fails with DocumentKeyBad for empty, oversized or keys with
// characters outside the allowed set.
func ValidateKey(key string) error {
	if key == "" {
		return dberr.New(dberr.KindDocumentKeyBad, "empty key")
	}
	if len(key) > MaxKeyLength {
		return dberr.New(dberr.KindDocumentKeyBad, "key longer than %d bytes", MaxKeyLength)
	}
	for i := 0; i < len(key); i++ {
		if !allowedKeyChar(key[i]) {
			return dberr.New(dberr.KindDocumentKeyBad, "key '%s' has invalid character %q", key, key[i])
		}
	}
	return nil
}
