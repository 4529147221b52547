package apicollectionv1

import (
	"encoding/json"

	"github.com/fulldump/segmentdb/collection"
)

type traverseParams struct {
	Filter map[string]interface{} `json:"filter"`
	Skip   int64                  `json:"skip"`
	Limit  int64                  `json:"limit"`
}

// paginate wraps f with skip and limit. A negative limit means no limit.
func paginate(skip, limit int64, f func(r collection.Result)) func(r collection.Result) bool {
	return func(r collection.Result) bool {
		if limit == 0 {
			return false
		}
		if skip > 0 {
			skip--
			return true
		}
		limit--
		f(r)
		return limit != 0
	}
}

func traverseFullscan(input []byte, col *collection.Collection, f func(r collection.Result)) error {

	params := &traverseParams{
		Filter: map[string]interface{}{},
		Skip:   0,
		Limit:  1,
	}
	err := json.Unmarshal(input, &params)
	if err != nil {
		return err
	}

	return col.Find(nil, params.Filter, paginate(params.Skip, params.Limit, f))
}

func traverseIndex(input []byte, col *collection.Collection, f func(r collection.Result)) error {

	params := &struct {
		traverseParams
		Index   string          `json:"index"`
		Options json.RawMessage `json:"options"`
	}{
		traverseParams: traverseParams{Limit: 1},
	}
	err := json.Unmarshal(input, &params)
	if err != nil {
		return err
	}

	options := []byte(params.Options)
	if len(options) == 0 {
		options = []byte("{}")
	}

	return col.FindByIndex(nil, params.Index, options, paginate(params.Skip, params.Limit, f))
}
