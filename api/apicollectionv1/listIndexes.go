package apicollectionv1

import (
	"context"
	"encoding/json"

	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/utils"
)

type listIndexesItem struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Entries int         `json:"entries"`
	Options interface{} `json:"options"`
}

func newListIndexesItem(idx index.Index) *listIndexesItem {
	return &listIndexesItem{
		Name:    idx.Name(),
		Type:    idx.Type(),
		Entries: idx.Len(),
		Options: idx.Options(),
	}
}

// MarshalJSON flattens the index options next to name and type.
func (l *listIndexesItem) MarshalJSON() ([]byte, error) {

	result := map[string]interface{}{}
	utils.Remarshal(l.Options, &result)
	result["name"] = l.Name
	result["type"] = l.Type
	result["entries"] = l.Entries

	return json.Marshal(result)
}

func listIndexes(ctx context.Context) ([]*listIndexesItem, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result := []*listIndexesItem{}
	for _, idx := range col.Indexes() {
		result = append(result, newListIndexesItem(idx))
	}

	return result, nil
}
