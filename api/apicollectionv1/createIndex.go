package apicollectionv1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulldump/box"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/segmentdb/index"
)

type createIndexRequest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Options json.RawMessage `json:"options"`
}

func createIndex(ctx context.Context, input *createIndexRequest) (*listIndexesItem, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	created, err := col.EnsureIndex(index.Definition{
		Name:    input.Name,
		Type:    input.Type,
		Options: jsontext.Value(input.Options),
	})
	if err != nil {
		return nil, err
	}

	if created {
		box.GetResponse(ctx).WriteHeader(http.StatusCreated)
	}

	idx, _ := col.Index(input.Name)
	return newListIndexesItem(idx), nil
}
