package apicollectionv1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/revision"
)

type updateRequest struct {
	Key          string          `json:"key"`
	Rev          revision.ID     `json:"rev"`
	Document     json.RawMessage `json:"document"`
	KeepNull     bool            `json:"keep_null"`
	MergeObjects *bool           `json:"merge_objects"`
	WaitForSync  bool            `json:"wait_for_sync"`
}

func (u *updateRequest) options() collection.OperationOptions {
	mergeObjects := true
	if u.MergeObjects != nil {
		mergeObjects = *u.MergeObjects
	}
	return collection.OperationOptions{
		Key:          u.Key,
		ExpectedRev:  u.Rev,
		WaitForSync:  u.WaitForSync,
		KeepNull:     u.KeepNull,
		MergeObjects: mergeObjects,
	}
}

type updateResponse struct {
	collection.Result
	Document json.RawMessage `json:"document"`
}

func update(ctx context.Context, w http.ResponseWriter, input *updateRequest) (*updateResponse, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result, err := col.Update(nil, input.Document, input.options())
	if err != nil {
		return nil, err
	}

	return &updateResponse{Result: result, Document: result.Doc}, nil
}

func replace(ctx context.Context, w http.ResponseWriter, input *updateRequest) (*updateResponse, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result, err := col.Replace(nil, input.Document, input.options())
	if err != nil {
		return nil, err
	}

	return &updateResponse{Result: result, Document: result.Doc}, nil
}
