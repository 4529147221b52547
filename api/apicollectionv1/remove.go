package apicollectionv1

import (
	"context"
	"net/http"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/revision"
)

type removeRequest struct {
	Key         string      `json:"key"`
	Rev         revision.ID `json:"rev"`
	WaitForSync bool        `json:"wait_for_sync"`
}

func remove(ctx context.Context, w http.ResponseWriter, input *removeRequest) (*collection.Result, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result, err := col.Remove(nil, input.Key, collection.OperationOptions{
		ExpectedRev: input.Rev,
		WaitForSync: input.WaitForSync,
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

type truncateResponse struct {
	Removed int `json:"removed"`
}

func truncate(ctx context.Context, w http.ResponseWriter) (*truncateResponse, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	removed, err := col.Truncate(nil, collection.OperationOptions{})
	if err != nil {
		return nil, err
	}

	return &truncateResponse{Removed: removed}, nil
}
