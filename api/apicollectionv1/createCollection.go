package apicollectionv1

import (
	"context"
	"net/http"

	"github.com/fulldump/segmentdb/database"
)

type createCollectionRequest struct {
	Name string `json:"name"`
	database.CollectionOptions
}

func createCollection(ctx context.Context, w http.ResponseWriter, input *createCollectionRequest) (*CollectionResponse, error) {

	s := GetServicer(ctx)

	col, err := s.CreateCollection(input.Name, input.CollectionOptions)
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return newCollectionResponse(col), nil
}
