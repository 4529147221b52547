package apicollectionv1

import (
	"context"
)

func getCollection(ctx context.Context) (*CollectionResponse, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	return newCollectionResponse(col), nil
}
