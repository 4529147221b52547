package apicollectionv1

import (
	"context"

	"github.com/fulldump/segmentdb/collection"
)

func compact(ctx context.Context) (*collection.CompactionResult, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result, err := col.Compact()
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// rotate seals the current journal so the compactor can pick it up.
func rotate(ctx context.Context) (*CollectionResponse, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	err = col.RotateJournal()
	if err != nil {
		return nil, err
	}
	return newCollectionResponse(col), nil
}
