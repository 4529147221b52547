package apicollectionv1

import (
	"context"

	"github.com/fulldump/segmentdb/collection"
)

func figures(ctx context.Context) (*collection.Figures, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	f := col.Figures()
	return &f, nil
}
