package apicollectionv1

import (
	"context"

	"github.com/fulldump/box"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/service"
)

type contextKey string

const ContextServicerKey contextKey = "ed0fa170-5593-11ed-9d60-9bdc940af29d"

func SetServicer(ctx context.Context, s service.Servicer) context.Context {
	return context.WithValue(ctx, ContextServicerKey, s)
}

func GetServicer(ctx context.Context) service.Servicer {
	return ctx.Value(ContextServicerKey).(service.Servicer)
}

// urlCollection resolves the collection named in the url.
func urlCollection(ctx context.Context) (*collection.Collection, error) {
	s := GetServicer(ctx)
	collectionName := box.GetUrlParameter(ctx, "collectionName")
	return s.GetCollection(collectionName)
}
