package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/fulldump/segmentdb/api/apicollectionv1"
	"github.com/fulldump/segmentdb/service"
)

func Build(s service.Servicer, version string) *box.B {

	b := box.NewBox()

	v1 := b.Resource("/v1")
	apicollectionv1.BuildV1Collection(v1).
		WithInterceptors(
			injectServicer(s),
		)

	v1.Resource("/status").
		WithActions(
			box.Get(func() interface{} {
				return map[string]interface{}{
					"status":  s.Status(),
					"version": version,
				}
			}).WithName("status"),
		)

	return b
}

func injectServicer(s service.Servicer) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			next(apicollectionv1.SetServicer(ctx, s))
		}
	}
}
