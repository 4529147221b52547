package apicollectionv1

import (
	"github.com/fulldump/box"
)

func BuildV1Collection(v1 *box.R) *box.R {

	collections := v1.Resource("/collections").
		WithActions(
			box.Get(listCollections),
			box.Post(createCollection),
		)

	v1.Resource("/collections/{collectionName}").
		WithActions(
			box.Get(getCollection),
			box.ActionPost(insert),
			box.ActionPost(getDocument),
			box.ActionPost(update),
			box.ActionPost(replace),
			box.ActionPost(remove),
			box.ActionPost(truncate),
			box.ActionPost(find),
			box.ActionPost(dropCollection),
			box.ActionPost(listIndexes),
			box.ActionPost(createIndex),
			box.ActionPost(dropIndex),
			box.ActionPost(figures),
			box.ActionPost(compact),
			box.ActionPost(rotate),
		)

	return collections
}
