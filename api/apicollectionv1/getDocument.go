package apicollectionv1

import (
	"context"
	"encoding/json"
	"net/http"
)

type getDocumentRequest struct {
	Key string `json:"key"`
}

func getDocument(ctx context.Context, w http.ResponseWriter, input *getDocumentRequest) (json.RawMessage, error) {

	col, err := urlCollection(ctx)
	if err != nil {
		return nil, err
	}

	result, err := col.Read(nil, input.Key)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(result.Doc), nil
}
