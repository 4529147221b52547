package apicollectionv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fulldump/segmentdb/collection"
)

// insert stores every JSON document of the body and answers one result line
// per document.
func insert(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	col, err := urlCollection(ctx)
	if err != nil {
		return err
	}

	options := collection.OperationOptions{
		WaitForSync: r.URL.Query().Get("waitForSync") == "true",
	}

	jsonReader := json.NewDecoder(r.Body)
	jsonWriter := json.NewEncoder(w)

	for i := 0; true; i++ {
		doc := json.RawMessage{}
		err := jsonReader.Decode(&doc)
		if err == io.EOF {
			if i == 0 {
				w.WriteHeader(http.StatusNoContent)
			}
			return nil
		}
		if err != nil {
			return err
		}

		result, err := col.Insert(nil, doc, options)
		if err != nil {
			return err
		}

		if i == 0 {
			w.WriteHeader(http.StatusCreated)
		}
		jsonWriter.Encode(result)
	}

	return nil
}
