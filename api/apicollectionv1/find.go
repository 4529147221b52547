package apicollectionv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/utils"
)

func find(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	requestBody, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	input := struct {
		Mode string
	}{
		Mode: "fullscan",
	}
	err = json.Unmarshal(requestBody, &input)
	if err != nil {
		return err
	}

	f, exist := findModes[input.Mode]
	if !exist {
		return dberr.New(dberr.KindBadParameter, "bad mode '%s', must be [%s]", input.Mode, strings.Join(utils.GetKeys(findModes), "|"))
	}

	col, err := urlCollection(ctx)
	if err != nil {
		return err
	}

	return f(requestBody, col, w)
}

var findModes = map[string]func(input []byte, col *collection.Collection, w http.ResponseWriter) error{
	"fullscan": func(input []byte, col *collection.Collection, w http.ResponseWriter) error {
		return traverseFullscan(input, col, writeDocument(w))
	},
	"index": func(input []byte, col *collection.Collection, w http.ResponseWriter) error {
		return traverseIndex(input, col, writeDocument(w))
	},
}

func writeDocument(w http.ResponseWriter) func(r collection.Result) {
	return func(r collection.Result) {
		w.Write(r.Doc)
		w.Write([]byte("\n"))
	}
}
