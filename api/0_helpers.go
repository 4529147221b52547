package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/segmentdb/database"
	"github.com/fulldump/segmentdb/dberr"
)

var ErrUnavailable = errors.New("temporary unavailable")

type PrettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Code        int    `json:"code,omitempty"`
}

func (p PrettyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"error": struct {
			Message     string `json:"message"`
			Description string `json:"description"`
			Code        int    `json:"code,omitempty"`
		}{
			p.Message,
			p.Description,
			p.Code,
		},
	})
}

func InterceptorUnavailable(db *database.Database) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			status := db.GetStatus()
			if status == database.StatusOpening || status == database.StatusClosing {
				box.SetError(ctx, fmt.Errorf("%w: %s", ErrUnavailable, status))
				return
			}
			next(ctx)
		}
	}
}

var kindStatus = map[dberr.Kind]int{
	dberr.KindKeyNotFound:              http.StatusNotFound,
	dberr.KindCollectionNotFound:       http.StatusNotFound,
	dberr.KindIndexNotFound:            http.StatusNotFound,
	dberr.KindRevisionConflict:         http.StatusConflict,
	dberr.KindUniqueConstraintViolated: http.StatusConflict,
	dberr.KindCollectionExists:         http.StatusConflict,
	dberr.KindIndexExists:              http.StatusConflict,
	dberr.KindBadParameter:             http.StatusBadRequest,
	dberr.KindDocumentKeyBad:           http.StatusBadRequest,
	dberr.KindLockUpgrade:              http.StatusBadRequest,
	dberr.KindTransactionFinished:      http.StatusBadRequest,
	dberr.KindLockTimeout:              http.StatusServiceUnavailable,
	dberr.KindDeadlock:                 http.StatusServiceUnavailable,
	dberr.KindCollectionClosed:         http.StatusServiceUnavailable,
	dberr.KindFilesystemFull:           http.StatusInsufficientStorage,
	dberr.KindNoJournalSpace:           http.StatusInsufficientStorage,
}

// errorStatus maps err to the http status and description of the response.
func errorStatus(ctx context.Context, err error) (int, string) {

	if err == box.ErrResourceNotFound {
		return http.StatusNotFound, fmt.Sprintf("resource '%s' not found", box.GetRequest(ctx).URL.String())
	}

	if err == box.ErrMethodNotAllowed {
		return http.StatusMethodNotAllowed, fmt.Sprintf("method '%s' not allowed", box.GetRequest(ctx).Method)
	}

	if errors.Is(err, ErrUnavailable) {
		return http.StatusServiceUnavailable, "Database not ready"
	}

	syntaxError := &json.SyntaxError{}
	if errors.As(err, &syntaxError) {
		return http.StatusBadRequest, "Malformed JSON"
	}

	e := &dberr.Error{}
	if errors.As(err, &e) {
		if status, ok := kindStatus[e.Kind]; ok {
			return status, e.Kind.String()
		}
	}

	return http.StatusInternalServerError, "Unexpected error"
}

// PrettyErrorInterceptor renders the error left by the inner interceptors and
// the handler. It must wrap them.
func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}
		w := box.GetResponse(ctx)

		status, description := errorStatus(ctx, err)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(PrettyError{
			Message:     err.Error(),
			Description: description,
			Code:        int(dberr.KindOf(err)),
		})
	}
}
