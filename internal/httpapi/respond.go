// Package httpapi exposes the query pipeline over HTTP. Routing uses
// chi; every response body is JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// writeError maps pipeline errors onto HTTP statuses: validation 400,
// missing entities 404, state-machine guards 409, external-service
// failures 502.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "request cancelled or timed out",
			Code:  ragerr.ErrCodeCancelled,
		})
		return
	}

	var re *ragerr.RagError
	if errors.As(err, &re) {
		code = re.Code
		switch re.Code {
		case ragerr.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case ragerr.ErrCodeNotFound:
			status = http.StatusNotFound
		case ragerr.ErrCodePrecondition:
			status = http.StatusConflict
		case ragerr.ErrCodeTransient, ragerr.ErrCodePermanent, ragerr.ErrCodeDimensionMismatch:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// decodeBody parses a JSON request body into dst. An empty body is
// allowed when dst tolerates zero values.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return ragerr.New(ragerr.ErrCodeInvalidInput, "invalid JSON body: "+err.Error(), err)
	}
	return nil
}
