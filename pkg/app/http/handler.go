// Package http provides chi-compatible error handling and the server loop.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

// HandlerFunc is an http handler that reports failure by returning an error.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError adapts h to http.HandlerFunc, rendering a returned error with
// DefaultErrorHandler.
//
//	r.Post("/proofs", apphttp.HandleError(h.submit))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

// DefaultErrorHandler writes err as an ErrorResponse. Only ServiceError
// messages reach the client; anything else is reported as a 500.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error: "Unexpected Service Error",
		Code:  http.StatusInternalServerError,
	}

	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		resp.Error = svcErr.Message
		resp.Code = svcErr.StatusCode()
		if kind := apperrors.Kind(svcErr); kind != apperrors.KindGeneral {
			resp.Kind = kind
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_ = json.NewEncoder(w).Encode(&resp)
}
