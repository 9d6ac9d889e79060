package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/config"
)

func TestHandleError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		code int
		msg  string
		kind string
	}{
		{"content", apperrors.ContentError(cause, "empty document"), http.StatusBadRequest, "empty document", apperrors.KindContent},
		{"crypto", apperrors.CryptoVerificationError(cause, "bad proof"), http.StatusUnprocessableEntity, "bad proof", apperrors.KindCryptoVerification},
		{"transient", apperrors.NetworkTransientError(cause, "ledger down"), http.StatusServiceUnavailable, "ledger down", apperrors.KindNetworkTransient},
		{"policy", apperrors.PolicyViolationError(cause, "revoked"), http.StatusConflict, "revoked", apperrors.KindPolicyViolation},
		{"not found", apperrors.ResourceNotFoundError(cause, "missing"), http.StatusNotFound, "missing", ""},
		{"plain error", cause, http.StatusInternalServerError, "Unexpected Service Error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HandleError(func(http.ResponseWriter, *http.Request) error { return tt.err })
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			require.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, ErrorResponse{Error: tt.msg, Code: tt.code, Kind: tt.kind}, body)
		})
	}
}

func TestHandleError_Success(t *testing.T) {
	h := HandleError(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeAndWait(t *testing.T) {
	require.Error(t, ServeAndWait(context.Background(), nil, nil, &config.ServerConfig{}))
	require.Error(t, ServeAndWait(context.Background(), http.NotFoundHandler(), nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeAndWait(ctx, http.NotFoundHandler(), nil, &config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: time.Second,
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
