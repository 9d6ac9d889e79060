package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/config"
	"github.com/chainsafe/docproof/pkg/record"
)

const memoryConfig = `
storage:
  records: memory
  blobs: memory
anchor:
  retry:
    initial_interval: 1ms
    max_interval: 1ms
  memory:
    - name: devnet
reconciliation:
  initial_timeout: 0
  interval: 0
offline:
  base_url: https://proofs.example
`

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestRouter(t *testing.T, body string) http.Handler {
	t.Helper()
	s := NewServer(loadConfig(t, body))
	c, err := s.build(context.Background(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return s.setupRouter(c.service, zap.NewNop())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, memoryConfig)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SubmitAndVerify(t *testing.T) {
	h := newTestRouter(t, memoryConfig)

	body := `{"files":[{"name":"a.txt","data":"aGVsbG8="}],"anchor":"devnet","zk":true,"store_content":true}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proofs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created record.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, 50, created.TrustScore)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/proofs/"+created.ID.String()+"/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/proofs/"+created.ID.String()+"/offline", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://proofs.example")
}

func TestRouter_IdentitiesDisabled(t *testing.T) {
	h := newTestRouter(t, memoryConfig+"identity:\n  enabled: false\n")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/identities", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBuild_PostgresNeedsMasterKey(t *testing.T) {
	s := NewServer(loadConfig(t, "storage:\n  records: memory\n"))
	s.cfg.Identity.MasterKeyEnv = "DOCPROOF_TEST_UNSET_MASTER_KEY"
	_, err := s.getMasterKey()
	assert.ErrorIs(t, err, ErrMasterKeyMissing)

	t.Setenv("DOCPROOF_TEST_UNSET_MASTER_KEY", "not base64!")
	_, err = s.getMasterKey()
	assert.Error(t, err)
}

func TestRun_NilConfig(t *testing.T) {
	assert.Error(t, NewServer(nil).Run())
}
