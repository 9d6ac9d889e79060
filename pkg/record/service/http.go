package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	apphttp "github.com/chainsafe/docproof/pkg/app/http"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
)

const (
	// formOverhead covers boundaries, part headers and text fields.
	formOverhead    = 1 << 20
	maxPayloadBytes = 1 << 20
	multipartMemory = 8 << 20
)

var errNoPayload = errors.New("offline payload is required")

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service         Service
	logger          *zap.Logger
	maxContentBytes int64
}

// RouteOption configures the HTTP endpoints.
type RouteOption func(*HTTP)

// WithMaxContentBytes sets the per document ceiling the upload limits are
// derived from. It should match the fingerprinter's ceiling.
func WithMaxContentBytes(n int64) RouteOption {
	return func(h *HTTP) {
		if n > 0 {
			h.maxContentBytes = n
		}
	}
}

// RegisterRoutes registers the proof and identity endpoints on r.
func RegisterRoutes(r chi.Router, service Service, logger *zap.Logger, opts ...RouteOption) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTP{
		service:         service,
		logger:          logger,
		maxContentBytes: fingerprint.DefaultMaxContentBytes,
	}
	for _, opt := range opts {
		opt(h)
	}

	r.Post("/proofs", apphttp.HandleError(h.submit))
	r.Get("/proofs/{id}", apphttp.HandleError(h.getRecord))
	r.Get("/proofs/{id}/verify", apphttp.HandleError(h.verify))
	r.Post("/proofs/{id}/verify", apphttp.HandleError(h.verify))
	r.Get("/proofs/{id}/offline", apphttp.HandleError(h.offlinePackage))
	r.Post("/verify/offline", apphttp.HandleError(h.verifyOffline))

	r.Post("/identities", apphttp.HandleError(h.createIdentity))
	r.Get("/identities/{did}", apphttp.HandleError(h.getIdentity))
	r.Post("/identities/{did}/revoke", apphttp.HandleError(h.revokeIdentity))
}

// fileJSON is a document inside a JSON submission. Data is base64.
type fileJSON struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type submitJSON struct {
	Files           []fileJSON        `json:"files"`
	Description     string            `json:"description"`
	ZK              bool              `json:"zk"`
	ProofSystem     string            `json:"proof_system"`
	DID             string            `json:"did"`
	Claims          map[string]string `json:"claims"`
	Anchor          string            `json:"anchor"`
	SecondaryAnchor string            `json:"secondary_anchor"`
	RequireBoth     bool              `json:"require_both"`
	StoreContent    bool              `json:"store_content"`
}

func (s submitJSON) request() *engine.Request {
	req := &engine.Request{
		Description:      s.Description,
		GenerateProof:    s.ZK,
		ProofSystem:      commitment.System(s.ProofSystem),
		SignerDID:        s.DID,
		Claims:           s.Claims,
		PrimaryNetwork:   s.Anchor,
		SecondaryNetwork: s.SecondaryAnchor,
		RequireBoth:      s.RequireBoth,
		StoreContent:     s.StoreContent,
	}
	for _, f := range s.Files {
		req.Files = append(req.Files, engine.File{Name: f.Name, ContentType: f.ContentType, Data: f.Data})
	}
	return req
}

func (h *HTTP) submit(w http.ResponseWriter, r *http.Request) error {
	var req *engine.Request
	if isMultipart(r) {
		form, err := h.readMultipart(w, r, h.uploadLimit())
		if err != nil {
			return err
		}
		if req, err = multipartRequest(form); err != nil {
			return err
		}
	} else {
		// file data travels base64 encoded
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxContentBytes/3*4+4+formOverhead))
		if err != nil {
			return h.bodyError(err, "failed to read request")
		}
		var in submitJSON
		if err := json.Unmarshal(body, &in); err != nil {
			return apperrors.BadRequestError(err, "invalid JSON")
		}
		req = in.request()
	}

	rec, err := h.service.Submit(r.Context(), req)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, rec)
	return nil
}

func multipartRequest(form *multipart.Form) (*engine.Request, error) {
	field := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	flag := func(name string) (bool, error) {
		v := field(name)
		if v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, apperrors.BadRequestError(err, "invalid boolean field "+name)
		}
		return b, nil
	}

	req := &engine.Request{
		Description:      field("description"),
		ProofSystem:      commitment.System(field("proof_system")),
		SignerDID:        field("did"),
		PrimaryNetwork:   field("anchor"),
		SecondaryNetwork: field("secondary_anchor"),
	}
	var err error
	if req.GenerateProof, err = flag("zk"); err != nil {
		return nil, err
	}
	if req.RequireBoth, err = flag("require_both"); err != nil {
		return nil, err
	}
	if req.StoreContent, err = flag("store_content"); err != nil {
		return nil, err
	}
	if claims := field("claims"); claims != "" {
		if err := json.Unmarshal([]byte(claims), &req.Claims); err != nil {
			return nil, apperrors.BadRequestError(err, "claims must be a JSON object of strings")
		}
	}

	for _, fh := range form.File["file"] {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		req.Files = append(req.Files, engine.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return req, nil
}

func (h *HTTP) getRecord(w http.ResponseWriter, r *http.Request) error {
	id, err := recordID(r)
	if err != nil {
		return err
	}
	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, rec)
	return nil
}

// verify re-verifies a record. POST requests may carry a challenge file.
func (h *HTTP) verify(w http.ResponseWriter, r *http.Request) error {
	id, err := recordID(r)
	if err != nil {
		return err
	}

	var challenge []byte
	if r.Method == http.MethodPost && isMultipart(r) {
		form, err := h.readMultipart(w, r, h.uploadLimit())
		if err != nil {
			return err
		}
		if challenge, err = firstFile(form); err != nil {
			return err
		}
	}

	res, err := h.service.Verify(r.Context(), id, challenge)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) offlinePackage(w http.ResponseWriter, r *http.Request) error {
	id, err := recordID(r)
	if err != nil {
		return err
	}
	payload, err := h.service.OfflinePackage(r.Context(), id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
	return nil
}

// verifyOffline accepts either the raw payload as the body, or a multipart
// form with a payload field and an optional challenge file.
func (h *HTTP) verifyOffline(w http.ResponseWriter, r *http.Request) error {
	var payload, challenge []byte
	if isMultipart(r) {
		form, err := h.readMultipart(w, r, h.uploadLimit()+maxPayloadBytes)
		if err != nil {
			return err
		}
		if v := form.Value["payload"]; len(v) > 0 {
			payload = []byte(v[0])
		}
		if challenge, err = firstFile(form); err != nil {
			return err
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			return apperrors.BadRequestError(err, "failed to read request")
		}
		payload = body
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return apperrors.BadRequestError(errNoPayload, "offline payload is required")
	}

	res, err := h.service.VerifyOffline(r.Context(), payload, challenge)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) createIdentity(w http.ResponseWriter, r *http.Request) error {
	var cfg identity.Config
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &cfg); err != nil {
			return apperrors.BadRequestError(err, "invalid JSON")
		}
	}

	ident, err := h.service.CreateIdentity(r.Context(), cfg)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, ident)
	return nil
}

func (h *HTTP) getIdentity(w http.ResponseWriter, r *http.Request) error {
	ident, err := h.service.GetIdentity(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, ident)
	return nil
}

func (h *HTTP) revokeIdentity(w http.ResponseWriter, r *http.Request) error {
	ident, err := h.service.RevokeIdentity(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, ident)
	return nil
}

func (h *HTTP) readMultipart(w http.ResponseWriter, r *http.Request, limit int64) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, h.bodyError(err, "invalid multipart form")
	}
	return r.MultipartForm, nil
}

func (h *HTTP) uploadLimit() int64 {
	return h.maxContentBytes + formOverhead
}

// bodyError reports a body cut off by its size limit as oversized content.
func (h *HTTP) bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.ContentError(
			fmt.Errorf("%w: request body exceeds %d bytes", fingerprint.ErrContentTooLarge, tooLarge.Limit),
			fmt.Sprintf("content exceeds %d bytes", h.maxContentBytes),
		)
	}
	return apperrors.BadRequestError(err, message)
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func recordID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperrors.BadRequestError(err, "invalid record id")
	}
	return id, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func firstFile(form *multipart.Form) ([]byte, error) {
	files := form.File["file"]
	if len(files) == 0 {
		return nil, nil
	}
	return readPart(files[0])
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.BadRequestError(err, "failed to read uploaded file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.BadRequestError(err, "failed to read uploaded file")
	}
	return data, nil
}
