package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Limit error-body reads so we don't accidentally slurp huge responses.
	maxErrBodyBytes = 4096
)

// IPFSConfig points at a Kubo RPC endpoint and an optional public gateway.
type IPFSConfig struct {
	APIURL     string        `yaml:"api_url" mapstructure:"api_url" validate:"required,url"`
	GatewayURL string        `yaml:"gateway_url" mapstructure:"gateway_url" validate:"omitempty,url"`
	Pin        bool          `yaml:"pin" mapstructure:"pin" default:"true"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" default:"30s"`
}

// IPFS stores blobs through the Kubo HTTP RPC API.
type IPFS struct {
	cfg        IPFSConfig
	httpClient *http.Client
	logger     *zap.Logger
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NewIPFS creates an IPFS store. A nil httpClient gets a client with the
// configured timeout.
func NewIPFS(cfg IPFSConfig, httpClient *http.Client, logger *zap.Logger) *IPFS {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &IPFS{cfg: cfg, httpClient: httpClient, logger: logger}
}

func (s *IPFS) Store(ctx context.Context, data []byte, md Metadata) (*Object, error) {
	if len(data) == 0 {
		return nil, ErrEmptyBlob
	}

	body, contentType, err := multipartBody(data, md)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("cid-version", "1")
	q.Set("raw-leaves", "true")
	q.Set("pin", fmt.Sprint(s.cfg.Pin))

	resp, err := s.call(ctx, "add", q, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode add response: %v", ErrBackendResponse, err)
	}
	if out.Hash == "" {
		return nil, fmt.Errorf("%w: add returned no hash", ErrBackendResponse)
	}
	if err := VerifyContent(out.Hash, data); err != nil {
		return nil, err
	}

	s.logger.Debug("blob stored", zap.String("cid", out.Hash), zap.Int("size", len(data)))
	return &Object{ContentID: out.Hash, URL: s.gatewayURL(out.Hash), Size: int64(len(data))}, nil
}

// Fetch downloads contentID and checks it against the CID before returning.
func (s *IPFS) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	q := url.Values{}
	q.Set("arg", contentID)

	resp, err := s.call(ctx, "cat", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NetworkTransientError(err, "failed to read blob")
	}
	if err := VerifyContent(contentID, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *IPFS) call(ctx context.Context, cmd string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := s.cfg.APIURL + "/api/v0/" + cmd + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", cmd, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.NetworkTransientError(err, "blob store unreachable")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readHTTPError(cmd, resp)
	}
	return resp, nil
}

func (s *IPFS) gatewayURL(contentID string) string {
	if s.cfg.GatewayURL == "" {
		return "ipfs://" + contentID
	}
	return s.cfg.GatewayURL + "/ipfs/" + contentID
}

func multipartBody(data []byte, md Metadata) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	name := md.Filename
	if name == "" {
		name = "blob"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func readHTTPError(cmd string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
	var rpcErr struct {
		Message string `json:"Message"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &rpcErr) == nil && rpcErr.Message != "" {
		msg = rpcErr.Message
	}

	err := fmt.Errorf("%w: %s returned %d: %s", ErrBackendResponse, cmd, resp.StatusCode, msg)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError && strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NetworkTransientError(err, "blob store unavailable")
	default:
		return err
	}
}
