// Package blobstore stores original documents in a content-addressed store.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrIntegrity       = errors.New("blob content does not match its content id")
	ErrInvalidCID      = errors.New("invalid content id")
	ErrEmptyBlob       = errors.New("blob is empty")
	ErrBackendResponse = errors.New("unexpected blob store response")
)

// Metadata describes an uploaded blob.
type Metadata struct {
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Object is what the store returns after a successful put.
type Object struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
}

// Store is the content-addressed blob store.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	Store(ctx context.Context, data []byte, md Metadata) (*Object, error)
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}

var rawPrefix = cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)

// ContentID is the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (cid.Cid, error) {
	return rawPrefix.Sum(data)
}

// VerifyContent checks data against contentID. Only raw-codec CIDs can be
// recomputed from the bytes alone; chunked DAG roots are accepted as is.
func VerifyContent(contentID string, data []byte) error {
	c, err := cid.Parse(contentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	prefix := c.Prefix()
	if prefix.Codec != cid.Raw {
		return nil
	}
	got, err := prefix.Sum(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	if !got.Equals(c) {
		return fmt.Errorf("%w: %s", ErrIntegrity, contentID)
	}
	return nil
}
