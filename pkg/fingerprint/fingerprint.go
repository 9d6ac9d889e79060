// Package fingerprint derives content digests for single documents and document bundles.
package fingerprint

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	SHA512  Algorithm = "sha512"
	SHA3256 Algorithm = "sha3-256"
)

// DefaultMaxContentBytes is the ceiling applied when none is configured (100 MiB).
const DefaultMaxContentBytes int64 = 100 << 20

// Delimiter joins member hashes and auxiliary context in a merged fingerprint.
const Delimiter = "|"

var (
	ErrEmptyContent       = errors.New("empty content")
	ErrContentTooLarge    = errors.New("content too large")
	ErrUnknownAlgorithm   = errors.New("unknown fingerprint algorithm")
	ErrMalformedHash      = errors.New("malformed fingerprint hash")
	ErrNothingToMerge     = errors.New("no fingerprints to merge")
	ErrAlgorithmsMismatch = errors.New("fingerprints use different algorithms")
)

// Fingerprint is a content-derived digest. It is never mutated after creation.
type Fingerprint struct {
	Hash       string    `json:"hash"`
	Algorithm  Algorithm `json:"algorithm"`
	SourceSize int64     `json:"source_size"`
	CreatedAt  time.Time `json:"created_at"`
}

// HexLen returns the hex digest length produced by a.
func (a Algorithm) HexLen() (int, error) {
	switch a {
	case SHA256, SHA3256:
		return 64, nil
	case SHA512:
		return 128, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

// Fingerprinter computes fingerprints under a fixed algorithm and size ceiling.
type Fingerprinter struct {
	algorithm Algorithm
	maxBytes  int64
	now       func() time.Time
}

// New returns a Fingerprinter. It fails on an unknown algorithm.
func New(opts ...Option) (*Fingerprinter, error) {
	s := applyOptions(opts)
	if _, err := s.algorithm.HexLen(); err != nil {
		return nil, err
	}
	return &Fingerprinter{
		algorithm: s.algorithm,
		maxBytes:  s.maxBytes,
		now:       s.now,
	}, nil
}

// Algorithm returns the digest function in use.
func (f *Fingerprinter) Algorithm() Algorithm {
	return f.algorithm
}

// Fingerprint hashes data. The digest depends only on the bytes.
func (f *Fingerprinter) Fingerprint(data []byte) (*Fingerprint, error) {
	if len(data) == 0 {
		return nil, apperrors.ContentError(ErrEmptyContent, "content is empty")
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, apperrors.ContentError(
			fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLarge, len(data), f.maxBytes),
			fmt.Sprintf("content exceeds %d bytes", f.maxBytes),
		)
	}

	digest, err := f.digest(data)
	if err != nil {
		return nil, err
	}

	return &Fingerprint{
		Hash:       digest,
		Algorithm:  f.algorithm,
		SourceSize: int64(len(data)),
		CreatedAt:  f.now().UTC(),
	}, nil
}

// FingerprintMany hashes each file in order.
func (f *Fingerprinter) FingerprintMany(files [][]byte) ([]*Fingerprint, error) {
	if len(files) == 0 {
		return nil, apperrors.ContentError(ErrEmptyContent, "no files supplied")
	}
	out := make([]*Fingerprint, 0, len(files))
	for i, file := range files {
		fp, err := f.Fingerprint(file)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		out = append(out, fp)
	}
	return out, nil
}

// Merge produces one fingerprint over the ordered member hashes joined by
// Delimiter, followed by auxContext. The result is the single anchorable value
// for a bundle.
func (f *Fingerprinter) Merge(hashes []string, auxContext string) (*Fingerprint, error) {
	if len(hashes) == 0 {
		return nil, apperrors.ContentError(ErrNothingToMerge, "no fingerprints to merge")
	}
	for i, h := range hashes {
		if err := Validate(h, f.algorithm); err != nil {
			return nil, apperrors.ContentError(fmt.Errorf("hash %d: %w", i, err), "malformed fingerprint hash")
		}
	}

	joined := strings.Join(hashes, Delimiter) + Delimiter + auxContext
	digest, err := f.digest([]byte(joined))
	if err != nil {
		return nil, err
	}

	return &Fingerprint{
		Hash:       digest,
		Algorithm:  f.algorithm,
		SourceSize: int64(len(joined)),
		CreatedAt:  f.now().UTC(),
	}, nil
}

// MergeFingerprints is Merge over already computed fingerprints. All members
// must share the Fingerprinter's algorithm.
func (f *Fingerprinter) MergeFingerprints(fps []*Fingerprint, auxContext string) (*Fingerprint, error) {
	hashes := make([]string, 0, len(fps))
	for _, fp := range fps {
		if fp.Algorithm != f.algorithm {
			return nil, apperrors.ContentError(ErrAlgorithmsMismatch, "fingerprints use different algorithms")
		}
		hashes = append(hashes, fp.Hash)
	}
	return f.Merge(hashes, auxContext)
}

// Matches reports whether data hashes to fp under fp's algorithm.
func Matches(fp *Fingerprint, data []byte) (bool, error) {
	h, err := fp.Algorithm.newHash()
	if err != nil {
		return false, err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)) == strings.ToLower(fp.Hash), nil
}

// Validate checks that hash is hex of the length a produces.
func Validate(hash string, a Algorithm) error {
	n, err := a.HexLen()
	if err != nil {
		return err
	}
	if len(hash) != n {
		return fmt.Errorf("%w: want %d hex chars, got %d", ErrMalformedHash, n, len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return nil
}

func (f *Fingerprinter) digest(data []byte) (string, error) {
	h, err := f.algorithm.newHash()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
