package fingerprint

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFingerprinter(t *testing.T, opts ...Option) *Fingerprinter {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f, err := New(opts...)
	require.NoError(t, err)
	return f
}

func TestFingerprint_KnownDigest(t *testing.T) {
	f := newTestFingerprinter(t)

	fp, err := f.Fingerprint([]byte("hello-pdf"))
	require.NoError(t, err)

	assert.Equal(t, "787039b5a469fb8e720be530ac94788a4a85c6b81b786efa5a2727738cfa8a6a", fp.Hash)
	assert.Equal(t, SHA256, fp.Algorithm)
	assert.Equal(t, int64(9), fp.SourceSize)
	assert.Equal(t, fixedNow, fp.CreatedAt)
	assert.Len(t, fp.Hash, 64)
}

func TestFingerprint_Deterministic(t *testing.T) {
	f := newTestFingerprinter(t)
	data := []byte("the same document bytes")

	a, err := f.Fingerprint(data)
	require.NoError(t, err)
	b, err := f.Fingerprint(data)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0x01
	c, err := f.Fingerprint(flipped)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestFingerprint_Algorithms(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		wantLen   int
		want      string
	}{
		{SHA256, 64, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{SHA3256, 64, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{SHA512, 128, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			f := newTestFingerprinter(t, WithAlgorithm(tt.algorithm))
			fp, err := f.Fingerprint([]byte("abc"))
			require.NoError(t, err)
			assert.Len(t, fp.Hash, tt.wantLen)
			if tt.want != "" {
				assert.Equal(t, tt.want, fp.Hash)
			}
			assert.NoError(t, Validate(fp.Hash, tt.algorithm))
		})
	}
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New(WithAlgorithm("md5"))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestFingerprint_EmptyContent(t *testing.T) {
	f := newTestFingerprinter(t)

	_, err := f.Fingerprint(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyContent))
	assert.Equal(t, apperrors.KindContent, apperrors.Kind(err))
}

func TestFingerprint_ContentTooLarge(t *testing.T) {
	f := newTestFingerprinter(t, WithMaxContentBytes(4))

	_, err := f.Fingerprint([]byte("12345"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContentTooLarge))
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataError))

	_, err = f.Fingerprint([]byte("1234"))
	require.NoError(t, err)
}

func TestFingerprintMany(t *testing.T) {
	f := newTestFingerprinter(t)

	fps, err := f.FingerprintMany([][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	require.Len(t, fps, 2)
	assert.Equal(t, "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb", fps[0].Hash)
	assert.Equal(t, "3e23e8160039594a33894f6564e1b1348bbd7a0088d42c4acb73eeaed59c009d", fps[1].Hash)

	_, err = f.FingerprintMany([][]byte{[]byte("a"), {}})
	require.ErrorIs(t, err, ErrEmptyContent)
	assert.Contains(t, err.Error(), "file 1")
}

func TestMerge(t *testing.T) {
	f := newTestFingerprinter(t)
	a := "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb"
	b := "3e23e8160039594a33894f6564e1b1348bbd7a0088d42c4acb73eeaed59c009d"

	merged, err := f.Merge([]string{a, b}, "ctx")
	require.NoError(t, err)
	assert.Equal(t, "7ef6ce68e298135e5a45a4ed595d14e78f65580ad6d23ff3534c63ab6ac3f72a", merged.Hash)
	assert.Equal(t, int64(len(a)+len(b)+len("||ctx")), merged.SourceSize)

	reordered, err := f.Merge([]string{b, a}, "ctx")
	require.NoError(t, err)
	assert.NotEqual(t, merged.Hash, reordered.Hash)

	otherContext, err := f.Merge([]string{a, b}, "other")
	require.NoError(t, err)
	assert.NotEqual(t, merged.Hash, otherContext.Hash)
}

func TestMerge_Rejects(t *testing.T) {
	f := newTestFingerprinter(t)

	_, err := f.Merge(nil, "ctx")
	require.ErrorIs(t, err, ErrNothingToMerge)

	_, err = f.Merge([]string{"not-hex"}, "")
	require.ErrorIs(t, err, ErrMalformedHash)

	_, err = f.Merge([]string{strings.Repeat("z", 64)}, "")
	require.ErrorIs(t, err, ErrMalformedHash)
}

func TestMergeFingerprints_AlgorithmMismatch(t *testing.T) {
	f := newTestFingerprinter(t)
	other := newTestFingerprinter(t, WithAlgorithm(SHA512))

	fp, err := other.Fingerprint([]byte("x"))
	require.NoError(t, err)

	_, err = f.MergeFingerprints([]*Fingerprint{fp}, "")
	require.ErrorIs(t, err, ErrAlgorithmsMismatch)
}

func TestMatches(t *testing.T) {
	f := newTestFingerprinter(t)
	fp, err := f.Fingerprint([]byte("original"))
	require.NoError(t, err)

	ok, err := Matches(fp, []byte("original"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(fp, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)
}
