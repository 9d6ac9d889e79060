package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	generatorTag = "docproof/pedersen/H/v1"
	messageTag   = "docproof/pedersen/m/v1"
	maxH2CTries  = 256
)

var generatorH = mustDeriveGeneratorH()

// mustDeriveGeneratorH hashes generatorTag with an incrementing counter until the
// digest is the x coordinate of a curve point (even y). Nobody knows log_G(H).
func mustDeriveGeneratorH() secp256k1.JacobianPoint {
	var buf [len(generatorTag) + 4]byte
	copy(buf[:], generatorTag)

	for i := uint32(0); i < maxH2CTries; i++ {
		binary.BigEndian.PutUint32(buf[len(generatorTag):], i)
		x := sha256.Sum256(buf[:])

		compressed := make([]byte, 0, 33)
		compressed = append(compressed, 0x02)
		compressed = append(compressed, x[:]...)

		pub, err := secp256k1.ParsePubKey(compressed)
		if err != nil {
			continue
		}
		var h secp256k1.JacobianPoint
		pub.AsJacobian(&h)
		return h
	}
	panic("commitment: failed to derive generator H")
}

// GeneratorH returns the compressed encoding of H. It is the verification key of
// the schnorr-fs-v1 proof system.
func GeneratorH() []byte {
	h := generatorH
	return encodePoint(&h)
}

// messageScalar maps a fingerprint digest into Z_n.
func messageScalar(digest []byte) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write([]byte(messageTag))
	h.Write(digest)

	var m secp256k1.ModNScalar
	m.SetByteSlice(h.Sum(nil))
	return &m
}

func randomnessScalar(randomness []byte) (*secp256k1.ModNScalar, error) {
	var r secp256k1.ModNScalar
	r.SetByteSlice(randomness[:RandomnessSize])
	if r.IsZero() {
		return nil, errors.New("commitment randomness reduces to zero")
	}
	return &r, nil
}

// pedersenCommit returns the compressed encoding of m*G + r*H.
func pedersenCommit(m, r *secp256k1.ModNScalar) []byte {
	var c secp256k1.JacobianPoint
	twoBaseMult(m, r, &c)
	return encodePoint(&c)
}

// twoBaseMult sets result = a*G + b*H.
func twoBaseMult(a, b *secp256k1.ModNScalar, result *secp256k1.JacobianPoint) {
	var aG, bH secp256k1.JacobianPoint
	h := generatorH
	secp256k1.ScalarBaseMultNonConst(a, &aG)
	secp256k1.ScalarMultNonConst(b, &h, &bH)
	secp256k1.AddNonConst(&aG, &bH, result)
}

func encodePoint(p *secp256k1.JacobianPoint) []byte {
	affine := *p
	affine.ToAffine()
	return secp256k1.NewPublicKey(&affine.X, &affine.Y).SerializeCompressed()
}

func decodePoint(b []byte) (*secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid curve point: %w", err)
	}
	var p secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	return &p, nil
}

func pointsEqual(a, b *secp256k1.JacobianPoint) bool {
	pa, pb := *a, *b
	pa.ToAffine()
	pb.ToAffine()
	return pa.X.Equals(&pb.X) && pa.Y.Equals(&pb.Y)
}

func randomScalar() (*secp256k1.ModNScalar, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	k := key.Key
	return &k, nil
}
