package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	require.NoError(t, app.Run(append([]string{"proofctl"}, args...)), out.String())
	return out.Bytes()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFingerprint_Bundle(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")

	var got struct {
		Files []struct {
			Hash string `json:"hash"`
		} `json:"files"`
		Bundle *struct {
			Hash string `json:"hash"`
		} `json:"bundle"`
	}
	require.NoError(t, json.Unmarshal(run(t, "fingerprint", "--description", "pair", a, b), &got))
	require.Len(t, got.Files, 2)
	assert.NotEqual(t, got.Files[0].Hash, got.Files[1].Hash)
	require.NotNil(t, got.Bundle)
	assert.Len(t, got.Bundle.Hash, 64)

	require.NoError(t, json.Unmarshal(run(t, "fingerprint", a), &got))
	assert.Nil(t, got.Bundle)
}

func TestCommit_ProofVerifies(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.txt", "contract")

	var got struct {
		Opening    string `json:"opening"`
		ProofValid bool   `json:"proof_valid"`
	}
	require.NoError(t, json.Unmarshal(run(t, "commit", path), &got))
	assert.True(t, got.ProofValid)
	assert.NotEmpty(t, got.Opening)
}

func TestIdentityCreate(t *testing.T) {
	var got struct {
		Identity struct {
			DID string `json:"did"`
		} `json:"identity"`
		PrivateKey string `json:"private_key"`
	}
	require.NoError(t, json.Unmarshal(run(t, "identity", "create"), &got))
	assert.True(t, strings.HasPrefix(got.Identity.DID, "did:docproof:"), got.Identity.DID)
	assert.Empty(t, got.PrivateKey)

	require.NoError(t, json.Unmarshal(run(t, "identity", "create", "--export-private-key"), &got))
	assert.NotEmpty(t, got.PrivateKey)
}

func TestPackageThenVerifyOffline(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "deed.txt", "the deed")
	other := writeFile(t, dir, "other.txt", "something else")
	payload := filepath.Join(dir, "payload.json")

	run(t, "package", "--db", filepath.Join(dir, "records.db"), "--zk", "--sign", "--out", payload, doc)

	var got struct {
		TamperSignatureValid bool `json:"tamper_signature_valid"`
		ChallengeChecked     bool `json:"challenge_checked"`
		ChallengeMatch       bool `json:"challenge_match"`
	}
	require.NoError(t, json.Unmarshal(run(t, "verify-offline", "--challenge", doc, payload), &got))
	assert.True(t, got.TamperSignatureValid)
	assert.True(t, got.ChallengeChecked)
	assert.True(t, got.ChallengeMatch)

	require.NoError(t, json.Unmarshal(run(t, "verify-offline", "--challenge", other, payload), &got))
	assert.False(t, got.ChallengeMatch)
}

func TestPackage_NoFiles(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run([]string{"proofctl", "package", "--db", filepath.Join(t.TempDir(), "r.db")})
	assert.ErrorIs(t, err, errNoFiles)
}

func TestOutputFormat(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run([]string{"proofctl", "-o", "xml", "identity", "create"})
	assert.ErrorIs(t, err, errUnknownFormat)

	var out bytes.Buffer
	require.NoError(t, write(&out, formatYAML, map[string]any{"score": 50, "did": "did:docproof:abc", "flag": "true"}))
	assert.Contains(t, out.String(), "score: 50\n")
	assert.Contains(t, out.String(), "did: did:docproof:abc\n")
	assert.Contains(t, out.String(), `flag: "true"`)
}
