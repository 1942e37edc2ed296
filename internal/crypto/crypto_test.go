package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key, never used anywhere real.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecoverAttestation(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	att := Attestation{
		MarketID:   "apt:market:42",
		Outcome:    1,
		Source:     "governance",
		ResolvedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}

	sig, err := signer.SignAttestation(att)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2) // 0x + 65 bytes hex

	recovered, err := RecoverAttestor(att, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	ok, err := VerifyAttestation(att, sig, signer.Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTamperedAttestationFailsVerify(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	att := Attestation{MarketID: "apt:market:1", Outcome: 0, Source: "oracle", ResolvedAt: 1748779200}
	sig, err := signer.SignAttestation(att)
	require.NoError(t, err)

	att.Outcome = 1
	ok, err := VerifyAttestation(att, sig, signer.Address())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex")
	assert.Error(t, err)
}

func TestEncryptDecryptKeyRoundtrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKeyPrefersRaw(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestHMACHeadersAndVerify(t *testing.T) {
	auth := &HMACAuth{Key: "ops", Secret: "s3cret"}

	hdrs := auth.HeadersAt("POST", "/v1/admin/breaker", `{"on":true}`, 1748779200)
	assert.Equal(t, "ops", hdrs["X-APTM-KEY"])
	assert.Equal(t, "1748779200", hdrs["X-APTM-TIMESTAMP"])

	ok := auth.Verify("POST", "/v1/admin/breaker", `{"on":true}`,
		hdrs["X-APTM-TIMESTAMP"], hdrs["X-APTM-SIGNATURE"], 0)
	assert.True(t, ok)

	// A different body must not verify.
	ok = auth.Verify("POST", "/v1/admin/breaker", `{"on":false}`,
		hdrs["X-APTM-TIMESTAMP"], hdrs["X-APTM-SIGNATURE"], 0)
	assert.False(t, ok)

	// An old timestamp is rejected when skew is bounded.
	ok = auth.Verify("POST", "/v1/admin/breaker", `{"on":true}`,
		hdrs["X-APTM-TIMESTAMP"], hdrs["X-APTM-SIGNATURE"], time.Minute)
	assert.False(t, ok)
}
