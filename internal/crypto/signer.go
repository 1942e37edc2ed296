package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// attestationTypeHash is the pre-computed keccak256 of the canonical
// attestation type string. Fixing the layout keeps signatures verifiable
// by independent consumers.
var attestationTypeHash = ethcrypto.Keccak256(
	[]byte("Attestation(string marketId,uint256 outcome,string source,uint256 resolvedAt)"),
)

// Attestation is the signed statement a node publishes when a market
// resolves. Consumers can recover the signer address from the signature
// and check it against the known attestor set.
type Attestation struct {
	MarketID   string `json:"market_id"`
	Outcome    int    `json:"outcome"`
	Source     string `json:"source"`
	ResolvedAt int64  `json:"resolved_at"` // Unix seconds
}

// Signer produces secp256k1 signatures over resolution attestations.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAttestation signs a resolution attestation. The returned string is a
// hex-encoded 65-byte recoverable signature (r || s || v).
func (s *Signer) SignAttestation(att Attestation) (string, error) {
	digest := attestationDigest(att)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing attestation for %s: %w", att.MarketID, err)
	}

	// go-ethereum returns v in {0,1}; keep the conventional {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// Attest builds and signs an attestation for a resolved market in one step.
func (s *Signer) Attest(marketID string, outcome int, source string, resolvedAt time.Time) (Attestation, string, error) {
	att := Attestation{
		MarketID:   marketID,
		Outcome:    outcome,
		Source:     source,
		ResolvedAt: resolvedAt.Unix(),
	}
	sig, err := s.SignAttestation(att)
	return att, sig, err
}

// RecoverAttestor recovers the signing address from an attestation and its
// hex-encoded signature.
func RecoverAttestor(att Attestation, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}

	// ethcrypto.SigToPub wants v in {0,1}.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(attestationDigest(att), recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover attestor: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyAttestation reports whether the signature over att was produced by
// the given address.
func VerifyAttestation(att Attestation, sigHex string, attestor common.Address) (bool, error) {
	recovered, err := RecoverAttestor(att, sigHex)
	if err != nil {
		return false, err
	}
	return recovered == attestor, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// attestationDigest computes the 32-byte digest that gets signed:
//
//	keccak256(typeHash || keccak256(marketId) || outcome || keccak256(source) || resolvedAt)
func attestationDigest(att Attestation) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			attestationTypeHash,
			ethcrypto.Keccak256([]byte(att.MarketID)),
			bigIntTo32Bytes(big.NewInt(int64(att.Outcome))),
			ethcrypto.Keccak256([]byte(att.Source)),
			bigIntTo32Bytes(big.NewInt(att.ResolvedAt)),
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
