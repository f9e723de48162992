package canon

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/model"
)

// Signer is the narrow capability internal/identity exposes to the rest of
// the repo: sign a hash, and report the identity fields a signing envelope
// needs. The private key itself never crosses this interface.
type Signer interface {
	DeviceID() string
	PublicKeyHex() string
	Sign(hash []byte) []byte
}

// Verifier is the read-only counterpart used to check a signature against
// an arbitrary supplied public key.
type Verifier interface {
	Verify(pub ed25519.PublicKey, hash []byte, sig []byte) bool
}

// HashDocument computes the canonical SHA-256 hash of v, with no fields
// stripped. Merkle leaves are hashed by LeafHash instead, which strips
// "_"-prefixed fields first.
func HashDocument(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCanonicalization, err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// SignSample strips any existing signing envelope from s, computes the
// canonical hash, signs it, and re-attaches a new envelope.
func SignSample(s model.Sample, signer Signer, now time.Time) (model.Sample, error) {
	stripped := s.Clone()
	h, err := HashDocument(stripped)
	if err != nil {
		return model.Sample{}, err
	}
	sig := signer.Sign(h)
	stripped.Signing = &model.Signing{
		DeviceID: signer.DeviceID(),
		PublicKey: "ed25519:" + signer.PublicKeyHex(),
		Timestamp: now.UTC().Format(time.RFC3339),
		PayloadHash: hex.EncodeToString(h),
		Signature: "ed25519:" + hex.EncodeToString(sig),
	}
	return stripped, nil
}

// VerifySample reverses SignSample: strip, recompute, compare hash, verify
// signature under the envelope's own public key.
func VerifySample(s model.Sample) error {
	if s.Signing == nil {
		return errs.New(errs.CodeNoSignature, errs.ErrNoSignature)
	}
	envelope := *s.Signing
	stripped := s.Clone()
	h, err := HashDocument(stripped)
	if err != nil {
		return err
	}
	wantHash, err := hex.DecodeString(envelope.PayloadHash)
	if err != nil || !bytes.Equal(h, wantHash) {
		return errs.New(errs.CodeHashMismatch, errs.ErrHashMismatch)
	}
	pub, sig, err := decodeEnvelopeKeys(envelope)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, h, sig) {
		return errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	return nil
}

// SignEpoch is SignSample's analogue for a fully-assembled epoch document
// (merkle_root, sample_count, leaf_hashes already populated).
func SignEpoch(e model.Epoch, signer Signer, now time.Time) (model.Epoch, error) {
	stripped := e.Clone()
	h, err := HashDocument(stripped)
	if err != nil {
		return model.Epoch{}, err
	}
	sig := signer.Sign(h)
	stripped.Signing = &model.Signing{
		DeviceID: signer.DeviceID(),
		PublicKey: "ed25519:" + signer.PublicKeyHex(),
		Timestamp: now.UTC().Format(time.RFC3339),
		PayloadHash: hex.EncodeToString(h),
		Signature: "ed25519:" + hex.EncodeToString(sig),
	}
	return stripped, nil
}

// VerifyEpoch is VerifySample's analogue for epochs.
func VerifyEpoch(e model.Epoch) error {
	if e.Signing == nil {
		return errs.New(errs.CodeNoSignature, errs.ErrNoSignature)
	}
	envelope := *e.Signing
	stripped := e.Clone()
	h, err := HashDocument(stripped)
	if err != nil {
		return err
	}
	wantHash, err := hex.DecodeString(envelope.PayloadHash)
	if err != nil || !bytes.Equal(h, wantHash) {
		return errs.New(errs.CodeHashMismatch, errs.ErrHashMismatch)
	}
	pub, sig, err := decodeEnvelopeKeys(envelope)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, h, sig) {
		return errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	return nil
}

func decodeEnvelopeKeys(envelope model.Signing) (ed25519.PublicKey, []byte, error) {
	pubHex := trimAlgoPrefix(envelope.PublicKey)
	sigHex := trimAlgoPrefix(envelope.Signature)
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, nil, errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, nil, errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	return ed25519.PublicKey(pubBytes), sigBytes, nil
}

func trimAlgoPrefix(s string) string {
	const prefix = "ed25519:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

