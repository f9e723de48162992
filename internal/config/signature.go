package config

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/model"
)

// verifyUpdateSignature checks update.Signing against trustedKey. The
// envelope is stripped before hashing exactly like a Sample/Epoch
// signature, so a remote update is hashed and verified the same way every
// other signed document in this repo is.
func verifyUpdateSignature(update model.RemoteConfigUpdate, trustedKey ed25519.PublicKey) error {
	if update.Signing == nil {
		return errs.New(errs.CodeNoSignature, errs.ErrNoSignature)
	}
	envelope := *update.Signing
	update.Signing = nil

	h, err := canon.HashDocument(update)
	if err != nil {
		return err
	}

	wantHash, err := hex.DecodeString(envelope.PayloadHash)
	if err != nil || !bytes.Equal(h, wantHash) {
		return errs.New(errs.CodeHashMismatch, errs.ErrHashMismatch)
	}

	sigHex := strings.TrimPrefix(envelope.Signature, "ed25519:")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	if !ed25519.Verify(trustedKey, h, sig) {
		return errs.New(errs.CodeBadSignature, errs.ErrBadSignature)
	}
	return nil
}
