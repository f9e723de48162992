package epoch

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/internal/issuance"
	"github.com/btfi/collector/model"
)

type fakeSigner struct {
	deviceID string
	pub ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (f fakeSigner) DeviceID() string { return f.deviceID }
func (f fakeSigner) PublicKeyHex() string { return hex.EncodeToString(f.pub) }
func (f fakeSigner) Sign(hash []byte) []byte {
	return ed25519.Sign(f.priv, hash)
}

func newFakeSigner(t *testing.T) fakeSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return fakeSigner{deviceID: "btfi-test", pub: pub, priv: priv}
}

func sampleAt(ts time.Time, cfm, power float64) model.Sample {
	return model.Sample{
		Timestamp: ts.UTC().Format(time.RFC3339),
		DeviceID: "btfi-test",
		Fan: model.Fan{CFM: cfm, RPM: 1500, PowerW: power},
	}
}

func TestBuffer_OpensAndClosesOnDuration(t *testing.T) {
	cfg := Config{Duration: 2 * time.Minute, NewID: func() string { return "epoch-1" }}
	buf := NewBuffer(cfg)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	shouldClose, err := buf.Add(sampleAt(base, 300, 30))
	require.NoError(t, err)
	require.False(t, shouldClose)
	require.True(t, buf.IsOpen())
	require.Equal(t, 1, buf.Len())

	shouldClose, err = buf.Add(sampleAt(base.Add(2*time.Minute), 300, 30))
	require.NoError(t, err)
	require.True(t, shouldClose)
	require.Equal(t, 2, buf.Len())
}

func TestBuffer_Close_ProducesSignedEpochWithIssuance(t *testing.T) {
	cfg := Config{Duration: time.Minute, NewID: func() string { return "epoch-1" }}
	buf := NewBuffer(cfg)
	signer := newFakeSigner(t)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	_, err := buf.Add(sampleAt(base, 300, 30))
	require.NoError(t, err)
	_, err = buf.Add(sampleAt(base.Add(30*time.Second), 300, 30))
	require.NoError(t, err)

	var ledger issuance.Ledger
	ep, samples, err := buf.Close(signer, issuance.Default(), &ledger, base.Add(time.Minute))
	require.NoError(t, err)

	require.Equal(t, "epoch-1", ep.EpochID)
	require.Equal(t, 2, ep.SampleCount)
	require.Len(t, ep.LeafHashes, 2)
	require.Len(t, samples, 2)
	require.NotEmpty(t, ep.MerkleRoot)
	require.NotNil(t, ep.Signing)
	require.NotNil(t, ep.Issuance)
	require.False(t, buf.IsOpen())
	require.Equal(t, 0, buf.Len())
}

func TestBuffer_Close_EmptyBufferErrors(t *testing.T) {
	cfg := Config{Duration: time.Minute, NewID: func() string { return "epoch-1" }}
	buf := NewBuffer(cfg)
	signer := newFakeSigner(t)

	var ledger issuance.Ledger
	_, _, err := buf.Close(signer, issuance.Default(), &ledger, time.Now())
	require.Error(t, err)
}
