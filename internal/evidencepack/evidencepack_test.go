package evidencepack

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/model"
)

func TestBuild_ProducesFiveDocumentArchive(t *testing.T) {
	cfg := Config{SampleInterval: 60}
	ep := model.Epoch{EpochID: "epoch-1", SampleCount: 2, MerkleRoot: "abcd", LeafHashes: []string{"a", "b"}}
	samples := []model.Sample{{DeviceID: "btfi-test"}, {DeviceID: "btfi-test"}}
	identity := model.IdentitySnapshot{DeviceID: "btfi-test"}

	pack, archive, err := Build(cfg, ep, samples, identity, time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotEmpty(t, pack.PackHash)
	require.Equal(t, "epoch-1", pack.Metadata.EpochID)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.ElementsMatch(t, []string{"epoch.json", "samples.json", "device_identity.json", "leaf_hashes.json", "metadata.json"}, names)
}

func TestBuild_PackHashReproducesFromArchiveContentDocuments(t *testing.T) {
	cfg := Config{SampleInterval: 60}
	ep := model.Epoch{EpochID: "epoch-1", SampleCount: 2, MerkleRoot: "abcd", LeafHashes: []string{"a", "b"}}
	samples := []model.Sample{{DeviceID: "btfi-test"}, {DeviceID: "btfi-test"}}
	identity := model.IdentitySnapshot{DeviceID: "btfi-test"}

	pack, archive, err := Build(cfg, ep, samples, identity, time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	byName := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		byName[f.Name] = b
	}

	h := sha256.New()
	for _, name := range []string{"epoch.json", "samples.json", "device_identity.json", "leaf_hashes.json"} {
		h.Write(byName[name])
	}
	require.Equal(t, pack.PackHash, hex.EncodeToString(h.Sum(nil)))

	// metadata.json's own embedded pack_hash matches too, and is not itself
	// part of the hashed content (it couldn't self-reference).
	require.Contains(t, string(byName["metadata.json"]), pack.PackHash)
}

func TestBlobKey_MatchesSpecShape(t *testing.T) {
	key := BlobKey("btfi-test", "epoch-1", time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "epochs/btfi-test/2026/01/20/epoch-1.zip", key)
}

type fakeUploader struct {
	key string
	body []byte
	metadata map[string]string
}

func (f *fakeUploader) Put(_ context.Context, key string, body []byte, metadata map[string]string) error {
	f.key, f.body, f.metadata = key, body, metadata
	return nil
}

func TestUpload_PassesArchiveAndMetadata(t *testing.T) {
	cfg := Config{SampleInterval: 60}
	ep := model.Epoch{EpochID: "epoch-1", SampleCount: 2}
	identity := model.IdentitySnapshot{DeviceID: "btfi-test"}
	pack, archive, err := Build(cfg, ep, nil, identity, time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	up := &fakeUploader{}
	require.NoError(t, Upload(context.Background(), up, pack, archive, time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)))

	require.Equal(t, "epochs/btfi-test/2026/01/20/epoch-1.zip", up.key)
	require.Equal(t, archive, up.body)
	require.Equal(t, pack.PackHash, up.metadata["sha256"])
}
