// Package evidencepack builds and optionally uploads the five-document
// evidence archive for a sealed epoch.
package evidencepack

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/model"
)

// Uploader is the narrow object-storage capability evidencepack depends on,
// following the same ObjectWriter split used elsewhere in this module:
// callers depend on "can accept bytes at a key with metadata", not a
// concrete Azure client.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error
}

// Config carries the issuance model descriptor and sample interval embedded
// in the pack documents. RetainLocal is not read by this package: Build keeps
// the archive in memory only and no local copy is written or deleted.
type Config struct {
	RetainLocal bool
	Issuance model.IssuanceModelSettings
	SampleInterval int
}

// Build assembles the five canonical documents into a zip archive and
// computes the pack's content identity hash. It does not touch local disk
// or object storage — callers decide what to do with the returned bytes.
//
// PackHash is the SHA-256 over the four content documents (epoch, samples,
// device_identity, leaf_hashes) in their fixed layout order, not over the
// returned archive's raw zip bytes: metadata.json embeds PackHash, so it
// cannot also be an input to its own computation. Recomputing the hash of
// those same four documents once extracted from the archive reproduces
// the advertised PackHash.
func Build(cfg Config, ep model.Epoch, samples []model.Sample, identity model.IdentitySnapshot, createdAt time.Time) (model.EvidencePack, []byte, error) {
	pack := model.EvidencePack{
		Epoch: ep,
		Samples: model.SamplesDocument{
			SchemaVersion: 1,
			EpochID: ep.EpochID,
			SampleIntervalSeconds: cfg.SampleInterval,
			Samples: samples,
		},
		Identity: identity,
		LeafHashes: model.LeafHashesDocument{
			EpochID: ep.EpochID,
			HashAlgorithm: "sha256",
			Leaves: ep.LeafHashes,
			MerkleRoot: ep.MerkleRoot,
		},
	}

	hash, err := contentHash(pack)
	if err != nil {
		return model.EvidencePack{}, nil, err
	}
	pack.PackHash = hex.EncodeToString(hash[:])
	pack.Metadata = model.PackMetadata{
		EpochID: ep.EpochID,
		DeviceID: identity.DeviceID,
		PackHash: pack.PackHash,
		SampleCount: ep.SampleCount,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
		IssuanceModel: cfg.Issuance,
	}

	archive, err := archiveOf(pack)
	if err != nil {
		return model.EvidencePack{}, nil, err
	}

	return pack, archive, nil
}

// contentDocs lists the pack's content documents (excluding metadata.json,
// which references the hash of these documents rather than contributing
// to it) in the fixed order contentHash and archiveOf both use.
func contentDocs(pack model.EvidencePack) []struct {
	name string
	v any
} {
	return []struct {
		name string
		v any
	}{
		{"epoch.json", pack.Epoch},
		{"samples.json", pack.Samples},
		{"device_identity.json", pack.Identity},
		{"leaf_hashes.json", pack.LeafHashes},
	}
}

func contentHash(pack model.EvidencePack) ([32]byte, error) {
	h := sha256.New()
	for _, d := range contentDocs(pack) {
		b, err := canon.Marshal(d.v)
		if err != nil {
			return [32]byte{}, fmt.Errorf("evidencepack: canonicalize %s: %w", d.name, err)
		}
		h.Write(b)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func archiveOf(pack model.EvidencePack) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	docs := append(contentDocs(pack), struct {
		name string
		v any
	}{"metadata.json", pack.Metadata})

	for _, d := range docs {
		b, err := canon.Marshal(d.v)
		if err != nil {
			return nil, fmt.Errorf("evidencepack: canonicalize %s: %w", d.name, err)
		}
		w, err := zw.Create(d.name)
		if err != nil {
			return nil, fmt.Errorf("evidencepack: create %s: %w", d.name, err)
		}
		if _, err := w.Write(b); err != nil {
			return nil, fmt.Errorf("evidencepack: write %s: %w", d.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("evidencepack: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// BlobKey returns the object-storage key for an epoch's pack:
// epochs/{device_id}/{YYYY}/{MM}/{DD}/{epoch_id}.zip.
func BlobKey(deviceID, epochID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("epochs/%s/%04d/%02d/%02d/%s.zip", deviceID, at.Year(), at.Month(), at.Day(), epochID)
}

// Upload ships archive to object storage under its epoch key, with the
// object metadata specifies. A storage error is returned as-is —
// this component never retries; the uplink worker is the retry-bearing
// surface for resilience.
func Upload(ctx context.Context, uploader Uploader, pack model.EvidencePack, archive []byte, at time.Time) error {
	key := BlobKey(pack.Metadata.DeviceID, pack.Epoch.EpochID, at)
	metadata := map[string]string{
		"epoch_id": pack.Epoch.EpochID,
		"device_id": pack.Metadata.DeviceID,
		"sha256": pack.PackHash,
		"sample_count": fmt.Sprintf("%d", pack.Metadata.SampleCount),
	}
	if err := uploader.Put(ctx, key, archive, metadata); err != nil {
		return fmt.Errorf("evidencepack: upload: %w", err)
	}
	return nil
}
