package model

// IdentitySnapshot is the device-identity block embedded in an evidence
// pack's device_identity.json document.
type IdentitySnapshot struct {
	DeviceID string `json:"device_id"`
	Hardware HardwareBlock `json:"hardware"`
	Crypto CryptoBlock `json:"cryptography"`
	Registration RegistrationBlock `json:"registration"`
}

type HardwareBlock struct {
	Platform string `json:"platform"`
}

type CryptoBlock struct {
	KeyAlgorithm string `json:"key_algorithm"`
	PublicKeyHex string `json:"public_key_hex"`
}

type RegistrationBlock struct {
	CreatedAt string `json:"created_at"`
}

// SamplesDocument is the samples.json document inside an evidence pack.
type SamplesDocument struct {
	SchemaVersion int `json:"schema_version"`
	EpochID string `json:"epoch_id"`
	SampleIntervalSeconds int `json:"sample_interval_seconds"`
	Samples []Sample `json:"samples"`
}

// LeafHashesDocument is the leaf_hashes.json document inside an evidence pack.
type LeafHashesDocument struct {
	EpochID string `json:"epoch_id"`
	HashAlgorithm string `json:"hash_algorithm"`
	Leaves []string `json:"leaves"`
	MerkleRoot string `json:"merkle_root"`
}

// PackMetadata is the metadata.json document inside an evidence pack.
type PackMetadata struct {
	EpochID string `json:"epoch_id"`
	DeviceID string `json:"device_id"`
	PackHash string `json:"pack_hash"`
	SampleCount int `json:"sample_count"`
	CreatedAt string `json:"created_at"`
	StorageLocation string `json:"storage_location,omitempty"`
	IssuanceModel IssuanceModelSettings `json:"issuance_model"`
}

// IssuanceModelSettings records the issuance config that produced the epoch's
// issuance record, so the pack is self-describing.
type IssuanceModelSettings struct {
	BaseRate float64 `json:"base_rate"`
	BaselineEfficiency float64 `json:"baseline_efficiency"`
	EIMin float64 `json:"ei_min"`
	EIMax float64 `json:"ei_max"`
	BCAIScalar float64 `json:"bcai_scalar"`
	SamplesPerEvent int `json:"samples_per_event"`
}

// EvidencePack is the in-memory representation of the five-document archive.
// PackHash is populated after Archive bytes are computed.
type EvidencePack struct {
	Epoch Epoch
	Samples SamplesDocument
	Identity IdentitySnapshot
	LeafHashes LeafHashesDocument
	Metadata PackMetadata
	PackHash string
	ArchiveKey string
}
