// Package identity owns the device's one Ed25519 keypair for its entire
// process lifetime. The private key never leaves this package;
// other components sign through Identity.Sign.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/internal/obslog"
)

const (
	privateKeyFile = "device.key.pem"
	publicKeyFile = "device.pub.pem"
	identityFile = "identity.json"
)

// Record is the persisted identity.json document.
type Record struct {
	DeviceID string `json:"device_id"`
	CreatedAt string `json:"created_at"`
	KeyAlgorithm string `json:"key_algorithm"`
	PublicKeyHex string `json:"public_key_hex"`
}

// Identity holds the live keypair and its derived identity.
type Identity struct {
	pub ed25519.PublicKey
	priv ed25519.PrivateKey
	record Record
	log *obslog.Logger
}

// DeviceID derives "btfi-" + hex(sha256(pub)[:8]).
func DeviceID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "btfi-" + hex.EncodeToString(sum[:8])
}

// Load loads an existing identity from dir, or generates and persists a new
// one on first run. A mismatch between the persisted and
// re-derived device_id is fatal (IdentityUnavailable).
func Load(dir string) (*Identity, error) {
	log := obslog.With("identity")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("create identity dir: %w", err))
	}

	privPath := filepath.Join(dir, privateKeyFile)
	if _, err := os.Stat(privPath); os.IsNotExist(err) {
		return generate(dir, log)
	} else if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, err)
	}
	return load(dir, log)
}

func generate(dir string, log *obslog.Logger) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("generate keypair: %w", err))
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o400); err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("write private key: %w", err))
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o444); err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("write public key: %w", err))
	}

	rec := Record{
		DeviceID: DeviceID(pub),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		KeyAlgorithm: "Ed25519",
		PublicKeyHex: hex.EncodeToString(pub),
	}
	if err := writeIdentityJSON(dir, rec); err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, err)
	}

	log.Infof("generated new device identity %s", rec.DeviceID)
	return &Identity{pub: pub, priv: priv, record: rec, log: log}, nil
}

func load(dir string, log *obslog.Logger) (*Identity, error) {
	privPEMBytes, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("read private key: %w", err))
	}
	block, _ := pem.Decode(privPEMBytes)
	if block == nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("malformed private key PEM"))
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("parse private key: %w", err))
	}
	priv, ok := keyAny.(ed25519.PrivateKey)
	if !ok {
		return nil, errs.New(errs.CodeIdentityUnavailable, fmt.Errorf("private key is not Ed25519"))
	}
	pub := priv.Public().(ed25519.PublicKey)

	rec, err := readIdentityJSON(dir)
	if err != nil {
		return nil, errs.New(errs.CodeIdentityUnavailable, err)
	}
	derived := DeviceID(pub)
	if rec.DeviceID != derived {
		return nil, errs.New(errs.CodeIdentityUnavailable,
			fmt.Errorf("persisted device_id %q does not match derived %q", rec.DeviceID, derived))
	}

	log.Infof("loaded device identity %s", rec.DeviceID)
	return &Identity{pub: pub, priv: priv, record: rec, log: log}, nil
}

func writeIdentityJSON(dir string, rec Record) error {
	b, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, identityFile), b, 0o444)
}

func readIdentityJSON(dir string) (Record, error) {
	b, err := os.ReadFile(filepath.Join(dir, identityFile))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (id *Identity) DeviceID() string { return id.record.DeviceID }
func (id *Identity) PublicKeyHex() string { return id.record.PublicKeyHex }
func (id *Identity) CreatedAt() string { return id.record.CreatedAt }
func (id *Identity) PublicKey() ed25519.PublicKey { return id.pub }

// Sign signs hash with the device's private key. hash never leaves this
// call as anything but a signature.
func (id *Identity) Sign(hash []byte) []byte {
	return ed25519.Sign(id.priv, hash)
}

// Verify checks sig over hash under the device's own public key.
func (id *Identity) Verify(hash []byte, sig []byte) bool {
	return ed25519.Verify(id.pub, hash, sig)
}
