package config

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/btfi/collector/internal/obslog"
)

// KeyWatcher watches a trusted-operator-key file and reloads the key it
// returns from Key whenever the file changes. A Manager keeps the key it was
// given by Load, so a reload does not change the key ApplyRemote checks
// remote updates against until the process restarts.
type KeyWatcher struct {
	log *obslog.Logger
	path string
	watcher *fsnotify.Watcher
	current atomic.Value // ed25519.PublicKey
}

// WatchTrustedKey loads path once and starts watching its containing
// directory for writes (watching the directory is more reliable than
// watching the file handle directly across editors that replace-on-save).
func WatchTrustedKey(path string) (*KeyWatcher, error) {
	key, err := readTrustedKeyFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create key watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	kw := &KeyWatcher{log: obslog.With("config.keywatch"), path: path, watcher: watcher}
	kw.current.Store(key)
	return kw, nil
}

// Key returns the currently trusted operator public key.
func (kw *KeyWatcher) Key() ed25519.PublicKey {
	return kw.current.Load().(ed25519.PublicKey)
}

// Run drains filesystem events until ctx is canceled, reloading the key on
// every write to the watched file.
func (kw *KeyWatcher) Run(ctx context.Context) error {
	defer kw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-kw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != kw.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			key, err := readTrustedKeyFile(kw.path)
			if err != nil {
				kw.log.Errorf("reload trusted key: %v", err)
				continue
			}
			kw.current.Store(key)
			kw.log.Infof("reloaded trusted operator key from %s", kw.path)
		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return nil
			}
			kw.log.Errorf("key watcher: %v", err)
		}
	}
}

func readTrustedKeyFile(path string) (ed25519.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read trusted key %s: %w", path, err)
	}
	hexKey := strings.TrimSpace(string(b))
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("config: %s does not contain a valid hex ed25519 public key", path)
	}
	return ed25519.PublicKey(raw), nil
}
