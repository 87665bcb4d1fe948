package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/spf13/afero"
)

// ErrNoCache means nothing has been persisted yet.
var ErrNoCache = errors.New("no credential cache")

// CacheStore persists the serialized token cache.
type CacheStore interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStore keeps the cache in a single file readable only by its owner.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a FileStore at path on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Load reads the cache file.
func (s *FileStore) Load() ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}
	return data, nil
}

// Save rewrites the cache file with mode 0600.
func (s *FileStore) Save(data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token cache dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := s.fs.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("restricting token cache: %w", err)
	}
	return nil
}

const (
	keyringService = "ovenmitt"
	keyringKey     = "msal-token-cache"
)

// OpenKeyring returns the platform keyring used for the token cache.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/ovenmitt/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("ovenmitt-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps the cache as one keyring item.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore wraps ring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load returns the stored cache.
func (s *KeyringStore) Load() ([]byte, error) {
	item, err := s.ring.Get(keyringKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("getting token cache from keyring: %w", err)
	}
	return item.Data, nil
}

// Save replaces the stored cache.
func (s *KeyringStore) Save(data []byte) error {
	err := s.ring.Set(keyring.Item{
		Key:         keyringKey,
		Data:        data,
		Label:       "OvenMitt mail token cache",
		Description: "MSAL token cache",
	})
	if err != nil {
		return fmt.Errorf("setting token cache in keyring: %w", err)
	}
	return nil
}
