package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// FileStore keeps the token as JSON in a file readable only by the owner.
type FileStore struct {
	Path string
}

func (s FileStore) Load() (*oauth2.Token, error) {
	if s.Path == "" {
		return nil, ErrTokenNotSet
	}

	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrTokenNotSet
		}
		return nil, fmt.Errorf("os.Open failed: %w", err)
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("json.NewDecoder.Decode failed: %w", err)
	}

	return token, nil
}

func (s FileStore) Save(token *oauth2.Token) error {
	if s.Path == "" {
		return nil
	}

	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("os.OpenFile failed: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("json.NewEncoder.Encode failed: %w", err)
	}

	return nil
}

const (
	keyringService = "gmail-analyzer"
	keyringKey     = "oauth-token"
)

// KeyringStore keeps the token in the OS keyring.
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyring opens the system keyring, falling back to an encrypted file under dir.
func OpenKeyring(dir string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(keyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("keyring.Open failed: %w", err)
	}

	return NewKeyringStore(ring), nil
}

// NewKeyringStore stores the token in ring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring, key: keyringKey}
}

func (s *KeyringStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrTokenNotSet
	}
	if err != nil {
		return nil, fmt.Errorf("ring.Get failed: %w", err)
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(item.Data, token); err != nil {
		return nil, fmt.Errorf("json.Unmarshal failed: %w", err)
	}

	return token, nil
}

func (s *KeyringStore) Save(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %w", err)
	}

	if err := s.ring.Set(keyring.Item{
		Key:   s.key,
		Data:  data,
		Label: "Gmail analyzer OAuth token",
	}); err != nil {
		return fmt.Errorf("ring.Set failed: %w", err)
	}

	return nil
}
