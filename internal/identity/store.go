package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/pixelcraft-studio/portal/supabase/client"
)

var (
	hkdfSalt = []byte("pixelcraft-session")
	hkdfInfo = []byte("session-file-v1")
)

// ErrSealed is returned when a sealed session file is read without a secret
// or with the wrong one.
var ErrSealed = errors.New("session file is sealed with a different secret")

// Store persists the session on disk. With a secret the file is sealed with
// NaCl secretbox under a key derived by HKDF-SHA256.
type Store struct {
	path string
	key  *[32]byte
}

type sealedFile struct {
	Version int    `json:"version"`
	Sealed  []byte `json:"sealed"`
}

// NewStore creates a store at path. An empty secret stores plain JSON.
func NewStore(path, secret string) (*Store, error) {
	s := &Store{path: path}
	if secret == "" {
		return s, nil
	}
	key := new([32]byte)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key[:]); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	s.key = key
	return s, nil
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Load returns the stored session, or nil when there is none.
func (s *Store) Load() (*client.Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sealed sealedFile
	if err := json.Unmarshal(data, &sealed); err == nil && len(sealed.Sealed) > 0 {
		if s.key == nil || len(sealed.Sealed) < 24 {
			return nil, ErrSealed
		}
		var nonce [24]byte
		copy(nonce[:], sealed.Sealed[:24])
		plain, ok := secretbox.Open(nil, sealed.Sealed[24:], &nonce, s.key)
		if !ok {
			return nil, ErrSealed
		}
		data = plain
	}

	var session client.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if session.AccessToken == "" {
		return nil, nil
	}
	return &session, nil
}

// Save writes session atomically with owner-only permissions.
func (s *Store) Save(session *client.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if s.key != nil {
		var nonce [24]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return fmt.Errorf("session nonce: %w", err)
		}
		box := secretbox.Seal(nonce[:], data, &nonce, s.key)
		data, err = json.Marshal(sealedFile{Version: 1, Sealed: box})
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the stored session.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
