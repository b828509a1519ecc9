// Package secret implements at-rest encryption for connector credentials
// (spec §3's Secret.encrypted_value): AES-256-GCM, grounded on the same
// cipher/mode the teacher uses for provider-credential storage.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// ErrKeySize is returned when the encryption key isn't exactly 32 bytes.
var ErrKeySize = errors.New("secret: encryption key must be 32 bytes for AES-256")

// Cipher encrypts and decrypts secret values at rest.
type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from a 32-byte key (spec's gateway_fernet_key
// env var is reused as the AEAD key material, not as an actual Fernet key —
// see DESIGN.md's crypto-primitive-substitution note).
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext, returning base64(nonce || ciphertext || tag).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secret: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Authentication failure (wrong
// key, or the ciphertext was tampered with) returns an error rather than
// garbage plaintext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secret: decode base64: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secret: new gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("secret: ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secret: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Store persists Secrets with values always encrypted at rest.
type Store interface {
	Save(s *domain.Secret) error
	GetByName(orgID, name string) (*domain.Secret, error)
	List(orgID string) ([]*domain.Secret, error)
	Delete(orgID, id string) error
}

// AEAD is satisfied by both Cipher and pkg/kms.LocalKMS, so a Resolver can
// be backed by a single static key or by a rotation-capable keystore
// without its own code changing.
type AEAD interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Resolver decrypts named secrets for a connector invocation, so connectors
// never see a Store or its ciphertexts directly.
type Resolver struct {
	store  Store
	cipher AEAD
}

func NewResolver(store Store, cipher AEAD) *Resolver {
	return &Resolver{store: store, cipher: cipher}
}

// Save encrypts value and upserts the Secret row.
func (r *Resolver) Save(orgID, name, value, description, createdByUserID string) (*domain.Secret, error) {
	enc, err := r.cipher.Encrypt(value)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	existing, _ := r.store.GetByName(orgID, name)
	s := &domain.Secret{
		ID: uuid.New().String(), OrgID: orgID, Name: name,
		EncryptedValue: enc, Description: description,
		CreatedByUserID: createdByUserID, CreatedAt: now, UpdatedAt: now,
	}
	if existing != nil {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
	}
	if err := r.store.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve decrypts the named secrets for one connector call. Missing names
// are simply absent from the result (callers decide whether that's fatal).
func (r *Resolver) Resolve(orgID string, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		s, err := r.store.GetByName(orgID, name)
		if err != nil {
			return nil, fmt.Errorf("secret: lookup %q: %w", name, err)
		}
		if s == nil {
			continue
		}
		plain, err := r.cipher.Decrypt(s.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("secret: decrypt %q: %w", name, err)
		}
		out[name] = plain
	}
	return out, nil
}

// MemoryStore is an in-process Store, used by tests and demo mode.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*domain.Secret // keyed by ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]*domain.Secret)}
}

func (s *MemoryStore) Save(sec *domain.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sec
	s.secrets[sec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByName(orgID, name string) (*domain.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sec := range s.secrets {
		if sec.OrgID == orgID && sec.Name == name {
			cp := *sec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(orgID string) ([]*domain.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Secret, 0)
	for _, sec := range s.secrets {
		if sec.OrgID == orgID {
			cp := *sec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec, ok := s.secrets[id]; ok && sec.OrgID == orgID {
		delete(s.secrets, id)
	}
	return nil
}
