package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Keys for the durable credential records and the volatile sign-in attempt
// state.
const (
	keyTokens    = "tokens"
	keyIdentity  = "identity"
	keyAuthState = "oauth_state"
)

// Storage is a minimal key/value namespace.
type Storage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string)
}

// MemoryStorage is a volatile store scoped to the process lifetime. It backs
// the in-flight anti-replay token; separate processes racing on the same
// sign-in attempt are outside the single-writer model and last writer wins.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStorage constructs the store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

// Get returns the value stored under key.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores or replaces the value under key.
func (s *MemoryStorage) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes the value under key.
func (s *MemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// FileStorage persists one JSON file per key under a state directory. It
// survives process restarts and is the durable backing for credentials.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the state directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the record stored under key.
func (s *FileStorage) Get(key string) ([]byte, bool) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set writes the record under key with owner-only permissions.
func (s *FileStorage) Set(key string, value []byte) error {
	return os.WriteFile(s.path(key), value, 0o600)
}

// Delete removes the record under key.
func (s *FileStorage) Delete(key string) {
	_ = os.Remove(s.path(key))
}

// NewAttemptID generates a random identifier used for states and nonces.
func NewAttemptID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("fallbackid"))
	}
	return hex.EncodeToString(buf)
}

// SaveAuthState records the anti-replay token for the current sign-in
// attempt under a fixed key.
func SaveAuthState(s Storage, state string) error {
	return s.Set(keyAuthState, []byte(state))
}

// ConsumeAuthState returns and removes the stored anti-replay token. The
// token never survives the read, match or not.
func ConsumeAuthState(s Storage) (string, bool) {
	b, ok := s.Get(keyAuthState)
	if !ok {
		return "", false
	}
	s.Delete(keyAuthState)
	return string(b), true
}

// CredentialStore owns the serialized token set and identity records.
// Corrupt records are deleted on read and reported as absent rather than
// failing the caller.
type CredentialStore struct {
	durable Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewCredentialStore constructs the store over a durable backing.
func NewCredentialStore(durable Storage, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{durable: durable, logger: logger, now: time.Now}
}

// SaveTokens persists a complete token set. Partial sets are rejected so a
// stored record is always either fully present or absent.
func (c *CredentialStore) SaveTokens(ts TokenSet) error {
	if !ts.Complete() {
		return errors.New("refusing to persist partial token set")
	}
	b, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	return c.durable.Set(keyTokens, b)
}

// LoadTokens returns the stored token set if present and live. Expired or
// corrupt records are deleted as a side effect, so callers never re-check
// expiry themselves.
func (c *CredentialStore) LoadTokens() (TokenSet, bool) {
	b, ok := c.durable.Get(keyTokens)
	if !ok {
		return TokenSet{}, false
	}
	var ts TokenSet
	if err := json.Unmarshal(b, &ts); err != nil {
		c.logger.Warn("self-healing credential store", "error", newCorruptStorageError(keyTokens, err))
		c.durable.Delete(keyTokens)
		return TokenSet{}, false
	}
	if !ts.Complete() || ts.Expired(c.now()) {
		c.durable.Delete(keyTokens)
		return TokenSet{}, false
	}
	return ts, true
}

// ClearTokens removes the token record only.
func (c *CredentialStore) ClearTokens() {
	c.durable.Delete(keyTokens)
}

// SaveIdentity mirrors the current identity to durable storage.
func (c *CredentialStore) SaveIdentity(id Identity) error {
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return c.durable.Set(keyIdentity, b)
}

// LoadIdentity returns the persisted identity if present and well-formed.
func (c *CredentialStore) LoadIdentity() (Identity, bool) {
	b, ok := c.durable.Get(keyIdentity)
	if !ok {
		return Identity{}, false
	}
	var id Identity
	if err := json.Unmarshal(b, &id); err != nil {
		c.logger.Warn("self-healing credential store", "error", newCorruptStorageError(keyIdentity, err))
		c.durable.Delete(keyIdentity)
		return Identity{}, false
	}
	if id.Email == "" {
		c.durable.Delete(keyIdentity)
		return Identity{}, false
	}
	return id, true
}

// ClearAll removes tokens and identity. Safe to call when nothing is stored.
func (c *CredentialStore) ClearAll() {
	c.durable.Delete(keyTokens)
	c.durable.Delete(keyIdentity)
}
