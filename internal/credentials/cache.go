package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/argon2"
)

// CacheTier persists serialized credentials across process restarts.
// Distinct from the secure OS store; reads never prompt.
type CacheTier interface {
	Load(ctx context.Context, key Key) (*CacheEntry, error)
	Store(ctx context.Context, key Key, entry *CacheEntry) error
	Clear(ctx context.Context, key Key) error
}

// MemoryTier is a CacheTier backed by a map. Used in tests and as the
// fallback when no state directory is available.
type MemoryTier struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: map[string]CacheEntry{}}
}

func (m *MemoryTier) Load(_ context.Context, key Key) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key.String()]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &entry, nil
}

func (m *MemoryTier) Store(_ context.Context, key Key, entry *CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = *entry
	return nil
}

func (m *MemoryTier) Clear(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}

type encryptedPayload struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptedFileCache is the on-disk CacheTier: one AES-256-GCM encrypted
// file holding all entries, key derived with argon2id from a random
// machine-local keyfile created on first use. A corrupt or undecryptable
// file is treated as empty and overwritten on the next store.
type EncryptedFileCache struct {
	mu       sync.Mutex
	filePath string
	keyPath  string
}

func NewEncryptedFileCache(stateDir string) (*EncryptedFileCache, error) {
	if stateDir == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &EncryptedFileCache{
		filePath: filepath.Join(stateDir, "credentials.cache"),
		keyPath:  filepath.Join(stateDir, "cache.key"),
	}, nil
}

func (c *EncryptedFileCache) Load(_ context.Context, key Key) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.loadLocked()
	if err != nil {
		return nil, err
	}
	entry, ok := entries[key.String()]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	if !entry.Credential.Valid() {
		// Purge the unusable entry so the next read is a clean miss.
		delete(entries, key.String())
		_ = c.saveLocked(entries)
		return nil, &DecodeError{Tier: "cache", Err: fmt.Errorf("entry for %s holds no token material", key)}
	}
	return &entry, nil
}

func (c *EncryptedFileCache) Store(_ context.Context, key Key, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.loadLocked()
	if err != nil {
		entries = map[string]CacheEntry{}
	}
	entries[key.String()] = *entry
	return c.saveLocked(entries)
}

func (c *EncryptedFileCache) Clear(_ context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.loadLocked()
	if err != nil {
		return nil
	}
	delete(entries, key.String())
	return c.saveLocked(entries)
}

func (c *EncryptedFileCache) loadLocked() (map[string]CacheEntry, error) {
	lock := flock.New(c.filePath + ".lock")
	if err := lock.RLock(); err == nil {
		defer lock.Unlock()
	}
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]CacheEntry{}, nil
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(data) == 0 {
		return map[string]CacheEntry{}, nil
	}
	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]CacheEntry{}, nil
	}
	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return map[string]CacheEntry{}, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return map[string]CacheEntry{}, nil
	}
	cipherText, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return map[string]CacheEntry{}, nil
	}
	passphrase, err := c.loadKeyLocked(false)
	if err != nil {
		return map[string]CacheEntry{}, nil
	}
	plain, err := decrypt(passphrase, salt, nonce, cipherText)
	if err != nil {
		// Undecryptable cache (rotated keyfile, truncated write): start over.
		return map[string]CacheEntry{}, nil
	}
	var entries map[string]CacheEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return map[string]CacheEntry{}, nil
	}
	if entries == nil {
		entries = map[string]CacheEntry{}
	}
	return entries, nil
}

func (c *EncryptedFileCache) saveLocked(entries map[string]CacheEntry) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	passphrase, err := c.loadKeyLocked(true)
	if err != nil {
		return err
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("create salt: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("create nonce: %w", err)
	}
	cipherText, err := encrypt(passphrase, salt, nonce, plain)
	if err != nil {
		return fmt.Errorf("encrypt cache: %w", err)
	}
	payload := encryptedPayload{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(cipherText),
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	lock := flock.New(c.filePath + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}
	return atomicWriteFile(c.filePath, out, 0600)
}

func (c *EncryptedFileCache) loadKeyLocked(create bool) ([]byte, error) {
	data, err := os.ReadFile(c.keyPath)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	if !create {
		return nil, fmt.Errorf("cache keyfile missing")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("create cache key: %w", err)
	}
	if err := atomicWriteFile(c.keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("write cache key: %w", err)
	}
	return key, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func encrypt(passphrase, salt, nonce, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plain, nil), nil
}

func decrypt(passphrase, salt, nonce, cipherText []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, cipherText, nil)
}
