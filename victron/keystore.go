package victron

import (
	"strings"
	"sync"
)

// KeyStore maps normalized device addresses to their AES keys
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]string)}
}

// SetEncryptionKey registers the key for a device, replacing any previous one
func (k *KeyStore) SetEncryptionKey(addr, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[NormalizeAddress(addr)] = strings.TrimSpace(key)
}

// EncryptionKey looks up the key for a device
func (k *KeyStore) EncryptionKey(addr string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[NormalizeAddress(addr)]
	return key, ok
}

// ClearEncryptionKeys removes every registered key
func (k *KeyStore) ClearEncryptionKeys() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = make(map[string]string)
}

// Len returns the number of registered keys
func (k *KeyStore) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
