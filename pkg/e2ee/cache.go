package e2ee

import (
	"sync"

	"github.com/google/uuid"
)

// KeyCache is the ephemeral per-client map of derived symmetric keys. Entries
// are keyed by peer user id and, when the originating device is known, by peer
// device id. Never persisted; cleared with the process.
type KeyCache struct {
	mu       sync.RWMutex
	byUser   map[uuid.UUID][32]byte
	byDevice map[uuid.UUID][32]byte
}

func NewKeyCache() *KeyCache {
	return &KeyCache{
		byUser:   make(map[uuid.UUID][32]byte),
		byDevice: make(map[uuid.UUID][32]byte),
	}
}

func (c *KeyCache) ByUser(userID uuid.UUID) ([32]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byUser[userID]
	return key, ok
}

func (c *KeyCache) ByDevice(deviceID uuid.UUID) ([32]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byDevice[deviceID]
	return key, ok
}

func (c *KeyCache) PutUser(userID uuid.UUID, key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[userID] = key
}

func (c *KeyCache) PutDevice(deviceID uuid.UUID, key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byDevice[deviceID] = key
}
