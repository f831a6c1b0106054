package e2ee

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeviceKey is one public key from the peer's key registry. Revoked keys are
// still candidates: historical ciphertext must remain decryptable.
type DeviceKey struct {
	DeviceID uuid.UUID
	Public   [32]byte
	Revoked  bool
}

// Directory looks up the peer's registered device keys, revoked ones included.
// Backed by the key registry's REST surface in a real client.
type Directory interface {
	DeviceKeys(ctx context.Context, userID uuid.UUID) ([]DeviceKey, error)
}

type Status int

const (
	// StatusPending means no decryption attempt has run yet.
	StatusPending Status = iota
	StatusDecrypted
	// StatusRetrying is transient: a retry round is scheduled.
	StatusRetrying
	// StatusFailed is permanent and user-visible, distinct from retrying;
	// the ciphertext stays intact for a manual future retry.
	StatusFailed
)

// CipherMessage is a received message to decrypt. PeerDeviceID is the sender's
// device hint when the message carries one; the message is otherwise not
// self-describing about which device pair produced it.
type CipherMessage struct {
	ID           uuid.UUID
	PeerUserID   uuid.UUID
	PeerDeviceID *uuid.UUID
	Ciphertext   []byte
	Nonce        []byte
}

const (
	defaultFirstRetry  = 2 * time.Second
	defaultSecondRetry = 10 * time.Second
	maxRetries         = 2
)

// Decryptor runs the multi-candidate decryption ladder: cached keys first (by
// peer user, then by the hinted device), then the hinted sender device's
// registered key, then every key the peer ever registered.
// Each candidate key is tried at most once per round. A message that defeats
// the whole ladder gets exactly two scheduled retries before settling into
// permanent failure.
type Decryptor struct {
	private     [32]byte
	cache       *KeyCache
	dir         Directory
	firstRetry  time.Duration
	secondRetry time.Duration

	// onDecrypted fires for retry successes, not first-attempt ones; the
	// caller already has the plaintext in hand on the synchronous path.
	onDecrypted func(id uuid.UUID, plaintext []byte)

	mu     sync.Mutex
	states map[uuid.UUID]*messageState
}

type messageState struct {
	status   Status
	round    int
	timer    *time.Timer
	msg      CipherMessage
	deferred []func()
}

type DecryptorOption func(*Decryptor)

// WithRetryDelays overrides the two retry delays; tests shrink them.
func WithRetryDelays(first, second time.Duration) DecryptorOption {
	return func(d *Decryptor) {
		d.firstRetry = first
		d.secondRetry = second
	}
}

// WithDecryptedCallback registers the hook invoked when a scheduled retry
// recovers a message.
func WithDecryptedCallback(fn func(id uuid.UUID, plaintext []byte)) DecryptorOption {
	return func(d *Decryptor) { d.onDecrypted = fn }
}

func NewDecryptor(private [32]byte, dir Directory, opts ...DecryptorOption) *Decryptor {
	d := &Decryptor{
		private:     private,
		cache:       NewKeyCache(),
		dir:         dir,
		firstRetry:  defaultFirstRetry,
		secondRetry: defaultSecondRetry,
		states:      make(map[uuid.UUID]*messageState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decryptor) Cache() *KeyCache { return d.cache }

// Decrypt attempts the ladder once. On failure the message enters the retry
// schedule and the returned status is StatusRetrying; the plaintext, when a
// retry eventually recovers it, arrives through the decrypted callback.
func (d *Decryptor) Decrypt(ctx context.Context, msg CipherMessage) ([]byte, Status) {
	// Legacy plaintext-compatibility path: no nonce means the payload was
	// never encrypted.
	if len(msg.Nonce) == 0 {
		d.setStatus(msg.ID, StatusDecrypted)
		return msg.Ciphertext, StatusDecrypted
	}

	if plaintext, ok := d.tryCandidates(ctx, msg); ok {
		d.finish(msg.ID, plaintext, false)
		return plaintext, StatusDecrypted
	}

	d.scheduleRetry(msg)
	return nil, StatusRetrying
}

// DeferUntilDecrypted withholds a side effect (typically mark-read) until the
// message decrypts. If it already has, the effect runs immediately; if the
// message has permanently failed, it is dropped.
func (d *Decryptor) DeferUntilDecrypted(id uuid.UUID, fn func()) {
	d.mu.Lock()
	st, ok := d.states[id]
	if ok && st.status == StatusRetrying {
		st.deferred = append(st.deferred, fn)
		d.mu.Unlock()
		return
	}
	status := StatusPending
	if ok {
		status = st.status
	}
	d.mu.Unlock()
	if status == StatusDecrypted {
		fn()
	}
}

// Cancel stops any scheduled retries, for when the message is deleted or the
// conversation is torn down before a timer fires.
func (d *Decryptor) Cancel(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[id]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(d.states, id)
	}
}

func (d *Decryptor) Status(id uuid.UUID) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[id]; ok {
		return st.status
	}
	return StatusPending
}

// tryCandidates walks the ordered candidate strategies, trying each derived
// key at most once per round.
func (d *Decryptor) tryCandidates(ctx context.Context, msg CipherMessage) ([]byte, bool) {
	var tried [][32]byte
	attempt := func(key [32]byte) ([]byte, bool) {
		for _, seen := range tried {
			if bytes.Equal(seen[:], key[:]) {
				return nil, false
			}
		}
		tried = append(tried, key)
		plaintext, err := Decrypt(msg.Ciphertext, msg.Nonce, key)
		return plaintext, err == nil
	}

	// 1. Cached key for the peer user, the legacy single-device mode.
	if key, ok := d.cache.ByUser(msg.PeerUserID); ok {
		if plaintext, ok := attempt(key); ok {
			return plaintext, true
		}
	}

	// 2. Cached key for the hinted device. A hit skips both the registry
	// round trip and the derivation.
	if msg.PeerDeviceID != nil {
		if key, ok := d.cache.ByDevice(*msg.PeerDeviceID); ok {
			if plaintext, ok := attempt(key); ok {
				d.cache.PutUser(msg.PeerUserID, key)
				return plaintext, true
			}
		}
	}

	keys, err := d.dir.DeviceKeys(ctx, msg.PeerUserID)
	if err != nil {
		return nil, false
	}

	// 3. The hinted sender device's registered key, freshly derived.
	if msg.PeerDeviceID != nil {
		for _, dk := range keys {
			if dk.DeviceID != *msg.PeerDeviceID {
				continue
			}
			key, derr := DeriveKey(d.private, dk.Public)
			if derr != nil {
				break
			}
			d.cache.PutDevice(dk.DeviceID, key)
			if plaintext, ok := attempt(key); ok {
				d.cache.PutUser(msg.PeerUserID, key)
				return plaintext, true
			}
			break
		}
	}

	// 4. Every key the peer ever registered, revoked ones included.
	for _, dk := range keys {
		key, derr := DeriveKey(d.private, dk.Public)
		if derr != nil {
			continue
		}
		if plaintext, ok := attempt(key); ok {
			d.cache.PutDevice(dk.DeviceID, key)
			d.cache.PutUser(msg.PeerUserID, key)
			return plaintext, true
		}
	}

	return nil, false
}

func (d *Decryptor) scheduleRetry(msg CipherMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[msg.ID]
	if !ok {
		st = &messageState{msg: msg}
		d.states[msg.ID] = st
	}
	if st.round >= maxRetries {
		st.status = StatusFailed
		st.deferred = nil
		return
	}
	delay := d.firstRetry
	if st.round == 1 {
		delay = d.secondRetry
	}
	st.status = StatusRetrying
	st.round++
	st.timer = time.AfterFunc(delay, func() { d.retry(msg.ID) })
}

func (d *Decryptor) retry(id uuid.UUID) {
	d.mu.Lock()
	st, ok := d.states[id]
	if !ok || st.status != StatusRetrying {
		d.mu.Unlock()
		return
	}
	msg := st.msg
	d.mu.Unlock()

	if plaintext, ok := d.tryCandidates(context.Background(), msg); ok {
		d.finish(id, plaintext, true)
		return
	}
	d.scheduleRetry(msg)
}

func (d *Decryptor) finish(id uuid.UUID, plaintext []byte, fromRetry bool) {
	d.mu.Lock()
	st, ok := d.states[id]
	if !ok {
		st = &messageState{}
		d.states[id] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.status = StatusDecrypted
	deferred := st.deferred
	st.deferred = nil
	d.mu.Unlock()

	if fromRetry && d.onDecrypted != nil {
		d.onDecrypted(id, plaintext)
	}
	for _, fn := range deferred {
		fn()
	}
}

func (d *Decryptor) setStatus(id uuid.UUID, status Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[id]
	if !ok {
		st = &messageState{}
		d.states[id] = st
	}
	st.status = status
}
