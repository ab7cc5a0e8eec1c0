package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

// Store keeps session state server-side, keyed by an opaque cookie id. Each
// state is serialized and encrypted as one blob at the store boundary, so
// credentials are never held at rest in the clear. A session is single-writer
// for the duration of one request; the store only serializes map access.
type Store struct {
	mu      sync.RWMutex
	cipher  interfaces.CredentialCipher
	ttl     time.Duration
	entries map[string]storeEntry
}

type storeEntry struct {
	blob      string
	expiresAt time.Time
}

func NewStore(cipher interfaces.CredentialCipher, ttl time.Duration) *Store {
	return &Store{
		cipher:  cipher,
		ttl:     ttl,
		entries: make(map[string]storeEntry),
	}
}

// Create registers a new empty session and returns its id.
func (s *Store) Create() (string, error) {
	id := uuid.NewString()
	if err := s.Save(id, NewState()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Save(id string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "serialize session")
	}
	blob, err := s.cipher.Encrypt(raw)
	if err != nil {
		return errors.Wrap(err, "encrypt session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = storeEntry{blob: blob, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *Store) Load(id string) (*State, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || entry.expiresAt.Before(time.Now()) {
		return nil, errs.ErrSessionNotFound
	}

	raw, err := s.cipher.Decrypt(entry.blob)
	if err != nil {
		return nil, errs.ErrSessionNotFound
	}

	st := NewState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, errs.ErrSessionNotFound
	}
	if st.Connected == nil {
		st.Connected = make(map[enum.Provider]ProviderIdentity)
	}
	if st.Credentials == nil {
		st.Credentials = make(map[enum.Provider]*credential.Credential)
	}
	return st, nil
}

func (s *Store) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Purge drops expired sessions; called from the maintenance cron.
func (s *Store) Purge() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.expiresAt.Before(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
