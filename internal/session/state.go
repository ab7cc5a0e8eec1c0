package session

import (
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

// providerOrder fixes the iteration order over provider maps so primary
// reassignment and listings are reproducible.
var providerOrder = []enum.Provider{enum.ProviderGmail, enum.ProviderMicrosoft, enum.ProviderYahoo}

type ProviderIdentity struct {
	Name  enum.Provider `json:"name"`
	Email string        `json:"email"`
}

// State is the aggregate root for one user's connected providers.
//
// Invariants, held after every mutation:
//   - Connected and Credentials always have identical key sets.
//   - Primary is a key of Connected, or unset.
//   - If Connected is empty, Primary is unset.
//
// Every mutation updates identity and credential together; callers never see
// the maps out of sync.
type State struct {
	UserEmail   string                                   `json:"user_email"`
	DisplayName string                                   `json:"display_name"`
	Connected   map[enum.Provider]ProviderIdentity       `json:"connected"`
	Primary     enum.Provider                            `json:"primary"`
	Credentials map[enum.Provider]*credential.Credential `json:"credentials"`
}

func NewState() *State {
	return &State{
		Connected:   make(map[enum.Provider]ProviderIdentity),
		Credentials: make(map[enum.Provider]*credential.Credential),
	}
}

// InitProvider is an idempotent upsert: a reconnect updates the identity's
// email and replaces the credential in place. The first provider ever
// connected becomes primary; connecting another provider never changes an
// existing primary choice.
func (s *State) InitProvider(name enum.Provider, email string, cred *credential.Credential) {
	s.Connected[name] = ProviderIdentity{Name: name, Email: email}
	s.Credentials[name] = cred

	if s.Primary == enum.ProviderNone {
		s.Primary = name
	}
	if s.UserEmail == "" {
		s.UserEmail = email
	}
}

// ClearProvider removes identity and credential together. If the removed
// provider was primary, primary moves to a remaining provider or clears.
func (s *State) ClearProvider(name enum.Provider) {
	delete(s.Connected, name)
	delete(s.Credentials, name)

	if s.Primary == name {
		s.Primary = s.firstConnected()
	}
}

// SwitchPrimary is validate-then-commit: state is untouched unless name is a
// connected provider.
func (s *State) SwitchPrimary(name enum.Provider) error {
	if _, ok := s.Connected[name]; !ok {
		return errs.ErrUnknownProvider
	}
	s.Primary = name
	return nil
}

// Sync removes every listed provider from both maps as one step per provider,
// then repairs primary.
func (s *State) Sync(invalid []enum.Provider) {
	for _, name := range invalid {
		delete(s.Connected, name)
		delete(s.Credentials, name)
	}

	if _, ok := s.Connected[s.Primary]; !ok {
		s.Primary = s.firstConnected()
	}
}

// Resolve picks the addressed provider: an explicit, connected name wins,
// otherwise the primary. ErrProviderNotConnected when the explicit name is
// not connected; ErrAuthRequired when nothing is.
func (s *State) Resolve(explicit string) (enum.Provider, error) {
	if explicit != "" {
		name, ok := enum.DecodeProvider(explicit)
		if !ok {
			return enum.ProviderNone, errs.ErrUnknownProvider
		}
		if _, connected := s.Connected[name]; !connected {
			return enum.ProviderNone, errs.ErrProviderNotConnected
		}
		return name, nil
	}
	if s.Primary == enum.ProviderNone {
		return enum.ProviderNone, errs.ErrAuthRequired
	}
	return s.Primary, nil
}

func (s *State) Credential(name enum.Provider) (*credential.Credential, bool) {
	cred, ok := s.Credentials[name]
	return cred, ok
}

func (s *State) Identity(name enum.Provider) (ProviderIdentity, bool) {
	id, ok := s.Connected[name]
	return id, ok
}

func (s *State) Empty() bool {
	return len(s.Connected) == 0
}

// Providers lists connected identities in canonical order.
func (s *State) Providers() []ProviderIdentity {
	out := make([]ProviderIdentity, 0, len(s.Connected))
	for _, name := range providerOrder {
		if id, ok := s.Connected[name]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *State) firstConnected() enum.Provider {
	for _, name := range providerOrder {
		if _, ok := s.Connected[name]; ok {
			return name
		}
	}
	return enum.ProviderNone
}
