// Package memory provides the in-memory identity store used by tests and the
// single-process deployment profile.
package memory

import (
	"context"
	"sync"
	"time"

	"biogate/internal/identity"
	"biogate/internal/template"
	"biogate/pkg/domain"
)

type key struct {
	id domain.IdentityID
	m  domain.Modality
}

type Store struct {
	mu         sync.RWMutex
	identities map[domain.IdentityID]*identity.Identity
	versions   map[key][]*template.ProtectedTemplate
}

func New() *Store {
	return &Store{
		identities: make(map[domain.IdentityID]*identity.Identity),
		versions:   make(map[key][]*template.ProtectedTemplate),
	}
}

func (s *Store) Ensure(_ context.Context, id domain.IdentityID) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident, ok := s.identities[id]; ok {
		return cloneIdentity(ident), nil
	}
	salt, err := template.NewSalt()
	if err != nil {
		return nil, err
	}
	ident := &identity.Identity{
		ID:        id,
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}
	s.identities[id] = ident
	return cloneIdentity(ident), nil
}

func (s *Store) Get(_ context.Context, id domain.IdentityID) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (s *Store) ActiveTemplate(_ context.Context, id domain.IdentityID, m domain.Modality) (*template.ProtectedTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key{id, m}]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Superseded {
			cp := *history[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveTemplate(_ context.Context, tpl *template.ProtectedTemplate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[tpl.IdentityID]
	if !ok {
		return 0, identity.ErrNotFound
	}

	k := key{tpl.IdentityID, tpl.Modality}
	history := s.versions[k]
	for _, old := range history {
		old.Superseded = true
	}

	cp := *tpl
	cp.Version = len(history) + 1
	cp.Superseded = false
	s.versions[k] = append(history, &cp)

	if !ident.HasModality(tpl.Modality) {
		ident.Enrolled = append(ident.Enrolled, tpl.Modality)
	}
	return cp.Version, nil
}

func (s *Store) TemplateHistory(_ context.Context, id domain.IdentityID, m domain.Modality) ([]*template.ProtectedTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key{id, m}]
	out := make([]*template.ProtectedTemplate, 0, len(history))
	for _, tpl := range history {
		cp := *tpl
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetBindingProof(_ context.Context, id domain.IdentityID, proof string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.BindingProof = proof
	return nil
}

func cloneIdentity(ident *identity.Identity) *identity.Identity {
	cp := *ident
	cp.Salt = append([]byte(nil), ident.Salt...)
	cp.Enrolled = append([]domain.Modality(nil), ident.Enrolled...)
	return &cp
}
