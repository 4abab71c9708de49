package auth

import (
	"crypto/subtle"

	apperrors "tradegate/internal/errors"
)

// CredentialStore maps opaque API key strings to roles. Keys are loaded once
// at startup and the store is read-only thereafter, so lookups need no
// locking. Capacity is a handful of operator keys; this is not multi-tenant
// key management.
type CredentialStore struct {
	keys []credential
}

type credential struct {
	key  []byte
	role Role
}

// NewCredentialStore builds a store from key → role name pairs.
func NewCredentialStore(keys map[string]string) (*CredentialStore, error) {
	store := &CredentialStore{keys: make([]credential, 0, len(keys))}
	for key, roleName := range keys {
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		store.keys = append(store.keys, credential{key: []byte(key), role: role})
	}
	return store, nil
}

// Resolve returns the role for an API key. Comparison is constant-time per
// candidate key to avoid timing side-channels; every configured key is
// checked even after a match.
func (s *CredentialStore) Resolve(key string) (Role, error) {
	if key == "" {
		return RoleViewer, apperrors.ErrMissingKey
	}

	kb := []byte(key)
	matched := false
	role := RoleViewer
	for _, cred := range s.keys {
		if subtle.ConstantTimeCompare(kb, cred.key) == 1 {
			matched = true
			role = cred.role
		}
	}
	if !matched {
		return RoleViewer, apperrors.ErrInvalidKey
	}
	return role, nil
}

// Len returns the number of configured keys.
func (s *CredentialStore) Len() int {
	return len(s.keys)
}
