package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradegate/internal/errors"
)

func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(map[string]string{
		"admin-key-123":  "admin",
		"trader-key-456": "trader",
		"viewer-key-789": "viewer",
	})
	require.NoError(t, err)
	return store
}

func TestCredentialStoreResolve(t *testing.T) {
	store := newTestStore(t)

	role, err := store.Resolve("admin-key-123")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = store.Resolve("trader-key-456")
	require.NoError(t, err)
	assert.Equal(t, RoleTrader, role)

	role, err = store.Resolve("viewer-key-789")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)
}

func TestCredentialStoreRejectsUnknownKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("not-a-key")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidKey, appErr.Code)
}

func TestCredentialStoreRejectsEmptyKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeMissingKey, appErr.Code)
}

func TestCredentialStoreUnknownRoleName(t *testing.T) {
	_, err := NewCredentialStore(map[string]string{"k": "owner"})
	assert.Error(t, err)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleTrader))
	assert.True(t, RoleAdmin.AtLeast(RoleViewer))
	assert.True(t, RoleTrader.AtLeast(RoleViewer))
	assert.False(t, RoleViewer.AtLeast(RoleTrader))
	assert.False(t, RoleTrader.AtLeast(RoleAdmin))
}

func TestJWTRoundTrip(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Minute)

	token, expiresAt, err := mgr.GenerateToken(RoleTrader)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	role, err := mgr.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleTrader, role)
}

func TestJWTRejectsExpired(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Minute)

	token, _, err := mgr.GenerateToken(RoleAdmin)
	require.NoError(t, err)

	_, err = mgr.VerifyToken(token)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeTokenExpired, appErr.Code)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("secret-a", time.Minute).GenerateToken(RoleAdmin)
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", time.Minute).VerifyToken(token)
	assert.Error(t, err)
}
