package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSecretStore struct {
	data map[string][]byte
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{data: map[string][]byte{}}
}

func (m *memSecretStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memSecretStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	return m.data[key], nil
}

func (m *memSecretStore) DeleteSecret(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memSecretStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestAESVault_StoreResolveRoundTrip(t *testing.T) {
	store := newMemSecretStore()
	vault, err := NewAESVault(store, VaultConfig{
		Passphrase: "test-pass",
		Salt:       []byte("test-salt"),
		Iterations: 1000,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, vault.Store(ctx, "GITHUB_TOKEN", []byte("ghp_secret")))

	// Persisted bytes are ciphertext, not the plaintext token.
	assert.NotEqual(t, []byte("ghp_secret"), store.data["GITHUB_TOKEN"])
	assert.NotContains(t, string(store.data["GITHUB_TOKEN"]), "ghp_secret")

	resolved, err := vault.Resolve(ctx, "GITHUB_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, []byte("ghp_secret"), resolved)
}

func TestAESVault_WrongKeyFailsDecrypt(t *testing.T) {
	store := newMemSecretStore()
	ctx := context.Background()

	v1, err := NewAESVault(store, VaultConfig{Passphrase: "pass-a", Salt: []byte("s"), Iterations: 1000})
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "k", []byte("v")))

	v2, err := NewAESVault(store, VaultConfig{Passphrase: "pass-b", Salt: []byte("s"), Iterations: 1000})
	require.NoError(t, err)
	_, err = v2.Resolve(ctx, "k")
	assert.Error(t, err)
}

func TestAESVault_ConfigValidation(t *testing.T) {
	store := newMemSecretStore()

	_, err := NewAESVault(store, VaultConfig{})
	assert.Error(t, err)

	_, err = NewAESVault(store, VaultConfig{Passphrase: "p"})
	assert.Error(t, err)

	_, err = NewAESVault(store, VaultConfig{MasterKey: []byte("short")})
	assert.Error(t, err)

	key := make([]byte, 32)
	_, err = NewAESVault(store, VaultConfig{MasterKey: key})
	assert.NoError(t, err)
}
