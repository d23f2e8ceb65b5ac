package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

type memStore map[string]string

func (m memStore) Get(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func (m memStore) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}

func TestChainPrefersSecretStore(t *testing.T) {
	store := memStore{
		ServiceName + "/10.0.0.1_username": "alice",
		ServiceName + "/10.0.0.1_password": "hunter2",
	}
	t.Setenv("SENTINEL_10_0_0_1_USERNAME", "shadowed")
	t.Setenv("SENTINEL_10_0_0_1_PASSWORD", "shadowed")

	p := NewChainProvider(multislogger.NewNopLogger(), WithSecretStore(store))
	cred, err := p.Credentials("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, Credential{Username: "alice", Password: "hunter2"}, cred)
}

func TestChainFallsBackToHostEnv(t *testing.T) {
	t.Setenv("SENTINEL_10_0_0_2_USERNAME", "bob")
	t.Setenv("SENTINEL_10_0_0_2_PASSWORD", "s3cret")

	p := NewChainProvider(multislogger.NewNopLogger(), WithSecretStore(memStore{}))
	cred, err := p.Credentials("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "bob", cred.Username)
	assert.Equal(t, "s3cret", cred.Password)
}

func TestChainFallsBackToConfig(t *testing.T) {
	p := NewChainProvider(
		multislogger.NewNopLogger(),
		WithSecretStore(memStore{}),
		WithConfigCredentials(map[string]Credential{
			"10.0.0.3": {Username: "carol", Password: "pw"},
		}),
	)
	cred, err := p.Credentials("10.0.0.3")
	require.NoError(t, err)
	assert.Equal(t, "carol", cred.Username)
}

func TestChainFallsBackToDefaultEnv(t *testing.T) {
	t.Setenv("SENTINEL_DEFAULT_USERNAME", "admin")
	t.Setenv("SENTINEL_DEFAULT_PASSWORD", "default-pw")

	p := NewChainProvider(multislogger.NewNopLogger(), WithSecretStore(memStore{}))
	cred, err := p.Credentials("10.0.0.4")
	require.NoError(t, err)
	assert.Equal(t, "admin", cred.Username)
}

func TestChainExhaustedReturnsErrNoCredentials(t *testing.T) {
	p := NewChainProvider(multislogger.NewNopLogger(), WithSecretStore(memStore{}))
	_, err := p.Credentials("10.9.9.9")
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestSetStoresBothKeys(t *testing.T) {
	store := memStore{}
	p := NewChainProvider(multislogger.NewNopLogger(), WithSecretStore(store))
	require.NoError(t, p.Set("10.0.0.5", "dave", "pw5"))

	cred, err := p.Credentials("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, Credential{Username: "dave", Password: "pw5"}, cred)
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	s := Static{"10.0.0.6": {Username: "eve", Password: "pw6"}}

	cred, err := s.Credentials("10.0.0.6")
	require.NoError(t, err)
	assert.Equal(t, "eve", cred.Username)

	_, err = s.Credentials("10.0.0.7")
	require.ErrorIs(t, err, ErrNoCredentials)
}
