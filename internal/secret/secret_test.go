package secret

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClear(t *testing.T) {
	r := NewRegistry()
	val, err := r.Resolve("CLEAR#hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", val)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("SDLB_TEST_SECRET", "s3cr3t")
	r := NewRegistry()
	val, err := r.Resolve("ENV#SDLB_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", val)
}

func TestResolveEnvMissing(t *testing.T) {
	os.Unsetenv("SDLB_TEST_SECRET_MISSING")
	r := NewRegistry()
	_, err := r.Resolve("ENV#SDLB_TEST_SECRET_MISSING")
	assert.Error(t, err)
}

func TestResolveLiteralWithoutHash(t *testing.T) {
	r := NewRegistry()
	val, err := r.Resolve("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", val)
}

func TestResolveUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("VAULT#path/to/secret")
	assert.Error(t, err)
}
