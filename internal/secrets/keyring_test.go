// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/warden/internal/secrets"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func init() {
	// Tests never touch the real OS keyring.
	keyring.MockInit()
}

func TestKeyringStore_StoreRetrieveOverwrite(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-store"

	require.NoError(t, ks.Store(svc, "anthropic-api-key", "sk-old"))
	require.NoError(t, ks.Store(svc, "anthropic-api-key", "sk-new"))

	val, err := ks.Retrieve(svc, "anthropic-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", val)

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic-api-key"}, keys, "overwrite must not duplicate the index entry")
}

func TestKeyringStore_NotFound(t *testing.T) {
	ks := secrets.NewKeyringStore()

	_, err := ks.Retrieve("no-such-service", "k")
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeSecretNotFound), "got %v", err)

	err = ks.Delete("no-such-service", "k")
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeSecretNotFound), "got %v", err)
	assert.True(t, wardenerr.IsNotFound(err))
}

func TestKeyringStore_ListTracksStoreAndDelete(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-list"

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{"openai-api-key", "anthropic-api-key", "google-api-key"} {
		require.NoError(t, ks.Store(svc, k, "v"))
	}
	require.NoError(t, ks.Delete(svc, "openai-api-key"))

	keys, err = ks.List(svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic-api-key", "google-api-key"}, keys)

	require.NoError(t, ks.Delete(svc, "anthropic-api-key"))
	require.NoError(t, ks.Delete(svc, "google-api-key"))
	keys, err = ks.List(svc)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeyringStore_InvalidInput(t *testing.T) {
	ks := secrets.NewKeyringStore()

	tests := []struct {
		name string
		op   func() error
	}{
		{"store empty service", func() error { return ks.Store("", "k", "v") }},
		{"store empty key", func() error { return ks.Store("svc", "", "v") }},
		{"store index key", func() error { return ks.Store("svc", "::index", "v") }},
		{"retrieve empty key", func() error { _, err := ks.Retrieve("svc", ""); return err }},
		{"delete empty service", func() error { return ks.Delete("", "k") }},
		{"list empty service", func() error { _, err := ks.List(""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			require.Error(t, err)
			assert.True(t, wardenerr.HasCode(err, wardenerr.CodeSecretInvalidInput), "got %v", err)
		})
	}

	assert.NoError(t, ks.Store("svc-empty-value", "k", ""), "empty values are allowed")
}

func TestKeyringStore_ServicesAreIsolated(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("svc-a", "shared", "a"))
	require.NoError(t, ks.Store("svc-b", "shared", "b"))

	a, err := ks.Retrieve("svc-a", "shared")
	require.NoError(t, err)
	b, err := ks.Retrieve("svc-b", "shared")
	require.NoError(t, err)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

func TestURIFor(t *testing.T) {
	assert.Equal(t, "anthropic-api-key", secrets.KeyFor("anthropic"))
	assert.Equal(t, "keyring://warden/anthropic-api-key", secrets.URIFor("anthropic"))

	svc, key, err := secrets.ParseKeyringURI(secrets.URIFor("openrouter"))
	require.NoError(t, err)
	assert.Equal(t, secrets.DefaultService, svc)
	assert.Equal(t, "openrouter-api-key", key)
}
