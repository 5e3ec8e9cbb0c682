// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// indexKey names the entry holding a service's JSON key list. go-keyring
// cannot enumerate entries, so List reads this instead.
const indexKey = "::index"

// KeyringStore keeps secrets in the OS keyring: Keychain on macOS, the
// Secret Service on Linux and the Credential Manager on Windows.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func checkName(op, service, key string) error {
	if service == "" {
		return wardenerr.Errorf(wardenerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" || key == indexKey {
		return wardenerr.Errorf(wardenerr.CodeSecretInvalidInput, "secret %s: invalid key %q", op, key)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkName("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkName("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", wardenerr.Errorf(wardenerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkName("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return wardenerr.Errorf(wardenerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return wardenerr.Wrapf(err, wardenerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	if service == "" {
		return nil, wardenerr.New(wardenerr.CodeSecretInvalidInput, "secret list: service must not be empty")
	}
	return s.loadIndex(service)
}

func (s *KeyringStore) loadIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, indexKey)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "decoding key index for %s", service)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, edit func([]string) []string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	keys = edit(keys)

	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("failed to remove empty key index", "service", service, "error", err)
		}
		return nil
	}

	slices.Sort(keys)
	data, err := json.Marshal(keys)
	if err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeSecretStoreFailure, "saving key index for %s", service)
	}
	return nil
}
