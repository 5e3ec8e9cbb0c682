// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets resolves provider credentials that are kept out of the
// configuration file, either in the OS keyring (keyring://service/key) or
// in the environment (${NAME}).
package secrets

// DefaultService is the keyring service warden stores API keys under.
const DefaultService = "warden"

// Store is a named secret backend.
type Store interface {
	// Store saves value under service/key, replacing any previous value.
	Store(service, key, value string) error

	// Retrieve returns the value under service/key. A missing entry
	// carries wardenerr.CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes service/key. A missing entry carries
	// wardenerr.CodeSecretNotFound.
	Delete(service, key string) error

	// List returns the key names stored under service, sorted.
	List(service string) ([]string, error)
}

// KeyFor returns the conventional keyring key for a provider's API key,
// e.g. "anthropic-api-key".
func KeyFor(provider string) string {
	return provider + "-api-key"
}

// URIFor returns the keyring URI a config file uses to reference the
// provider's stored API key.
func URIFor(provider string) string {
	return keyringScheme + DefaultService + "/" + KeyFor(provider)
}
