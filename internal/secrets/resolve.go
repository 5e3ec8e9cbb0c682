// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const keyringScheme = "keyring://"

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// IsEnvRef reports whether value is exactly a ${NAME} reference.
func IsEnvRef(value string) bool {
	return envRef.MatchString(value)
}

// ParseKeyringURI splits keyring://service/key. The key may itself contain
// slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", wardenerr.Errorf(wardenerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", wardenerr.Errorf(wardenerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve turns a credential reference into its value. keyring:// URIs are
// looked up in store, ${NAME} references in the environment; anything else
// is returned unchanged. An unset variable is an error rather than an empty
// key.
func Resolve(store Store, value string) (string, error) {
	if m := envRef.FindStringSubmatch(value); m != nil {
		v, ok := os.LookupEnv(m[1])
		if !ok {
			return "", wardenerr.Errorf(wardenerr.CodeSecretResolveFailure, "environment variable %s is not set", m[1])
		}
		return v, nil
	}
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	if store == nil {
		return "", wardenerr.Errorf(wardenerr.CodeSecretResolveFailure, "resolving %q: no secret store available", value)
	}
	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets rewrites every string setting in v that is a keyring
// URI or ${NAME} reference to its resolved value. All failures are reported
// together, each naming its config key; resolved settings are applied even
// when others fail.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || (!IsKeyringURI(val) && !IsEnvRef(val)) {
			continue
		}
		resolved, err := Resolve(store, val)
		if err != nil {
			errs = append(errs, wardenerr.Wrapf(err, wardenerr.CodeSecretResolveFailure, "config key %s (%s)", key, val))
			continue
		}
		v.Set(key, resolved)
	}
	return wardenerr.Join(errs...)
}
