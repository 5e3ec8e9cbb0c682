// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/secrets"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store.
type mockSecretStore struct {
	mu   sync.Mutex
	data map[string]string // "service/key" -> value
}

func newMockSecretStore() *mockSecretStore {
	return &mockSecretStore{data: make(map[string]string)}
}

func (m *mockSecretStore) Store(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service+"/"+key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"/"+key]
	if !ok {
		return "", wardenerr.Errorf(wardenerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return v, nil
}

func (m *mockSecretStore) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+"/"+key]; !ok {
		return wardenerr.Errorf(wardenerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	delete(m.data, service+"/"+key)
	return nil
}

func (m *mockSecretStore) List(service string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if rest, ok := strings.CutPrefix(k, service+"/"); ok {
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// scriptProvider replays one event batch per Chat call, then says "done.".
type scriptProvider struct {
	name    string
	mu      sync.Mutex
	batches [][]provider.ChatEvent
	calls   int
}

func (p *scriptProvider) Name() string { return p.name }

func (p *scriptProvider) Available(context.Context) bool { return true }

func (p *scriptProvider) Close() error { return nil }

func (p *scriptProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: p.name}, nil
}

func (p *scriptProvider) Chat(ctx context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	turn := p.calls
	p.calls++
	p.mu.Unlock()

	events := []provider.ChatEvent{{Type: provider.EventTypeTextDelta, Text: "done."}}
	if turn < len(p.batches) {
		events = p.batches[turn]
	}
	events = append(events, provider.ChatEvent{Type: provider.EventTypeDone, StopReason: "end_turn"})

	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if !provider.Send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch, nil
}

func toolCallEvent(id, name, args string) provider.ChatEvent {
	return provider.ChatEvent{
		Type:     provider.EventTypeToolCall,
		ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args},
	}
}

func textEvent(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

// env is an isolated warden installation: config file, data dir, workspace,
// mock keyring and scripted provider.
type env struct {
	t         *testing.T
	config    string
	dataDir   string
	workspace string
	secrets   *mockSecretStore
	provider  *scriptProvider
}

func newEnv(t *testing.T, configYAML string, batches ...[]provider.ChatEvent) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	e := &env{
		t:         t,
		config:    filepath.Join(dir, "warden.yaml"),
		dataDir:   filepath.Join(dir, "data"),
		workspace: filepath.Join(dir, "ws"),
		secrets:   newMockSecretStore(),
		provider:  &scriptProvider{name: "anthropic", batches: batches},
	}
	require.NoError(t, os.MkdirAll(e.workspace, 0o755))
	require.NoError(t, os.WriteFile(e.config, []byte(configYAML), 0o600))
	require.NoError(t, e.secrets.Store("warden", "anthropic-api-key", "sk-test"))

	oldSecrets, oldFactory := secretStoreFactory, providerFactory
	secretStoreFactory = func() secrets.Store { return e.secrets }
	providerFactory = func(name provider.Name, _ string) (provider.Provider, error) {
		if name == provider.NameAnthropic {
			return e.provider, nil
		}
		return &scriptProvider{name: string(name)}, nil
	}
	t.Cleanup(func() { secretStoreFactory, providerFactory = oldSecrets, oldFactory })
	return e
}

// run executes warden with the env's config and data dir and returns stdout.
func (e *env) run(stdin string, args ...string) (string, error) {
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.config, "--data-dir", e.dataDir}, args...))
	err := root.Execute()
	e.t.Logf("stderr:\n%s", errOut.String())
	return out.String(), err
}
