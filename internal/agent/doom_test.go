// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigil-dev/warden/internal/agent"
)

func TestSignature_Canonicalises(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{"key order", `{"b":1,"a":2}`, `{"a":2,"b":1}`, true},
		{"whitespace", `{"path": "a.go"}`, "{\n  \"path\":\"a.go\"\n}", true},
		{"nested", `{"o":{"y":[1,2],"x":true}}`, `{"o":{"x":true,"y":[1,2]}}`, true},
		{"empty is an empty object", ``, `{}`, true},
		{"different value", `{"path":"a.go"}`, `{"path":"b.go"}`, false},
		{"offset differs", `{"path":"a.go","offset":10}`, `{"path":"a.go","offset":11}`, false},
		{"array order matters", `{"y":[1,2]}`, `{"y":[2,1]}`, false},
		{"invalid json compared as text", `not json`, ` not json `, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := agent.Signature("read_file", json.RawMessage(tt.a))
			b := agent.Signature("read_file", json.RawMessage(tt.b))
			assert.Equal(t, tt.equal, a == b)
		})
	}

	assert.NotEqual(t,
		agent.Signature("read_file", json.RawMessage(`{}`)),
		agent.Signature("list_dir", json.RawMessage(`{}`)),
		"the tool name is part of the signature")
}

func TestDoomWindow(t *testing.T) {
	sig := agent.Signature("echo", json.RawMessage(`{"text":"x"}`))

	t.Run("needs threshold entries before reporting", func(t *testing.T) {
		w := agent.NewDoomWindow(10)
		w.Push(sig)
		w.Push(sig)
		assert.False(t, w.Repeated([]string{sig}, 3))
		w.Push(sig)
		assert.True(t, w.Repeated([]string{sig}, 3))
	})

	t.Run("any call in the batch trips it", func(t *testing.T) {
		w := agent.NewDoomWindow(10)
		for range 3 {
			w.Push(sig)
		}
		other := agent.Signature("echo", json.RawMessage(`{"text":"y"}`))
		assert.True(t, w.Repeated([]string{other, sig}, 3))
		assert.False(t, w.Repeated([]string{other}, 3))
	})

	t.Run("old entries fall out", func(t *testing.T) {
		w := agent.NewDoomWindow(10)
		for range 2 {
			w.Push(sig)
		}
		for i := range 10 {
			w.Push(agent.Signature("echo", json.RawMessage(fmt.Sprintf(`{"text":"%d"}`, i))))
		}
		assert.Equal(t, 10, w.Len())
		w.Push(sig)
		assert.False(t, w.Repeated([]string{sig}, 2), "only one copy is still in the window")
	})

	t.Run("non-positive size uses the default", func(t *testing.T) {
		w := agent.NewDoomWindow(0)
		for i := range 20 {
			w.Push(fmt.Sprint(i))
		}
		assert.Equal(t, agent.DefaultDoomWindow, w.Len())
	})
}
