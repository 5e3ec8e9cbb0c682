// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/warden/internal/provider"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, cooldown time.Duration) *provider.HealthTracker {
	t.Helper()
	h, err := provider.NewHealthTracker(cooldown)
	require.NoError(t, err)
	return h
}

func TestNewHealthTracker_RejectsNonPositiveCooldown(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := provider.NewHealthTracker(d)
		assert.True(t, wardenerr.IsInvalidInput(err), "cooldown %s", d)
	}
}

func TestHealthTracker_FailureAndRecovery(t *testing.T) {
	h := newTracker(t, 30*time.Second)
	assert.True(t, h.IsHealthy())

	h.RecordFailure()
	assert.False(t, h.IsHealthy())

	h.RecordSuccess()
	assert.True(t, h.IsHealthy())
}

func TestHealthTracker_CooldownBoundary(t *testing.T) {
	cooldown := 10 * time.Second
	now := time.Now()

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantHealthy bool
	}{
		{"before cooldown", 9 * time.Second, false},
		{"at exact cooldown boundary", 10 * time.Second, true},
		{"after cooldown", 11 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTracker(t, cooldown)
			h.SetNowFunc(func() time.Time { return now })

			h.RecordFailure()
			assert.False(t, h.IsHealthy(), "should be unhealthy immediately after failure")

			h.SetNowFunc(func() time.Time { return now.Add(tt.elapsed) })
			assert.Equal(t, tt.wantHealthy, h.IsHealthy())
		})
	}
}

func TestHealthTracker_Record(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantHealthy bool
	}{
		{"success", nil, true},
		{"throttled", wardenerr.New(wardenerr.CodeProviderRequestThrottled, "slow down"), false},
		{"unauthorized", wardenerr.New(wardenerr.CodeProviderAuthUnauthorized, "bad key"), false},
		{"upstream", wardenerr.New(wardenerr.CodeProviderUpstreamFailure, "502"), false},
		{"timeout", wardenerr.New(wardenerr.CodeProviderTimeout, "slow"), false},
		{"bad request is the caller's fault", wardenerr.New(wardenerr.CodeProviderRequestInvalid, "400"), true},
		{"uncoded", errors.New("cancelled"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTracker(t, time.Minute)
			h.Record(tt.err)
			assert.Equal(t, tt.wantHealthy, h.IsHealthy())
		})
	}
}

func TestHealthTracker_HealthMetrics(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	second := now.Add(5 * time.Second)
	cooldownUntilSecond := second.Add(10 * time.Second)

	h := newTracker(t, 10*time.Second)
	assert.Equal(t, provider.HealthMetrics{Available: true}, h.HealthMetrics())

	h.SetNowFunc(func() time.Time { return now })
	h.RecordFailure()
	h.SetNowFunc(func() time.Time { return second })
	h.RecordFailure()

	assert.Equal(t, provider.HealthMetrics{
		FailureCount:  2,
		LastFailureAt: &second,
		CooldownUntil: &cooldownUntilSecond,
		Available:     false,
	}, h.HealthMetrics())

	h.RecordSuccess()
	m := h.HealthMetrics()
	assert.True(t, m.Available)
	assert.Nil(t, m.CooldownUntil)
	assert.Equal(t, int64(2), m.FailureCount, "failure count is cumulative")
}

func TestHealthTracker_Status(t *testing.T) {
	h := newTracker(t, time.Minute)
	st := h.Status("google")
	assert.Equal(t, "google", st.Provider)
	assert.Equal(t, "ok", st.Message)
	assert.True(t, st.Available)

	h.RecordFailure()
	st = h.Status("google")
	assert.False(t, st.Available)
	assert.Equal(t, "cooling down after failure", st.Message)
	require.NotNil(t, st.Health)
	assert.Equal(t, int64(1), st.Health.FailureCount)
}

func TestHealthTracker_ConcurrentRecordCalls(t *testing.T) {
	h := newTracker(t, 30*time.Second)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for range 100 {
				h.RecordFailure()
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				h.RecordSuccess()
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				_ = h.HealthMetrics()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), h.HealthMetrics().FailureCount)
}
