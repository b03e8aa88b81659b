package afip_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
)

var t0 = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func openCircuit(p afipdomain.CircuitPolicy, s *entity.CircuitBreakerState, now time.Time) {
	for i := 0; i < p.FailureThreshold; i++ {
		p.RecordFailure(s, now)
	}
}

// ── Transiciones del circuit breaker ───────────────────────────────────────────

func TestCircuit_OpensAfterFiveConsecutiveFailures(t *testing.T) {
	p := afipdomain.DefaultCircuitPolicy()
	s := entity.NewCircuitBreakerState("org-1")

	for i := 0; i < 4; i++ {
		p.RecordFailure(s, t0)
	}
	assert.Equal(t, entity.CircuitClosed, s.State)

	p.RecordFailure(s, t0)
	assert.Equal(t, entity.CircuitOpen, s.State)
	require.NotNil(t, s.OpenedAt)
	assert.Equal(t, t0, *s.OpenedAt)

	dec := p.Allow(s, t0.Add(time.Minute))
	assert.False(t, dec.Allowed, "abierto: cortocircuito sin llamada")
	assert.Equal(t, t0.Add(5*time.Minute), dec.RetryAt)
}

func TestCircuit_SuccessResetsCounterWhileClosed(t *testing.T) {
	p := afipdomain.DefaultCircuitPolicy()
	s := entity.NewCircuitBreakerState("org-1")
	for i := 0; i < 4; i++ {
		p.RecordFailure(s, t0)
	}
	p.RecordSuccess(s, t0)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	p.RecordFailure(s, t0)
	assert.Equal(t, entity.CircuitClosed, s.State)
}

func TestCircuit_HalfOpenAfterTimeoutAndProbeCloses(t *testing.T) {
	p := afipdomain.DefaultCircuitPolicy()
	s := entity.NewCircuitBreakerState("org-1")
	openCircuit(p, s, t0)

	now := t0.Add(5 * time.Minute)
	dec := p.Allow(s, now)
	require.True(t, dec.Allowed)
	assert.True(t, dec.Probe)
	assert.Equal(t, entity.CircuitHalfOpen, s.State)

	// una sola sonda cada 30s
	dec = p.Allow(s, now.Add(10*time.Second))
	assert.False(t, dec.Allowed)
	assert.Equal(t, now.Add(30*time.Second), dec.RetryAt)

	p.RecordSuccess(s, now.Add(time.Second))
	assert.Equal(t, entity.CircuitClosed, s.State)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Nil(t, s.OpenSince)
}

func TestCircuit_FailedProbeReopensAndRestartsTimer(t *testing.T) {
	p := afipdomain.DefaultCircuitPolicy()
	s := entity.NewCircuitBreakerState("org-1")
	openCircuit(p, s, t0)

	probeAt := t0.Add(6 * time.Minute)
	require.True(t, p.Allow(s, probeAt).Allowed)
	p.RecordFailure(s, probeAt)

	assert.Equal(t, entity.CircuitOpen, s.State)
	assert.Equal(t, probeAt, *s.OpenedAt)
	assert.Equal(t, t0, *s.OpenSince, "OpenSince conserva la primera apertura")
	assert.Equal(t, 6*time.Minute+time.Minute, s.OpenFor(probeAt.Add(time.Minute)))
	assert.False(t, p.Allow(s, probeAt.Add(4*time.Minute)).Allowed)
	assert.True(t, p.Allow(s, probeAt.Add(5*time.Minute)).Allowed)
}

func TestCircuit_DeterministicReplay(t *testing.T) {
	p := afipdomain.DefaultCircuitPolicy()
	replay := func() *entity.CircuitBreakerState {
		s := entity.NewCircuitBreakerState("org-1")
		openCircuit(p, s, t0)
		p.Allow(s, t0.Add(5*time.Minute))
		p.RecordFailure(s, t0.Add(5*time.Minute))
		p.Allow(s, t0.Add(10*time.Minute))
		p.RecordSuccess(s, t0.Add(10*time.Minute))
		return s
	}
	assert.Equal(t, replay(), replay())
}

// ── Backoff ────────────────────────────────────────────────────────────────────

func TestBackoffSchedule(t *testing.T) {
	b := afipdomain.DefaultBackoff()
	want := []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute}
	for i, w := range want {
		got, ok := b.Next(i + 1)
		require.True(t, ok)
		assert.Equal(t, w, got)
	}
	_, ok := b.Next(6)
	assert.False(t, ok)
	assert.Equal(t, 5, b.MaxAttempts())
}
