package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// ── Tickets WSAA ─────────────────────────────────────────────────────────────

// TokenStore caché de tickets por organización y servicio.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]entity.AuthToken
	now    func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]entity.AuthToken), now: time.Now}
}

func (s *TokenStore) GetToken(_ context.Context, orgID, service string) (*entity.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[orgID+"|"+service]
	if !ok || !t.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &t, nil
}

func (s *TokenStore) SaveToken(_ context.Context, t *entity.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.OrganizationID+"|"+t.Service] = *t
	return nil
}

func (s *TokenStore) DeleteToken(_ context.Context, orgID, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, orgID+"|"+service)
	return nil
}

// ── Locks ────────────────────────────────────────────────────────────────────

type heldLock struct {
	token string
	until time.Time
}

// Locker lock con TTL y token de propietario.
type Locker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]heldLock), now: time.Now}
}

func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.locks[key]; ok && h.until.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = heldLock{token: token, until: now.Add(ttl)}
	return token, true, nil
}

// Release libera solo si token sigue siendo el propietario.
func (l *Locker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.locks[key]; ok && h.token == token {
		delete(l.locks, key)
	}
	return nil
}

// ── Circuit breaker ──────────────────────────────────────────────────────────

// CircuitStore estados del circuit breaker.
type CircuitStore struct {
	mu     sync.Mutex
	states map[string]entity.CircuitBreakerState
}

func NewCircuitStore() *CircuitStore {
	return &CircuitStore{states: make(map[string]entity.CircuitBreakerState)}
}

func (s *CircuitStore) GetCircuit(_ context.Context, orgID string) (*entity.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(orgID), nil
}

// UpdateCircuit aplica fn bajo el mutex; si fn falla el estado no cambia.
func (s *CircuitStore) UpdateCircuit(_ context.Context, orgID string, fn func(*entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(orgID)
	if err := fn(st); err != nil {
		return nil, err
	}
	s.states[orgID] = *st
	out := *st
	return &out, nil
}

func (s *CircuitStore) get(orgID string) *entity.CircuitBreakerState {
	if st, ok := s.states[orgID]; ok {
		return &st
	}
	return entity.NewCircuitBreakerState(orgID)
}

// ── Modo pánico ──────────────────────────────────────────────────────────────

// PanicStore estados de modo pánico.
type PanicStore struct {
	mu     sync.Mutex
	states map[string]entity.PanicState
}

func NewPanicStore() *PanicStore {
	return &PanicStore{states: make(map[string]entity.PanicState)}
}

func (s *PanicStore) GetPanic(_ context.Context, orgID string) (*entity.PanicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[orgID]; ok {
		return &st, nil
	}
	return &entity.PanicState{OrganizationID: orgID}, nil
}

func (s *PanicStore) SavePanic(_ context.Context, st *entity.PanicState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.OrganizationID] = *st
	return nil
}

func (s *PanicStore) ActiveOrganizations(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, st := range s.states {
		if st.Active {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ── Muestras ─────────────────────────────────────────────────────────────────

// SampleStore muestras de intentos con retención acotada.
type SampleStore struct {
	mu        sync.Mutex
	samples   map[string][]entity.AttemptSample
	retention time.Duration
}

// NewSampleStore retention 0 = 1 hora.
func NewSampleStore(retention time.Duration) *SampleStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &SampleStore{samples: make(map[string][]entity.AttemptSample), retention: retention}
}

func (s *SampleStore) AddSample(_ context.Context, orgID string, sample entity.AttemptSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := sample.At.Add(-s.retention)
	kept := s.samples[orgID][:0]
	for _, old := range s.samples[orgID] {
		if old.At.After(cutoff) {
			kept = append(kept, old)
		}
	}
	s.samples[orgID] = append(kept, sample)
	return nil
}

func (s *SampleStore) Samples(_ context.Context, orgID string, since time.Time) ([]entity.AttemptSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.AttemptSample
	for _, sm := range s.samples[orgID] {
		if !sm.At.Before(since) {
			out = append(out, sm)
		}
	}
	return out, nil
}
