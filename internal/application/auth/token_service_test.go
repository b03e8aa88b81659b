package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/auth"
	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/pkg/afip"
)

const orgID = "org-1"

type fakeLogin struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeLogin) Login(ctx context.Context, cred *entity.Credential, service string) (*entity.AuthToken, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &entity.AuthToken{
		OrganizationID: cred.OrganizationID,
		Service:        service,
		Token:          fmt.Sprintf("tok-%d", n),
		Sign:           "sign",
		GeneratedAt:    time.Now(),
		ExpiresAt:      time.Now().Add(12 * time.Hour),
	}, nil
}

func newService(login auth.LoginService, store auth.TokenStore, locker auth.Locker) *auth.TokenService {
	creds := memory.NewCredentialRepo(entity.Credential{OrganizationID: orgID, CUIT: "30716595540", Environment: afip.EnvHomologacion})
	cfg := auth.Config{WaitTimeout: 2 * time.Second, PollInterval: 10 * time.Millisecond}
	return auth.NewTokenService(login, creds, store, locker, cfg, zerolog.Nop(), nil)
}

func TestTokenService_ConcurrentCallersShareOneLogin(t *testing.T) {
	login := &fakeLogin{delay: 50 * time.Millisecond}
	svc := newService(login, memory.NewTokenStore(), memory.NewLocker())

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := svc.GetToken(context.Background(), orgID, afip.ServiceWSFE)
			if assert.NoError(t, err) {
				tokens[i] = tok.Token
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), login.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestTokenService_CachedTokenSkipsLogin(t *testing.T) {
	login := &fakeLogin{}
	store := memory.NewTokenStore()
	svc := newService(login, store, memory.NewLocker())
	ctx := context.Background()

	_, err := svc.GetToken(ctx, orgID, afip.ServiceWSFE)
	require.NoError(t, err)
	_, err = svc.GetToken(ctx, orgID, afip.ServiceWSFE)
	require.NoError(t, err)
	assert.Equal(t, int32(1), login.calls.Load())

	// cada servicio tiene su propio ticket
	tok, err := svc.GetToken(ctx, orgID, afip.ServicePadron)
	require.NoError(t, err)
	assert.Equal(t, afip.ServicePadron, tok.Service)
	assert.Equal(t, int32(2), login.calls.Load())
}

func TestTokenService_TokenInsideMarginIsRenewed(t *testing.T) {
	login := &fakeLogin{}
	store := memory.NewTokenStore()
	require.NoError(t, store.SaveToken(context.Background(), &entity.AuthToken{
		OrganizationID: orgID, Service: afip.ServiceWSFE, Token: "viejo", Sign: "s",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))
	svc := newService(login, store, memory.NewLocker())

	tok, err := svc.GetToken(context.Background(), orgID, afip.ServiceWSFE)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Token)
}

func TestTokenService_ForceRefreshReplacesRejectedToken(t *testing.T) {
	login := &fakeLogin{}
	svc := newService(login, memory.NewTokenStore(), memory.NewLocker())
	ctx := context.Background()

	first, err := svc.GetToken(ctx, orgID, afip.ServiceWSFE)
	require.NoError(t, err)
	fresh, err := svc.ForceRefresh(ctx, orgID, afip.ServiceWSFE, first)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, fresh.Token)
	assert.Equal(t, int32(2), login.calls.Load())

	// el llamador que aún tenía el ticket viejo recibe el reemplazo sin otro login
	again, err := svc.ForceRefresh(ctx, orgID, afip.ServiceWSFE, first)
	require.NoError(t, err)
	assert.Equal(t, fresh.Token, again.Token)
	assert.Equal(t, int32(2), login.calls.Load())
}

func TestTokenService_LockLoserWaitsForWinner(t *testing.T) {
	store := memory.NewTokenStore()
	locker := memory.NewLocker()
	ctx := context.Background()

	// otra instancia tiene el lock
	lockToken, ok, err := locker.TryLock(ctx, "wsaa:"+orgID+":"+afip.ServiceWSFE, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	login := &fakeLogin{}
	svc := newService(login, store, locker)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = store.SaveToken(ctx, &entity.AuthToken{
			OrganizationID: orgID, Service: afip.ServiceWSFE, Token: "de-otra-instancia", Sign: "s",
			ExpiresAt: time.Now().Add(12 * time.Hour),
		})
		_ = locker.Release(ctx, "wsaa:"+orgID+":"+afip.ServiceWSFE, lockToken)
	}()

	tok, err := svc.GetToken(ctx, orgID, afip.ServiceWSFE)
	require.NoError(t, err)
	assert.Equal(t, "de-otra-instancia", tok.Token)
	assert.Zero(t, login.calls.Load())
}

func TestTokenService_LoginErrorPropagates(t *testing.T) {
	login := &fakeLogin{err: &domain.AuthError{Code: "cms.cert.expired", Message: "certificado vencido", Permanent: true}}
	svc := newService(login, memory.NewTokenStore(), memory.NewLocker())

	_, err := svc.GetToken(context.Background(), orgID, afip.ServiceWSFE)
	var ae *domain.AuthError
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Permanent)
}

func TestTokenService_UnknownOrganization(t *testing.T) {
	svc := newService(&fakeLogin{}, memory.NewTokenStore(), memory.NewLocker())

	_, err := svc.GetToken(context.Background(), "sin-credencial", afip.ServiceWSFE)
	var ce *domain.CredentialError
	assert.True(t, errors.As(err, &ce))
}
