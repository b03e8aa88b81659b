package taxpayer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/afip-core/internal/application/taxpayer"
	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/pkg/afip"
)

const orgID = "org-1"

type fakeRegistry struct {
	calls   int
	persons map[string]*entity.Taxpayer
	err     error
	// rejectToken responde AuthError mientras el ticket de la sesión sea este.
	rejectToken string
	session     afipdomain.Session
}

func (f *fakeRegistry) GetPersona(_ context.Context, s afipdomain.Session, cuit string) (*entity.Taxpayer, error) {
	f.calls++
	f.session = s
	if f.err != nil {
		return nil, f.err
	}
	if f.rejectToken != "" && s.Token == f.rejectToken {
		return nil, &domain.AuthError{Code: "ns1:notAuthorized", Message: "token vencido"}
	}
	tp, ok := f.persons[cuit]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tp, nil
}

type staticTokens struct {
	service   string
	refreshes int
}

func (s *staticTokens) GetToken(_ context.Context, org, service string) (*entity.AuthToken, error) {
	s.service = service
	return &entity.AuthToken{OrganizationID: org, Service: service, Token: "tok", Sign: "sign", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *staticTokens) ForceRefresh(_ context.Context, org, service string, _ *entity.AuthToken) (*entity.AuthToken, error) {
	s.refreshes++
	return &entity.AuthToken{OrganizationID: org, Service: service, Token: "tok-2", Sign: "sign-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newLookup(reg *fakeRegistry, tokens *staticTokens) *taxpayer.LookupUseCase {
	creds := memory.NewCredentialRepo(entity.Credential{OrganizationID: orgID, CUIT: "30716595540", Environment: afip.EnvHomologacion})
	return taxpayer.NewLookupUseCase(reg, tokens, creds, memory.NewTaxpayerCache(), time.Hour, zerolog.Nop())
}

func TestLookup_InvalidCheckDigitMakesNoCall(t *testing.T) {
	reg := &fakeRegistry{}
	uc := newLookup(reg, &staticTokens{})

	tp, err := uc.Lookup(context.Background(), orgID, "20-12345678-0")
	require.NoError(t, err)
	assert.False(t, tp.Valid)
	assert.Zero(t, reg.calls)
}

func TestLookup_RegisteredTaxpayerIsCached(t *testing.T) {
	reg := &fakeRegistry{persons: map[string]*entity.Taxpayer{
		"20123456786": {
			CUIT:         "20-12345678-6",
			Valid:        true,
			LegalName:    "PEREZ JUAN",
			TaxCondition: afip.TaxConditionMonotributo,
			Status:       entity.TaxpayerStatusActive,
		},
	}}
	tokens := &staticTokens{}
	uc := newLookup(reg, tokens)
	ctx := context.Background()

	tp, err := uc.Lookup(ctx, orgID, "20-12345678-6")
	require.NoError(t, err)
	assert.True(t, tp.Valid)
	assert.Equal(t, afip.TaxConditionMonotributo, tp.TaxCondition)
	assert.Equal(t, afip.ServicePadron, tokens.service)
	assert.Equal(t, int64(30716595540), reg.session.CUIT)

	// sin guiones usa la misma entrada de caché
	_, err = uc.Lookup(ctx, orgID, "20123456786")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.calls)

	resp := taxpayer.ToResponse(tp)
	assert.Equal(t, "PEREZ JUAN", resp.LegalName)
	assert.Equal(t, string(afip.TaxConditionMonotributo), resp.TaxCondition)
}

func TestLookup_UnregisteredTaxpayer(t *testing.T) {
	uc := newLookup(&fakeRegistry{}, &staticTokens{})

	tp, err := uc.Lookup(context.Background(), orgID, "20123456786")
	require.NoError(t, err)
	assert.False(t, tp.Valid)
	assert.Equal(t, entity.TaxpayerStatusUnknown, tp.Status)
	assert.Equal(t, "20-12345678-6", tp.CUIT)
}

func TestLookup_RegistryOutageIsNotInvalidation(t *testing.T) {
	reg := &fakeRegistry{err: &domain.TransientServiceError{Op: "getPersona", Code: "HTTP_503"}}
	uc := newLookup(reg, &staticTokens{})

	_, err := uc.Lookup(context.Background(), orgID, "20123456786")
	var te *domain.TransientServiceError
	assert.True(t, errors.As(err, &te))
}

func TestLookup_UnknownOrganization(t *testing.T) {
	uc := newLookup(&fakeRegistry{}, &staticTokens{})

	_, err := uc.Lookup(context.Background(), "otra", "20123456786")
	var ce *domain.CredentialError
	assert.True(t, errors.As(err, &ce))
}

func TestLookup_RejectedTicketIsRefreshedOnce(t *testing.T) {
	reg := &fakeRegistry{
		rejectToken: "tok",
		persons: map[string]*entity.Taxpayer{
			"20123456786": {CUIT: "20-12345678-6", Valid: true, Status: entity.TaxpayerStatusActive},
		},
	}
	tokens := &staticTokens{}
	uc := newLookup(reg, tokens)

	tp, err := uc.Lookup(context.Background(), orgID, "20123456786")
	require.NoError(t, err)
	assert.True(t, tp.Valid)
	assert.Equal(t, 2, reg.calls)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, "tok-2", reg.session.Token)
	assert.Equal(t, afip.ServicePadron, tokens.service)
}

func TestLookup_SecondRejectionIsReturned(t *testing.T) {
	reg := &fakeRegistry{err: &domain.AuthError{Code: "ns1:notAuthorized", Message: "token vencido"}}
	tokens := &staticTokens{}
	uc := newLookup(reg, tokens)

	_, err := uc.Lookup(context.Background(), orgID, "20123456786")
	var ae *domain.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, reg.calls)
	assert.Equal(t, 1, tokens.refreshes)
}
