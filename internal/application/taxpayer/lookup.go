// Package taxpayer consulta CUITs: validación local del dígito verificador y
// condición fiscal en el Padrón A5.
package taxpayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/application/dto"
	"github.com/jhoicas/afip-core/internal/domain"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/pkg/afip"
)

// Registry puerto del padrón (implementado por infrastructure/afip.PadronClient).
// Devuelve domain.ErrNotFound si el CUIT no está registrado.
type Registry interface {
	GetPersona(ctx context.Context, s afipdomain.Session, cuit string) (*entity.Taxpayer, error)
}

// TokenProvider tickets WSAA para ws_sr_padron_a5.
type TokenProvider interface {
	GetToken(ctx context.Context, orgID, service string) (*entity.AuthToken, error)
	ForceRefresh(ctx context.Context, orgID, service string, stale *entity.AuthToken) (*entity.AuthToken, error)
}

// Cache resultados de consultas. Get devuelve nil, nil sin entrada vigente.
type Cache interface {
	Get(ctx context.Context, cuit string) (*entity.Taxpayer, error)
	Set(ctx context.Context, cuit string, tp *entity.Taxpayer, ttl time.Duration) error
}

// LookupUseCase consulta de contribuyentes.
type LookupUseCase struct {
	registry Registry
	tokens   TokenProvider
	creds    repository.CredentialRepository
	cache    Cache
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewLookupUseCase ttl 0 = 24h.
func NewLookupUseCase(registry Registry, tokens TokenProvider, creds repository.CredentialRepository, cache Cache, ttl time.Duration, log zerolog.Logger) *LookupUseCase {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LookupUseCase{
		registry: registry,
		tokens:   tokens,
		creds:    creds,
		cache:    cache,
		ttl:      ttl,
		log:      log.With().Str("component", "taxpayer-lookup").Logger(),
		now:      time.Now,
	}
}

// Lookup valida el CUIT localmente y, si es válido, consulta el padrón con la credencial
// de orgID. Un CUIT con dígito verificador inválido responde valid=false sin llamadas de red.
// Con el padrón caído devuelve *domain.TransientServiceError: el CUIT no se invalida.
func (uc *LookupUseCase) Lookup(ctx context.Context, orgID, cuit string) (*entity.Taxpayer, error) {
	if err := afip.ValidateCUIT(cuit); err != nil {
		return &entity.Taxpayer{CUIT: cuit, Valid: false, CheckedAt: uc.now()}, nil
	}
	key := afip.NormalizeCUIT(cuit)
	if tp, err := uc.cache.Get(ctx, key); err != nil {
		uc.log.Warn().Err(err).Msg("caché de padrón no disponible")
	} else if tp != nil {
		return tp, nil
	}

	cred, err := uc.creds.GetByOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.CredentialError{OrganizationID: orgID, Reason: "organización sin credencial AFIP", Err: err}
		}
		return nil, err
	}
	issuer, err := afip.ParseCUIT(cred.CUIT)
	if err != nil {
		return nil, &domain.CredentialError{OrganizationID: orgID, Reason: "CUIT del emisor inválido", Err: err}
	}
	tok, err := uc.tokens.GetToken(ctx, orgID, afip.ServicePadron)
	if err != nil {
		return nil, err
	}
	session := afipdomain.Session{Token: tok.Token, Sign: tok.Sign, CUIT: issuer, Environment: cred.Environment}

	tp, err := uc.registry.GetPersona(ctx, session, key)
	if err != nil && billing.Classify(err) == billing.ClassAuth {
		uc.log.Warn().Err(err).Str("organization_id", orgID).Msg("ticket rechazado por el padrón, renovando")
		fresh, rerr := uc.tokens.ForceRefresh(ctx, orgID, afip.ServicePadron, tok)
		if rerr != nil {
			return nil, rerr
		}
		session.Token = fresh.Token
		session.Sign = fresh.Sign
		tp, err = uc.registry.GetPersona(ctx, session, key)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		tp = &entity.Taxpayer{
			CUIT:      afip.FormatCUIT(key),
			Valid:     false,
			Status:    entity.TaxpayerStatusUnknown,
			CheckedAt: uc.now(),
		}
	case err != nil:
		return nil, fmt.Errorf("consultando padrón: %w", err)
	}
	if err := uc.cache.Set(ctx, key, tp, uc.ttl); err != nil {
		uc.log.Warn().Err(err).Msg("no se pudo cachear la consulta al padrón")
	}
	uc.log.Info().
		Str("organization_id", orgID).
		Str("cuit", key).
		Bool("valid", tp.Valid).
		Str("tax_condition", string(tp.TaxCondition)).
		Msg("consulta de padrón")
	return tp, nil
}

// ToResponse mapea el resultado a la API.
func ToResponse(tp *entity.Taxpayer) *dto.TaxpayerResponse {
	return &dto.TaxpayerResponse{
		CUIT:         tp.CUIT,
		Valid:        tp.Valid,
		TaxCondition: string(tp.TaxCondition),
		LegalName:    tp.LegalName,
		Status:       tp.Status,
		PersonType:   tp.PersonType,
		Address:      tp.Address,
		CheckedAt:    tp.CheckedAt,
	}
}
