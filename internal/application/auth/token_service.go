package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
	"github.com/jhoicas/afip-core/pkg/logger"
)

// Config tiempos del servicio de tickets.
type Config struct {
	Margin       time.Duration // ticket válido si ExpiresAt - Margin > now
	LockTTL      time.Duration
	WaitTimeout  time.Duration // espera máxima de quien no obtuvo el lock
	PollInterval time.Duration
	LoginTimeout time.Duration
}

// DefaultConfig margen 10m, lock 60s, espera 45s, sondeo 200ms.
func DefaultConfig() Config {
	return Config{
		Margin:       10 * time.Minute,
		LockTTL:      60 * time.Second,
		WaitTimeout:  45 * time.Second,
		PollInterval: 200 * time.Millisecond,
		LoginTimeout: 40 * time.Second,
	}
}

// TokenService entrega tickets WSAA vigentes. Garantiza a lo sumo un loginCms en vuelo por
// (organización, servicio): singleflight dentro del proceso y lock distribuido entre instancias.
type TokenService struct {
	login   LoginService
	creds   repository.CredentialRepository
	store   TokenStore
	locker  Locker
	cfg     Config
	group   singleflight.Group
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTokenService construye el servicio. Campos cero de cfg toman DefaultConfig.
func NewTokenService(login LoginService, creds repository.CredentialRepository, store TokenStore, locker Locker, cfg Config, log zerolog.Logger, m *metrics.Metrics) *TokenService {
	def := DefaultConfig()
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	return &TokenService{
		login:   login,
		creds:   creds,
		store:   store,
		locker:  locker,
		cfg:     cfg,
		log:     logger.Component(log, "wsaa-tokens"),
		metrics: m,
		now:     time.Now,
	}
}

// GetToken devuelve el ticket cacheado o renueva si falta o está por vencer.
func (s *TokenService) GetToken(ctx context.Context, orgID, service string) (*entity.AuthToken, error) {
	if tok := s.cached(ctx, orgID, service); tok != nil {
		return tok, nil
	}
	return s.refresh(ctx, orgID, service)
}

// ForceRefresh descarta stale (rechazado por AFIP) y obtiene uno nuevo.
// Si otro proceso ya lo reemplazó, devuelve el reemplazo sin llamar a WSAA.
func (s *TokenService) ForceRefresh(ctx context.Context, orgID, service string, stale *entity.AuthToken) (*entity.AuthToken, error) {
	cur, err := s.store.GetToken(ctx, orgID, service)
	if err != nil {
		s.log.Warn().Err(err).Str("organization_id", orgID).Msg("caché de tickets no disponible")
	}
	if cur != nil {
		if stale != nil && cur.Token != stale.Token && cur.ValidAt(s.now(), s.cfg.Margin) {
			return cur, nil
		}
		if err := s.store.DeleteToken(ctx, orgID, service); err != nil {
			s.log.Warn().Err(err).Str("organization_id", orgID).Msg("no se pudo descartar el ticket rechazado")
		}
	}
	return s.refresh(ctx, orgID, service)
}

func (s *TokenService) cached(ctx context.Context, orgID, service string) *entity.AuthToken {
	tok, err := s.store.GetToken(ctx, orgID, service)
	if err != nil {
		s.log.Warn().Err(err).Str("organization_id", orgID).Msg("caché de tickets no disponible")
		return nil
	}
	if tok.ValidAt(s.now(), s.cfg.Margin) {
		return tok
	}
	return nil
}

// refresh comparte una única renovación entre los llamadores concurrentes del proceso.
// La renovación no se cancela si el llamador que la inició abandona.
func (s *TokenService) refresh(ctx context.Context, orgID, service string) (*entity.AuthToken, error) {
	ch := s.group.DoChan(orgID+"|"+service, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoginTimeout+s.cfg.WaitTimeout)
		defer cancel()
		return s.loginShared(lctx, orgID, service)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entity.AuthToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// loginShared coordina entre instancias: quien obtiene el lock llama a WSAA; el resto
// sondea la caché hasta que aparezca el ticket o el lock se libere.
func (s *TokenService) loginShared(ctx context.Context, orgID, service string) (*entity.AuthToken, error) {
	lockKey := "wsaa:" + orgID + ":" + service
	deadline := s.now().Add(s.cfg.WaitTimeout)
	for {
		if tok := s.cached(ctx, orgID, service); tok != nil {
			return tok, nil
		}
		lockToken, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			return nil, &domain.TransientServiceError{Op: "wsaa-lock", Message: "lock de renovación no disponible", Err: err}
		}
		if ok {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, lockToken); err != nil {
					s.log.Warn().Err(err).Str("organization_id", orgID).Msg("no se pudo liberar el lock de renovación")
				}
			}()
			if tok := s.cached(ctx, orgID, service); tok != nil {
				return tok, nil
			}
			return s.doLogin(ctx, orgID, service)
		}
		if s.now().After(deadline) {
			return nil, &domain.TransientServiceError{Op: "loginCms", Code: "ESPERA", Message: "otra instancia no completó la renovación a tiempo"}
		}
		select {
		case <-ctx.Done():
			return nil, &domain.TransientServiceError{Op: "loginCms", Code: "CANCELADO", Err: ctx.Err()}
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *TokenService) doLogin(ctx context.Context, orgID, service string) (*entity.AuthToken, error) {
	cred, err := s.creds.GetByOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.CredentialError{OrganizationID: orgID, Reason: "organización sin credencial AFIP", Err: err}
		}
		return nil, fmt.Errorf("leer credencial: %w", err)
	}
	start := s.now()
	tok, err := s.login.Login(ctx, cred, service)
	if err != nil {
		s.metrics.TokenRefresh(service, outcomeOf(err))
		s.log.Warn().Err(err).Str("organization_id", orgID).Str("service", service).Msg("loginCms falló")
		return nil, err
	}
	s.metrics.TokenRefresh(service, metrics.OutcomeOK)
	if err := s.store.SaveToken(ctx, tok); err != nil {
		s.log.Warn().Err(err).Str("organization_id", orgID).Msg("ticket obtenido pero no se pudo cachear")
	}
	s.log.Info().
		Str("organization_id", orgID).
		Str("service", service).
		Str("token_fp", logger.Fingerprint(tok.Token)).
		Time("expires_at", tok.ExpiresAt).
		Dur("duracion", s.now().Sub(start)).
		Msg("ticket WSAA renovado")
	return tok, nil
}

func outcomeOf(err error) string {
	var te *domain.TransientServiceError
	if errors.As(err, &te) {
		return metrics.OutcomeTransient
	}
	return metrics.OutcomeAuth
}
