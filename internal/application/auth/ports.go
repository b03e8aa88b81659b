package auth

import (
	"context"
	"time"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// LoginService protocolo WSAA (implementado por infrastructure/afip.WSAAClient).
type LoginService interface {
	Login(ctx context.Context, cred *entity.Credential, service string) (*entity.AuthToken, error)
}

// TokenStore caché compartida de tickets por (organización, servicio).
type TokenStore interface {
	// GetToken devuelve nil, nil si no hay ticket guardado.
	GetToken(ctx context.Context, orgID, service string) (*entity.AuthToken, error)
	SaveToken(ctx context.Context, tok *entity.AuthToken) error
	DeleteToken(ctx context.Context, orgID, service string) error
}

// Locker lock distribuido con expiración. Release solo libera si token sigue siendo el dueño.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
