package repository

import (
	"context"

	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// CredentialRepository lectura de credenciales AFIP por organización.
type CredentialRepository interface {
	GetByOrganization(ctx context.Context, orgID string) (*entity.Credential, error)
	ListOrganizations(ctx context.Context) ([]string, error)
}
