package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/pkg/afip"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo lee afip_credentials. La contraseña del certificado se resuelve desde la
// variable de entorno indicada en cert_password_env; la tabla nunca la almacena.
type CredentialRepo struct {
	q      Querier
	dir    string
	getenv func(string) string
}

// NewCredentialRepository construye el adaptador. dir es la base para rutas relativas de certificado.
func NewCredentialRepository(q Querier, dir string) *CredentialRepo {
	return &CredentialRepo{q: q, dir: dir, getenv: os.Getenv}
}

// GetByOrganization devuelve domain.ErrNotFound si la organización no tiene credencial.
func (r *CredentialRepo) GetByOrganization(ctx context.Context, orgID string) (*entity.Credential, error) {
	const query = `
		SELECT organization_id, cuit, cert_path, key_path, cert_password_env, environment, points_of_sale, tax_condition
		FROM afip_credentials WHERE organization_id = $1`
	var c entity.Credential
	var passwordEnv, taxCondition string
	var pos []int32
	err := r.q.QueryRow(ctx, query, orgID).Scan(
		&c.OrganizationID, &c.CUIT, &c.CertPath, &c.KeyPath, &passwordEnv, &c.Environment, &pos, &taxCondition,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: credencial AFIP de %s", domain.ErrNotFound, orgID)
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	for _, p := range pos {
		c.PointsOfSale = append(c.PointsOfSale, int(p))
	}
	c.TaxCondition = afip.TaxCondition(taxCondition)
	c.CertPath = r.resolve(c.CertPath)
	c.KeyPath = r.resolve(c.KeyPath)
	if passwordEnv != "" {
		c.CertPassword = r.getenv(passwordEnv)
	}
	return &c, nil
}

// ListOrganizations organizaciones con credencial configurada (monitor de pánico).
func (r *CredentialRepo) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT organization_id FROM afip_credentials ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *CredentialRepo) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || r.dir == "" {
		return path
	}
	return filepath.Join(r.dir, path)
}
