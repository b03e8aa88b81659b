package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	"github.com/jhoicas/afip-core/pkg/afip"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo credenciales en memoria.
type CredentialRepo struct {
	mu    sync.RWMutex
	creds map[string]entity.Credential
}

// NewCredentialRepo crea el repositorio con las credenciales dadas.
func NewCredentialRepo(creds ...entity.Credential) *CredentialRepo {
	r := &CredentialRepo{creds: make(map[string]entity.Credential)}
	for _, c := range creds {
		r.Put(c)
	}
	return r
}

// Put agrega o reemplaza la credencial de la organización.
func (r *CredentialRepo) Put(c entity.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.PointsOfSale = append([]int(nil), c.PointsOfSale...)
	r.creds[c.OrganizationID] = c
}

func (r *CredentialRepo) GetByOrganization(_ context.Context, orgID string) (*entity.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[orgID]
	if !ok {
		return nil, fmt.Errorf("%w: credencial AFIP de %s", domain.ErrNotFound, orgID)
	}
	c.PointsOfSale = append([]int(nil), c.PointsOfSale...)
	return &c, nil
}

func (r *CredentialRepo) ListOrganizations(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.creds))
	for id := range r.creds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// credentialFile formato de los archivos *.json del directorio de credenciales.
type credentialFile struct {
	OrganizationID  string `json:"organization_id"`
	CUIT            string `json:"cuit"`
	CertPath        string `json:"cert_path"`
	KeyPath         string `json:"key_path"`
	CertPasswordEnv string `json:"cert_password_env"`
	Environment     string `json:"environment"`
	PointsOfSale    []int  `json:"points_of_sale"`
	TaxCondition    string `json:"tax_condition"`
}

// LoadCredentialsDir lee un archivo JSON por organización desde dir. Las rutas relativas
// se resuelven contra dir y la contraseña se toma de la variable cert_password_env.
func LoadCredentialsDir(dir string) (*CredentialRepo, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	repo := NewCredentialRepo()
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("leyendo %s: %w", path, err)
		}
		var f credentialFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if f.OrganizationID == "" {
			return nil, fmt.Errorf("%s: organization_id vacío", path)
		}
		if err := afip.ValidateCUIT(f.CUIT); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if !afip.ValidEnvironment(f.Environment) {
			return nil, fmt.Errorf("%s: ambiente %q desconocido", path, f.Environment)
		}
		c := entity.Credential{
			OrganizationID: f.OrganizationID,
			CUIT:           afip.NormalizeCUIT(f.CUIT),
			CertPath:       resolvePath(dir, f.CertPath),
			KeyPath:        resolvePath(dir, f.KeyPath),
			Environment:    f.Environment,
			PointsOfSale:   f.PointsOfSale,
			TaxCondition:   afip.TaxCondition(f.TaxCondition),
		}
		if f.CertPasswordEnv != "" {
			c.CertPassword = os.Getenv(f.CertPasswordEnv)
		}
		repo.Put(c)
	}
	return repo, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
