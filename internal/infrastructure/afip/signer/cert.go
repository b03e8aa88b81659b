// Carga de certificado AFIP desde .p12 (PKCS#12) o par PEM y validación de vigencia.

package signer

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/afip-core/internal/domain"
	"github.com/jhoicas/afip-core/internal/domain/entity"
)

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (separados o combinados en certPath).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parsear certificado: %w", err)
		}
		cert.Leaf = leaf
	}
	return cert, nil
}

// LoadCredential carga el material de firma de la credencial y verifica su vigencia en now.
// Cualquier falla se informa como *domain.CredentialError.
func LoadCredential(cred *entity.Credential, now time.Time) (tls.Certificate, error) {
	fail := func(reason string, err error) (tls.Certificate, error) {
		return tls.Certificate{}, &domain.CredentialError{OrganizationID: cred.OrganizationID, Reason: reason, Err: err}
	}
	if cred.CertPath == "" {
		return fail("ruta de certificado no configurada", nil)
	}
	var cert tls.Certificate
	var err error
	switch strings.ToLower(filepath.Ext(cred.CertPath)) {
	case ".p12", ".pfx":
		cert, err = LoadFromP12(cred.CertPath, cred.CertPassword)
	default:
		cert, err = LoadFromPEM(cred.CertPath, cred.KeyPath)
	}
	if err != nil {
		return fail("no se pudo cargar el certificado", err)
	}
	if err := CheckValidity(cert, now); err != nil {
		return fail(err.Error(), nil)
	}
	return cert, nil
}

// CheckValidity verifica que haya certificado hoja vigente y llave usable para firmar.
func CheckValidity(cert tls.Certificate, now time.Time) error {
	if cert.Leaf == nil {
		return fmt.Errorf("certificado sin hoja X.509")
	}
	if _, ok := cert.PrivateKey.(crypto.Signer); !ok {
		return fmt.Errorf("la llave privada no admite firma")
	}
	if now.Before(cert.Leaf.NotBefore) {
		return fmt.Errorf("certificado aún no vigente (desde %s)", cert.Leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.Leaf.NotAfter) {
		return fmt.Errorf("certificado vencido el %s", cert.Leaf.NotAfter.Format(time.RFC3339))
	}
	return nil
}
