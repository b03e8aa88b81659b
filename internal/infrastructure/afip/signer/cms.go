// Firma CMS (PKCS#7 SignedData) del ticket de acceso para WSAA.

package signer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/jhoicas/afip-core/pkg/afip"
)

var _ afip.Signer = (*CMSSigner)(nil)

// CMSSigner implementa pkg/afip.Signer con SHA-256 y contenido adjunto.
type CMSSigner struct{}

// NewCMSSigner crea el firmante.
func NewCMSSigner() *CMSSigner {
	return &CMSSigner{}
}

// Sign devuelve el CMS en DER. El llamador lo codifica en base64 para el campo in0 de loginCms.
func (s *CMSSigner) Sign(content []byte, cert tls.Certificate) ([]byte, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("cms: contenido vacío")
	}
	leaf := cert.Leaf
	if leaf == nil {
		if len(cert.Certificate) == 0 {
			return nil, fmt.Errorf("cms: certificado ausente")
		}
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("cms: parsear certificado: %w", err)
		}
	}
	if cert.PrivateKey == nil {
		return nil, fmt.Errorf("cms: llave privada ausente")
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("cms: inicializar SignedData: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(leaf, cert.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("cms: agregar firmante: %w", err)
	}
	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("cms: finalizar: %w", err)
	}
	return der, nil
}
