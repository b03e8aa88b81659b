// Package afip: interfaz para la firma CMS del ticket de acceso (TRA) de WSAA.

package afip

import "crypto/tls"

// Signer firma un contenido y devuelve un CMS SignedData (DER) con el contenido adjunto.
// La llave de cert puede ser cualquier crypto.Signer (archivo, HSM).
type Signer interface {
	Sign(content []byte, cert tls.Certificate) ([]byte, error)
}
