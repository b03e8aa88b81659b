// Package qrcode dibuja el código QR del comprobante a partir de la URL AFIP.
package qrcode

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultSize lado en píxeles de la imagen.
const DefaultSize = 256

// RenderPNG codifica url en un QR con corrección de errores media y lo escala a size×size.
func RenderPNG(url string, size int) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("qr: url vacía")
	}
	if size <= 0 {
		size = DefaultSize
	}
	code, err := qr.Encode(url, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr: codificando: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("qr: escalando a %dpx: %w", size, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("qr: png: %w", err)
	}
	return buf.Bytes(), nil
}
