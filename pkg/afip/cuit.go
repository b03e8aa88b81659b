package afip

import (
	"fmt"
	"strconv"
	"unicode"
)

// pesos del dígito verificador de CUIT/CUIL, aplicados a los 10 primeros dígitos de izquierda a derecha.
var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// prefijos de tipo admitidos (personas humanas, jurídicas y extranjeros).
var cuitPrefixes = map[string]bool{
	"20": true, "23": true, "24": true, "25": true, "26": true, "27": true,
	"30": true, "33": true, "34": true,
}

// ValidateCUIT valida formato y dígito verificador (módulo 11) de un CUIT.
// Acepta "30-71659554-0", "30716595540" o con espacios. No realiza llamadas de red.
func ValidateCUIT(cuit string) error {
	digits := extractDigits(cuit)
	if len(digits) != 11 {
		return fmt.Errorf("afip: CUIT debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	if !cuitPrefixes[string(digits[:2])] {
		return fmt.Errorf("afip: prefijo de CUIT %q inválido", string(digits[:2]))
	}
	expected, ok := checkDigit(digits[:10])
	if !ok {
		return fmt.Errorf("afip: CUIT %s sin dígito verificador posible", string(digits))
	}
	if digits[10] != expected {
		return fmt.Errorf("afip: dígito verificador del CUIT inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

// ComputeCUITCheckDigit calcula el dígito verificador para los 10 primeros dígitos.
func ComputeCUITCheckDigit(base string) (byte, error) {
	digits := extractDigits(base)
	if len(digits) < 10 {
		return 0, fmt.Errorf("afip: se requieren 10 dígitos para calcular el verificador, se encontraron %d", len(digits))
	}
	d, ok := checkDigit(digits[:10])
	if !ok {
		return 0, fmt.Errorf("afip: la base %s no admite dígito verificador", string(digits[:10]))
	}
	return d, nil
}

// NormalizeCUIT devuelve los 11 dígitos sin separadores.
func NormalizeCUIT(cuit string) string {
	return string(extractDigits(cuit))
}

// FormatCUIT devuelve el CUIT con guiones (XX-XXXXXXXX-X). Si no tiene 11 dígitos lo devuelve normalizado.
func FormatCUIT(cuit string) string {
	d := extractDigits(cuit)
	if len(d) != 11 {
		return string(d)
	}
	return string(d[:2]) + "-" + string(d[2:10]) + "-" + string(d[10:])
}

// ParseCUIT valida y convierte a entero (formato usado por WSFE y Padrón).
func ParseCUIT(cuit string) (int64, error) {
	if err := ValidateCUIT(cuit); err != nil {
		return 0, err
	}
	return strconv.ParseInt(NormalizeCUIT(cuit), 10, 64)
}

// resto 0 → 0; resto 1 → sin verificador válido; otro → 11 - resto.
func checkDigit(base []byte) (byte, bool) {
	var sum int
	for i, d := range base {
		sum += int(d-'0') * cuitWeights[i]
	}
	switch r := sum % 11; r {
	case 0:
		return '0', true
	case 1:
		return 0, false
	default:
		return byte('0' + (11 - r)), true
	}
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
