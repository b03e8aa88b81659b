package afip

import "time"

// BackoffSchedule esperas entre intentos transitorios; agotada la tabla la factura se aparta.
type BackoffSchedule []time.Duration

// DefaultBackoff 30s, 2m, 5m, 15m, 30m.
func DefaultBackoff() BackoffSchedule {
	return BackoffSchedule{30 * time.Second, 2 * time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute}
}

// Next devuelve la espera tras el intento fallido número attempt (1-based).
// ok=false cuando se agotaron los reintentos.
func (b BackoffSchedule) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(b) {
		return 0, false
	}
	return b[attempt-1], true
}

// MaxAttempts cantidad de intentos fallidos tolerados antes de apartar la factura.
func (b BackoffSchedule) MaxAttempts() int { return len(b) }
