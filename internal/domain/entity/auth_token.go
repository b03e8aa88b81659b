package entity

import "time"

// AuthToken ticket de acceso WSAA (token + sign) por organización y servicio.
type AuthToken struct {
	OrganizationID string    `json:"organization_id"`
	Service        string    `json:"service"`
	Token          string    `json:"token"`
	Sign           string    `json:"sign"`
	GeneratedAt    time.Time `json:"generated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ValidAt indica si el ticket sigue usable en now dejando margin antes del vencimiento.
func (t *AuthToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Token == "" {
		return false
	}
	return t.ExpiresAt.Add(-margin).After(now)
}
