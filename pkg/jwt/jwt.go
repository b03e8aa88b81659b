package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles de la API de colaboradores.
const (
	RoleCollaborator = "collaborator" // sistemas que envían facturas
	RoleOperator     = "operator"     // soporte: resolución manual de pánico, reintentos
)

// Claims incluye los claims estándar JWT más la organización emisora.
// OrganizationID es obligatorio: todas las operaciones se acotan a esa organización.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Generate genera un token JWT firmado (HS256) para subject dentro de orgID.
func Generate(secret, orgID, subject, role, issuer string, expMinutes int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt: secret vacío")
	}
	if orgID == "" {
		return "", fmt.Errorf("jwt: organization_id vacío")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expMinutes) * time.Minute)),
		},
		OrganizationID: orgID,
		Role:           role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse valida firma, vencimiento y presencia de organization_id.
func Parse(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt: secret vacío")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de firma inesperado: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("claims inválidos")
	}
	if claims.OrganizationID == "" {
		return nil, fmt.Errorf("jwt: falta organization_id")
	}
	return claims, nil
}
