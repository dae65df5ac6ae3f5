package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// jwtTTL is the lifetime of exchanged session tokens.
const jwtTTL = 15 * time.Minute

// Claims carried by an exchanged session token.
type Claims struct {
	TenantID uuid.UUID
	TokenID  uuid.UUID
	Scopes   []string
}

// GenerateJWT exchanges an authenticated tenant token for a short-lived
// session JWT carrying the tenant id and scopes.
func GenerateJWT(tenantID, tokenID uuid.UUID, scopes []string, secret []byte) (string, int64, error) {
	expiresAt := time.Now().Add(jwtTTL).Unix()
	claims := jwt.MapClaims{
		"sub":      tenantID.String(),
		"token_id": tokenID.String(),
		"scopes":   scopes,
		"exp":      expiresAt,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signed, expiresAt, nil
}

// ValidateJWT verifies a session token and extracts its claims.
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, _ := mapClaims["sub"].(string)
	tenantID, err := uuid.Parse(sub)
	if err != nil {
		return nil, errors.New("invalid tenant claim")
	}

	tokenIDStr, _ := mapClaims["token_id"].(string)
	tokenID, err := uuid.Parse(tokenIDStr)
	if err != nil {
		return nil, errors.New("invalid token_id claim")
	}

	var scopes []string
	if raw, ok := mapClaims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	return &Claims{TenantID: tenantID, TokenID: tokenID, Scopes: scopes}, nil
}
