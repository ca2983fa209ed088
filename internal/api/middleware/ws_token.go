package middleware

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/roomcast/transcript-relay/internal/utils"
)

// ChannelClaims are the claims carried by a viewer's channel token. The
// issuing service signs them with the shared JWT secret.
type ChannelClaims struct {
	SessionID   string `json:"sessionId"`
	SessionSlug string `json:"sessionSlug"`
	Identity    string `json:"identity"`
	jwt.RegisteredClaims
}

// ParseChannelToken validates an HS256 channel token and returns its claims.
func ParseChannelToken(secret, raw string) (*ChannelClaims, error) {
	const op = "middleware.ParseChannelToken"

	claims := &ChannelClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, utils.E(utils.CodeUnauthorized, op, "invalid channel token", err)
	}
	if !token.Valid {
		return nil, utils.E(utils.CodeUnauthorized, op, "invalid channel token", nil)
	}
	return claims, nil
}
