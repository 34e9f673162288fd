package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const callerIDLocal = "caller_id"

// CallerID returns the authenticated caller, or "" when none was resolved.
func CallerID(c *fiber.Ctx) string {
	id, _ := c.Locals(callerIDLocal).(string)
	return id
}

// SetCallerID stores the caller for downstream handlers.
func SetCallerID(c *fiber.Ctx, id string) {
	c.Locals(callerIDLocal, id)
}

// BearerAuth validates an HS256 access token and exposes its subject as the
// caller. Token issuance happens elsewhere.
func BearerAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		subject, err := ParseSubject(strings.TrimSpace(authz[len("bearer "):]), secret)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		SetCallerID(c, subject)
		return c.Next()
	}
}

// ParseSubject verifies token and returns its non-empty subject claim.
func ParseSubject(token string, secret []byte) (string, error) {
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !tok.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
