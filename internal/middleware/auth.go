package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/modeltrainer/api/pkg/response"
)

const (
	tokenIssuer    = "modeltrainer-api"
	localSubject   = "subject"
	tokenQueryName = "token"
)

var errNoToken = errors.New("missing bearer token")

// AuthMiddleware checks HS256 bearer tokens issued for this API. The token
// subject identifies the caller.
type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(jwtSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Authenticate accepts the token from the Authorization header, or from the
// token query parameter since browsers cannot set headers on a WebSocket
// upgrade
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := extractToken(c)
		if err != nil {
			return response.Unauthorized(c, err.Error())
		}

		var claims jwt.RegisteredClaims
		if _, err := m.parser.ParseWithClaims(raw, &claims, m.key); err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		if claims.Subject == "" {
			return response.Unauthorized(c, "Token has no subject")
		}

		c.Locals(localSubject, claims.Subject)
		return c.Next()
	}
}

func (m *AuthMiddleware) key(*jwt.Token) (interface{}, error) {
	return m.secret, nil
}

func extractToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if token := c.Query(tokenQueryName); token != "" {
			return token, nil
		}
		return "", errNoToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errors.New("authorization header must be a bearer token")
	}
	return token, nil
}

// GetUserID returns the authenticated subject, or "" on open routes
func GetUserID(c *fiber.Ctx) string {
	subject, _ := c.Locals(localSubject).(string)
	return subject
}

// GenerateToken issues a token for subject that expires after ttl. A zero
// ttl issues a token without expiry.
func (m *AuthMiddleware) GenerateToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   tokenIssuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
