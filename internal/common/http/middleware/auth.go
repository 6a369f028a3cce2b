package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "judgebox/pkg/errors"
	"judgebox/pkg/utils/contextkey"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey = "user_id"

// AuthConfig configures access token validation.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
	// Disabled lets every request through as AnonymousUser (local development only).
	Disabled bool `yaml:"disabled"`
}

// AnonymousUser is the identity used when auth is disabled.
const AnonymousUser = "anonymous"

// Authenticator validates HS256 access tokens issued by the auth service.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate returns the user id carried by a valid access token.
func (a *Authenticator) Authenticate(raw string) (string, error) {
	if raw == "" || len(a.secret) == 0 {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", pkgerrors.New(pkgerrors.TokenExpired)
		}
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims.Subject, nil
}

// AuthMiddleware enforces a bearer token and stores the user id in the gin and request contexts.
// The token may also arrive as the "token" query parameter, which browsers need for websocket upgrades.
func AuthMiddleware(auth *Authenticator, cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := AnonymousUser
		if !cfg.Disabled {
			if auth == nil {
				response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth is not configured")
				return
			}
			token := extractBearerToken(c.GetHeader("Authorization"))
			if token == "" {
				token = strings.TrimSpace(c.Query("token"))
			}
			id, err := auth.Authenticate(token)
			if err != nil {
				response.AbortWithError(c, err)
				return
			}
			userID = id
		}
		c.Set(userIDContextKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, userID))
		c.Next()
	}
}

// UserID returns the authenticated user id stored by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
