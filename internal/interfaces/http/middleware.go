package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

const actorKey = "actor"

// TokenVerifier checks bearer tokens issued by the identity service
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier accepts HS256 tokens signed with secret. An empty issuer is not checked.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Subject validates the token and returns its sub claim
func (v *TokenVerifier) Subject(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return "", err
	}

	if err := utils.ValidateUserID(claims.Subject); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Sign issues a token for subject. Used by tooling and tests.
func (v *TokenVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ActorMiddleware resolves the acting user from the Authorization header
func ActorMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := verifier.Subject(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireCapability rejects actors whose role lacks the capability
func RequireCapability(authz port.Authorizer, capability entity.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.Authorize(c.Request.Context(), actorFrom(c), capability); err != nil {
			if errors.Is(err, entity.ErrForbidden) {
				abort(c, http.StatusForbidden, err.Error())
				return
			}
			abort(c, http.StatusInternalServerError, "authorization failed")
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return c.GetString(actorKey)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"actor", actorFrom(c),
			"client_ip", c.ClientIP(),
		)
	}
}
