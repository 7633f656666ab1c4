// Package middleware authenticates API requests with HMAC-signed JWT bearer
// tokens whose subject is the requesting actor's id.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const actorIDKey = "actorID"

var errEmptySecret = errors.New("jwt secret must not be empty")

// Authenticator issues and checks API tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	clock  util.Clock
}

func NewAuthenticator(secret string, ttl time.Duration, clock util.Clock) (*Authenticator, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	if clock == nil {
		clock = util.RealClock()
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// IssueToken signs a token for actorID and returns it with its expiry.
func (a *Authenticator) IssueToken(actorID uuid.UUID) (string, time.Time, error) {
	now := a.clock.Now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   actorID.String(),
		Issuer:    util.Name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseToken validates a token and returns its subject.
func (a *Authenticator) ParseToken(tokenString string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}

func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// RequireActor rejects requests without a valid bearer token.
func (a *Authenticator) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "authorization header required")
			return
		}
		actorID, err := a.ParseToken(token)
		if err != nil {
			log.Debug("rejected token", "path", c.Request.URL.Path, "err", err)
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		c.Set(actorIDKey, actorID)
		c.Next()
	}
}

// OptionalActor records the requesting actor when a valid token is present
// and lets anonymous requests through.
func (a *Authenticator) OptionalActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if actorID, err := a.ParseToken(token); err == nil {
				c.Set(actorIDKey, actorID)
			}
		}
		c.Next()
	}
}

// ActorID returns the authenticated actor of the request.
func ActorID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(actorIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  domain.KindUnauthorized.String(),
	})
}
