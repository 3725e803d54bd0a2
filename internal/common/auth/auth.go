package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/contextkey"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	accessTokenType = "access"
)

// Config holds token verification settings. Tokens are issued by the
// external account service with the same secret and issuer.
type Config struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller may act on other users' resources.
func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

// CanAccess reports whether the caller owns the resource or is an admin.
func (i Identity) CanAccess(ownerID int64) bool {
	return i.IsAdmin() || i.UserID == ownerID
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewVerifier(cfg Config) *Verifier {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: ttl}
}

// Verify parses a raw bearer token into an Identity.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" || len(v.secret) == 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != accessTokenType {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: userID, Role: role}, nil
}

// Sign issues an access token. Used by the operator CLI and tests.
func (v *Verifier) Sign(identity Identity) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role:      identity.Role,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.UserID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// WithIdentity stores the caller in ctx for services and the logger.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	ctx = context.WithValue(ctx, contextkey.UserID, identity.UserID)
	return context.WithValue(ctx, contextkey.Role, identity.Role)
}

// FromContext returns the caller stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	userID, ok := ctx.Value(contextkey.UserID).(int64)
	if !ok {
		return Identity{}, false
	}
	role, _ := ctx.Value(contextkey.Role).(string)
	return Identity{UserID: userID, Role: role}, true
}
