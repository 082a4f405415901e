package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"tally/crypto"
)

var (
	errAuthNotConfigured = errors.New("auth secret not configured")
	errMissingBearer     = errors.New("missing bearer token")
)

// authenticator validates HMAC-signed bearer tokens. The subject claim names
// the caller address.
type authenticator struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
}

func newAuthenticator(cfg ServerConfig) (*authenticator, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret != "" && len(secret) < 16 {
		return nil, fmt.Errorf("rpc: jwt secret must be at least 16 bytes")
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &authenticator{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(cfg.JWTIssuer),
		audience:  strings.TrimSpace(cfg.JWTAudience),
		clockSkew: skew,
	}, nil
}

func extractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// authenticate returns the caller named by the request's bearer token.
func (a *authenticator) authenticate(r *http.Request) (crypto.Address, error) {
	if len(a.secret) == 0 {
		return crypto.Address{}, errAuthNotConfigured
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return crypto.Address{}, errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	caller, err := crypto.DecodeAddress(claims.Subject)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("subject: %w", err)
	}
	return caller, nil
}

// IssueToken signs a token for subject valid for ttl. It is used by the
// operator CLI and tests.
func IssueToken(secret []byte, issuer, audience string, subject crypto.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
