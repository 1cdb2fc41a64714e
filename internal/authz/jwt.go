// Package authz supplies a concrete, pluggable server.AuthorizedFunc
// backed by JWT bearer tokens, grounded in the teacher's
// api/internal/auth/jwt.go: HS256 signing, explicit algorithm
// verification, and an expiry/not-before check via jwt.RegisteredClaims.
package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set chsk needs: a uid to feed into the
// registry, carried as the standard "sub" claim.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuthorizer verifies the bearer token on incoming requests and, once
// verified, extracts the uid for downstream use.
type JWTAuthorizer struct {
	SecretKey []byte
	Issuer    string
}

// NewJWTAuthorizer builds a JWTAuthorizer over secretKey, optionally
// requiring a specific issuer claim (pass "" to skip the issuer check).
func NewJWTAuthorizer(secretKey []byte, issuer string) *JWTAuthorizer {
	return &JWTAuthorizer{SecretKey: secretKey, Issuer: issuer}
}

// Authorized implements server.AuthorizedFunc: true if the request carries
// a valid, unexpired bearer token.
func (a *JWTAuthorizer) Authorized(r *http.Request) bool {
	_, err := a.uidFromRequest(r)
	return err == nil
}

// UserID implements server.UserIDFunc, returning "" if the token is
// missing or invalid (the server then falls back to registry.NilUID).
func (a *JWTAuthorizer) UserID(r *http.Request) string {
	uid, err := a.uidFromRequest(r)
	if err != nil {
		return ""
	}
	return uid
}

func (a *JWTAuthorizer) uidFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == "" || tokenString == header {
		return "", errors.New("chsk: authz: missing bearer token")
	}
	claims, err := a.validate(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// validate mirrors the teacher's ValidateToken: reject anything not signed
// with HMAC before trusting the key, then let jwt.ParseWithClaims enforce
// exp/nbf.
func (a *JWTAuthorizer) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("chsk: authz: unexpected signing method %v", t.Header["alg"])
		}
		return a.SecretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chsk: authz: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("chsk: authz: invalid token")
	}
	if a.Issuer != "" && claims.Issuer != a.Issuer {
		return nil, fmt.Errorf("chsk: authz: unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}
