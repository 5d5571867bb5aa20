package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleScanner = "scanner"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the caller identity every handler works with.
type Claims struct {
	Subject string
	Email   string
	Roles   []string
}

func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Verifier turns a raw bearer token into Claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// tokenClaims covers both plain "roles" and Keycloak's realm_access.roles.
type tokenClaims struct {
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (tc tokenClaims) toClaims(subject string) (*Claims, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject claim not found in token", ErrUnauthenticated)
	}
	roles := append([]string{}, tc.Roles...)
	roles = append(roles, tc.RealmAccess.Roles...)
	return &Claims{Subject: subject, Email: tc.Email, Roles: roles}, nil
}

// OIDCVerifier checks tokens against the issuer's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider for %s: %w", issuer, err)
	}
	// Access tokens carry no fixed audience.
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	var tc tokenClaims
	if err := idToken.Claims(&tc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrUnauthenticated, err)
	}
	return tc.toClaims(idToken.Subject)
}

// HMACVerifier validates HS256 tokens signed with a shared secret, for
// local development without an identity provider.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

type hmacClaims struct {
	tokenClaims
	jwt.RegisteredClaims
}

func (v *HMACVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	var c hmacClaims
	_, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return c.toClaims(c.Subject)
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: authorization header is missing", ErrUnauthenticated)
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: authorization header format must be 'Bearer {token}'", ErrUnauthenticated)
	}

	return parts[1], nil
}
