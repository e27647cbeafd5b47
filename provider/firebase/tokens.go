package firebase

import (
	"context"
	"sort"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const issuerPrefix = "https://securetoken.google.com/"

// IDTokenClaims are the claims Firebase puts in its ID tokens.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	UserID        string         `json:"user_id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name"`
	Picture       string         `json:"picture"`
	Firebase      FirebaseClaims `json:"firebase"`
}

// FirebaseClaims is the "firebase" claim of an ID token.
type FirebaseClaims struct {
	Identities     map[string]any `json:"identities"`
	SignInProvider string         `json:"sign_in_provider"`
}

// Providers returns the linked provider ids, e.g. "google.com" or "password".
func (c *IDTokenClaims) Providers() []string {
	if c == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for id := range c.Firebase.Identities {
		if id == "email" {
			continue
		}
		seen[id] = struct{}{}
	}
	if p := c.Firebase.SignInProvider; p != "" && p != "custom" && p != "anonymous" {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TokenDecoder turns a raw ID token into claims.
type TokenDecoder interface {
	Decode(ctx context.Context, idToken string) (*IDTokenClaims, error)
}

// TokenDecoderFunc adapts a function to TokenDecoder.
type TokenDecoderFunc func(ctx context.Context, idToken string) (*IDTokenClaims, error)

func (f TokenDecoderFunc) Decode(ctx context.Context, idToken string) (*IDTokenClaims, error) {
	return f(ctx, idToken)
}

// UnverifiedDecoder reads the claims without checking the signature. The
// token was received directly from Firebase over TLS.
type UnverifiedDecoder struct{}

func (UnverifiedDecoder) Decode(_ context.Context, idToken string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed id token")
	}
	return claims, nil
}

// JWKSDecoder verifies ID tokens against the Google secure token key set.
type JWKSDecoder struct {
	projectID string
	jwks      *keyfunc.JWKS
	parser    *jwt.Parser
}

// NewJWKSDecoder fetches the key set at jwksURL and keeps it refreshed.
func NewJWKSDecoder(projectID, jwksURL string, onRefreshError func(error)) (*JWKSDecoder, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: onRefreshError,
		RefreshInterval:     time.Hour,
		RefreshRateLimit:    5 * time.Minute,
		RefreshTimeout:      10 * time.Second,
		RefreshUnknownKID:   true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load firebase key set").
			WithMetadata(map[string]any{"jwks_url": jwksURL})
	}
	return newJWKSDecoder(projectID, jwks), nil
}

func newJWKSDecoder(projectID string, jwks *keyfunc.JWKS) *JWKSDecoder {
	return &JWKSDecoder{
		projectID: projectID,
		jwks:      jwks,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithAudience(projectID),
			jwt.WithIssuer(issuerPrefix+projectID),
			jwt.WithExpirationRequired(),
		),
	}
}

func (d *JWKSDecoder) Decode(_ context.Context, idToken string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	token, err := d.parser.ParseWithClaims(idToken, claims, d.jwks.Keyfunc)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid id token")
	}
	if !token.Valid {
		return nil, goerrors.New("invalid id token", goerrors.CategoryAuth)
	}
	return claims, nil
}

// Close stops the background key refresh.
func (d *JWKSDecoder) Close() {
	if d != nil && d.jwks != nil {
		d.jwks.EndBackground()
	}
}
