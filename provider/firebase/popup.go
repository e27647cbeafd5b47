package firebase

import (
	"context"
	"net/url"
	"strings"

	identity "github.com/goliatone/go-identity"
)

// IdPGrant is the OAuth result a host collects from the provider popup. It
// must carry the provider access token; Google grants may add an id token.
type IdPGrant struct {
	AccessToken string
	IDToken     string
}

// PopupOpener runs the provider popup on behalf of the client. It returns
// ErrPopupClosedByUser or ErrPopupBlocked when the user cannot complete it,
// and must return when ctx is cancelled.
type PopupOpener interface {
	OpenPopup(ctx context.Context, provider identity.ProviderTag) (*IdPGrant, error)
}

// PopupOpenerFunc adapts a function to PopupOpener.
type PopupOpenerFunc func(ctx context.Context, provider identity.ProviderTag) (*IdPGrant, error)

func (f PopupOpenerFunc) OpenPopup(ctx context.Context, provider identity.ProviderTag) (*IdPGrant, error) {
	return f(ctx, provider)
}

func (g *IdPGrant) postBody(provider identity.ProviderTag) string {
	values := url.Values{"providerId": {provider.ProviderID()}}
	if g.IDToken != "" {
		values.Set("id_token", g.IDToken)
	}
	if g.AccessToken != "" {
		values.Set("access_token", g.AccessToken)
	}
	return values.Encode()
}

func (g *IdPGrant) missingAccessToken() bool {
	return g == nil || strings.TrimSpace(g.AccessToken) == ""
}
