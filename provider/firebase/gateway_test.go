package firebase_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/firebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, client *firebase.Client) *identity.Gateway {
	t.Helper()
	require.NoError(t, client.Init(context.Background()))
	gw, err := identity.NewGateway(client, nil, identity.WithLogger(identity.NoopLogger()))
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw
}

func TestGateway_GooglePopup(t *testing.T) {
	f := newFakeFirebase(t)
	payload := authPayload(t, "uid-g", "grace@example.com", "google.com")
	payload["providerId"] = "google.com"
	payload["oauthIdToken"] = "google-oauth-id-token"
	f.respond("/v1/accounts:signInWithIdp", http.StatusOK, payload)

	opener := firebase.PopupOpenerFunc(func(_ context.Context, provider identity.ProviderTag) (*firebase.IdPGrant, error) {
		assert.Equal(t, identity.ProviderGoogle, provider)
		return &firebase.IdPGrant{AccessToken: "ya29.google-access", IDToken: "google-id-token"}, nil
	})
	gw := newGateway(t, newClient(t, f, firebase.WithPopupOpener(opener)))

	var sessions []identity.Session
	unsubscribe := gw.Subscribe(func(s identity.Session) { sessions = append(sessions, s) })
	defer unsubscribe()

	res, err := gw.SignInWithProvider(context.Background(), identity.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, identity.ProviderGoogle, res.Credential.Provider)
	assert.Equal(t, "ya29.google-access", res.Credential.AccessToken)
	assert.Equal(t, "uid-g", res.User.ID)

	assert.Equal(t, "uid-g", gw.Session().UserID())
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].IsAnonymous())
	assert.True(t, sessions[1].IsAuthenticated())
	assert.Equal(t, identity.StateIdle, gw.State(identity.ClassProviderPopup))
}

func TestGateway_FacebookPopupFallsBackToGrantToken(t *testing.T) {
	f := newFakeFirebase(t)
	payload := authPayload(t, "uid-fb", "fb@example.com", "facebook.com")
	payload["providerId"] = "facebook.com"
	f.respond("/v1/accounts:signInWithIdp", http.StatusOK, payload)

	opener := firebase.PopupOpenerFunc(func(context.Context, identity.ProviderTag) (*firebase.IdPGrant, error) {
		return &firebase.IdPGrant{AccessToken: "grant-token"}, nil
	})
	gw := newGateway(t, newClient(t, f, firebase.WithPopupOpener(opener)))

	res, err := gw.SignInWithProvider(context.Background(), identity.ProviderFacebook)
	require.NoError(t, err)
	assert.Equal(t, identity.ProviderFacebook, res.Credential.Provider)
	assert.Equal(t, "grant-token", res.Credential.AccessToken)
	assert.Equal(t, "uid-fb", gw.Session().UserID())
}

func TestGateway_PopupGrantWithoutAccessToken(t *testing.T) {
	f := newFakeFirebase(t)
	opener := firebase.PopupOpenerFunc(func(context.Context, identity.ProviderTag) (*firebase.IdPGrant, error) {
		return &firebase.IdPGrant{IDToken: "google-id-token"}, nil
	})
	gw := newGateway(t, newClient(t, f, firebase.WithPopupOpener(opener)))

	_, err := gw.SignInWithProvider(context.Background(), identity.ProviderGoogle)
	require.Error(t, err)
	assert.Equal(t, identity.KindInvalidCredential, identity.KindOf(err))
	assert.True(t, gw.Session().IsAnonymous())
	assert.Empty(t, f.recorded(), "grant is rejected before the exchange")
	assert.Equal(t, identity.StateIdle, gw.State(identity.ClassProviderPopup))
}

func TestGateway_SignOutFromSubscriber(t *testing.T) {
	f := newFakeFirebase(t)
	f.respond("/v1/accounts:signInWithPassword", http.StatusOK, authPayload(t, "uid-1", "ada@example.com"))
	gw := newGateway(t, newClient(t, f))

	_, err := gw.SignIn(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)

	var mu sync.Mutex
	var sessions []identity.Session
	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.Subscribe(func(s identity.Session) {
			mu.Lock()
			sessions = append(sessions, s)
			mu.Unlock()
			if s.IsAuthenticated() {
				assert.NoError(t, gw.SignOut(context.Background()))
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sign out from a subscriber blocked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sessions, 2)
	assert.Equal(t, "uid-1", sessions[0].UserID())
	assert.True(t, sessions[1].IsAnonymous())
	assert.True(t, gw.Session().IsAnonymous())
}

func TestGateway_PasswordFlowOverREST(t *testing.T) {
	f := newFakeFirebase(t)
	f.respond("/v1/accounts:signUp", http.StatusOK, authPayload(t, "uid-new", "new@example.com"))
	f.fail("/v1/accounts:update", http.StatusBadRequest, "CREDENTIAL_TOO_OLD_LOGIN_AGAIN")

	gw := newGateway(t, newClient(t, f))

	assert.True(t, gw.Session().IsAnonymous())

	user, err := gw.SignUp(context.Background(), "new@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "uid-new", user.ID)
	assert.Equal(t, "uid-new", gw.Session().UserID())

	err = gw.ChangePassword(context.Background(), "another-secret")
	require.Error(t, err)
	assert.Equal(t, identity.KindRequiresRecentLogin, identity.KindOf(err))
	assert.True(t, identity.RequiresReauthentication(err))

	require.NoError(t, gw.SignOut(context.Background()))
	assert.True(t, gw.Session().IsAnonymous())
}
