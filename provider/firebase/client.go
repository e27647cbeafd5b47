package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = time.Hour
	expirySkew      = 30 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithTokenStore sets where the signed in account is persisted.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// WithPopupOpener sets the host popup used by SignInWithPopup.
func WithPopupOpener(opener PopupOpener) Option {
	return func(c *Client) {
		c.opener = opener
	}
}

// WithTokenDecoder overrides how ID tokens are decoded.
func WithTokenDecoder(decoder TokenDecoder) Option {
	return func(c *Client) {
		if decoder != nil {
			c.decoder = decoder
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger identity.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type account struct {
	user         *identity.User
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

type listener struct {
	id     uuid.UUID
	fn     func(*identity.User)
	active atomic.Bool
}

type change struct {
	user    *identity.User
	targets []*listener
}

// Client implements identity.ProviderClient on the Firebase Auth REST API.
//
// Session changes are delivered in the order they happened. A listener may
// call back into the client; nested changes are queued and delivered after
// the current one.
type Client struct {
	cfg        Config
	httpClient *http.Client
	store      TokenStore
	opener     PopupOpener
	decoder    TokenDecoder
	logger     identity.Logger
	now        func() time.Time

	mu         sync.Mutex
	current    *account
	ready      bool
	listeners  []*listener
	queue      []change
	delivering bool
}

var _ identity.ProviderClient = (*Client)(nil)

// New returns a Client for cfg. Call Init to restore a persisted session.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		store:  NewMemoryTokenStore(),
		logger: identity.NoopLogger(),
		now:    time.Now,
	}

	if cfg.HTTPClient != nil {
		c.httpClient = cfg.HTTPClient
	} else {
		c.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.decoder == nil {
		if cfg.VerifyIDTokens {
			decoder, err := NewJWKSDecoder(cfg.ProjectID, cfg.JWKSURL, func(err error) {
				c.logger.Warn("firebase key set refresh failed", "error", err)
			})
			if err != nil {
				return nil, err
			}
			c.decoder = decoder
		} else {
			c.decoder = UnverifiedDecoder{}
		}
	}

	return c, nil
}

// Close releases background resources.
func (c *Client) Close() {
	if d, ok := c.decoder.(*JWKSDecoder); ok {
		d.Close()
	}
}

// Init restores the persisted account, refreshing its ID token when it has
// expired, and publishes the first session state. Later calls are no-ops.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	acct := c.restore(ctx)

	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.current = acct
	c.ready = true
	targets := c.activeListeners()
	c.mu.Unlock()

	c.publish(change{user: acct.userCopy(), targets: targets})
	return nil
}

func (c *Client) restore(ctx context.Context) *account {
	stored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load stored firebase session", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	acct := &account{
		user:         identity.NewUser(stored.UserID, stored.Email, stored.DisplayName, stored.PhotoURL, stored.Providers...),
		idToken:      stored.IDToken,
		refreshToken: stored.RefreshToken,
		expiresAt:    stored.ExpiresAt,
	}
	if !c.expired(acct) {
		return acct
	}

	refreshed, err := c.refresh(ctx, acct)
	if err == nil {
		c.persist(ctx, refreshed)
		return refreshed
	}

	var perr *identity.ProviderError
	if errors.As(err, &perr) && perr.Status >= http.StatusBadRequest && perr.Status < http.StatusInternalServerError {
		c.logger.Info("stored firebase session revoked", "user_id", acct.user.ID, "code", perr.Code)
		if cerr := c.store.Clear(ctx); cerr != nil {
			c.logger.Warn("failed to clear stored firebase session", "error", cerr)
		}
		return nil
	}

	c.logger.Warn("failed to refresh stored firebase session", "user_id", acct.user.ID, "error", err)
	return acct
}

// CurrentUser returns the signed in user, or nil.
func (c *Client) CurrentUser() *identity.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.userCopy()
}

// SubscribeSessionChanges implements identity.ProviderClient. Once the
// client is initialized the listener first receives the current state.
func (c *Client) SubscribeSessionChanges(fn func(*identity.User)) func() {
	if fn == nil {
		return func() {}
	}

	l := &listener{id: uuid.New(), fn: fn}
	l.active.Store(true)

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	ready := c.ready
	user := c.current.userCopy()
	c.mu.Unlock()

	if ready {
		c.publish(change{user: user, targets: []*listener{l}})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, other := range c.listeners {
				if other.id == l.id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// CreateAccount implements identity.ProviderClient.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*identity.User, error) {
	var resp authResponse
	err := c.postJSON(ctx, "signUp", c.toolkitURL("accounts:signUp"), map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	acct, err := c.accountFrom(ctx, "signUp", resp)
	if err != nil {
		return nil, err
	}
	c.signedIn(ctx, acct)
	return acct.userCopy(), nil
}

// SignInWithPassword implements identity.ProviderClient.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.User, error) {
	var resp authResponse
	err := c.postJSON(ctx, "signInWithPassword", c.toolkitURL("accounts:signInWithPassword"), map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	acct, err := c.accountFrom(ctx, "signInWithPassword", resp)
	if err != nil {
		return nil, err
	}
	c.signedIn(ctx, acct)
	return acct.userCopy(), nil
}

// SignInWithPopup implements identity.ProviderClient. The popup grant is
// exchanged for a Firebase session. Grants without an access token are
// rejected before the exchange. The returned result carries the access
// token reported by Firebase, or the grant token when Firebase omits it.
func (c *Client) SignInWithPopup(ctx context.Context, provider identity.ProviderTag) (*identity.PopupResult, error) {
	if c.opener == nil {
		return nil, providerError("signInWithIdp", 0, identity.CodeOperationNotAllowed, "no popup opener configured", nil)
	}

	grant, err := c.opener.OpenPopup(ctx, provider)
	if err != nil {
		switch {
		case errors.Is(err, ErrPopupClosedByUser):
			return nil, providerError("popup", 0, identity.CodePopupClosedByUser, "popup closed by user", err)
		case errors.Is(err, ErrPopupBlocked):
			return nil, providerError("popup", 0, identity.CodePopupBlocked, "popup blocked", err)
		}
		return nil, err
	}
	if grant.missingAccessToken() {
		return nil, providerError("popup", 0, identity.CodeInvalidCredential, "popup returned no provider access token", nil)
	}

	var resp idpResponse
	err = c.postJSON(ctx, "signInWithIdp", c.toolkitURL("accounts:signInWithIdp"), map[string]any{
		"postBody":            grant.postBody(provider),
		"requestUri":          c.cfg.RequestURI,
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.NeedConfirmation {
		return nil, providerError("signInWithIdp", http.StatusOK, identity.CodeAccountExistsDifferentCred,
			"an account already exists with the same email but different sign-in credentials", nil)
	}

	acct, err := c.accountFrom(ctx, "signInWithIdp", resp.authResponse)
	if err != nil {
		return nil, err
	}
	c.signedIn(ctx, acct)

	providerID := resp.ProviderID
	if providerID == "" {
		providerID = provider.ProviderID()
	}

	accessToken := resp.OAuthAccessToken
	if accessToken == "" {
		accessToken = grant.AccessToken
	}

	raw := map[string]any{}
	if resp.FederatedID != "" {
		raw["federated_id"] = resp.FederatedID
	}
	if resp.RawUserInfo != "" {
		raw["raw_user_info"] = resp.RawUserInfo
	}

	return &identity.PopupResult{
		User:        acct.userCopy(),
		ProviderID:  providerID,
		AccessToken: accessToken,
		IDToken:     resp.OAuthIDToken,
		Raw:         raw,
	}, nil
}

// SignOut implements identity.ProviderClient. It is local; Firebase has no
// sign out endpoint.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.ready = true
	targets := c.activeListeners()
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear stored firebase session", "error", err)
	}

	c.publish(change{user: nil, targets: targets})
	return nil
}

// SendPasswordResetEmail implements identity.ProviderClient.
func (c *Client) SendPasswordResetEmail(ctx context.Context, email string) error {
	return c.postJSON(ctx, "sendOobCode", c.toolkitURL("accounts:sendOobCode"), map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// UpdatePassword implements identity.ProviderClient. user must be the
// signed in user. Firebase rejects the change when the sign-in is not
// recent.
func (c *Client) UpdatePassword(ctx context.Context, user *identity.User, newPassword string) error {
	c.mu.Lock()
	acct := c.current
	c.mu.Unlock()

	if acct == nil || user == nil || acct.user.ID != user.ID {
		return providerError("update", 0, identity.CodeNoCurrentUser, "no signed in user", nil)
	}

	if c.expired(acct) {
		refreshed, err := c.refresh(ctx, acct)
		if err != nil {
			return err
		}
		acct = refreshed
		c.replaceTokens(ctx, acct)
	}

	var resp authResponse
	err := c.postJSON(ctx, "update", c.toolkitURL("accounts:update"), map[string]any{
		"idToken":           acct.idToken,
		"password":          newPassword,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.IDToken != "" {
		next := &account{
			user:         acct.user,
			idToken:      resp.IDToken,
			refreshToken: firstNonEmpty(resp.RefreshToken, acct.refreshToken),
			expiresAt:    c.expiry(resp.ExpiresIn),
		}
		c.replaceTokens(ctx, next)
	}
	return nil
}

func (c *Client) refresh(ctx context.Context, acct *account) (*account, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {acct.refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.secureTokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, providerError("refresh", 0, identity.CodeInternalError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.do(req, "refresh", &resp); err != nil {
		return nil, err
	}

	claims, err := c.decoder.Decode(ctx, resp.IDToken)
	if err != nil {
		return nil, providerError("refresh", http.StatusOK, identity.CodeInternalError, "invalid id token", err)
	}

	prev := acct.user
	user := identity.NewUser(prev.ID, firstNonEmpty(prev.Email, claims.Email), prev.DisplayName, prev.AvatarURL, claims.Providers()...)

	return &account{
		user:         user,
		idToken:      resp.IDToken,
		refreshToken: firstNonEmpty(resp.RefreshToken, acct.refreshToken),
		expiresAt:    c.expiry(resp.ExpiresIn),
	}, nil
}

func (c *Client) accountFrom(ctx context.Context, operation string, resp authResponse) (*account, error) {
	if resp.LocalID == "" || resp.IDToken == "" {
		return nil, providerError(operation, http.StatusOK, identity.CodeInternalError, "response has no account", nil)
	}

	claims, err := c.decoder.Decode(ctx, resp.IDToken)
	if err != nil {
		return nil, providerError(operation, http.StatusOK, identity.CodeInternalError, "invalid id token", err)
	}

	user := identity.NewUser(
		resp.LocalID,
		firstNonEmpty(resp.Email, claims.Email),
		firstNonEmpty(resp.DisplayName, claims.Name),
		firstNonEmpty(resp.PhotoURL, claims.Picture),
		claims.Providers()...,
	)

	return &account{
		user:         user,
		idToken:      resp.IDToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    c.expiry(resp.ExpiresIn),
	}, nil
}

func (c *Client) signedIn(ctx context.Context, acct *account) {
	c.mu.Lock()
	c.current = acct
	c.ready = true
	targets := c.activeListeners()
	c.mu.Unlock()

	c.persist(ctx, acct)
	c.publish(change{user: acct.userCopy(), targets: targets})
}

func (c *Client) replaceTokens(ctx context.Context, acct *account) {
	c.mu.Lock()
	if c.current == nil || c.current.user.ID != acct.user.ID {
		c.mu.Unlock()
		return
	}
	c.current = acct
	c.mu.Unlock()

	c.persist(ctx, acct)
}

func (c *Client) persist(ctx context.Context, acct *account) {
	if acct == nil {
		return
	}
	err := c.store.Save(ctx, &StoredSession{
		UserID:       acct.user.ID,
		Email:        acct.user.Email,
		DisplayName:  acct.user.DisplayName,
		PhotoURL:     acct.user.AvatarURL,
		Providers:    acct.user.Providers(),
		IDToken:      acct.idToken,
		RefreshToken: acct.refreshToken,
		ExpiresAt:    acct.expiresAt,
	})
	if err != nil {
		c.logger.Warn("failed to persist firebase session", "user_id", acct.user.ID, "error", err)
	}
}

// publish queues ch and, unless another goroutine is already delivering,
// drains the queue.
func (c *Client) publish(ch change) {
	c.mu.Lock()
	c.queue = append(c.queue, ch)
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true

	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		for _, l := range next.targets {
			c.notify(l, next.user)
		}

		c.mu.Lock()
	}

	c.delivering = false
	c.mu.Unlock()
}

func (c *Client) notify(l *listener, user *identity.User) {
	if !l.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("firebase session listener panicked", "listener", l.id.String(), "panic", fmt.Sprint(r))
		}
	}()
	if user != nil {
		user = identity.NewUser(user.ID, user.Email, user.DisplayName, user.AvatarURL, user.Providers()...)
	}
	l.fn(user)
}

func (c *Client) activeListeners() []*listener {
	out := make([]*listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Client) postJSON(ctx context.Context, operation, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return providerError(operation, 0, identity.CodeInternalError, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return providerError(operation, 0, identity.CodeInternalError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, operation, out)
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return providerError(operation, 0, identity.CodeNetworkRequestFailed, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerError(operation, resp.StatusCode, identity.CodeNetworkRequestFailed, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		code, message := parseRESTError(resp.StatusCode, data)
		c.logger.Debug("firebase request failed", "operation", operation, "status", resp.StatusCode, "code", code)
		return providerError(operation, resp.StatusCode, code, message, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return providerError(operation, resp.StatusCode, identity.CodeInternalError, "failed to decode response", err)
	}
	return nil
}

func (c *Client) toolkitURL(method string) string {
	return strings.TrimRight(c.cfg.IdentityToolkitURL, "/") + "/" + method + "?key=" + url.QueryEscape(c.cfg.APIKey)
}

func (c *Client) secureTokenURL() string {
	return strings.TrimRight(c.cfg.SecureTokenURL, "/") + "/token?key=" + url.QueryEscape(c.cfg.APIKey)
}

func (c *Client) expired(acct *account) bool {
	if acct == nil || acct.expiresAt.IsZero() {
		return true
	}
	return !c.now().Add(expirySkew).Before(acct.expiresAt)
}

func (c *Client) expiry(expiresIn string) time.Time {
	ttl := defaultTokenTTL
	if secs, err := strconv.Atoi(strings.TrimSpace(expiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return c.now().Add(ttl)
}

func (a *account) userCopy() *identity.User {
	if a == nil || a.user == nil {
		return nil
	}
	u := a.user
	return identity.NewUser(u.ID, u.Email, u.DisplayName, u.AvatarURL, u.Providers()...)
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type idpResponse struct {
	authResponse
	ProviderID       string `json:"providerId"`
	FederatedID      string `json:"federatedId"`
	OAuthAccessToken string `json:"oauthAccessToken"`
	OAuthIDToken     string `json:"oauthIdToken"`
	NeedConfirmation bool   `json:"needConfirmation"`
	RawUserInfo      string `json:"rawUserInfo"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
