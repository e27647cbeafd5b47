package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/goliatone/go-identity"

	// PasswordProvider labels activity produced by email/password flows.
	PasswordProvider = "password"
)

// ProviderSignIn is the acknowledgment of a successful popup sign-in.
type ProviderSignIn struct {
	User       *User
	Credential Credential
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) GatewayOption {
	return func(g *Gateway) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithFirstActivityRecorder records the first activity of users that sign
// up or sign in.
func WithFirstActivityRecorder(recorder FirstActivityRecorder) GatewayOption {
	return func(g *Gateway) {
		g.firstActivity = recorder
	}
}

// WithOperationListener observes per class state transitions, e.g. to
// drive loading indicators.
func WithOperationListener(listener OperationListener) GatewayOption {
	return func(g *Gateway) {
		if listener != nil {
			g.listeners = append(g.listeners, listener)
		}
	}
}

// WithConcealUnknownAccounts makes RequestPasswordReset report success for
// unknown emails so callers cannot probe for accounts.
func WithConcealUnknownAccounts(conceal bool) GatewayOption {
	return func(g *Gateway) {
		g.concealUnknownAccounts = conceal
	}
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) GatewayOption {
	return func(g *Gateway) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Gateway is the public operation surface over a ProviderClient. Every
// operation returns either a value or a taxonomy error; provider faults
// never escape as panics.
//
// There is no timeout: a client call that never returns keeps its class
// Pending until the client honours ctx.
type Gateway struct {
	client                 ProviderClient
	observer               *Observer
	ownsObserver           bool
	ops                    *operationTable
	listeners              []OperationListener
	logger                 Logger
	activitySink           ActivitySink
	firstActivity          FirstActivityRecorder
	tracer                 trace.Tracer
	concealUnknownAccounts bool
	now                    func() time.Time
}

// NewGateway returns a Gateway bound to client. When observer is nil the
// gateway creates and owns one. The observer is started so the session
// resolves without waiting for a subscriber.
func NewGateway(client ProviderClient, observer *Observer, opts ...GatewayOption) (*Gateway, error) {
	if client == nil {
		return nil, ErrClientUnavailable
	}

	g := &Gateway{
		client:       client,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		tracer:       otel.GetTracerProvider().Tracer(tracerName),
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if observer == nil {
		var err error
		observer, err = NewObserver(client,
			WithObserverLogger(g.logger),
			WithObserverActivitySink(g.activitySink),
			WithObserverClock(g.now),
		)
		if err != nil {
			return nil, err
		}
		g.ownsObserver = true
	}

	g.observer = observer
	g.ops = newOperationTable(g.listeners...)
	g.observer.Start()

	return g, nil
}

// Observer returns the session observer backing the gateway.
func (g *Gateway) Observer() *Observer {
	return g.observer
}

// Session returns the current session snapshot.
func (g *Gateway) Session() Session {
	return g.observer.Snapshot()
}

// Subscribe registers fn for session changes. See Observer.Subscribe.
func (g *Gateway) Subscribe(fn func(Session)) Unsubscribe {
	return g.observer.Subscribe(fn)
}

// State returns the state of an operation class.
func (g *Gateway) State(class OperationClass) OperationState {
	return g.ops.state(class)
}

// Close detaches the observer when the gateway created it.
func (g *Gateway) Close() {
	if g.ownsObserver {
		g.observer.Close()
	}
}

// SignUp creates an account with email and password. The returned user is
// an acknowledgment; the session changes through the observer.
func (g *Gateway) SignUp(ctx context.Context, email, password string) (user *User, err error) {
	ctx, span := g.startSpan(ctx, OperationSignUp)
	defer func() { g.endSpan(span, err) }()

	email = normalizeEmail(email)
	if err = validateEmail(email); err != nil {
		g.emitFailure(ctx, ActivityEventSignUpFailure, OperationSignUp, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	if password == "" {
		err = NewError(KindWeakPassword, "password is required", nil, map[string]any{"operation": string(OperationSignUp)})
		g.emitFailure(ctx, ActivityEventSignUpFailure, OperationSignUp, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	finish, err := g.ops.begin(ClassSignUp)
	if err != nil {
		g.logger.Warn("sign up rejected", "email", email, "error", err)
		return nil, err
	}
	defer func() { finish(err) }()

	err = g.call(ctx, OperationSignUp, func(ctx context.Context) error {
		var callErr error
		user, callErr = g.client.CreateAccount(ctx, email, password)
		return callErr
	})
	if err == nil && user == nil {
		err = missingUserError(OperationSignUp)
	}
	if err != nil {
		g.logger.Error("sign up failed", "email", email, "kind", KindOf(err), "error", err)
		g.emitFailure(ctx, ActivityEventSignUpFailure, OperationSignUp, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	g.logger.Info("sign up succeeded", "user_id", user.ID)
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventSignUpSuccess,
		UserID:    user.ID,
		Provider:  PasswordProvider,
		Operation: OperationSignUp,
		Metadata:  map[string]any{"email": email},
	})
	g.recordFirstActivity(ctx, user, PasswordProvider)

	return user.clone(), nil
}

// SignIn authenticates with email and password.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (user *User, err error) {
	ctx, span := g.startSpan(ctx, OperationSignIn)
	defer func() { g.endSpan(span, err) }()

	email = normalizeEmail(email)
	if err = validateEmail(email); err != nil {
		g.emitFailure(ctx, ActivityEventLoginFailure, OperationSignIn, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	if password == "" {
		err = NewError(KindInvalidCredential, "password is required", nil, map[string]any{"operation": string(OperationSignIn)})
		g.emitFailure(ctx, ActivityEventLoginFailure, OperationSignIn, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	finish, err := g.ops.begin(ClassSignIn)
	if err != nil {
		g.logger.Warn("sign in rejected", "email", email, "error", err)
		return nil, err
	}
	defer func() { finish(err) }()

	err = g.call(ctx, OperationSignIn, func(ctx context.Context) error {
		var callErr error
		user, callErr = g.client.SignInWithPassword(ctx, email, password)
		return callErr
	})
	if err == nil && user == nil {
		err = missingUserError(OperationSignIn)
	}
	if err != nil {
		g.logger.Error("sign in failed", "email", email, "kind", KindOf(err), "error", err)
		g.emitFailure(ctx, ActivityEventLoginFailure, OperationSignIn, PasswordProvider, err, map[string]any{"email": email})
		return nil, err
	}

	g.logger.Info("sign in succeeded", "user_id", user.ID)
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    user.ID,
		Provider:  PasswordProvider,
		Operation: OperationSignIn,
		Metadata:  map[string]any{"email": email},
	})
	g.recordFirstActivity(ctx, user, PasswordProvider)

	return user.clone(), nil
}

// SignInWithProvider runs a popup sign-in. Only one popup may be pending,
// whatever the provider; a second call fails with operation-already-pending
// without opening a popup.
func (g *Gateway) SignInWithProvider(ctx context.Context, provider ProviderTag) (res *ProviderSignIn, err error) {
	ctx, span := g.startSpan(ctx, OperationProviderSignIn, attribute.String("identity.provider", string(provider)))
	defer func() { g.endSpan(span, err) }()

	if !provider.Valid() {
		err = NewError(KindUnknownProviderError, fmt.Sprintf("unsupported sign-in provider %q", provider), nil, map[string]any{
			"operation":        string(OperationProviderSignIn),
			"provider":         string(provider),
			"provider_message": "unsupported provider",
		})
		g.emitFailure(ctx, ActivityEventProviderLoginFailure, OperationProviderSignIn, string(provider), err, nil)
		return nil, err
	}

	finish, err := g.ops.begin(ClassProviderPopup)
	if err != nil {
		g.logger.Warn("provider sign in rejected", "provider", provider, "error", err)
		return nil, err
	}
	defer func() { finish(err) }()

	var result *PopupResult
	err = g.call(ctx, OperationProviderSignIn, func(ctx context.Context) error {
		var callErr error
		result, callErr = g.client.SignInWithPopup(ctx, provider)
		return callErr
	})
	if err != nil {
		if IsRecoverable(err) {
			g.logger.Info("provider sign in not completed", "provider", provider, "kind", KindOf(err))
		} else {
			g.logger.Error("provider sign in failed", "provider", provider, "kind", KindOf(err), "error", err)
		}
		g.emitFailure(ctx, ActivityEventProviderLoginFailure, OperationProviderSignIn, string(provider), err, nil)
		return nil, err
	}

	credential, err := ExtractCredential(provider, result)
	if err != nil {
		g.logger.Error("provider credential extraction failed", "provider", provider, "error", err)
		g.emitFailure(ctx, ActivityEventProviderLoginFailure, OperationProviderSignIn, string(provider), err, nil)
		return nil, err
	}

	user := result.User.clone()
	userID := ""
	if user != nil {
		userID = user.ID
	}

	g.logger.Info("provider sign in succeeded", "provider", provider, "user_id", userID)
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventProviderLoginSuccess,
		UserID:    userID,
		Provider:  string(provider),
		Operation: OperationProviderSignIn,
		Metadata:  map[string]any{"provider_id": result.ProviderID},
	})
	if user != nil {
		g.recordFirstActivity(ctx, user, string(provider))
	}

	return &ProviderSignIn{User: user, Credential: credential}, nil
}

// SignOut ends the session. It is a no-op when the session is already
// Anonymous.
func (g *Gateway) SignOut(ctx context.Context) (err error) {
	ctx, span := g.startSpan(ctx, OperationSignOut)
	defer func() { g.endSpan(span, err) }()

	session := g.observer.Snapshot()
	if session.IsAnonymous() {
		g.logger.Debug("sign out skipped, no active session")
		return nil
	}

	err = g.call(ctx, OperationSignOut, g.client.SignOut)
	if err != nil {
		g.logger.Error("sign out failed", "user_id", session.UserID(), "kind", KindOf(err), "error", err)
		g.emitFailure(ctx, ActivityEventLogoutFailure, OperationSignOut, "", err, map[string]any{"user_id": session.UserID()})
		return err
	}

	g.logger.Info("sign out succeeded", "user_id", session.UserID())
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    session.UserID(),
		Operation: OperationSignOut,
	})
	return nil
}

// ChangePassword updates the password of the signed in user. It requires an
// Authenticated session and never re-authenticates on its own.
func (g *Gateway) ChangePassword(ctx context.Context, newPassword string) (err error) {
	ctx, span := g.startSpan(ctx, OperationChangePassword)
	defer func() { g.endSpan(span, err) }()

	session := g.observer.Snapshot()
	user, ok := session.User()
	if !ok {
		err = NewError(KindRequiresRecentLogin, "changing the password requires a signed in user", nil, map[string]any{
			"operation": string(OperationChangePassword),
			"reason":    "no_active_session",
			"session":   session.Kind().String(),
		})
		g.emitFailure(ctx, ActivityEventPasswordChangeFailure, OperationChangePassword, "", err, nil)
		return err
	}

	if newPassword == "" {
		err = NewError(KindWeakPassword, "new password is required", nil, map[string]any{"operation": string(OperationChangePassword)})
		g.emitFailure(ctx, ActivityEventPasswordChangeFailure, OperationChangePassword, "", err, map[string]any{"user_id": user.ID})
		return err
	}

	finish, err := g.ops.begin(ClassPasswordChange)
	if err != nil {
		g.logger.Warn("password change rejected", "user_id", user.ID, "error", err)
		return err
	}
	defer func() { finish(err) }()

	err = g.call(ctx, OperationChangePassword, func(ctx context.Context) error {
		return g.client.UpdatePassword(ctx, user, newPassword)
	})
	if err != nil {
		g.logger.Error("password change failed", "user_id", user.ID, "kind", KindOf(err), "error", err)
		g.emitFailure(ctx, ActivityEventPasswordChangeFailure, OperationChangePassword, "", err, map[string]any{"user_id": user.ID})
		return err
	}

	g.logger.Info("password changed", "user_id", user.ID)
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		UserID:    user.ID,
		Operation: OperationChangePassword,
	})
	return nil
}

// RequestPasswordReset asks the provider to send a reset email. Success
// means the provider accepted the request, not that the email arrived.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := g.startSpan(ctx, OperationRequestPasswordReset)
	defer func() { g.endSpan(span, err) }()

	email = normalizeEmail(email)
	if err = validateEmail(email); err != nil {
		g.emitFailure(ctx, ActivityEventPasswordResetFailure, OperationRequestPasswordReset, PasswordProvider, err, map[string]any{"email": email})
		return err
	}

	finish, err := g.ops.begin(ClassPasswordReset)
	if err != nil {
		g.logger.Warn("password reset rejected", "email", email, "error", err)
		return err
	}
	defer func() { finish(err) }()

	err = g.call(ctx, OperationRequestPasswordReset, func(ctx context.Context) error {
		return g.client.SendPasswordResetEmail(ctx, email)
	})
	if err != nil && g.concealUnknownAccounts && IsKind(err, KindUserNotFound) {
		g.logger.Debug("password reset requested for unknown account")
		err = nil
	}
	if err != nil {
		g.logger.Error("password reset request failed", "email", email, "kind", KindOf(err), "error", err)
		g.emitFailure(ctx, ActivityEventPasswordResetFailure, OperationRequestPasswordReset, PasswordProvider, err, map[string]any{"email": email})
		return err
	}

	g.logger.Info("password reset requested", "email", email)
	g.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Provider:  PasswordProvider,
		Operation: OperationRequestPasswordReset,
		Metadata:  map[string]any{"email": email},
	})
	return nil
}

// call runs fn, recovering provider panics and normalizing errors.
func (g *Gateway) call(ctx context.Context, op Operation, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("identity provider panicked", "operation", op, "panic", fmt.Sprint(r))
			err = NewError(KindUnknownProviderError, fmt.Sprintf("identity provider fault: %v", r), nil, map[string]any{
				"operation":        string(op),
				"provider_message": fmt.Sprint(r),
			})
		}
	}()
	return NormalizeError(op, fn(ctx))
}

func (g *Gateway) startSpan(ctx context.Context, op Operation, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs = append(attrs, attribute.String("identity.operation", string(op)))
	return g.tracer.Start(ctx, "identity."+string(op), trace.WithAttributes(attrs...))
}

func (g *Gateway) endSpan(span trace.Span, err error) {
	if err != nil {
		kind := KindOf(err)
		span.SetAttributes(attribute.String("identity.error_kind", string(kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	}
	span.End()
}

func (g *Gateway) emitFailure(ctx context.Context, eventType ActivityEventType, op Operation, provider string, err error, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error"] = err.Error()
	g.emit(ctx, ActivityEvent{
		EventType: eventType,
		Provider:  provider,
		Operation: op,
		ErrorKind: KindOf(err),
		Metadata:  metadata,
	})
}

func (g *Gateway) emit(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = g.now()
	}

	sink := normalizeActivitySink(g.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		g.logger.Warn("activity sink record error", "event", event.EventType, "error", err)
	}
}

func (g *Gateway) recordFirstActivity(ctx context.Context, user *User, provider string) {
	if g.firstActivity == nil || user == nil {
		return
	}
	if err := g.firstActivity.RecordFirstActivity(ctx, user.clone(), provider, g.now()); err != nil {
		g.logger.Warn("first activity record error", "user_id", user.ID, "error", err)
	}
}

func missingUserError(op Operation) error {
	return NewError(KindUnknownProviderError, "identity provider returned no user", nil, map[string]any{
		"operation":        string(op),
		"provider_message": "empty user",
	})
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return NewError(KindInvalidEmail, "invalid email address: "+err.Error(), nil, map[string]any{"email": email})
	}
	return nil
}
