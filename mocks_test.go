package identity_test

import (
	"context"
	"sync"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/mock"
)

// MockProviderClient implements identity.ProviderClient. Session changes
// are driven by Emit.
type MockProviderClient struct {
	mock.Mock

	mu         sync.Mutex
	listeners  []func(*identity.User)
	subscribed int
	detached   int
}

func (m *MockProviderClient) SignInWithPassword(ctx context.Context, email, password string) (*identity.User, error) {
	args := m.Called(ctx, email, password)
	return userArg(args, 0), args.Error(1)
}

func (m *MockProviderClient) CreateAccount(ctx context.Context, email, password string) (*identity.User, error) {
	args := m.Called(ctx, email, password)
	return userArg(args, 0), args.Error(1)
}

func (m *MockProviderClient) SignInWithPopup(ctx context.Context, provider identity.ProviderTag) (*identity.PopupResult, error) {
	args := m.Called(ctx, provider)
	var result *identity.PopupResult
	if v := args.Get(0); v != nil {
		result = v.(*identity.PopupResult)
	}
	return result, args.Error(1)
}

func (m *MockProviderClient) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProviderClient) SendPasswordResetEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockProviderClient) UpdatePassword(ctx context.Context, user *identity.User, newPassword string) error {
	args := m.Called(ctx, user, newPassword)
	return args.Error(0)
}

func (m *MockProviderClient) SubscribeSessionChanges(fn func(*identity.User)) func() {
	m.mu.Lock()
	idx := len(m.listeners)
	m.listeners = append(m.listeners, fn)
	m.subscribed++
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.listeners[idx] != nil {
			m.listeners[idx] = nil
			m.detached++
		}
	}
}

// Emit delivers user to every attached listener, as the provider would.
func (m *MockProviderClient) Emit(user *identity.User) {
	m.mu.Lock()
	listeners := make([]func(*identity.User), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		if fn != nil {
			fn(user)
		}
	}
}

func (m *MockProviderClient) Subscriptions() (subscribed, detached int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed, m.detached
}

func userArg(args mock.Arguments, idx int) *identity.User {
	if v := args.Get(idx); v != nil {
		return v.(*identity.User)
	}
	return nil
}

// sessionRecorder collects delivered sessions.
type sessionRecorder struct {
	mu       sync.Mutex
	sessions []identity.Session
}

func (r *sessionRecorder) record(s identity.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *sessionRecorder) all() []identity.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// activityRecorder is an identity.ActivitySink collecting events.
type activityRecorder struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
	err    error
}

func (r *activityRecorder) Record(_ context.Context, event identity.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *activityRecorder) types() []identity.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identity.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *activityRecorder) last() identity.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return identity.ActivityEvent{}
	}
	return r.events[len(r.events)-1]
}
