package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignUpSuccess          ActivityEventType = "identity.signup.success"
	ActivityEventSignUpFailure          ActivityEventType = "identity.signup.failure"
	ActivityEventLoginSuccess           ActivityEventType = "identity.login.success"
	ActivityEventLoginFailure           ActivityEventType = "identity.login.failure"
	ActivityEventProviderLoginSuccess   ActivityEventType = "identity.provider.login.success"
	ActivityEventProviderLoginFailure   ActivityEventType = "identity.provider.login.failure"
	ActivityEventLogout                 ActivityEventType = "identity.logout"
	ActivityEventLogoutFailure          ActivityEventType = "identity.logout.failure"
	ActivityEventPasswordChanged        ActivityEventType = "identity.password.changed"
	ActivityEventPasswordChangeFailure  ActivityEventType = "identity.password.change.failure"
	ActivityEventPasswordResetRequested ActivityEventType = "identity.password.reset_requested"
	ActivityEventPasswordResetFailure   ActivityEventType = "identity.password.reset.failure"
	ActivityEventSessionChanged         ActivityEventType = "identity.session.changed"
)

// ActivityEvent captures audit friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Provider   string
	Operation  Operation
	ErrorKind  ErrorKind
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to several sinks. The first error is
// returned after every sink ran.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// FirstActivityRecorder stores the first time a user was seen. Calls are
// best effort; implementations must tolerate repeated calls for the same
// user.
type FirstActivityRecorder interface {
	RecordFirstActivity(ctx context.Context, user *User, provider string, at time.Time) error
}

// FirstActivityRecorderFunc adapts a function to FirstActivityRecorder.
type FirstActivityRecorderFunc func(ctx context.Context, user *User, provider string, at time.Time) error

// RecordFirstActivity implements FirstActivityRecorder.
func (f FirstActivityRecorderFunc) RecordFirstActivity(ctx context.Context, user *User, provider string, at time.Time) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, provider, at)
}
