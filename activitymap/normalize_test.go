package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := identity.ActivityEvent{
		EventType: identity.ActivityEventLoginFailure,
		UserID:    "user-100",
		Provider:  identity.PasswordProvider,
		Operation: identity.OperationSignIn,
		ErrorKind: identity.KindInvalidCredential,
		Metadata: map[string]any{
			"email": "ada@example.com",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(identity.ActivityEventLoginFailure) {
		t.Fatalf("expected verb %q, got %q", identity.ActivityEventLoginFailure, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "identity" {
		t.Fatalf("expected channel identity, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["email"] != "ada@example.com" {
		t.Fatalf("expected metadata email, got %#v", out.Metadata["email"])
	}
	if out.Metadata[activitymap.MetadataKeyProvider] != "password" {
		t.Fatalf("expected metadata provider password, got %#v", out.Metadata[activitymap.MetadataKeyProvider])
	}
	if out.Metadata[activitymap.MetadataKeyOperation] != "sign_in" {
		t.Fatalf("expected metadata operation sign_in, got %#v", out.Metadata[activitymap.MetadataKeyOperation])
	}
	if out.Metadata[activitymap.MetadataKeyErrorKind] != "invalid-credential" {
		t.Fatalf("expected metadata error_kind invalid-credential, got %#v", out.Metadata[activitymap.MetadataKeyErrorKind])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	event := identity.ActivityEvent{
		EventType: identity.ActivityEventPasswordResetRequested,
		Provider:  "google",
		Metadata: map[string]any{
			"email":                         "grace@example.com",
			activitymap.MetadataKeyProvider: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithClock(func() time.Time { return fixed }),
		activitymap.WithObjectIDResolver(func(e identity.ActivityEvent) string {
			if v, ok := e.Metadata["email"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "grace@example.com" {
		t.Fatalf("expected object_id grace@example.com, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyProvider] != "existing" {
		t.Fatalf("expected existing provider preserved, got %#v", out.Metadata[activitymap.MetadataKeyProvider])
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyErrorKind]; ok {
		t.Fatalf("expected no error_kind for successful events")
	}
	if !out.OccurredAt.Equal(fixed) {
		t.Fatalf("expected occurred_at from clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  identity.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses user id when present",
			event:  identity.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "trims user id",
			event:  identity.ActivityEvent{UserID: "  user-3 "},
			expect: "user-3",
		},
		{
			name:   "uses default fallback when user missing",
			event:  identity.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when user missing",
			event:  identity.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSinkForwardsNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), identity.ActivityEvent{EventType: identity.ActivityEventLogout, UserID: "u-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Channel != "audit" || got[0].ActorID != "u-1" {
		t.Fatalf("unexpected records %+v", got)
	}

	failing := activitymap.Sink(func(activitymap.Normalized) error { return errors.New("boom") })
	if err := failing.Record(context.Background(), identity.ActivityEvent{}); err == nil {
		t.Fatalf("expected sink error to propagate")
	}
}
