package identity

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ProviderTag identifies a popup based sign-in provider.
type ProviderTag string

const (
	ProviderGoogle   ProviderTag = "google"
	ProviderFacebook ProviderTag = "facebook"
)

// Valid reports whether the tag is one of the supported popup providers.
func (p ProviderTag) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderFacebook:
		return true
	}
	return false
}

// ProviderID returns the identifier the identity provider uses for the tag
// (e.g. "google.com").
func (p ProviderTag) ProviderID() string {
	if p == "" {
		return ""
	}
	return string(p) + ".com"
}

// ProviderTagFromID maps an identity provider id ("google.com") or a bare
// tag ("google") back to a ProviderTag.
func ProviderTagFromID(id string) (ProviderTag, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	tag := ProviderTag(strings.TrimSuffix(id, ".com"))
	if !tag.Valid() {
		return "", false
	}
	return tag, true
}

// User is an immutable snapshot of the signed in account as reported by
// the identity provider.
type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	providers   []string
}

// NewUser builds a User snapshot. Provider ids are copied.
func NewUser(id, email, displayName, avatarURL string, providers ...string) *User {
	u := &User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	}
	if len(providers) > 0 {
		u.providers = append([]string(nil), providers...)
	}
	return u
}

// Providers returns the linked provider identifiers.
func (u *User) Providers() []string {
	if u == nil || len(u.providers) == 0 {
		return nil
	}
	return append([]string(nil), u.providers...)
}

// HasProvider reports whether the given provider id is linked to the user.
func (u *User) HasProvider(id string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.providers {
		if p == id {
			return true
		}
	}
	return false
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.providers = u.Providers()
	return &c
}

func (u *User) String() string {
	if u == nil {
		return "<nil>"
	}
	return fmt.Sprintf("User{id=%s email=%s}", u.ID, u.Email)
}

// PopupResult is the outcome of a completed provider popup flow.
type PopupResult struct {
	User *User
	// ProviderID is the provider that completed the flow, "google.com".
	ProviderID  string
	AccessToken string
	IDToken     string
	Raw         map[string]any
}

// ProviderClient is the narrow client surface of the external identity
// provider. Implementations own token persistence and protocol details.
type ProviderClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*User, error)
	CreateAccount(ctx context.Context, email, password string) (*User, error)
	SignInWithPopup(ctx context.Context, provider ProviderTag) (*PopupResult, error)
	SignOut(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, user *User, newPassword string) error
	// SubscribeSessionChanges registers fn for every session change. A nil
	// user means no one is signed in.
	SubscribeSessionChanges(fn func(*User)) (unsubscribe func())
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { printLog("DBG", msg, args...) }
func (defLogger) Info(msg string, args ...any)  { printLog("INF", msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { printLog("WRN", msg, args...) }
func (defLogger) Error(msg string, args ...any) { printLog("ERR", msg, args...) }

func printLog(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] IDENTITY ")
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteString(" ")
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	fmt.Println(b.String())
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }
