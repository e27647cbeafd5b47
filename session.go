package identity

import "fmt"

// SessionKind tags the Session variant.
type SessionKind int

const (
	// SessionUnknown is the state before the provider reported anything.
	SessionUnknown SessionKind = iota
	SessionAuthenticated
	SessionAnonymous
)

func (k SessionKind) String() string {
	switch k {
	case SessionAuthenticated:
		return "authenticated"
	case SessionAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is the current authentication status. The zero value is an
// Unknown session. Sessions are values; callers receive copies.
type Session struct {
	kind SessionKind
	user *User
}

// UnknownSession returns the initial session.
func UnknownSession() Session { return Session{kind: SessionUnknown} }

// AnonymousSession returns a signed out session.
func AnonymousSession() Session { return Session{kind: SessionAnonymous} }

// AuthenticatedSession returns a session for user. A nil user yields an
// Anonymous session.
func AuthenticatedSession(user *User) Session {
	if user == nil {
		return AnonymousSession()
	}
	return Session{kind: SessionAuthenticated, user: user.clone()}
}

func sessionFromUser(user *User) Session {
	return AuthenticatedSession(user)
}

// Kind returns the session variant.
func (s Session) Kind() SessionKind { return s.kind }

// User returns a copy of the signed in user when the session is
// Authenticated.
func (s Session) User() (*User, bool) {
	if s.kind != SessionAuthenticated || s.user == nil {
		return nil, false
	}
	return s.user.clone(), true
}

// UserID returns the signed in user id, or "".
func (s Session) UserID() string {
	if s.kind != SessionAuthenticated || s.user == nil {
		return ""
	}
	return s.user.ID
}

// IsAuthenticated reports whether a user is signed in.
func (s Session) IsAuthenticated() bool { return s.kind == SessionAuthenticated }

// IsAnonymous reports whether the provider confirmed no one is signed in.
func (s Session) IsAnonymous() bool { return s.kind == SessionAnonymous }

// IsResolved is false until the provider reported the first state. Views
// should render a neutral placeholder while it is false.
func (s Session) IsResolved() bool { return s.kind != SessionUnknown }

// Equal compares kind and user id.
func (s Session) Equal(other Session) bool {
	return s.kind == other.kind && s.UserID() == other.UserID()
}

func (s Session) String() string {
	if s.kind == SessionAuthenticated {
		return fmt.Sprintf("Authenticated{%s}", s.UserID())
	}
	return s.kind.String()
}
