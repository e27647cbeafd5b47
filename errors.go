package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the closed set of failures an operation can report. The kind
// is carried as the TextCode of the returned *goerrors.Error.
type ErrorKind string

const (
	KindInvalidEmail                     ErrorKind = "invalid-email"
	KindWeakPassword                     ErrorKind = "weak-password"
	KindEmailInUse                       ErrorKind = "email-in-use"
	KindInvalidCredential                ErrorKind = "invalid-credential"
	KindUserNotFound                     ErrorKind = "user-not-found"
	KindUserDisabled                     ErrorKind = "user-disabled"
	KindRateLimited                      ErrorKind = "rate-limited"
	KindPopupClosed                      ErrorKind = "popup-closed"
	KindPopupBlocked                     ErrorKind = "popup-blocked"
	KindAccountExistsDifferentCredential ErrorKind = "account-exists-different-credential"
	KindRequiresRecentLogin              ErrorKind = "requires-recent-login"
	KindNetworkError                     ErrorKind = "network-error"
	KindOperationAlreadyPending          ErrorKind = "operation-already-pending"
	KindCredentialExtractionFailed       ErrorKind = "credential-extraction-failed"
	KindUnknownProviderError             ErrorKind = "unknown-provider-error"
)

// TextCodeClientUnavailable is returned when a component is built without
// a provider client.
const TextCodeClientUnavailable = "IDENTITY_CLIENT_UNAVAILABLE"

var (
	ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
		WithTextCode(string(KindInvalidEmail)).
		WithCode(goerrors.CodeBadRequest)

	ErrWeakPassword = goerrors.New("password does not meet the provider policy", goerrors.CategoryValidation).
		WithTextCode(string(KindWeakPassword)).
		WithCode(goerrors.CodeBadRequest)

	ErrEmailInUse = goerrors.New("email address is already in use", goerrors.CategoryConflict).
		WithTextCode(string(KindEmailInUse)).
		WithCode(goerrors.CodeConflict)

	ErrInvalidCredential = goerrors.New("invalid credentials", goerrors.CategoryAuth).
		WithTextCode(string(KindInvalidCredential)).
		WithCode(goerrors.CodeUnauthorized)

	ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
		WithTextCode(string(KindUserNotFound)).
		WithCode(goerrors.CodeNotFound)

	ErrUserDisabled = goerrors.New("user account is disabled", goerrors.CategoryAuth).
		WithTextCode(string(KindUserDisabled)).
		WithCode(goerrors.CodeForbidden)

	ErrRateLimited = goerrors.New("too many attempts, try again later", goerrors.CategoryRateLimit).
		WithTextCode(string(KindRateLimited)).
		WithCode(http.StatusTooManyRequests)

	ErrPopupClosed = goerrors.New("sign-in popup was closed before completing", goerrors.CategoryOperation).
		WithTextCode(string(KindPopupClosed)).
		WithCode(goerrors.CodeBadRequest)

	ErrPopupBlocked = goerrors.New("sign-in popup was blocked", goerrors.CategoryOperation).
		WithTextCode(string(KindPopupBlocked)).
		WithCode(goerrors.CodeBadRequest)

	ErrAccountExistsDifferentCredential = goerrors.New("an account already exists with a different credential", goerrors.CategoryConflict).
		WithTextCode(string(KindAccountExistsDifferentCredential)).
		WithCode(goerrors.CodeConflict)

	ErrRequiresRecentLogin = goerrors.New("operation requires a recent sign-in", goerrors.CategoryAuth).
		WithTextCode(string(KindRequiresRecentLogin)).
		WithCode(goerrors.CodeUnauthorized)

	ErrNetwork = goerrors.New("network error while contacting the identity provider", goerrors.CategoryOperation).
		WithTextCode(string(KindNetworkError)).
		WithCode(http.StatusServiceUnavailable)

	ErrOperationAlreadyPending = goerrors.New("operation already pending", goerrors.CategoryConflict).
		WithTextCode(string(KindOperationAlreadyPending)).
		WithCode(goerrors.CodeConflict)

	ErrCredentialExtractionFailed = goerrors.New("unable to extract provider credential", goerrors.CategoryInternal).
		WithTextCode(string(KindCredentialExtractionFailed)).
		WithCode(goerrors.CodeInternal)

	ErrUnknownProvider = goerrors.New("identity provider error", goerrors.CategoryInternal).
		WithTextCode(string(KindUnknownProviderError)).
		WithCode(goerrors.CodeInternal)

	// ErrClientUnavailable is a construction error, not an operation result.
	ErrClientUnavailable = goerrors.New("identity provider client unavailable", goerrors.CategoryInternal).
		WithTextCode(TextCodeClientUnavailable).
		WithCode(goerrors.CodeInternal)
)

var sentinels = map[ErrorKind]*goerrors.Error{
	KindInvalidEmail:                     ErrInvalidEmail,
	KindWeakPassword:                     ErrWeakPassword,
	KindEmailInUse:                       ErrEmailInUse,
	KindInvalidCredential:                ErrInvalidCredential,
	KindUserNotFound:                     ErrUserNotFound,
	KindUserDisabled:                     ErrUserDisabled,
	KindRateLimited:                      ErrRateLimited,
	KindPopupClosed:                      ErrPopupClosed,
	KindPopupBlocked:                     ErrPopupBlocked,
	KindAccountExistsDifferentCredential: ErrAccountExistsDifferentCredential,
	KindRequiresRecentLogin:              ErrRequiresRecentLogin,
	KindNetworkError:                     ErrNetwork,
	KindOperationAlreadyPending:          ErrOperationAlreadyPending,
	KindCredentialExtractionFailed:       ErrCredentialExtractionFailed,
	KindUnknownProviderError:             ErrUnknownProvider,
}

// Kinds returns every kind in the taxonomy.
func Kinds() []ErrorKind {
	return []ErrorKind{
		KindInvalidEmail,
		KindWeakPassword,
		KindEmailInUse,
		KindInvalidCredential,
		KindUserNotFound,
		KindUserDisabled,
		KindRateLimited,
		KindPopupClosed,
		KindPopupBlocked,
		KindAccountExistsDifferentCredential,
		KindRequiresRecentLogin,
		KindNetworkError,
		KindOperationAlreadyPending,
		KindCredentialExtractionFailed,
		KindUnknownProviderError,
	}
}

// Valid reports whether k belongs to the taxonomy.
func (k ErrorKind) Valid() bool {
	_, ok := sentinels[k]
	return ok
}

// NewError returns a fresh error of the given kind. detail replaces the
// default message when set, source is kept for unwrapping.
func NewError(kind ErrorKind, detail string, source error, metadata map[string]any) error {
	base, ok := sentinels[kind]
	if !ok {
		base = ErrUnknownProvider
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if detail != "" {
		clone.Message = detail
	}
	if source != nil {
		clone.Source = source
	}
	if len(metadata) > 0 {
		clone.WithMetadata(metadata)
	}
	return clone
}

// KindOf returns the taxonomy kind of err. Errors outside the taxonomy are
// reported as KindUnknownProviderError; nil yields "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if kind := ErrorKind(richErr.TextCode); kind.Valid() {
			return kind
		}
	}
	return KindUnknownProviderError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRecoverable reports whether the UI may offer an immediate retry
// (after a backoff for rate limiting).
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindPopupClosed, KindRateLimited:
		return true
	}
	return false
}

// RequiresReauthentication reports whether the caller must sign in again
// before retrying the original operation.
func RequiresReauthentication(err error) bool {
	return IsKind(err, KindRequiresRecentLogin)
}
