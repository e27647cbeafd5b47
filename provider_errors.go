package identity

import (
	"context"
	"errors"
	"fmt"
	"net"

	goerrors "github.com/goliatone/go-errors"
)

// Canonical provider error codes. Adapters translate their wire errors into
// these before returning a ProviderError.
const (
	CodeInvalidEmail               = "auth/invalid-email"
	CodeWeakPassword               = "auth/weak-password"
	CodeEmailAlreadyInUse          = "auth/email-already-in-use"
	CodeInvalidCredential          = "auth/invalid-credential"
	CodeWrongPassword              = "auth/wrong-password"
	CodeInvalidLoginCredentials    = "auth/invalid-login-credentials"
	CodeUserNotFound               = "auth/user-not-found"
	CodeUserDisabled               = "auth/user-disabled"
	CodeTooManyRequests            = "auth/too-many-requests"
	CodePopupClosedByUser          = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest      = "auth/cancelled-popup-request"
	CodeUserCancelled              = "auth/user-cancelled"
	CodePopupBlocked               = "auth/popup-blocked"
	CodeAccountExistsDifferentCred = "auth/account-exists-with-different-credential"
	CodeCredentialAlreadyInUse     = "auth/credential-already-in-use"
	CodeRequiresRecentLogin        = "auth/requires-recent-login"
	CodeUserTokenExpired           = "auth/user-token-expired"
	CodeNetworkRequestFailed       = "auth/network-request-failed"
	CodeInternalError              = "auth/internal-error"
	CodeOperationNotAllowed        = "auth/operation-not-allowed"
	CodeMissingPassword            = "auth/missing-password"
	CodeNoCurrentUser              = "auth/no-current-user"
)

var providerCodeKinds = map[string]ErrorKind{
	CodeInvalidEmail:               KindInvalidEmail,
	CodeWeakPassword:               KindWeakPassword,
	CodeEmailAlreadyInUse:          KindEmailInUse,
	CodeInvalidCredential:          KindInvalidCredential,
	CodeWrongPassword:              KindInvalidCredential,
	CodeInvalidLoginCredentials:    KindInvalidCredential,
	CodeMissingPassword:            KindInvalidCredential,
	CodeUserNotFound:               KindUserNotFound,
	CodeUserDisabled:               KindUserDisabled,
	CodeTooManyRequests:            KindRateLimited,
	CodePopupClosedByUser:          KindPopupClosed,
	CodeCancelledPopupRequest:      KindPopupClosed,
	CodeUserCancelled:              KindPopupClosed,
	CodePopupBlocked:               KindPopupBlocked,
	CodeAccountExistsDifferentCred: KindAccountExistsDifferentCredential,
	CodeCredentialAlreadyInUse:     KindAccountExistsDifferentCredential,
	CodeRequiresRecentLogin:        KindRequiresRecentLogin,
	CodeUserTokenExpired:           KindRequiresRecentLogin,
	CodeNoCurrentUser:              KindRequiresRecentLogin,
	CodeNetworkRequestFailed:       KindNetworkError,
}

// KindForProviderCode maps a canonical provider code to a taxonomy kind.
func KindForProviderCode(code string) (ErrorKind, bool) {
	kind, ok := providerCodeKinds[code]
	return kind, ok
}

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider  string
	Operation string
	Status    int
	Code      string
	Message   string
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s failed: %s (%s)", scope, e.Message, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the non empty fields as a map.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["provider_operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["provider_code"] = e.Code
	}
	if e.Message != "" {
		meta["provider_message"] = e.Message
	}
	return meta
}

// NormalizeError converts any error returned by a ProviderClient into the
// taxonomy. Errors that already carry a taxonomy kind are returned as is.
func NormalizeError(operation Operation, err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && ErrorKind(richErr.TextCode).Valid() {
		return err
	}

	meta := map[string]any{"operation": string(operation)}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
		if kind, ok := KindForProviderCode(perr.Code); ok {
			return NewError(kind, "", err, meta)
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		if operation == OperationProviderSignIn {
			return NewError(KindPopupClosed, "sign-in popup was abandoned", err, meta)
		}
		return NewError(KindNetworkError, "request cancelled", err, meta)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindNetworkError, "request timed out", err, meta)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindNetworkError, "", err, meta)
	}

	if _, ok := meta["provider_message"]; !ok {
		meta["provider_message"] = err.Error()
	}
	return NewError(KindUnknownProviderError, "identity provider error: "+err.Error(), err, meta)
}
