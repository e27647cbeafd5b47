package firebase

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	identity "github.com/goliatone/go-identity"
)

const providerName = "firebase"

// Errors a PopupOpener returns when the user did not complete the popup.
var (
	ErrPopupClosedByUser = errors.New("firebase: popup closed by user")
	ErrPopupBlocked      = errors.New("firebase: popup blocked")
)

// restCodes maps Identity Toolkit and Secure Token error messages to the
// canonical provider codes.
var restCodes = map[string]string{
	"INVALID_EMAIL":                    identity.CodeInvalidEmail,
	"MISSING_EMAIL":                    identity.CodeInvalidEmail,
	"WEAK_PASSWORD":                    identity.CodeWeakPassword,
	"EMAIL_EXISTS":                     identity.CodeEmailAlreadyInUse,
	"INVALID_PASSWORD":                 identity.CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":        identity.CodeInvalidLoginCredentials,
	"MISSING_PASSWORD":                 identity.CodeMissingPassword,
	"INVALID_IDP_RESPONSE":             identity.CodeInvalidCredential,
	"EMAIL_NOT_FOUND":                  identity.CodeUserNotFound,
	"USER_NOT_FOUND":                   identity.CodeUserNotFound,
	"USER_DISABLED":                    identity.CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER":      identity.CodeTooManyRequests,
	"QUOTA_EXCEEDED":                   identity.CodeTooManyRequests,
	"FEDERATED_USER_ID_ALREADY_LINKED": identity.CodeCredentialAlreadyInUse,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN":   identity.CodeRequiresRecentLogin,
	"TOKEN_EXPIRED":                    identity.CodeUserTokenExpired,
	"INVALID_ID_TOKEN":                 identity.CodeUserTokenExpired,
	"INVALID_REFRESH_TOKEN":            identity.CodeUserTokenExpired,
	"OPERATION_NOT_ALLOWED":            identity.CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":          identity.CodeOperationNotAllowed,
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseRESTError extracts the canonical code and message from an error
// response. Messages look like "WEAK_PASSWORD : Password should be at least
// 6 characters".
func parseRESTError(status int, body []byte) (string, string) {
	var payload restError
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return codeForStatus(status), msg
	}

	message := payload.Error.Message
	key := message
	if idx := strings.Index(key, ":"); idx >= 0 {
		key = key[:idx]
	}
	key = strings.TrimSpace(key)

	if code, ok := restCodes[key]; ok {
		return code, message
	}
	return codeForStatus(status), message
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return identity.CodeTooManyRequests
	case status >= http.StatusInternalServerError:
		return identity.CodeInternalError
	}
	return ""
}

func providerError(operation string, status int, code, message string, err error) *identity.ProviderError {
	return &identity.ProviderError{
		Provider:  providerName,
		Operation: operation,
		Status:    status,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}
