package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	subcommands := []string{"signup", "signin", "signin-provider", "signout", "change-password", "reset-password", "whoami"}
	for _, sub := range subcommands {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
	for _, flag := range []string{"--session-file", "--metrics", "--verbose", "--timeout"} {
		assert.Contains(t, output, flag, "Help missing %q flag", flag)
	}
}

func TestSignInProvider_RequiresProviderArg(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"signin-provider"})

	assert.Error(t, cmd.Execute())
}

func TestSignInProvider_RequiresAccessToken(t *testing.T) {
	cmd := NewRootCmd()
	errOut := new(bytes.Buffer)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"signin-provider", "google", "--id-token", "google-id-token"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access-token")
}

// fakeToolkit stands in for the Identity Toolkit REST API.
func fakeToolkit(t *testing.T) *httptest.Server {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     "u-1",
		"user_id": "u-1",
		"email":   "ada@example.com",
		"aud":     "demo-project",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"firebase": map[string]any{
			"identities":       map[string]any{"email": []string{"ada@example.com"}},
			"sign_in_provider": "password",
		},
	})
	idToken, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/accounts:signInWithPassword":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"localId":      "u-1",
				"email":        "ada@example.com",
				"idToken":      idToken,
				"refreshToken": "refresh-u-1",
				"expiresIn":    "3600",
			})
		case "/v1/accounts:sendOobCode":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 400, "message": "EMAIL_NOT_FOUND"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T) string {
	t.Helper()
	srv := fakeToolkit(t)
	sessionFile := filepath.Join(t.TempDir(), "session.json")

	t.Setenv("FIREBASE_API_KEY", "test-key")
	t.Setenv("FIREBASE_PROJECT_ID", "demo-project")
	t.Setenv("FIREBASE_IDENTITY_TOOLKIT_URL", srv.URL+"/v1")
	t.Setenv("FIREBASE_SECURE_TOKEN_URL", srv.URL+"/st")
	t.Setenv("IDENTITY_SESSION_FILE", sessionFile)
	t.Setenv("IDENTITY_CONCEAL_UNKNOWN_ACCOUNTS", "false")
	t.Setenv("IDENTITY_ACTIVITY_DB", "")
	return sessionFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "anonymous")

	out, err = execute(t, "signin", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "u-1")

	out, err = execute(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated")
	assert.Contains(t, out, "ada@example.com")

	out, err = execute(t, "signout")
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")

	out, err = execute(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "anonymous")
}

func TestSignIn_MetricsOutput(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "signin", "--email", "ada@example.com", "--password", "secret", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, `identity_activity_total{event="identity.login.success",kind="none"} 1`)
	assert.Contains(t, out, "identity_operation_duration_seconds")
}

func TestSignIn_InvalidEmail(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "signin", "--email", "not-an-email", "--password", "secret")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid-email"), err.Error())
}

func TestChangePassword_RequiresSession(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "change-password", "--new-password", "n3w-secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires-recent-login")
	assert.Contains(t, err.Error(), "sign in again first")
}

func TestResetPassword_UnknownAccount(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "reset-password", "--email", "ghost@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user-not-found")

	t.Setenv("IDENTITY_CONCEAL_UNKNOWN_ACCOUNTS", "true")
	out, err := execute(t, "reset-password", "--email", "ghost@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "password reset requested")
}

func TestSignIn_RecordsFirstActivity(t *testing.T) {
	setupEnv(t)
	t.Setenv("IDENTITY_ACTIVITY_DB", "file:"+filepath.Join(t.TempDir(), "activity.db"))

	_, err := execute(t, "signin", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)

	_, err = execute(t, "signin", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
}
