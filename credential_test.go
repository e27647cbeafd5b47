package identity_test

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCredential(t *testing.T) {
	user := identity.NewUser("u-1", "", "", "")

	tests := []struct {
		name      string
		requested identity.ProviderTag
		result    *identity.PopupResult
		want      identity.Credential
		wantErr   bool
	}{
		{
			name:      "google access token",
			requested: identity.ProviderGoogle,
			result:    &identity.PopupResult{User: user, ProviderID: "google.com", AccessToken: "ya29.token"},
			want:      identity.Credential{Provider: identity.ProviderGoogle, AccessToken: "ya29.token"},
		},
		{
			name:      "provider id missing falls back to request",
			requested: identity.ProviderFacebook,
			result:    &identity.PopupResult{User: user, AccessToken: " fb-token "},
			want:      identity.Credential{Provider: identity.ProviderFacebook, AccessToken: "fb-token"},
		},
		{
			name:      "nil result",
			requested: identity.ProviderGoogle,
			wantErr:   true,
		},
		{
			name:      "missing access token",
			requested: identity.ProviderFacebook,
			result:    &identity.PopupResult{User: user, ProviderID: "facebook.com"},
			wantErr:   true,
		},
		{
			name:      "blank access token",
			requested: identity.ProviderGoogle,
			result:    &identity.PopupResult{User: user, ProviderID: "google.com", AccessToken: "   "},
			wantErr:   true,
		},
		{
			name:      "unsupported provider",
			requested: identity.ProviderGoogle,
			result:    &identity.PopupResult{User: user, ProviderID: "github.com", AccessToken: "gh"},
			wantErr:   true,
		},
		{
			name:      "provider mismatch",
			requested: identity.ProviderGoogle,
			result:    &identity.PopupResult{User: user, ProviderID: "facebook.com", AccessToken: "fb"},
			wantErr:   true,
		},
		{
			name:    "no provider at all",
			result:  &identity.PopupResult{User: user, AccessToken: "token"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := identity.ExtractCredential(tc.requested, tc.result)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, identity.KindCredentialExtractionFailed, identity.KindOf(err))
				assert.Equal(t, identity.Credential{}, got)

				var rich *goerrors.Error
				require.True(t, goerrors.As(err, &rich))
				assert.Equal(t, string(tc.requested), rich.Metadata["requested_provider"])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
