package identity

import "strings"

// Credential is the provider access token produced by a popup sign-in. It
// is handed to the caller once and never stored here.
type Credential struct {
	Provider    ProviderTag
	AccessToken string
}

// ExtractCredential derives the provider credential from a completed popup
// result. It fails instead of returning an empty credential; a failure means
// the provider client broke its contract.
func ExtractCredential(requested ProviderTag, result *PopupResult) (Credential, error) {
	meta := map[string]any{"requested_provider": string(requested)}

	if result == nil {
		return Credential{}, NewError(KindCredentialExtractionFailed, "popup result is empty", nil, meta)
	}

	tag := requested
	if result.ProviderID != "" {
		meta["provider_id"] = result.ProviderID
		resolved, ok := ProviderTagFromID(result.ProviderID)
		if !ok {
			return Credential{}, NewError(KindCredentialExtractionFailed, "popup result has an unsupported provider", nil, meta)
		}
		if requested != "" && resolved != requested {
			return Credential{}, NewError(KindCredentialExtractionFailed, "popup result provider does not match the request", nil, meta)
		}
		tag = resolved
	}

	if !tag.Valid() {
		return Credential{}, NewError(KindCredentialExtractionFailed, "popup result has no provider", nil, meta)
	}

	token := strings.TrimSpace(result.AccessToken)
	if token == "" {
		return Credential{}, NewError(KindCredentialExtractionFailed, "popup result has no access token", nil, meta)
	}

	return Credential{Provider: tag, AccessToken: token}, nil
}
