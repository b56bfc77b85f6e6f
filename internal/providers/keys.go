package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// EnvVarFor derives the per-provider API key environment variable name,
// e.g. "openai-codex" → "OPENAI_CODEX_API_KEY".
func EnvVarFor(providerID string) string {
	return strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_API_KEY"
}

// ResolveAPIKey resolves a native provider's API key by priority:
// configured literal, then provider-specific env var, then a refreshable
// OAuth credential from disk (refreshed and persisted if rotated).
func ResolveAPIKey(ctx context.Context, providerID, configured string, oauthStore *OAuthStore, oauthCfg *oauth2.Config) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := os.Getenv(EnvVarFor(providerID)); v != "" {
		return v, nil
	}
	if oauthStore != nil && oauthCfg != nil {
		token, err := oauthStore.ResolveAccessToken(ctx, providerID, oauthCfg)
		if err == nil {
			return token, nil
		}
		return "", err
	}
	return "", fmt.Errorf("no API key configured for %s; set %s or run `owliabot auth setup %s`", providerID, EnvVarFor(providerID), providerID)
}
