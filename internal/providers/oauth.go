package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// OAuthStore persists one refreshable credential per provider under
// <home>/.owliabot/auth/<providerId>.json, mode 0600, matching the
// persisted-layouts section. Refresh-and-save is serialized per provider
// to prevent a lost update when two turns race to refresh simultaneously.
type OAuthStore struct {
	dir string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewOAuthStore builds a store rooted at <home>/.owliabot/auth.
func NewOAuthStore(home string) *OAuthStore {
	return &OAuthStore{
		dir:   filepath.Join(home, ".owliabot", "auth"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *OAuthStore) lockFor(providerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

func (s *OAuthStore) path(providerID string) string {
	return filepath.Join(s.dir, providerID+".json")
}

// Load reads the persisted token for providerID, or returns nil if none
// has been set up yet.
func (s *OAuthStore) Load(providerID string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(s.path(providerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oauth: read credential for %s: %w", providerID, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("oauth: parse credential for %s: %w", providerID, err)
	}
	return &tok, nil
}

// Save atomically persists tok for providerID with 0600 permissions.
func (s *OAuthStore) Save(providerID string, tok *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("oauth: create auth dir: %w", err)
	}
	raw, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("oauth: marshal credential for %s: %w", providerID, err)
	}
	tmp, err := os.CreateTemp(s.dir, providerID+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("oauth: create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("oauth: write credential: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("oauth: chmod credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("oauth: sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("oauth: close credential: %w", err)
	}
	return os.Rename(tmp.Name(), s.path(providerID))
}

// ResolveAccessToken returns a valid access token for providerID, using
// cfg.TokenSource to refresh and persist a rotated token when the stored
// one has expired. The refresh is guarded by a per-provider lock so two
// concurrent turns on the same provider don't race to write the file.
func (s *OAuthStore) ResolveAccessToken(ctx context.Context, providerID string, cfg *oauth2.Config) (string, error) {
	lock := s.lockFor(providerID)
	lock.Lock()
	defer lock.Unlock()

	tok, err := s.Load(providerID)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", fmt.Errorf("oauth: no credential for %s, run `owliabot auth setup %s`", providerID, providerID)
	}

	source := cfg.TokenSource(ctx, tok)
	fresh, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth: refresh credential for %s: %w", providerID, err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := s.Save(providerID, fresh); err != nil {
			return "", err
		}
	}
	return fresh.AccessToken, nil
}
