package gitsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/propsync/propsync/pkg/gitsync"
	pkgsync "github.com/propsync/propsync/pkg/sync"
)

// mockSecretProvider implements pkgsync.SecretProvider for testing
type mockSecretProvider struct {
	secrets map[string]map[string]any
}

func (m *mockSecretProvider) GetSecret(ctx context.Context, name string) (map[string]any, error) {
	if secret, ok := m.secrets[name]; ok {
		return secret, nil
	}
	return nil, errors.New("secret not found: " + name)
}

func TestNewFromGitConfig(t *testing.T) {
	provider := &mockSecretProvider{
		secrets: map[string]map[string]any{
			"github-token": {
				"type":  "token_auth",
				"token": "ghp_test123",
			},
		},
	}

	tests := []struct {
		name        string
		config      map[string]any
		provider    pkgsync.SecretProvider
		expectError bool
		errorMsg    string
	}{
		{
			name: "success with reference and credentials",
			config: map[string]any{
				"repo":       "https://github.com/myorg/app-config.git",
				"reference":  "refs/heads/main",
				"credential": "github-token",
			},
			provider:    provider,
			expectError: false,
		},
		{
			name: "requires repo",
			config: map[string]any{
				"reference": "refs/heads/main",
			},
			provider:    nil,
			expectError: true,
			errorMsg:    "git config: 'repo' field is required",
		},
		{
			name: "empty repo",
			config: map[string]any{
				"repo": "",
			},
			provider:    nil,
			expectError: true,
			errorMsg:    "git config: 'repo' field is required",
		},
		{
			name: "success with force reset",
			config: map[string]any{
				"repo":        "https://github.com/myorg/app-config.git",
				"force_reset": true,
			},
			provider:    nil,
			expectError: false,
		},
		{
			name: "no credentials",
			config: map[string]any{
				"repo":      "https://github.com/myorg/public-repo.git",
				"reference": "refs/heads/main",
			},
			provider:    nil,
			expectError: false,
		},
		{
			name: "minimal config",
			config: map[string]any{
				"repo": "https://github.com/myorg/app-config.git",
			},
			provider:    nil,
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer, err := gitsync.NewFromGitConfig("/tmp/test-repo", tt.config, "test-sync", tt.provider)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Fatalf("expected error %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if syncer == nil {
				t.Fatal("expected non-nil synchronizer")
			}
		})
	}
}
