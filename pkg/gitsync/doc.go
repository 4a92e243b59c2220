// Package gitsync provides git repository synchronization for propsync.
//
// This package implements secure git clone, fetch, and fast-forward
// operations with support for multiple authentication methods:
//   - GitHub App (short-lived installation tokens)
//   - Personal Access Tokens (PAT)
//   - SSH keys with fingerprint validation
//   - Basic HTTP authentication
//
// The primary type is Synchronizer, which manages the lifecycle of a git
// repository clone and keeps it synchronized with the remote repository.
// It also pushes local commits created by propsync back to the remote.
//
// Example usage:
//
//	import "github.com/propsync/propsync/pkg/gitsync"
//
//	gitConfig := map[string]any{
//	    "repo":       "https://github.com/myorg/app-config.git",
//	    "reference":  "refs/heads/main",
//	    "credential": "github-token",
//	}
//	syncer, err := gitsync.NewFromGitConfig("/path/to/clone", gitConfig, "my-sync", provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = syncer.Execute(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer syncer.Close(ctx)
//
// Thread Safety: Synchronizer instances are NOT thread-safe. Each instance should
// be used by a single goroutine. Create separate instances for concurrent operations.
package gitsync
