package gitsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/propsync/propsync/internal/metrics"
)

// CommitOptions carries the commit metadata for Publish. All fields are
// required, internal/config supplies defaults for unset values.
type CommitOptions struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// Publish stages the given paths (relative to the working copy root),
// commits them and pushes the commit to origin. It returns the commit hash.
// If none of the paths have changes, no commit is created and
// ErrNothingToCommit is returned. A push refused because the remote has
// moved on is reported as ErrPushRejected, the caller is expected to re-run
// the sync rather than have the publisher force anything.
func (s *Synchronizer) Publish(ctx context.Context, paths []string, opts CommitOptions) (string, error) {
	startTime := time.Now()

	commitID, err := s.publish(ctx, paths, opts)
	if err != nil {
		if errors.Is(err, ErrNothingToCommit) {
			return "", err
		}
		metrics.GitPushFailed(s.syncName, s.config.Repo)
		return "", fmt.Errorf("sync %q: git publisher: %v: %w", s.syncName, s.config.Repo, err)
	}

	metrics.GitPushSucceeded(s.syncName, s.config.Repo, startTime)
	return commitID, nil
}

func (s *Synchronizer) publish(ctx context.Context, paths []string, opts CommitOptions) (string, error) {
	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return "", err
	}

	w, err := repository.Worktree()
	if err != nil {
		return "", err
	}

	for _, path := range paths {
		if _, err := w.Add(path); err != nil {
			return "", fmt.Errorf("stage %s: %w", path, err)
		}
	}

	status, err := w.Status()
	if err != nil {
		return "", err
	}

	if !staged(status, paths) {
		return "", ErrNothingToCommit
	}

	when := time.Now()
	commit, err := w.Commit(opts.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  opts.AuthorName,
			Email: opts.AuthorEmail,
			When:  when,
		},
	})
	if err != nil {
		return "", err
	}

	authMethod, err := s.auth(ctx)
	if err != nil {
		return "", err
	}

	err = repository.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       authMethod,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return commit.String(), nil
	case isNonFastForward(err):
		return "", fmt.Errorf("%w: %v", ErrPushRejected, err)
	default:
		return "", mapTransportErr(err)
	}
}

func staged(status git.Status, paths []string) bool {
	for _, path := range paths {
		switch status.File(path).Staging {
		case git.Unmodified, git.Untracked:
		default:
			return true
		}
	}
	return false
}

// isNonFastForward matches the per-ref error the go-git remote returns for a
// rejected push. There is no sentinel for it on the push path.
func isNonFastForward(err error) bool {
	return errors.Is(err, git.ErrNonFastForwardUpdate) ||
		strings.Contains(err.Error(), "non-fast-forward update")
}
