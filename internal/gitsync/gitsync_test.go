package gitsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/propsync/propsync/internal/config"
)

// newOrigin creates a bare repository seeded with a single commit holding the
// given files, and returns its path. Local paths work as remote URLs, so the
// tests never touch the network.
func newOrigin(t *testing.T, files map[string]string) string {
	t.Helper()

	seed := t.TempDir()
	repo, err := git.PlainInit(seed, false)
	if err != nil {
		t.Fatal(err)
	}

	commitFiles(t, repo, seed, files, "initial commit")

	origin := t.TempDir()
	if _, err := git.PlainClone(origin, true, &git.CloneOptions{URL: seed}); err != nil {
		t.Fatal(err)
	}
	return origin
}

func commitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, message string) {
	t.Helper()

	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Add(name); err != nil {
			t.Fatal(err)
		}
	}

	_, err = w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@localhost"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

// pushToOrigin clones origin into a scratch directory, commits the given
// files and pushes, simulating an out-of-band change to the remote.
func pushToOrigin(t *testing.T, origin string, files map[string]string, message string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{URL: origin})
	if err != nil {
		t.Fatal(err)
	}

	commitFiles(t, repo, dir, files, message)

	if err := repo.Push(&git.PushOptions{}); err != nil {
		t.Fatal(err)
	}
}

func headHash(t *testing.T, path string) string {
	t.Helper()

	repo, err := git.PlainOpen(path)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	return head.Hash().String()
}

func TestExecuteClonesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")

	if err := s.Execute(ctx); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo=1\n" {
		t.Fatalf("unexpected working copy content: %q", content)
	}

	before := headHash(t, path)

	if err := s.Execute(ctx); err != nil {
		t.Fatalf("re-sync: %v", err)
	}

	if after := headHash(t, path); after != before {
		t.Fatalf("re-sync moved HEAD: %s -> %s", before, after)
	}

	content2, err := os.ReadFile(filepath.Join(path, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content2) != string(content) {
		t.Fatalf("re-sync changed working copy: %q -> %q", content, content2)
	}
}

func TestExecuteFastForwards(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")

	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	pushToOrigin(t, origin, map[string]string{"app.properties": "foo=2\n"}, "bump foo")

	if err := s.Execute(ctx); err != nil {
		t.Fatalf("sync after remote change: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo=2\n" {
		t.Fatalf("expected fast-forwarded content, got %q", content)
	}
}

func TestExecuteRefusesDirtyWorktree(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")

	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(path, "app.properties"), []byte("foo=local\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := s.Execute(ctx)
	if !errors.Is(err, ErrSync) {
		t.Fatalf("expected ErrSync for dirty worktree, got %v", err)
	}

	// Local changes must survive the refused sync.
	content, err := os.ReadFile(filepath.Join(path, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo=local\n" {
		t.Fatalf("refused sync modified working copy: %q", content)
	}
}

func TestExecuteForceResetDiscardsLocalChanges(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin, ForceReset: true}, "test")

	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(path, "app.properties"), []byte("foo=local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Execute(ctx); err != nil {
		t.Fatalf("force reset sync: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo=1\n" {
		t.Fatalf("expected reset content, got %q", content)
	}
	if _, err := os.Stat(filepath.Join(path, "stray.txt")); !os.IsNotExist(err) {
		t.Fatal("expected untracked file to be cleaned")
	}
}

func TestExecuteReclonesOnConfigChange(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	if err := New(path, config.Git{Repo: origin}, "test").Execute(ctx); err != nil {
		t.Fatal(err)
	}

	// Leave a marker behind that only survives if the clone is reused.
	if err := os.WriteFile(filepath.Join(path, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	reference := "refs/heads/master"
	if err := New(path, config.Git{Repo: origin, Reference: &reference}, "test").Execute(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(path, "stray.txt")); !os.IsNotExist(err) {
		t.Fatal("expected working copy to be re-cloned on config change")
	}
}

func TestExecuteCloneFailure(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: filepath.Join(t.TempDir(), "does-not-exist")}, "test")

	err := s.Execute(ctx)
	if !errors.Is(err, ErrClone) {
		t.Fatalf("expected ErrClone, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")
	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(path, "app.properties"), []byte("foo=2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	commitID, err := s.Publish(ctx, []string{"app.properties"}, CommitOptions{
		Message:     "Update properties",
		AuthorName:  "propsync",
		AuthorEmail: "propsync@localhost",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if commitID == "" {
		t.Fatal("expected non-empty commit id")
	}

	// Fresh clone of origin must see the pushed change.
	verify := t.TempDir()
	if _, err := git.PlainClone(verify, false, &git.CloneOptions{URL: origin}); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(verify, "app.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo=2\n" {
		t.Fatalf("origin content after push: %q", content)
	}
	if got := headHash(t, verify); got != commitID {
		t.Fatalf("expected origin HEAD %s, got %s", commitID, got)
	}
}

func TestPublishNothingToCommit(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")
	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	before := headHash(t, path)

	_, err := s.Publish(ctx, []string{"app.properties"}, CommitOptions{
		Message:     "Update properties",
		AuthorName:  "propsync",
		AuthorEmail: "propsync@localhost",
	})
	if !errors.Is(err, ErrNothingToCommit) {
		t.Fatalf("expected ErrNothingToCommit, got %v", err)
	}

	if after := headHash(t, path); after != before {
		t.Fatal("no-op publish created a commit")
	}
}

func TestPublishRejectedOnDivergedRemote(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, map[string]string{"app.properties": "foo=1\n"})

	path := filepath.Join(t.TempDir(), "work")
	s := New(path, config.Git{Repo: origin}, "test")
	if err := s.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	// Remote moves on while we hold a stale working copy.
	pushToOrigin(t, origin, map[string]string{"app.properties": "foo=remote\n"}, "remote change")

	if err := os.WriteFile(filepath.Join(path, "app.properties"), []byte("foo=stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Publish(ctx, []string{"app.properties"}, CommitOptions{
		Message:     "Update properties",
		AuthorName:  "propsync",
		AuthorEmail: "propsync@localhost",
	})
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}
}
