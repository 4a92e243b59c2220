package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/logging"
	"github.com/propsync/propsync/internal/pool"
)

type fakeSecretSource struct {
	fakeFetcher
}

func (f *fakeSecretSource) GetSecret(context.Context, string) (map[string]any, error) {
	return nil, errors.New("no credentials configured")
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	s := New().
		WithDataDir(t.TempDir()).
		WithLogger(logging.NewNop())
	s.pool = pool.New(2)
	return s
}

func TestReloadReplacesChangedWorker(t *testing.T) {
	ctx := context.Background()

	fetcher := &fakeSecretSource{fakeFetcher{value: "s3cr3t"}}
	sync := &fakeSynchronizer{}
	worker, _ := newTestWorker(t, "db.password=old\n", &fetcher.fakeFetcher, sync)
	worker.WithSingleShot(false)

	s := newTestService(t)
	s.workers["test"] = worker
	s.pool.Add("test", worker.Execute)

	changed := *worker.syncConfig
	changed.Property = "db.username"
	root := &config.Root{Syncs: map[string]*config.Sync{"test": &changed}}

	done := make(chan error, 1)
	go func() { done <- s.reload(ctx, root, fetcher) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not finish, changed worker never drained")
	}

	if !worker.Done() {
		t.Fatal("expected the old worker to have exited")
	}

	replacement, ok := s.workers["test"]
	if !ok {
		t.Fatal("expected a replacement worker for the changed sync")
	}
	if replacement == worker {
		t.Fatal("expected a new worker instance, got the old one")
	}
	if replacement.Done() {
		t.Fatal("expected the replacement worker to be running")
	}
}

func TestReloadDropsRemovedSync(t *testing.T) {
	ctx := context.Background()

	fetcher := &fakeSecretSource{fakeFetcher{value: "s3cr3t"}}
	sync := &fakeSynchronizer{}
	worker, _ := newTestWorker(t, "db.password=old\n", &fetcher.fakeFetcher, sync)
	worker.WithSingleShot(false)

	s := newTestService(t)
	s.workers["test"] = worker
	s.pool.Add("test", worker.Execute)

	other := &config.Sync{
		Name:     "other",
		File:     "app.properties",
		Property: "db.password",
		Secret:   config.SecretSource{SecretName: "prod/db"},
	}
	root := &config.Root{Syncs: map[string]*config.Sync{"other": other}}

	if err := s.reload(ctx, root, fetcher); err != nil {
		t.Fatal(err)
	}

	if !worker.Done() {
		t.Fatal("expected the removed sync's worker to have exited")
	}
	if _, ok := s.workers["test"]; ok {
		t.Fatal("expected the removed sync to be dropped from the worker set")
	}
	if _, ok := s.workers["other"]; !ok {
		t.Fatal("expected a worker for the newly added sync")
	}
}

func TestReloadKeepsUnchangedWorker(t *testing.T) {
	ctx := context.Background()

	fetcher := &fakeSecretSource{fakeFetcher{value: "s3cr3t"}}
	sync := &fakeSynchronizer{}
	worker, _ := newTestWorker(t, "db.password=old\n", &fetcher.fakeFetcher, sync)
	worker.WithSingleShot(false)

	s := newTestService(t)
	s.workers["test"] = worker
	s.pool.Add("test", worker.Execute)

	same := *worker.syncConfig
	root := &config.Root{Syncs: map[string]*config.Sync{"test": &same}}

	if err := s.reload(ctx, root, fetcher); err != nil {
		t.Fatal(err)
	}

	if got := s.workers["test"]; got != worker {
		t.Fatal("expected the unchanged worker to stay registered")
	}
	if worker.Done() {
		t.Fatal("expected the unchanged worker to keep running")
	}
}
