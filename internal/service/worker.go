package service

import (
	"cmp"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/gitsync"
	"github.com/propsync/propsync/internal/logging"
	"github.com/propsync/propsync/internal/metrics"
	"github.com/propsync/propsync/internal/progress"
	"github.com/propsync/propsync/internal/properties"
)

var (
	defaultInterval = 5 * time.Minute
	errorInterval   = 30 * time.Second
)

// RunState describes the outcome of a sync run.
type RunState int

const (
	RunStateSuccess RunState = iota
	RunStateFetchFailed
	RunStateSyncFailed
	RunStateParseFailed
	RunStatePushFailed
	RunStateInternalError
)

func (s RunState) String() string {
	switch s {
	case RunStateSuccess:
		return "success"
	case RunStateFetchFailed:
		return "fetch_failed"
	case RunStateSyncFailed:
		return "sync_failed"
	case RunStateParseFailed:
		return "parse_failed"
	case RunStatePushFailed:
		return "push_failed"
	default:
		return "internal_error"
	}
}

// Status holds the last observed run state of a worker.
type Status struct {
	State   RunState
	Message string
}

// SecretFetcher retrieves the current value of a secret. Implemented by
// internal/secrets against AWS Secrets Manager.
type SecretFetcher interface {
	Fetch(ctx context.Context, name, jsonKey string) (string, error)
}

// Synchronizer mirrors the surface of internal/gitsync used by the worker.
type Synchronizer interface {
	Execute(ctx context.Context) error
	Publish(ctx context.Context, paths []string, opts gitsync.CommitOptions) (string, error)
	Path() string
	Close(ctx context.Context)
}

// SyncWorker runs a single sync job: fetch the secret, bring the working
// copy up to date, rewrite the properties file if the value changed, and
// push the resulting commit. One worker per configured sync, scheduled by
// the pool.
type SyncWorker struct {
	syncConfig   *config.Sync
	fetcher      SecretFetcher
	synchronizer Synchronizer
	changed      chan struct{}
	done         chan struct{}
	singleShot   bool
	dryRun       bool
	log          *logging.Logger
	bar          *progress.Bar
	status       Status
	interval     time.Duration
}

func NewSyncWorker(s *config.Sync, fetcher SecretFetcher, synchronizer Synchronizer, logger *logging.Logger, bar *progress.Bar) *SyncWorker {
	return &SyncWorker{
		syncConfig:   s,
		fetcher:      fetcher,
		synchronizer: synchronizer,
		log:          logger.With("sync", s.Name),
		bar:          bar,
		changed:      make(chan struct{}), done: make(chan struct{}),
		interval: defaultInterval,
	}
}

func (w *SyncWorker) WithSingleShot(singleShot bool) *SyncWorker {
	w.singleShot = singleShot
	return w
}

func (w *SyncWorker) WithDryRun(dryRun bool) *SyncWorker {
	w.dryRun = dryRun
	return w
}

func (w *SyncWorker) WithInterval(d config.Duration) *SyncWorker {
	w.interval = cmp.Or(time.Duration(d), defaultInterval)
	return w
}

func (w *SyncWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *SyncWorker) Status() Status {
	return w.status
}

// UpdateConfig compares the worker's sync config against the given one and
// schedules the worker for replacement if they differ. It reports whether
// the worker is now scheduled for replacement, so the caller knows to wait
// for it to exit and register a replacement.
func (w *SyncWorker) UpdateConfig(s *config.Sync) bool {
	if s == nil || !w.syncConfig.Equal(s) {
		w.changeConfiguration()
		return true
	}
	return false
}

// Execute runs one sync iteration and returns the deadline for the next one.
// A zero time removes the worker from the pool.
func (w *SyncWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now()

	defer w.bar.Add(1)

	// If a configuration change was requested, request the worker to be
	// removed from the pool and signal this worker being done.

	if w.configurationChanged() {
		return w.die(ctx)
	}

	value, err := w.fetcher.Fetch(ctx, w.syncConfig.Secret.SecretName, w.syncConfig.Secret.JSONKey)
	if err != nil {
		w.log.Warnf("failed to fetch secret %q: %v", w.syncConfig.Secret.SecretName, err)
		return w.report(ctx, RunStateFetchFailed, startTime, err)
	}

	if err := w.synchronizer.Execute(ctx); err != nil {
		w.log.Warnf("failed to synchronize repository: %v", err)
		return w.report(ctx, RunStateSyncFailed, startTime, err)
	}

	path := filepath.Join(w.synchronizer.Path(), filepath.FromSlash(w.syncConfig.File))
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warnf("failed to read properties file %q: %v", w.syncConfig.File, err)
		return w.report(ctx, RunStateParseFailed, startTime, err)
	}

	doc, err := properties.Parse(string(data))
	if err != nil {
		w.log.Warnf("failed to parse properties file %q: %v", w.syncConfig.File, err)
		return w.report(ctx, RunStateParseFailed, startTime, err)
	}

	if current, ok := doc.Get(w.syncConfig.Property); ok && current == value {
		w.log.Debugf("property %q already up to date", w.syncConfig.Property)
		return w.report(ctx, RunStateSuccess, startTime, nil)
	}

	updated := doc.Update(map[string]string{w.syncConfig.Property: value})

	if w.dryRun {
		w.log.Infof("dry run: would set %q to %s in %q", w.syncConfig.Property, mask(value), w.syncConfig.File)
		return w.report(ctx, RunStateSuccess, startTime, nil)
	}

	if err := os.WriteFile(path, []byte(updated.Serialize()), 0644); err != nil {
		w.log.Warnf("failed to write properties file %q: %v", w.syncConfig.File, err)
		return w.report(ctx, RunStateInternalError, startTime, err)
	}

	name, email := w.syncConfig.Commit.Author()
	commitID, err := w.synchronizer.Publish(ctx, []string{w.syncConfig.File}, gitsync.CommitOptions{
		Message:     w.syncConfig.Commit.MessageOrDefault(),
		AuthorName:  name,
		AuthorEmail: email,
	})
	switch {
	case errors.Is(err, gitsync.ErrNothingToCommit):
		// The rewritten file is identical to what the repository already
		// holds. Not a failure.
		w.log.Infof("no changes to commit for %q", w.syncConfig.File)
		return w.report(ctx, RunStateSuccess, startTime, nil)
	case err != nil:
		w.log.Warnf("failed to publish %q: %v", w.syncConfig.File, err)
		return w.report(ctx, RunStatePushFailed, startTime, err)
	}

	w.log.Infof("updated property %q in %q (commit %s)", w.syncConfig.Property, w.syncConfig.File, commitID)
	return w.report(ctx, RunStateSuccess, startTime, nil)
}

func (w *SyncWorker) report(ctx context.Context, state RunState, startTime time.Time, err error) time.Time {
	interval := w.interval
	w.status.State = state
	w.status.Message = ""
	if err != nil {
		interval = errorInterval // faster retry on error
		w.status.Message = err.Error()
	}

	if state == RunStateSuccess {
		metrics.SyncRunSucceeded(w.syncConfig.Name, startTime)
	} else {
		metrics.SyncRunFailed(w.syncConfig.Name, state.String())
	}

	if w.singleShot {
		return w.die(ctx)
	}

	return time.Now().Add(interval)
}

func (w *SyncWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *SyncWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *SyncWorker) die(ctx context.Context) time.Time {
	w.synchronizer.Close(ctx)

	close(w.done)

	var zero time.Time
	return zero
}

// mask hides a secret value in log output, keeping just enough to tell
// values apart.
func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", 4) + value[len(value)-2:]
}
