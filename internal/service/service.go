// Package service wires the configured sync jobs together: it resolves
// secrets through AWS Secrets Manager, maintains a git working copy per
// job, and schedules the workers on a shared pool. SIGHUP reloads the
// configuration without restarting.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/gitsync"
	"github.com/propsync/propsync/internal/logging"
	"github.com/propsync/propsync/internal/pool"
	"github.com/propsync/propsync/internal/progress"
	"github.com/propsync/propsync/internal/secrets"
)

type Service struct {
	configFiles []string
	dataDir     string
	workerCount int
	singleShot  bool
	dryRun      bool
	noProgress  bool
	log         *logging.Logger
	pool        *pool.Pool
	workers     map[string]*SyncWorker
	bar         *progress.Bar
}

// secretSource is the part of internal/secrets the service hands to its
// workers: property value retrieval plus git credential lookup.
type secretSource interface {
	SecretFetcher
	gitsync.SecretProvider
}

func New() *Service {
	return &Service{
		workerCount: 8,
		log:         logging.NewNop(),
		workers:     make(map[string]*SyncWorker),
	}
}

func (s *Service) WithConfigFiles(files []string) *Service {
	s.configFiles = files
	return s
}

// WithDataDir sets the directory holding the git working copies, one
// subdirectory per sync job.
func (s *Service) WithDataDir(dir string) *Service {
	s.dataDir = dir
	return s
}

func (s *Service) WithWorkers(n int) *Service {
	if n > 0 {
		s.workerCount = n
	}
	return s
}

func (s *Service) WithSingleShot(singleShot bool) *Service {
	s.singleShot = singleShot
	return s
}

func (s *Service) WithDryRun(dryRun bool) *Service {
	s.dryRun = dryRun
	return s
}

func (s *Service) WithNoProgress(noProgress bool) *Service {
	s.noProgress = noProgress
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.log = logger
	return s
}

// Run loads the configuration, starts one worker per sync job and blocks
// until the context is cancelled or, in single shot mode, until every worker
// has finished its run.
func (s *Service) Run(ctx context.Context) error {
	root, err := s.loadConfig()
	if err != nil {
		return err
	}

	fetcher, err := secrets.New(ctx, root.AWS)
	if err != nil {
		return err
	}

	s.pool = pool.New(s.workerCount)

	if err := s.launch(ctx, root, fetcher); err != nil {
		return err
	}

	if s.singleShot {
		return s.waitForWorkers(ctx)
	}

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reload:
			s.log.Infof("reloading configuration")
			root, err := s.loadConfig()
			if err != nil {
				s.log.Errorf("configuration reload failed, keeping previous configuration: %v", err)
				continue
			}

			fetcher, err := secrets.New(ctx, root.AWS)
			if err != nil {
				s.log.Errorf("configuration reload failed, keeping previous configuration: %v", err)
				continue
			}

			if err := s.reload(ctx, root, fetcher); err != nil {
				s.log.Errorf("configuration reload failed: %v", err)
			}
		}
	}
}

// reload replaces the workers whose configuration changed and starts workers
// for newly added syncs. Changed workers are triggered so they exit promptly,
// and launch registers their replacements once they have drained; launch
// skips live workers, so relaunching before the drain would leave a changed
// job without a worker until the next reload. Unchanged workers keep running
// on their schedule.
func (s *Service) reload(ctx context.Context, root *config.Root, fetcher secretSource) error {
	var changed []string
	for name, worker := range s.workers {
		if worker.UpdateConfig(root.Syncs[name]) {
			changed = append(changed, name)
		}
	}

	for _, name := range changed {
		_ = s.pool.Trigger(name)
	}

	if err := s.drainWorkers(ctx, changed); err != nil {
		return err
	}
	for _, name := range changed {
		delete(s.workers, name)
	}

	if err := s.launch(ctx, root, fetcher); err != nil {
		return err
	}

	s.pool.TriggerAll()
	return nil
}

// drainWorkers blocks until every named worker has exited.
func (s *Service) drainWorkers(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			draining := false
			for _, name := range names {
				if worker, ok := s.workers[name]; ok && !worker.Done() {
					draining = true
					break
				}
			}
			if !draining {
				return nil
			}
		}
	}
}

func (s *Service) loadConfig() (*config.Root, error) {
	merged, err := config.Merge(s.configFiles, false)
	if err != nil {
		return nil, err
	}

	root, err := config.Parse(merged)
	if err != nil {
		return nil, err
	}

	if len(root.Syncs) == 0 {
		return nil, fmt.Errorf("configuration defines no syncs")
	}

	return root, nil
}

func (s *Service) launch(ctx context.Context, root *config.Root, fetcher secretSource) error {
	if s.singleShot && s.bar == nil {
		s.bar = progress.New(len(root.Syncs), "syncing", !s.noProgress)
	}

	for _, syncConfig := range root.SortedSyncs() {
		if worker, ok := s.workers[syncConfig.Name]; ok && !worker.Done() {
			continue
		}

		path := filepath.Join(s.dataDir, "repos", syncConfig.Name)

		// The fetcher doubles as the secret provider for git credentials,
		// so repository credentials can live in Secrets Manager too.
		var provider gitsync.SecretProvider
		if syncConfig.Git.Credentials != nil && syncConfig.Git.Credentials.Unresolved() {
			provider = fetcher
		}

		synchronizer := gitsync.NewWithProvider(path, syncConfig.Git, syncConfig.Name, provider)

		worker := NewSyncWorker(syncConfig, fetcher, synchronizer, s.log, s.bar).
			WithSingleShot(s.singleShot).
			WithDryRun(s.dryRun).
			WithInterval(syncConfig.Interval)

		s.workers[syncConfig.Name] = worker
		s.pool.Add(syncConfig.Name, worker.Execute)
	}

	return nil
}

func (s *Service) waitForWorkers(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done := true
			for _, worker := range s.workers {
				if !worker.Done() {
					done = false
					break
				}
			}
			if !done {
				continue
			}

			s.bar.Finish()

			var failed int
			for name, worker := range s.workers {
				if status := worker.Status(); status.State != RunStateSuccess {
					s.log.Errorf("sync %q failed: %s: %s", name, status.State, status.Message)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d syncs failed", failed, len(s.workers))
			}
			return nil
		}
	}
}
