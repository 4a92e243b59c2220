// gitsync package implements Git synchronization and publishing. It maintains
// a local filesystem copy for each configured sync job and pushes property
// updates back to the remote. This package implements no threadpooling, it is
// expected that the caller will handle concurrency and parallelism. The
// Synchronizer is not thread-safe.
package gitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	gohttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/metrics"
	pkgsync "github.com/propsync/propsync/pkg/sync"
)

// configFile is an internal config file used to track if a git repository
// can be re-used or needs to be wiped. NB: it lives under .git/ so it never
// shows up in the worktree status.
const configFile = "propsyncconfig"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

var (
	// ErrClone is returned when the initial clone of a repository fails.
	ErrClone = errors.New("clone failed")

	// ErrSync is returned when an existing working copy cannot be brought up
	// to date: it has uncommitted local changes, or its history has diverged
	// from the remote. Local state is never discarded without force_reset.
	ErrSync = errors.New("sync failed")

	// ErrAuthentication is returned when the remote rejects the supplied
	// credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrPushRejected is returned when the remote has diverged and the push
	// would not be a fast-forward. This is never auto-resolved.
	ErrPushRejected = errors.New("push rejected")

	// ErrNothingToCommit is returned by Publish when none of the given paths
	// have staged changes. Callers treat it as a no-op, not a failure.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// SecretProvider is an alias to pkg/sync.SecretProvider. It allows git
// credentials to be resolved from an external secret store (e.g. AWS Secrets
// Manager) instead of the config file. See pkg/sync for the supported
// credential document types.
type SecretProvider = pkgsync.SecretProvider

type Synchronizer struct {
	path           string
	config         config.Git
	gh             github
	syncName       string
	secretProvider SecretProvider
}

// New creates a new Synchronizer instance. It is expected the threadpooling is outside of this package.
// The synchronizer does not validate the path holds the same repository as the config. Therefore, the caller
// should guarantee that the path is unique for each repository and that the path is not used by multiple
// Synchronizer instances. If the path does not exist, it will be created.
func New(path string, config config.Git, syncName string) *Synchronizer {
	return &Synchronizer{path: path, config: config, syncName: syncName}
}

// NewWithProvider creates a Synchronizer that resolves credentials through
// the given SecretProvider. A nil provider falls back to config credentials.
func NewWithProvider(path string, config config.Git, syncName string, provider SecretProvider) *Synchronizer {
	return New(path, config, syncName).WithSecretProvider(provider)
}

// WithSecretProvider configures the synchronizer to use an external SecretProvider for authentication.
// If provider is nil, credentials will be resolved from the config file.
func (s *Synchronizer) WithSecretProvider(provider SecretProvider) *Synchronizer {
	s.secretProvider = provider
	return s
}

// Path returns the working copy directory.
func (s *Synchronizer) Path() string {
	return s.path
}

// Execute performs the synchronization of the configured Git repository. If
// the repository does not exist on disk, clone it. If it does exist, fetch
// and fast-forward the local branch to the remote. Executing twice without an
// intervening remote change leaves the working copy byte-identical.
func (s *Synchronizer) Execute(ctx context.Context) error {
	startTime := time.Now()

	if err := s.execute(ctx); err != nil {
		metrics.GitSyncFailed(s.syncName, s.config.Repo)
		return fmt.Errorf("sync %q: git synchronizer: %v: %w", s.syncName, s.config.Repo, err)
	}
	metrics.GitSyncSucceeded(s.syncName, s.config.Repo, startTime)
	return nil
}

func (s *Synchronizer) execute(ctx context.Context) error {
	var referenceName plumbing.ReferenceName
	if s.config.Reference != nil {
		referenceName = plumbing.ReferenceName(*s.config.Reference)
	}

	// A configuration change may necessitate wiping an earlier clone: in particular, re-cloning
	// is the easiest option if the repository URL or branch has changed. For simplicity, follow
	// the same logic with any config change EXCEPT for credentials. That's because it's harder
	// to do, the marker file alone won't have the secrets, only their names.

	if data, err := os.ReadFile(filepath.Join(s.path, ".git", configFile)); err == nil {
		recorded := config.Git{
			Credentials: s.config.Credentials,
		}
		if err := json.Unmarshal(data, &recorded); err != nil || !recorded.Equal(&s.config) {
			if err := os.RemoveAll(s.path); err != nil {
				return err
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) { // does not exist? clone it
		authMethod, err := s.auth(ctx)
		if err != nil {
			return err
		}

		if _, err := git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
			URL:           s.config.Repo,
			Auth:          authMethod,
			ReferenceName: referenceName,
			SingleBranch:  true,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrClone, mapTransportErr(err))
		}

		data, err := json.Marshal(s.config)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(s.path, ".git", configFile), data, 0644)
	} else if err != nil { // other errors are bubbled up
		return err
	}

	w, err := repository.Worktree()
	if err != nil {
		return err
	}

	status, err := w.Status()
	if err != nil {
		return err
	}

	if !status.IsClean() {
		if !s.config.ForceReset {
			return fmt.Errorf("%w: working copy has local changes, refusing to discard them (set force_reset to override)", ErrSync)
		}
		if err := w.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
			return err
		}
		if err := w.Clean(&git.CleanOptions{Dir: true}); err != nil {
			return err
		}
	}

	authMethod, err := s.auth(ctx)
	if err != nil {
		return err
	}

	// Pull performs a fetch plus a fast-forward only merge. A diverged local
	// branch surfaces as a non-fast-forward error instead of being rewritten.
	err = w.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: referenceName,
		SingleBranch:  true,
		Auth:          authMethod,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return fmt.Errorf("%w: local history has diverged from the remote", ErrSync)
	default:
		return fmt.Errorf("%w: %v", ErrSync, mapTransportErr(err))
	}
}

func (*Synchronizer) Close(context.Context) {
	// No resources to close.
}

// mapTransportErr wraps authentication failures from the git transport in
// ErrAuthentication so callers can match on the error class.
func mapTransportErr(err error) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return err
}

func (s *Synchronizer) auth(ctx context.Context) (transport.AuthMethod, error) {
	if s.config.Credentials == nil {
		return nil, nil
	}

	var typed any

	// Resolve credentials to typed value
	if s.secretProvider != nil {
		credMap, err := s.secretProvider.GetSecret(ctx, s.config.Credentials.Name)
		if err != nil {
			return nil, err
		}
		// Convert map to typed credential
		secret := &config.Secret{
			Name:  s.config.Credentials.Name,
			Value: credMap,
		}
		typed, err = secret.Typed(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		// Config-based credentials
		var err error
		typed, err = s.config.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
	}

	// Common path: convert typed credential to AuthMethod
	return authFromTyped(ctx, &s.gh, typed)
}

// authFromTyped converts a typed config credential to transport.AuthMethod
func authFromTyped(ctx context.Context, gh *github, value any) (transport.AuthMethod, error) {
	switch value := value.(type) {
	case config.SecretBasicAuth:
		return &basicAuth{
			Username: value.Username,
			Password: value.Password,
			Headers:  value.Headers,
		}, nil

	case config.SecretGitHubApp:
		token, err := gh.Token(ctx, value.IntegrationID, value.InstallationID, []byte(value.PrivateKey))
		if err != nil {
			return nil, err
		}
		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil

	case config.SecretSSHKey:
		return newSSHAuth(value.Key, value.Passphrase, value.Fingerprints)

	case config.SecretTokenAuth:
		return &tokenAuth{token: value.Token}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type for git: %T", value)
	}
}

type github struct {
	integrationID  int64
	installationID int64
	privateKey     []byte
	tr             *ghinstallation.Transport
	mu             sync.Mutex
}

func (gh *github) Token(ctx context.Context, integrationID, installationID int64, privateKey []byte) (string, error) {
	tr, err := gh.transport(integrationID, installationID, privateKey)
	if err != nil {
		return "", err
	}

	return tr.Token(ctx)
}

func (gh *github) transport(integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	if gh.tr == nil || gh.integrationID != integrationID || gh.installationID != installationID || !bytes.Equal(gh.privateKey, privateKey) {
		tr, err := ghinstallation.New(gohttp.DefaultTransport, integrationID, installationID, privateKey)
		if err != nil {
			return nil, err
		}

		gh.integrationID = integrationID
		gh.installationID = installationID
		gh.privateKey = privateKey
		gh.tr = tr
	}

	return gh.tr, nil
}

func newSSHAuth(key string, passphrase string, fingerprints []string) (gitssh.AuthMethod, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		if err != nil {
			return nil, err
		}
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, err
		}
	}

	if len(fingerprints) == 0 {
		return nil, errors.New("ssh: at least one fingerprint is required when using ssh_key authentication")
	}

	return &gitssh.PublicKeys{
		User:   "git",
		Signer: signer,
		HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
			HostKeyCallback: newCheckFingerprints(fingerprints),
		},
	}, nil
}

func newCheckFingerprints(fingerprints []string) ssh.HostKeyCallback {
	m := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = true
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if _, ok := m[fingerprint]; !ok {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}

// basicAuth provides HTTP basic authentication but in addition can set
// extra headers required for authentication.
type basicAuth struct {
	Username string
	Password string
	Headers  []string
}

func (a *basicAuth) String() string {
	masked := "*******"
	if a.Password == "" {
		masked = "<empty>"
	}
	return fmt.Sprintf("%s - %s:%s [%s]", a.Name(), a.Username, masked, strings.Join(a.Headers, ", "))
}

func (*basicAuth) Name() string {
	return "http-basic-auth-extra"
}

func (a *basicAuth) SetAuth(r *gohttp.Request) {
	r.SetBasicAuth(a.Username, a.Password)
	for _, header := range a.Headers {
		name, value, found := strings.Cut(header, ":")
		if found {
			r.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
}

// tokenAuth provides HTTP bearer token authentication.
type tokenAuth struct {
	token string
}

func (a *tokenAuth) String() string {
	return a.Name() + " - token-based"
}

func (*tokenAuth) Name() string {
	return "http-bearer-token"
}

func (a *tokenAuth) SetAuth(r *gohttp.Request) {
	r.Header.Set("Authorization", "Bearer "+a.token)
}
