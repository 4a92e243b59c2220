package config

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for propsync.

// Root is the top-level configuration structure. Secrets hold named
// credential documents referenced by the AWS client and by git
// synchronization. Each sync job fetches a single secret value and merges it
// into a single property of a file in a git repository.
type Root struct {
	Secrets map[string]*Secret `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.
	AWS     *AWS               `json:"aws,omitempty"`
	Syncs   map[string]*Sync   `json:"syncs,omitempty"`
}

func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw) // Assign the unmarshaled data back to the original struct
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw) // Assign the unmarshaled data back to the original struct
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Secrets {
		raw.Secrets[name] = cmp.Or(raw.Secrets[name], &Secret{})
		raw.Secrets[name].Name = name
	}

	for name := range raw.Syncs {
		raw.Syncs[name] = cmp.Or(raw.Syncs[name], &Sync{})
		raw.Syncs[name].Name = name
		if raw.Syncs[name].Git.Credentials != nil {
			raw.Syncs[name].Git.Credentials.value = raw.Secrets[raw.Syncs[name].Git.Credentials.Name]
		}
	}

	if raw.AWS != nil && raw.AWS.Credentials != nil {
		raw.AWS.Credentials.value = raw.Secrets[raw.AWS.Credentials.Name]
	}

	return nil
}

func (r *Root) SortedSyncs() iter.Seq2[int, *Sync] {
	return iterator(r.Syncs, func(s *Sync) string { return s.Name })
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, s := range root.Syncs {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}

	return &root, nil
}

// AWS configures the Secrets Manager client shared by all sync jobs. When
// Credentials is nil, the SDK's default credential provider chain is used
// (environment, shared config, instance metadata).
type AWS struct {
	Region      string     `json:"region"`
	Profile     string     `json:"profile,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // Must reference a secret of type aws_auth.

	_ struct{} `additionalProperties:"false"`
}

func (a *AWS) Equal(other *AWS) bool {
	return fastEqual(a, other, func(a, other *AWS) bool {
		return a.Region == other.Region &&
			a.Profile == other.Profile &&
			a.Credentials.Equal(other.Credentials)
	})
}

// Sync is a single synchronization job: one secret value merged into one
// property key of one file in a git repository.
type Sync struct {
	Name     string       `json:"name"`
	Git      Git          `json:"git"`
	File     string       `json:"file"`     // Properties file path relative to the repository root.
	Property string       `json:"property"` // Property key to update.
	Secret   SecretSource `json:"secret"`
	Commit   Commit       `json:"commit,omitzero"`
	Interval Duration     `json:"interval,omitzero"` // Only used when running continuously.

	_ struct{} `additionalProperties:"false"`
}

func (s *Sync) validate() error {
	switch {
	case s.Git.Repo == "":
		return fmt.Errorf("sync %q: git.repo is required", s.Name)
	case s.File == "":
		return fmt.Errorf("sync %q: file is required", s.Name)
	case s.Property == "":
		return fmt.Errorf("sync %q: property is required", s.Name)
	case s.Secret.SecretName == "":
		return fmt.Errorf("sync %q: secret.name is required", s.Name)
	}
	return nil
}

func (s *Sync) Equal(other *Sync) bool {
	return fastEqual(s, other, func(s, other *Sync) bool {
		return s.Name == other.Name &&
			s.Git.Equal(&other.Git) &&
			s.File == other.File &&
			s.Property == other.Property &&
			s.Secret == other.Secret &&
			s.Commit == other.Commit &&
			s.Interval == other.Interval
	})
}

// SecretSource identifies the secret a sync job fetches from AWS Secrets
// Manager.
type SecretSource struct {
	SecretName string `json:"name"`
	JSONKey    string `json:"json_key,omitempty"` // If set, the secret is parsed as a flat JSON object and this key is extracted.

	_ struct{} `additionalProperties:"false"`
}

// Commit configures the commit created when a sync job changes the
// properties file.
type Commit struct {
	Message     string `json:"message,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

const (
	DefaultCommitMessage = "Update properties"
	DefaultAuthorName    = "propsync"
	DefaultAuthorEmail   = "propsync@localhost"
)

// Message returns the configured commit message or the default.
func (c Commit) MessageOrDefault() string {
	return cmp.Or(c.Message, DefaultCommitMessage)
}

// Author returns the configured author name and email, falling back to the
// defaults.
func (c Commit) Author() (string, string) {
	return cmp.Or(c.AuthorName, DefaultAuthorName), cmp.Or(c.AuthorEmail, DefaultAuthorEmail)
}

// Git configures the repository a sync job operates on. ForceReset opts into
// discarding local modifications in the working copy during synchronization;
// without it, a dirty working copy aborts the sync.
type Git struct {
	Reference   *string    `json:"reference,omitempty"` // Branch ref, e.g. refs/heads/main. Defaults to the remote HEAD.
	Repo        string     `json:"repo"`
	ForceReset  bool       `json:"force_reset,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, no authentication is used (public repos).
	// Note, JSON schema validation overrides this to string type.

	_ struct{} `additionalProperties:"false"`
}

func (g *Git) Equal(other *Git) bool {
	return fastEqual(g, other, func(g, other *Git) bool {
		return g.Repo == other.Repo &&
			stringPtrEqual(g.Reference, other.Reference) &&
			g.ForceReset == other.ForceReset &&
			g.Credentials.Equal(other.Credentials)
	})
}

type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the value as an interface{} which can be further typed as needed.
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

// Unresolved reports whether the reference points to a secret that is not
// declared in the config file. Such references are resolved through an
// external secret store at runtime.
func (s *SecretRef) Unresolved() bool {
	return s.value == nil
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

func (s *SecretRef) Equal(other *SecretRef) bool {
	return fastEqual(s, other, func(s, other *SecretRef) bool {
		return s.Name == other.Name && s.value.Equal(other.value)
	})
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
