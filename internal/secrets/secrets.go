// Package secrets implements the AWS Secrets Manager client used to fetch
// property values. Secrets are either plain strings or flat JSON documents
// from which a single field is extracted.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/metrics"
)

var (
	// ErrNotFound is returned when the secret name does not resolve.
	ErrNotFound = errors.New("secret not found")

	// ErrAuthentication is returned when AWS credentials are missing or invalid.
	ErrAuthentication = errors.New("authentication failed")

	// ErrFormat is returned when a secret is binary, not a flat JSON object,
	// or lacks the requested JSON key.
	ErrFormat = errors.New("unexpected secret format")

	// ErrRegion is returned when the configured region is missing or cannot
	// be reached.
	ErrRegion = errors.New("invalid or unreachable region")
)

// api is the subset of the Secrets Manager client used by the Fetcher.
// Narrowed to an interface so tests can substitute a fake.
type api interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Fetcher retrieves secrets from AWS Secrets Manager. It is safe for
// concurrent use. The Fetcher does not retry failures itself; retry policy,
// if any, belongs to the caller (the SDK's default retryer still applies to
// individual calls).
type Fetcher struct {
	client api
}

// New creates a Fetcher from the AWS configuration section. Region is
// required. When the config references an aws_auth secret, its static
// credentials are used; otherwise the default provider chain applies.
func New(ctx context.Context, cfg *config.AWS) (*Fetcher, error) {
	if cfg == nil || cfg.Region == "" {
		return nil, fmt.Errorf("%w: aws.region is required", ErrRegion)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.Credentials != nil {
		value, err := cfg.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		creds, ok := value.(config.SecretAWS)
		if !ok {
			return nil, fmt.Errorf("unsupported secret type '%T' for AWS credentials", value)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Fetcher{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Fetcher around an existing client. Used in tests.
func NewWithClient(client api) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves the named secret as a string. With jsonKey set, the secret
// is parsed as a flat JSON object and the value at jsonKey is returned; a
// secret that is not a JSON object or lacks the key is an ErrFormat. With
// jsonKey empty, the raw secret string is returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, name, jsonKey string) (string, error) {
	startTime := time.Now()

	value, err := f.fetch(ctx, name, jsonKey)
	if err != nil {
		metrics.SecretFetchFailed(name)
		return "", err
	}

	metrics.SecretFetchSucceeded(name, startTime)
	return value, nil
}

func (f *Fetcher) fetch(ctx context.Context, name, jsonKey string) (string, error) {
	out, err := f.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", mapError(name, err)
	}

	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q: %w: binary payload, expected string", name, ErrFormat)
	}

	if jsonKey == "" {
		return *out.SecretString, nil
	}

	return extract(name, *out.SecretString, jsonKey)
}

// GetSecret implements the SecretProvider interface of pkg/sync: git
// credentials may themselves live in Secrets Manager as a JSON document with
// a "type" field.
func (f *Fetcher) GetSecret(ctx context.Context, name string) (map[string]any, error) {
	raw, err := f.Fetch(ctx, name, "")
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("secret %q: %w: not a JSON object: %v", name, ErrFormat, err)
	}

	return doc, nil
}

// extract pulls a single field out of a flat JSON secret document. Non-string
// scalars are rendered with their JSON representation, matching how they were
// stored.
func extract(name, raw, jsonKey string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("secret %q: %w: not a JSON object: %v", name, ErrFormat, err)
	}

	value, ok := doc[jsonKey]
	if !ok {
		return "", fmt.Errorf("secret %q: %w: key %q not present", name, ErrFormat, jsonKey)
	}

	switch value := value.(type) {
	case string:
		return value, nil
	case json.Number:
		return value.String(), nil
	case bool:
		if value {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("secret %q: %w: key %q is not a scalar", name, ErrFormat, jsonKey)
	}
}

func mapError(name string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("secret %q: %w", name, ErrNotFound)
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException",
			"ExpiredTokenException", "IncompleteSignatureException":
			return fmt.Errorf("secret %q: %w: %v", name, ErrAuthentication, ae.ErrorMessage())
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("secret %q: %w: %v", name, ErrRegion, dnsErr)
	}

	return fmt.Errorf("secret %q: %w", name, err)
}
