package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

const (
	envPrefix            = "env:"
	secretsManagerPrefix = "secretsmanager:"
)

// ErrNotFound the reference points at nothing
var ErrNotFound = errors.New("credential not found")

// SecretsAPI is the subset of the Secrets Manager client the resolver calls
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver turns a node's credential reference into private key material.
//
// Supported references:
//
//	/path/to/key.pem        file on the controller host ("~/" is expanded)
//	env:NAME                contents of an environment variable
//	secretsmanager:ID       string secret stored in AWS Secrets Manager
type Resolver struct {
	secrets SecretsAPI
}

// NewResolver creates a resolver. secrets may be nil, in which case
// secretsmanager references fail.
func NewResolver(secrets SecretsAPI) *Resolver {
	return &Resolver{secrets: secrets}
}

// NewResolverFromConfig creates a resolver backed by Secrets Manager in cfg's region
func NewResolverFromConfig(cfg aws.Config) *Resolver {
	return NewResolver(secretsmanager.NewFromConfig(cfg))
}

// Resolve returns the key bytes the reference points at
func (r *Resolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	switch {
	case strings.HasPrefix(ref, envPrefix):
		return r.fromEnv(strings.TrimPrefix(ref, envPrefix))
	case strings.HasPrefix(ref, secretsManagerPrefix):
		return r.fromSecretsManager(ctx, strings.TrimPrefix(ref, secretsManagerPrefix))
	default:
		return r.fromFile(ref)
	}
}

func (r *Resolver) fromEnv(name string) ([]byte, error) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, name)
	}
	return []byte(value), nil
}

func (r *Resolver) fromFile(path string) ([]byte, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	return data, nil
}

func (r *Resolver) fromSecretsManager(ctx context.Context, id string) ([]byte, error) {
	if r.secrets == nil {
		return nil, fmt.Errorf("secrets manager is not configured, cannot resolve %s", id)
	}

	out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
		return nil, fmt.Errorf("%w: secret %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve secret %s: %w", id, err)
	}

	// Only string secrets hold PEM keys
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s is not a string", id)
	}
	return []byte(*out.SecretString), nil
}
