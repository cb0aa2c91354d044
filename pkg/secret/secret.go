// Package secret resolves credential references used in configuration.
//
// A reference is one of:
//
//	literal               used as is
//	env:NAME              environment variable
//	file:/path            file contents, trailing newline removed
//	ssm:/param/name       AWS SSM Parameter Store, decrypted
//	secretsmanager:ID     AWS Secrets Manager secret string
//	secretsmanager:ID#key one field of a JSON secret
package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotFound indicates a reference that points at nothing.
var ErrNotFound = errors.New("secret: not found")

// SSMAPI is the part of the SSM client the resolver uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerAPI is the part of the Secrets Manager client the resolver uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver resolves references. AWS clients are created on first use from
// the default AWS configuration unless supplied.
type Resolver struct {
	SSM            SSMAPI
	SecretsManager SecretsManagerAPI

	once    sync.Once
	awsErr  error
	loadAWS func(ctx context.Context) (aws.Config, error)
}

// NewResolver returns a Resolver using the default AWS configuration.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the secret ref points to.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, nil
	}

	switch scheme {
	case "env":
		v, ok := os.LookupEnv(rest)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, rest)
		}
		return v, nil

	case "file":
		b, err := os.ReadFile(rest)
		if err != nil {
			return "", fmt.Errorf("secret: read %s: %w", rest, err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil

	case "ssm":
		if err := r.initAWS(ctx); err != nil {
			return "", err
		}
		out, err := r.SSM.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(strings.TrimPrefix(rest, "//")),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return "", fmt.Errorf("secret: ssm parameter %s: %w", rest, err)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return "", fmt.Errorf("%w: ssm parameter %s", ErrNotFound, rest)
		}
		return *out.Parameter.Value, nil

	case "secretsmanager":
		if err := r.initAWS(ctx); err != nil {
			return "", err
		}
		id, field, _ := strings.Cut(strings.TrimPrefix(rest, "//"), "#")
		out, err := r.SecretsManager.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(id),
		})
		if err != nil {
			return "", fmt.Errorf("secret: secretsmanager %s: %w", id, err)
		}
		if out.SecretString == nil {
			return "", fmt.Errorf("%w: secret %s has no string value", ErrNotFound, id)
		}
		if field == "" {
			return *out.SecretString, nil
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
			return "", fmt.Errorf("secret: parse %s: %w", id, err)
		}
		v, ok := fields[field]
		if !ok {
			return "", fmt.Errorf("%w: field %s of secret %s", ErrNotFound, field, id)
		}
		return v, nil
	}

	// Not a known scheme, e.g. a password containing ':'.
	return ref, nil
}

func (r *Resolver) initAWS(ctx context.Context) error {
	r.once.Do(func() {
		if r.SSM != nil && r.SecretsManager != nil {
			return
		}
		load := r.loadAWS
		if load == nil {
			load = func(ctx context.Context) (aws.Config, error) {
				return config.LoadDefaultConfig(ctx)
			}
		}
		cfg, err := load(ctx)
		if err != nil {
			r.awsErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		if r.SSM == nil {
			r.SSM = ssm.NewFromConfig(cfg)
		}
		if r.SecretsManager == nil {
			r.SecretsManager = secretsmanager.NewFromConfig(cfg)
		}
	})
	return r.awsErr
}
