// Package awssm reads database credentials from AWS Secrets Manager.
package awssm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/reportgen/reportgen/internal/secrets"
)

type Config struct {
	SecretID string
	Region   string
	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string
}

type client interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type Provider struct {
	client   client
	secretID string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.SecretID) == "" {
		return nil, fmt.Errorf("secret id is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return NewWithClient(cfg.SecretID, secretsmanager.NewFromConfig(awsCfg, clientOpts...))
}

func NewWithClient(secretID string, c client) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(secretID) == "" {
		return nil, fmt.Errorf("secret id is required")
	}
	return &Provider{client: c, secretID: strings.TrimSpace(secretID)}, nil
}

// DBCredentials fetches the secret on every call; credentials are not cached
// so that rotations take effect on the next request.
func (p *Provider) DBCredentials(ctx context.Context) (secrets.Credentials, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return secrets.Credentials{}, fmt.Errorf("get secret %q: %w", p.secretID, err)
	}
	if out.SecretString == nil || strings.TrimSpace(*out.SecretString) == "" {
		return secrets.Credentials{}, fmt.Errorf("secret %q: %w", p.secretID, secrets.ErrSecretMissing)
	}
	creds, err := secrets.ParseSecretJSON([]byte(*out.SecretString))
	if err != nil {
		return secrets.Credentials{}, fmt.Errorf("secret %q: %w", p.secretID, err)
	}
	return creds, nil
}
