package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// ErrEmptySecret is returned when a secret version holds no data.
var ErrEmptySecret = errors.New("secret payload is empty")

// SecretNames maps each credential to its Secret Manager name. A name may pin
// a version as "name@3"; otherwise the latest version is read. An empty name
// skips that credential.
type SecretNames struct {
	BinanceAPIKey    string `mapstructure:"binance_api_key"`
	BinanceSecretKey string `mapstructure:"binance_secret_key"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	RedisPassword    string `mapstructure:"redis_password"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		BinanceAPIKey:    "binance-api-key",
		BinanceSecretKey: "binance-secret-key",
		JWTSecret:        "pairs-trader-jwt-secret",
		RedisPassword:    "pairs-trader-redis-password",
	}
}

// VersionPath builds the resource path for name within project.
func VersionPath(project, name string) string {
	version := "latest"
	if base, v, ok := strings.Cut(name, "@"); ok && v != "" {
		name, version = base, v
	}
	return "projects/" + project + "/secrets/" + name + "/versions/" + version
}

// GCPSecretManager reads trader credentials from Google Secret Manager.
type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager connects with application default credentials unless
// opts say otherwise (e.g. option.WithCredentialsFile).
func NewGCPSecretManager(ctx context.Context, projectID string, logger *logrus.Logger, opts ...option.ClientOption) (*GCPSecretManager, error) {
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secret manager client: %w", err)
	}
	return &GCPSecretManager{client: client, projectID: projectID, logger: logger}, nil
}

// GetSecret returns the trimmed payload of name.
func (g *GCPSecretManager) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: VersionPath(g.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))
	if value == "" {
		return "", fmt.Errorf("read secret %s: %w", name, ErrEmptySecret)
	}
	return value, nil
}

// GetSecretWithDefault is GetSecret falling back to defaultValue on any
// failure, including an empty name.
func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, name, defaultValue string) string {
	if name == "" {
		return defaultValue
	}
	value, err := g.GetSecret(ctx, name)
	if err != nil {
		g.logger.WithError(err).WithField("secret", name).Warn("Secret unavailable, keeping configured value")
		return defaultValue
	}
	return value
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}
