package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionPath(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"binance-api-key", "projects/p1/secrets/binance-api-key/versions/latest"},
		{"binance-api-key@3", "projects/p1/secrets/binance-api-key/versions/3"},
		{"binance-api-key@", "projects/p1/secrets/binance-api-key@/versions/latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VersionPath("p1", tt.name))
		})
	}
}

func TestDefaultSecretNamesComplete(t *testing.T) {
	names := DefaultSecretNames()
	for _, n := range []string{names.BinanceAPIKey, names.BinanceSecretKey, names.JWTSecret, names.RedisPassword} {
		assert.NotEmpty(t, n)
	}
}

func TestNewGCPSecretManagerRequiresProject(t *testing.T) {
	_, err := NewGCPSecretManager(context.Background(), "", nil)
	require.Error(t, err)
}
