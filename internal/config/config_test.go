package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "chat.db", cfg.Database.Path)
	require.Equal(t, 10*time.Second, cfg.Gateway.HandshakeTimeout)
	require.Equal(t, 5*time.Second, cfg.Gateway.VerifyTimeout)
	require.Equal(t, 20, cfg.Gateway.RelayBurst)
	require.Equal(t, 7*24*time.Hour, cfg.JWT.TTL)
	require.Empty(t, cfg.Redis.Address)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("GATEWAY_HANDSHAKE_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "from-env", cfg.JWT.Secret)
	require.Equal(t, 3*time.Second, cfg.Gateway.HandshakeTimeout)
	require.Equal(t, "redis:6379", cfg.Redis.Address)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
server:
  port: 7000
  allowed_origins: ["*"]
gateway:
  relay_rate: -1
redis:
  address: localhost:6380
  prefix: test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, -1.0, cfg.Gateway.RelayRate)
	require.Equal(t, "test", cfg.Redis.Prefix)
	require.Equal(t, "chat.db", cfg.Database.Path, "unset keys keep their defaults")
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestString_HidesSecrets(t *testing.T) {
	cfg := &Config{JWT: JWTConfig{Secret: "top-secret"}, Redis: RedisConfig{Password: "pw"}}
	require.NotContains(t, cfg.String(), "top-secret")
	require.NotContains(t, cfg.String(), "pw")
	require.Contains(t, cfg.String(), "Redis: disabled")
}
