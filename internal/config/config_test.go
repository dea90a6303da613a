package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Webhook.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Webhook.BackoffBase)
	assert.Equal(t, 8, cfg.Events.Workers)
	assert.Equal(t, 1024, cfg.Events.QueueSize)
	assert.False(t, cfg.Redis.Enabled())

	dummy, ok := cfg.Gateways["dummy"]
	require.True(t, ok)
	assert.True(t, dummy.Active)
	assert.True(t, dummy.AutoCapture)
	assert.Contains(t, dummy.SupportedCurrencies, "USD")
}

func TestFromViper_YAMLAndEnv(t *testing.T) {
	t.Setenv("STOREFRONT_STORAGE_DSN", "file::memory:")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
app:
  env: production
storage:
  driver: sqlite
token:
  secret: s3cr3t
email:
  templates:
    order_confirmation: "Order {{ .order.number }}"
gateways:
  stripe:
    active: true
    auto_capture: false
    channels: [default-channel]
    supported_currencies: [USD]
    connection_params:
      secret_api_key: sk_test
`)))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "file::memory:", cfg.Storage.DSN)
	assert.Equal(t, "Order {{ .order.number }}", cfg.Email.Templates["order_confirmation"])

	stripe := cfg.Gateways["stripe"]
	assert.True(t, stripe.Active)
	assert.False(t, stripe.AutoCapture)
	assert.Equal(t, []string{"default-channel"}, stripe.Channels)
	assert.Equal(t, "sk_test", stripe.ConnectionParams["secret_api_key"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory dev", cfg: Config{App: AppConfig{Env: "dev"}, Storage: StorageConfig{Driver: "memory"}}},
		{name: "unknown driver", cfg: Config{App: AppConfig{Env: "dev"}, Storage: StorageConfig{Driver: "mongo"}}, wantErr: true},
		{name: "postgres without dsn", cfg: Config{App: AppConfig{Env: "dev"}, Storage: StorageConfig{Driver: "postgres"}}, wantErr: true},
		{name: "production without secret", cfg: Config{App: AppConfig{Env: "production"}, Storage: StorageConfig{Driver: "memory"}}, wantErr: true},
		{name: "negative retries", cfg: Config{App: AppConfig{Env: "dev"}, Storage: StorageConfig{Driver: "memory"}, Webhook: WebhookConfig{MaxRetries: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
