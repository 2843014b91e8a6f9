package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "settle.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
database:
  driver: bolt
  bolt_path: /tmp/settle-test.db
gateway:
  timeout: 5s
  paystack:
    enabled: true
    secret_key: sk_test
files:
  - id: ebook-1
    title: Go in Practice
    price: "1000"
    currency: NGN
admin:
  accounts:
    ops: secret
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, DBDriverBolt, c.Database.Driver)
	require.Equal(t, 5*time.Second, c.Gateway.Timeout)
	require.Equal(t, 72*time.Hour, c.Fulfillment.GrantTTL)
	require.Equal(t, 8888, c.Server.Port)

	rc, ok := c.Gateway.Rail(types.RailPaystack)
	require.True(t, ok)
	require.True(t, rc.Enabled)
	require.Equal(t, "https://api.paystack.co", rc.BaseURL)

	f := c.GetFileByID("ebook-1")
	require.NotNil(t, f)
	price, err := f.PriceDecimal()
	require.NoError(t, err)
	require.Equal(t, "1000", price.String())
	require.Nil(t, c.GetFileByID("missing"))
	require.Equal(t, "secret", c.Admin.Accounts["ops"])
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "settle.yaml")
	require.NoError(t, os.WriteFile(file, []byte("database:\n  driver: sqlite\n"), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)

	_, err := New()
	require.Error(t, err)
}
