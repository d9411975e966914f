package claimsend

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	claimassert "github.com/iov-one/claimsend/claimtest/assert"
	"github.com/iov-one/claimsend/errors"
)

const testOperatorKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestDefaultConfigNeedsOnlyTheKey(t *testing.T) {
	conf := DefaultConfig()
	claimassert.FieldError(t, conf.Validate(), "Escrow.OperatorKey", errors.ErrEmpty)

	conf.Escrow.OperatorKey = testOperatorKey
	require.NoError(t, conf.Validate())
	assert.Equal(t, uint64(10000), conf.Escrow.MaxFee)
	assert.Equal(t, 720*time.Hour, conf.Escrow.ClaimTTL)
	assert.Equal(t, 15*time.Minute, conf.Escrow.ResolveLease)
}

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "claimsend-config-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "claimsend.yaml")
	raw := `
ledger:
  endpoint: http://localhost:26657
  asset_id: 31566704
  request_timeout: 3s
escrow:
  strategy: contract-bound
  claim_ttl: 48h
store:
  driver: sqlite
  path: /var/lib/claimsend/records.db
log:
  level: debug
`
	require.NoError(t, ioutil.WriteFile(path, []byte(raw), 0600))

	os.Setenv(OperatorKeyEnv, "00112233")
	defer os.Unsetenv(OperatorKeyEnv)

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:26657", conf.Ledger.Endpoint)
	assert.Equal(t, uint64(31566704), conf.Ledger.AssetID)
	assert.Equal(t, 3*time.Second, conf.Ledger.RequestTimeout)
	assert.Equal(t, 48*time.Hour, conf.Escrow.ClaimTTL)
	assert.Equal(t, "00112233", conf.Escrow.OperatorKey)
	// untouched values keep their defaults
	assert.Equal(t, "simnet-v1", conf.Ledger.Network)
	assert.Equal(t, 15*time.Minute, conf.Escrow.ResolveLease)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate    func(*Config)
		wantField string
		wantErr   *errors.Error
	}{
		"unknown strategy": {
			mutate:    func(c *Config) { c.Escrow.Strategy = "multisig" },
			wantField: "Escrow.Strategy",
			wantErr:   errors.ErrInvalidInput,
		},
		"missing operator key": {
			mutate:    func(c *Config) { c.Escrow.OperatorKey = "" },
			wantField: "Escrow.OperatorKey",
			wantErr:   errors.ErrEmpty,
		},
		"zero fee cap": {
			mutate:    func(c *Config) { c.Escrow.MaxFee = 0 },
			wantField: "Escrow.MaxFee",
			wantErr:   errors.ErrEmpty,
		},
		"postgres needs dsn": {
			mutate:    func(c *Config) { c.Store.Driver = "postgres" },
			wantField: "Store.DSN",
			wantErr:   errors.ErrEmpty,
		},
		"amqp needs url": {
			mutate:    func(c *Config) { c.Notify.Driver = "amqp" },
			wantField: "Notify.URL",
			wantErr:   errors.ErrEmpty,
		},
		"non positive ttl": {
			mutate:    func(c *Config) { c.Escrow.ClaimTTL = 0 },
			wantField: "Escrow.ClaimTTL",
			wantErr:   errors.ErrInvalidInput,
		},
		"missing asset": {
			mutate:    func(c *Config) { c.Ledger.AssetID = 0 },
			wantField: "Ledger.AssetID",
			wantErr:   errors.ErrEmpty,
		},
		"bad log level": {
			mutate:    func(c *Config) { c.Log.Level = "loud" },
			wantField: "Log.Level",
			wantErr:   errors.ErrInvalidInput,
		},
	}
	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			conf := DefaultConfig()
			conf.Escrow.OperatorKey = testOperatorKey
			tc.mutate(&conf)
			claimassert.FieldError(t, conf.Validate(), tc.wantField, tc.wantErr)
		})
	}
}
