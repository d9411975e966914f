package claimsend

import (
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iov-one/claimsend/errors"
)

// OperatorKeyEnv overrides Escrow.OperatorKey when set.
const OperatorKeyEnv = "CLAIMSEND_OPERATOR_KEY"

// Config is the complete service configuration. Every component receives the
// section it needs through its constructor.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Escrow EscrowConfig `yaml:"escrow"`
	Store  StoreConfig  `yaml:"store"`
	Notify NotifyConfig `yaml:"notify"`
	Log    LogConfig    `yaml:"log"`
}

// LedgerConfig points at the ledger and names the asset being escrowed.
type LedgerConfig struct {
	// Endpoint of the ledger gateway. "sim" runs an in-process simulated
	// ledger.
	Endpoint string `yaml:"endpoint"`
	Network  string `yaml:"network"`
	AssetID  uint64 `yaml:"asset_id"`
	// AssetDecimals is used only to render and parse display amounts.
	AssetDecimals    int32         `yaml:"asset_decimals"`
	MaxConfirmRounds uint64        `yaml:"max_confirm_rounds"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RateLimit        float64       `yaml:"rate_limit"`
	Burst            int           `yaml:"burst"`
}

// EscrowConfig holds the lifecycle parameters.
type EscrowConfig struct {
	Strategy     string        `yaml:"strategy"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
	ResolveLease time.Duration `yaml:"resolve_lease"`
	ClaimURL     string        `yaml:"claim_url"`
	// OperatorKey is the hex encoded ed25519 seed of the service key. It
	// binds recipients of contract-bound deposits and derives the claim
	// notes of account-bound deposits.
	OperatorKey string `yaml:"operator_key"`
	MaxNoteSize int    `yaml:"max_note_size"`
	// MaxFee caps the fee a holding account pays for a payout.
	MaxFee uint64 `yaml:"max_fee"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// NotifyConfig selects how recipients are notified.
type NotifyConfig struct {
	Driver        string  `yaml:"driver"`
	URL           string  `yaml:"url"`
	Exchange      string  `yaml:"exchange"`
	RoutingKey    string  `yaml:"routing_key"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	QueueSize     int     `yaml:"queue_size"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration that works against the in-process
// simulated ledger with an in-memory store.
func DefaultConfig() Config {
	return Config{
		Ledger: LedgerConfig{
			Endpoint:         "sim",
			Network:          "simnet-v1",
			AssetID:          1,
			AssetDecimals:    6,
			MaxConfirmRounds: 10,
			RequestTimeout:   10 * time.Second,
			PollInterval:     time.Second,
			RateLimit:        20,
			Burst:            5,
		},
		Escrow: EscrowConfig{
			Strategy:     "account-bound",
			ClaimTTL:     30 * 24 * time.Hour,
			ResolveLease: 15 * time.Minute,
			ClaimURL:     "https://claimsend.example/claim?token=",
			MaxNoteSize:  512,
			MaxFee:       10000,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Notify: NotifyConfig{
			Driver:        "log",
			Exchange:      "claimsend",
			RoutingKey:    "claim.notify",
			RatePerSecond: 10,
			QueueSize:     256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig. An empty
// path returns the defaults. The environment is consulted for secrets.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	if path != "" {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return conf, errors.Wrapf(errors.ErrInvalidInput, "read config %q: %s", path, err)
		}
		if err := yaml.Unmarshal(raw, &conf); err != nil {
			return conf, errors.Wrapf(errors.ErrInvalidInput, "parse config %q: %s", path, err)
		}
	}
	if key := os.Getenv(OperatorKeyEnv); key != "" {
		conf.Escrow.OperatorKey = key
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// Validate returns all problems found in the configuration.
func (c Config) Validate() error {
	var errs error
	if c.Ledger.Endpoint == "" {
		errs = errors.AppendField(errs, "Ledger.Endpoint", errors.ErrEmpty)
	}
	if c.Ledger.Network == "" {
		errs = errors.AppendField(errs, "Ledger.Network", errors.ErrEmpty)
	}
	if c.Ledger.AssetID == 0 {
		errs = errors.AppendField(errs, "Ledger.AssetID", errors.ErrEmpty)
	}
	if c.Ledger.AssetDecimals < 0 || c.Ledger.AssetDecimals > 19 {
		errs = errors.AppendField(errs, "Ledger.AssetDecimals", errors.ErrInvalidInput)
	}
	if c.Ledger.MaxConfirmRounds == 0 {
		errs = errors.AppendField(errs, "Ledger.MaxConfirmRounds", errors.ErrEmpty)
	}
	if c.Ledger.RateLimit < 0 {
		errs = errors.AppendField(errs, "Ledger.RateLimit", errors.ErrInvalidInput)
	}

	switch c.Escrow.Strategy {
	case "account-bound", "contract-bound":
	default:
		errs = errors.AppendField(errs, "Escrow.Strategy", errors.Wrapf(errors.ErrInvalidInput, "unknown strategy %q", c.Escrow.Strategy))
	}
	if c.Escrow.OperatorKey == "" {
		errs = errors.AppendField(errs, "Escrow.OperatorKey", errors.ErrEmpty)
	}
	if c.Escrow.MaxFee == 0 {
		errs = errors.AppendField(errs, "Escrow.MaxFee", errors.ErrEmpty)
	}
	if c.Escrow.ClaimTTL <= 0 {
		errs = errors.AppendField(errs, "Escrow.ClaimTTL", errors.ErrInvalidInput)
	}
	if c.Escrow.ResolveLease <= 0 {
		errs = errors.AppendField(errs, "Escrow.ResolveLease", errors.ErrInvalidInput)
	}
	if c.Escrow.MaxNoteSize < 0 {
		errs = errors.AppendField(errs, "Escrow.MaxNoteSize", errors.ErrInvalidInput)
	}

	switch c.Store.Driver {
	case "memory":
	case "iavl", "sqlite":
		if c.Store.Path == "" && c.Store.DSN == "" {
			errs = errors.AppendField(errs, "Store.Path", errors.ErrEmpty)
		}
	case "postgres", "redis":
		if c.Store.DSN == "" {
			errs = errors.AppendField(errs, "Store.DSN", errors.ErrEmpty)
		}
	default:
		errs = errors.AppendField(errs, "Store.Driver", errors.Wrapf(errors.ErrInvalidInput, "unknown driver %q", c.Store.Driver))
	}

	switch c.Notify.Driver {
	case "log":
	case "amqp":
		if c.Notify.URL == "" {
			errs = errors.AppendField(errs, "Notify.URL", errors.ErrEmpty)
		}
	default:
		errs = errors.AppendField(errs, "Notify.Driver", errors.Wrapf(errors.ErrInvalidInput, "unknown driver %q", c.Notify.Driver))
	}
	if c.Notify.QueueSize <= 0 {
		errs = errors.AppendField(errs, "Notify.QueueSize", errors.ErrInvalidInput)
	}

	switch c.Log.Level {
	case "debug", "info", "error", "none":
	default:
		errs = errors.AppendField(errs, "Log.Level", errors.Wrapf(errors.ErrInvalidInput, "unknown level %q", c.Log.Level))
	}
	return errs
}
