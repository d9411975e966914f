package main

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/claims"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/ledger/rpcledger"
	"github.com/iov-one/claimsend/ledger/simnet"
	"github.com/iov-one/claimsend/notify"
	"github.com/iov-one/claimsend/policy"
	"github.com/iov-one/claimsend/records"
	"github.com/iov-one/claimsend/store"
	"github.com/iov-one/claimsend/store/iavl"
)

// env returns the value of an environment variable if provided (even if empty)
// or a fallback value.
func env(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// configEnv names the configuration file used when -config is not given.
const configEnv = "CLAIMSEND_CONFIG"

// simSupply is the amount of the asset minted on the simulated ledger.
const simSupply claimsend.Amount = 1000000000000000

// service is everything a command needs, wired from the configuration.
type service struct {
	conf     claimsend.Config
	logger   log.Logger
	client   ledger.Client
	operator *ledger.KeySigner
	manager  *claims.Manager
	// strategies holds every strategy the manager knows.
	strategies policy.Registry
	// sim is set when the configuration asks for the in-process ledger.
	sim *simnet.Ledger

	dispatcher *notify.Dispatcher
	dispatched chan error
	closers    []func() error
}

// loadService reads the configuration file and wires the service. Close
// must be called to flush queued notifications.
func loadService(ctx context.Context, confPath string) (*service, error) {
	conf, err := claimsend.LoadConfig(confPath)
	if err != nil {
		return nil, err
	}
	return newService(ctx, conf, stderr)
}

func newLogger(w io.Writer, level string) (log.Logger, error) {
	logger := log.NewTMLogger(log.NewSyncWriter(w))
	allow, err := log.AllowLevel(level)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	return log.NewFilter(logger, allow), nil
}

func newService(ctx context.Context, conf claimsend.Config, logw io.Writer) (_ *service, err error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(logw, conf.Log.Level)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(conf.Escrow.OperatorKey)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "operator key is not hex encoded")
	}
	operator, err := ledger.NewKeySigner(seed)
	if err != nil {
		return nil, errors.Wrap(err, "operator key")
	}
	rt, err := policy.NewRuntime()
	if err != nil {
		return nil, err
	}

	s := &service{
		conf:     conf,
		logger:   logger,
		operator: operator,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if conf.Ledger.Endpoint == "sim" {
		params := simnet.DefaultParams()
		params.Network = conf.Ledger.Network
		sim := simnet.New(rt, simnet.WithParams(params), simnet.WithLogger(logger))
		sim.Fund(operator.Address(), 1000000000)
		if id := sim.CreateAsset(operator.Address(), simSupply); id != conf.Ledger.AssetID {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "simulated ledger mints asset %d only", id)
		}
		s.sim = sim
		s.client = sim
	} else {
		s.client = rpcledger.NewClient(conf.Ledger.Endpoint,
			rpcledger.WithLogger(logger),
			rpcledger.WithTimeout(conf.Ledger.RequestTimeout),
			rpcledger.WithPollInterval(conf.Ledger.PollInterval),
			rpcledger.WithRateLimit(conf.Ledger.RateLimit, conf.Ledger.Burst))
	}

	db, err := s.openStore(ctx, conf.Store)
	if err != nil {
		return nil, err
	}
	notifier, err := s.openNotifier(conf.Notify)
	if err != nil {
		return nil, err
	}
	s.dispatcher = notify.NewDispatcher(notifier, logger, conf.Notify.RatePerSecond, conf.Notify.QueueSize)
	s.dispatched = make(chan error, 1)
	go func() { s.dispatched <- s.dispatcher.Run(context.Background()) }()

	maxFee := claimsend.Amount(conf.Escrow.MaxFee)
	accountBound, err := policy.NewAccountBound(rt, conf.Ledger.AssetID, maxFee, seed)
	if err != nil {
		return nil, err
	}
	contractBound, err := policy.NewContractBound(rt, conf.Ledger.AssetID, maxFee, operator)
	if err != nil {
		return nil, err
	}
	s.strategies = policy.NewRegistry(accountBound, contractBound)
	s.manager, err = claims.NewManager(claims.Config{
		AssetID:          conf.Ledger.AssetID,
		Strategy:         policy.Tag(conf.Escrow.Strategy),
		ClaimTTL:         conf.Escrow.ClaimTTL,
		ResolveLease:     conf.Escrow.ResolveLease,
		ClaimURL:         conf.Escrow.ClaimURL,
		MaxNoteSize:      conf.Escrow.MaxNoteSize,
		MaxConfirmRounds: conf.Ledger.MaxConfirmRounds,
	},
		db,
		s.strategies,
		s.client,
		claims.WithLogger(logger),
		claims.WithNotifier(s.dispatcher))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) openStore(ctx context.Context, conf claimsend.StoreConfig) (records.Store, error) {
	location := conf.Path
	if location == "" {
		location = conf.DSN
	}
	switch conf.Driver {
	case "memory":
		return records.NewKVStore(store.MemStore()), nil
	case "iavl":
		db, err := iavl.NewCommitStore(location, "records")
		if err != nil {
			return nil, err
		}
		return records.NewKVStore(db), nil
	case "sqlite":
		db, err := records.OpenSQLStore(ctx, records.DialectSQLite, location)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return db, nil
	case "postgres":
		db, err := records.OpenSQLStore(ctx, records.DialectPostgres, conf.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return db, nil
	case "redis":
		db, err := records.OpenRedisStore(ctx, conf.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return db, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown store driver %q", conf.Driver)
	}
}

func (s *service) openNotifier(conf claimsend.NotifyConfig) (notify.Notifier, error) {
	switch conf.Driver {
	case "log":
		return notify.NewLogNotifier(s.logger), nil
	case "amqp":
		pub, err := notify.DialAMQP(conf.URL, conf.Exchange, conf.RoutingKey)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pub.Close)
		return pub, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown notify driver %q", conf.Driver)
	}
}

// Close delivers queued notifications and releases every connection.
func (s *service) Close() error {
	if s.dispatcher != nil {
		s.dispatcher.Close()
		<-s.dispatched
		s.dispatcher = nil
	}
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = errors.Append(errs, s.closers[i]())
	}
	s.closers = nil
	return errs
}

// amount parses a display amount of the configured asset.
func (s *service) amount(raw string) (claimsend.Amount, error) {
	return claimsend.ParseAmount(raw, s.conf.Ledger.AssetDecimals)
}

// display renders an amount of the configured asset.
func (s *service) display(a claimsend.Amount) string {
	return a.Format(s.conf.Ledger.AssetDecimals)
}
