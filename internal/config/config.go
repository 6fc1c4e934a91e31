package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/ports"
	inmemorycache "github.com/ark-network/dlc/internal/infrastructure/announcement-cache/inmemory"
	rediscache "github.com/ark-network/dlc/internal/infrastructure/announcement-cache/redis"
	"github.com/ark-network/dlc/internal/infrastructure/chain/esplora"
	"github.com/ark-network/dlc/internal/infrastructure/db"
	oracleclient "github.com/ark-network/dlc/internal/infrastructure/oracle"
	scheduler "github.com/ark-network/dlc/internal/infrastructure/scheduler/gocron"
	"github.com/ark-network/dlc/internal/infrastructure/signer"
	txbuilder "github.com/ark-network/dlc/internal/infrastructure/tx-builder"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedCaches = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedNetworks = map[string]*chaincfg.Params{
		"bitcoin": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
		"signet":  &chaincfg.SigNetParams,
	}
)

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int
	Network  string

	DbType      string
	EventDbType string
	DbDir       string
	CacheType   string
	RedisUrl    string
	EsploraURL  string

	Mnemonic         string `json:"-"`
	MnemonicPassword string `json:"-"`

	OracleRequestsPerSecond float64
	OracleTimeout           time.Duration

	MinFundingConfirmations int64
	RefundSafetyMargin      time.Duration
	FundingPollInterval     time.Duration
	ReconcileInterval       time.Duration
	PollInitialInterval     time.Duration
	PollMaxInterval         time.Duration

	repo      ports.RepoManager
	svc       application.Service
	signer    ports.Signer
	chain     ports.ChainClient
	cache     ports.AnnouncementCache
	oracle    ports.OracleClient
	txBuilder ports.TxBuilder
	scheduler ports.SchedulerService
	network   *chaincfg.Params
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir                 = "DATADIR"
	Port                    = "PORT"
	LogLevel                = "LOG_LEVEL"
	Network                 = "NETWORK"
	DbType                  = "DB_TYPE"
	EventDbType             = "EVENT_DB_TYPE"
	CacheType               = "CACHE_TYPE"
	RedisUrl                = "REDIS_URL"
	EsploraURL              = "ESPLORA_URL"
	Mnemonic                = "MNEMONIC"
	MnemonicFile            = "MNEMONIC_FILE"
	MnemonicPassword        = "MNEMONIC_PASSWORD"
	OracleRequestsPerSecond = "ORACLE_REQUESTS_PER_SECOND"
	OracleTimeout           = "ORACLE_TIMEOUT"
	MinFundingConfirmations = "MIN_FUNDING_CONFIRMATIONS"
	RefundSafetyMargin      = "REFUND_SAFETY_MARGIN"
	FundingPollInterval     = "FUNDING_POLL_INTERVAL"
	ReconcileInterval       = "RECONCILE_INTERVAL"
	PollInitialInterval     = "POLL_INITIAL_INTERVAL"
	PollMaxInterval         = "POLL_MAX_INTERVAL"

	defaultDatadir                 = btcutil.AppDataDir("dlcd", false)
	DefaultPort                    = 7071
	defaultLogLevel                = 4
	defaultNetwork                 = "bitcoin"
	defaultDbType                  = "badger"
	defaultEventDbType             = "badger"
	defaultCacheType               = "inmemory"
	defaultEsploraURL              = "https://blockstream.info/api"
	defaultOracleRequestsPerSecond = 5
	defaultOracleTimeout           = 15 * time.Second
	defaultMinFundingConfirmations = 1
	defaultRefundSafetyMargin      = time.Hour
	defaultFundingPollInterval     = time.Minute
	defaultReconcileInterval       = 10 * time.Minute
	defaultPollInitialInterval     = 5 * time.Second
	defaultPollMaxInterval         = 10 * time.Minute
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("DLC")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, DefaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(EventDbType, defaultEventDbType)
	viper.SetDefault(CacheType, defaultCacheType)
	viper.SetDefault(EsploraURL, defaultEsploraURL)
	viper.SetDefault(OracleRequestsPerSecond, defaultOracleRequestsPerSecond)
	viper.SetDefault(OracleTimeout, defaultOracleTimeout)
	viper.SetDefault(MinFundingConfirmations, defaultMinFundingConfirmations)
	viper.SetDefault(RefundSafetyMargin, defaultRefundSafetyMargin)
	viper.SetDefault(FundingPollInterval, defaultFundingPollInterval)
	viper.SetDefault(ReconcileInterval, defaultReconcileInterval)
	viper.SetDefault(PollInitialInterval, defaultPollInitialInterval)
	viper.SetDefault(PollMaxInterval, defaultPollMaxInterval)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	mnemonic, err := readMnemonic()
	if err != nil {
		return nil, err
	}

	return &Config{
		Datadir:                 viper.GetString(Datadir),
		Port:                    viper.GetUint32(Port),
		LogLevel:                viper.GetInt(LogLevel),
		Network:                 viper.GetString(Network),
		DbType:                  viper.GetString(DbType),
		EventDbType:             viper.GetString(EventDbType),
		DbDir:                   filepath.Join(viper.GetString(Datadir), "db"),
		CacheType:               viper.GetString(CacheType),
		RedisUrl:                viper.GetString(RedisUrl),
		EsploraURL:              viper.GetString(EsploraURL),
		Mnemonic:                mnemonic,
		MnemonicPassword:        viper.GetString(MnemonicPassword),
		OracleRequestsPerSecond: viper.GetFloat64(OracleRequestsPerSecond),
		OracleTimeout:           viper.GetDuration(OracleTimeout),
		MinFundingConfirmations: viper.GetInt64(MinFundingConfirmations),
		RefundSafetyMargin:      viper.GetDuration(RefundSafetyMargin),
		FundingPollInterval:     viper.GetDuration(FundingPollInterval),
		ReconcileInterval:       viper.GetDuration(ReconcileInterval),
		PollInitialInterval:     viper.GetDuration(PollInitialInterval),
		PollMaxInterval:         viper.GetDuration(PollMaxInterval),
	}, nil
}

// Validate checks the config and wires the infrastructure services.
func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedDbs.supports(c.EventDbType) {
		return fmt.Errorf("event db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedCaches.supports(c.CacheType) {
		return fmt.Errorf("cache type not supported, please select one of: %s", supportedCaches)
	}
	if c.CacheType == "redis" && len(c.RedisUrl) <= 0 {
		return fmt.Errorf("missing redis url")
	}
	network, ok := supportedNetworks[c.Network]
	if !ok {
		return fmt.Errorf("invalid network: %s", c.Network)
	}
	c.network = network
	if len(c.EsploraURL) <= 0 {
		return fmt.Errorf("missing esplora url")
	}
	if len(c.Mnemonic) <= 0 {
		return fmt.Errorf("missing mnemonic")
	}
	if c.MinFundingConfirmations < 1 {
		return fmt.Errorf("min funding confirmations must be at least 1")
	}
	if c.OracleRequestsPerSecond <= 0 {
		return fmt.Errorf("oracle requests per second must be positive")
	}
	if c.PollInitialInterval > c.PollMaxInterval {
		return fmt.Errorf("poll initial interval must not exceed poll max interval")
	}

	if err := c.signerService(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.cacheService(); err != nil {
		return err
	}
	if err := c.oracleService(); err != nil {
		return err
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	c.txBuilder = txbuilder.NewTxBuilder()
	c.scheduler = scheduler.NewScheduler()
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) OracleClient() ports.OracleClient {
	return c.oracle
}

func (c *Config) AnnouncementCache() ports.AnnouncementCache {
	return c.cache
}

func (c *Config) NetworkParams() *chaincfg.Params {
	return c.network
}

func (c *Config) signerService() error {
	svc, err := signer.NewSigner(c.Mnemonic, c.MnemonicPassword, c.network)
	if err != nil {
		return err
	}
	c.signer = svc
	return nil
}

func (c *Config) chainService() error {
	svc, err := esplora.NewService(c.EsploraURL)
	if err != nil {
		return err
	}
	c.chain = svc
	return nil
}

func (c *Config) cacheService() error {
	var svc ports.AnnouncementCache
	var err error
	switch c.CacheType {
	case "inmemory":
		svc = inmemorycache.NewAnnouncementCache()
	case "redis":
		svc, err = rediscache.NewAnnouncementCache(c.RedisUrl)
	default:
		err = fmt.Errorf("unknown cache type")
	}
	if err != nil {
		return err
	}
	c.cache = svc
	return nil
}

func (c *Config) oracleService() error {
	if c.cache == nil {
		return fmt.Errorf("announcement cache not set")
	}
	svc, err := oracleclient.NewClient(oracleclient.Config{
		RequestsPerSecond: c.OracleRequestsPerSecond,
		Timeout:           c.OracleTimeout,
	}, c.cache)
	if err != nil {
		return err
	}
	c.oracle = svc
	return nil
}

func (c *Config) repoManager() error {
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "badger":
		eventStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		eventStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}
	c.repo = svc
	return nil
}

func (c *Config) appService() error {
	if c.repo == nil {
		return fmt.Errorf("config not validated")
	}
	svc, err := application.NewService(
		application.Config{
			MinFundingConfirmations: c.MinFundingConfirmations,
			RefundSafetyMargin:      c.RefundSafetyMargin,
			FundingPollInterval:     c.FundingPollInterval,
			ReconcileInterval:       c.ReconcileInterval,
			PollInitialInterval:     c.PollInitialInterval,
			PollMaxInterval:         c.PollMaxInterval,
		},
		c.signer, c.chain, c.oracle, c.txBuilder, c.scheduler, c.repo,
	)
	if err != nil {
		return err
	}
	c.svc = svc
	return nil
}

// readMnemonic prefers the mnemonic env var over the mnemonic file.
func readMnemonic() (string, error) {
	if mnemonic := viper.GetString(Mnemonic); len(mnemonic) > 0 {
		return mnemonic, nil
	}
	path := viper.GetString(MnemonicFile)
	if len(path) <= 0 {
		return "", nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read mnemonic file: %s", err)
	}
	return strings.TrimSpace(string(buf)), nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
