// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coinkit/walletsync/internal/rest"
	"github.com/coinkit/walletsync/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "walletsyncd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "walletsyncd.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultDBBackend      = wallet.BackendSQLite
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRateLimit      = 10
	defaultRateBurst      = 5
)

var (
	walletsyncdHomeDir = btcutil.AppDataDir("walletsyncd", false)
	defaultConfigFile  = filepath.Join(
		walletsyncdHomeDir, defaultConfigFilename,
	)
	defaultDataDir = walletsyncdHomeDir
	defaultLogDir  = filepath.Join(walletsyncdHomeDir, defaultLogDirname)
)

// config defines the configuration options for walletsyncd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ConfigFile     string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string `short:"b" long:"datadir" description:"Directory to store the wallet ledger"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network selection.
	TestNet3 bool `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`
	SigNet   bool `long:"signet" description:"Use the signet test network"`

	// Ledger storage.
	DBBackend   string `long:"dbbackend" description:"Ledger database backend {sqlite, postgres}"`
	PostgresDSN string `long:"postgres.dsn" default-mask:"-" description:"PostgreSQL connection string, required for the postgres backend"`

	// Wallet key material.
	SeedFile string `long:"seedfile" description:"File holding the hex encoded wallet seed -- prompted for when unset"`

	// Remote services.
	IndexerURL      string        `long:"indexer" description:"Base URL of the blockchain indexer"`
	IntroductionURL string        `long:"introduction" description:"Base URL of the introduction service -- invitations are disabled when unset"`
	EsploraURL      string        `long:"esplora" description:"Base URL of an esplora API used to double check vanished broadcasts"`
	Proxy           string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	RequestTimeout  time.Duration `long:"requesttimeout" description:"Timeout of every remote request"`
	MaxRetries      int           `long:"maxretries" description:"Retries of an idempotent request after a transport failure"`
	RateLimit       float64       `long:"ratelimit" description:"Sustained remote requests per second and service (0 to disable)"`

	// Engine tunables.
	GapLimit       uint32        `long:"gaplimit" description:"Number of unused addresses scanned ahead of the last used one"`
	SyncInterval   time.Duration `long:"syncinterval" description:"Interval of incremental sync passes"`
	ServerPoolSize int           `long:"serverpoolsize" description:"Addresses kept registered with the introduction service"`
	UncheckedGrace time.Duration `long:"uncheckedgracewindow" description:"How long a vanished broadcast is kept before it is presumed failed when --esplora is unset"`

	// Metrics.
	MetricsListen string `long:"metricslisten" description:"Listen for Prometheus scrapes on this interface/port -- disabled when unset"`

	params *chaincfg.Params
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(walletsyncdHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// defaultConfig returns a config with every option at its default.
func defaultConfig() config {
	engine := wallet.DefaultConfig()

	return config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
		DBBackend:      defaultDBBackend,
		RequestTimeout: defaultRequestTimeout,
		MaxRetries:     defaultMaxRetries,
		RateLimit:      defaultRateLimit,
		GapLimit:       engine.GapLimit,
		SyncInterval:   engine.SyncInterval,
		ServerPoolSize: engine.ServerPoolSize,
		UncheckedGrace: engine.UncheckedGraceWindow,
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in walletsyncd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take
// precedence.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}

		return nil, err
	}

	// Show the available subsystems when requested.
	if preCfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("error parsing config file: %w",
				err)
		}

		// A missing default config file is fine.
		if configFile != defaultConfigFile {
			return nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	return &cfg, cfg.validate()
}

// validate checks the parsed options and derives the dependent ones.
func (c *config) validate() error {
	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	c.params = &chaincfg.MainNetParams
	if c.TestNet3 {
		c.params = &chaincfg.TestNet3Params
		numNets++
	}
	if c.RegTest {
		c.params = &chaincfg.RegressionNetParams
		numNets++
	}
	if c.SigNet {
		c.params = &chaincfg.SigNetParams
		numNets++
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest and signet params " +
			"can't be used together -- choose one")
	}

	c.DataDir = filepath.Join(cleanAndExpandPath(c.DataDir), c.params.Name)
	c.LogDir = filepath.Join(cleanAndExpandPath(c.LogDir), c.params.Name)
	c.SeedFile = cleanAndExpandPath(c.SeedFile)

	switch c.DBBackend {
	case wallet.BackendSQLite:

	case wallet.BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("--postgres.dsn is required for the " +
				"postgres backend")
		}

	default:
		return fmt.Errorf("unknown database backend %q", c.DBBackend)
	}

	if c.IndexerURL == "" {
		return errors.New("--indexer is required")
	}
	if c.GapLimit == 0 {
		return errors.New("--gaplimit must be positive")
	}

	return nil
}

// storeTarget returns the data directory or DSN of the selected backend.
func (c *config) storeTarget() string {
	if c.DBBackend == wallet.BackendPostgres {
		return c.PostgresDSN
	}

	return c.DataDir
}

// restConfig returns the transport configuration of a service at url.
func (c *config) restConfig(url string) rest.Config {
	return rest.Config{
		URL:            url,
		RequestTimeout: c.RequestTimeout,
		MaxRetries:     c.MaxRetries,
		RateLimit:      c.RateLimit,
		Burst:          defaultRateBurst,
		Proxy:          c.Proxy,
		UserAgent:      "walletsyncd",
	}
}
