// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerTimeout bounds the identity registration done at startup.
const registerTimeout = 30 * time.Second

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletsyncdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// walletsyncdMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit. Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func walletsyncdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.MaxLogFiles > 0 {
		err := initLogRotator(
			filepath.Join(cfg.LogDir, defaultLogFilename),
			int64(cfg.MaxLogFileSize)*1024, cfg.MaxLogFiles,
		)
		if err != nil {
			return err
		}
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	log.Infof("Starting walletsyncd on %s", cfg.params.Name)

	seed, err := readSeed(cfg.SeedFile)
	if err != nil {
		return err
	}

	kc, err := keychain.NewHDKeychain(seed, cfg.params)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}

	store, err := wallet.OpenStore(cfg.DBBackend, cfg.storeTarget())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBBackend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Unable to close store: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineCfg, err := buildEngineConfig(cfg, kc, store, reg)
	if err != nil {
		return err
	}

	w, err := wallet.New(engineCfg)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start wallet: %w", err)
	}
	addInterruptHandler(func() {
		cancel()
		if err := w.Stop(); err != nil {
			log.Errorf("Unable to stop wallet: %v", err)
		}
	})

	sub, err := w.Subscribe()
	if err != nil {
		return err
	}
	go logSignals(sub)

	if cfg.MetricsListen != "" {
		srv := startMetricsServer(cfg.MetricsListen, reg)
		addInterruptHandler(func() {
			if err := srv.Close(); err != nil {
				log.Errorf("Unable to stop metrics server: %v", err)
			}
		})
	}

	w.RequestSync(wallet.SyncIncremental)

	<-interruptHandlersDone
	log.Info("Shutdown complete")

	return nil
}

// buildEngineConfig assembles the remote collaborators of the engine.
func buildEngineConfig(cfg *config, kc keychain.Keychain,
	store wallet.Store, reg prometheus.Registerer) (wallet.Config, error) {

	engineCfg := wallet.DefaultConfig()
	engineCfg.Store = store
	engineCfg.Keychain = kc
	engineCfg.ChainParams = cfg.params
	engineCfg.GapLimit = cfg.GapLimit
	engineCfg.SyncInterval = cfg.SyncInterval
	engineCfg.ServerPoolSize = cfg.ServerPoolSize
	engineCfg.UncheckedGraceWindow = cfg.UncheckedGrace
	engineCfg.Recovery = logRecovery{}
	engineCfg.Registerer = reg

	idx, err := indexer.NewClient(&indexer.Config{
		Config: cfg.restConfig(cfg.IndexerURL),
	})
	if err != nil {
		return engineCfg, err
	}
	engineCfg.Indexer = idx

	if cfg.EsploraURL != "" {
		esplora, err := indexer.NewEsploraSource(
			cfg.restConfig(cfg.EsploraURL),
		)
		if err != nil {
			return engineCfg, err
		}
		engineCfg.Secondary = esplora
	}

	if cfg.IntroductionURL == "" {
		log.Infof("No introduction service configured, invitations " +
			"are disabled")

		return engineCfg, nil
	}

	pubKey, sign, err := wallet.IdentityKey(kc)
	if err != nil {
		return engineCfg, fmt.Errorf("derive identity key: %w", err)
	}

	introCfg := cfg.restConfig(cfg.IntroductionURL)
	introCfg.Auth = introduction.NewSignatureAuth(
		pubKey, sign, clock.NewDefaultClock(),
	)
	intro, err := introduction.NewClient(&introduction.Config{
		Config: introCfg,
	})
	if err != nil {
		return engineCfg, err
	}
	engineCfg.Introducer = intro

	// The engine registers again on demand, so a failure here is not
	// fatal.
	ctx, cancel := context.WithTimeout(
		context.Background(), registerTimeout,
	)
	defer cancel()

	if _, err := intro.RegisterWallet(ctx, pubKey); err != nil {
		log.Warnf("Unable to register wallet identity: %v", err)
	}

	return engineCfg, nil
}

// startMetricsServer serves the registry on listen.
func startMetricsServer(listen string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Prometheus exporter started on %v/metrics", listen)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	return srv
}

// logSignals logs the engine signals until the subscription ends.
func logSignals(sub *wallet.Subscription) {
	for {
		select {
		case update := <-sub.Updates():
			switch s := update.(type) {
			case wallet.SyncStarted:
				log.Debugf("Sync started (%v)", s.Type)

			case wallet.SyncFinished:
				if s.Err != nil {
					log.Warnf("Sync %v failed: %v", s.Type,
						s.Err)

					continue
				}
				log.Infof("Sync %v finished", s.Type)

			case wallet.BalanceChanged:
				log.Infof("Balance changed: spendable=%v "+
					"pending_in=%v pending_out=%v",
					s.Balance.Spendable,
					s.Balance.PendingIncoming,
					s.Balance.PendingOutgoing)

			case wallet.InvitationStatusChanged:
				log.Infof("Invitation %s (%v) is now %v", s.ID,
					s.Side, s.Status)
			}

		case <-sub.Quit():
			return
		}
	}
}

// logRecovery reports authorization failures that need the user.
type logRecovery struct{}

// VerificationRequired logs the failure so the operator can act on it.
func (logRecovery) VerificationRequired(_ context.Context, err error) {
	log.Warnf("Identity verification required: %v", err)
}
