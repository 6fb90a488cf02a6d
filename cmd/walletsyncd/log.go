// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/internal/rest"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/txmeta"
	"github.com/coinkit/walletsync/wallet"
	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotatorPipe != nil {
		logRotatorPipe.Write(p)
	}

	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it will write to the backend. When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	// logRotatorPipe is the write-end pipe for writing to the log
	// rotator. It is written to by the Write method of the logWriter
	// type.
	logRotatorPipe *io.PipeWriter

	log      = backendLog.Logger("WSYD")
	wllLog   = backendLog.Logger("WLLT")
	kchnLog  = backendLog.Logger("KCHN")
	indxLog  = backendLog.Logger("INDX")
	intrLog  = backendLog.Logger("INTR")
	wsdbLog  = backendLog.Logger("WSDB")
	restLog  = backendLog.Logger("REST")
	txmetLog = backendLog.Logger("TXMT")
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(wllLog)
	wallet.UseStoreLogger(wsdbLog)
	keychain.UseLogger(kchnLog)
	indexer.UseLogger(indxLog)
	introduction.UseLogger(intrLog)
	rest.UseLogger(restLog)
	txmeta.UseLogger(txmetLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"WSYD": log,
	"WLLT": wllLog,
	"KCHN": kchnLog,
	"INDX": indxLog,
	"INTR": intrLog,
	"WSDB": wsdbLog,
	"REST": restLog,
	"TXMT": txmetLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. Rolled files are compressed
// with zstd. It must be called before the package-global log rotator
// variables are used.
func initLogRotator(logFile string, maxSizeKB int64, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, maxSizeKB, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd compressor: %w", err)
	}
	r.SetCompressor(compressor, ".zst")

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run file rotator: %v\n",
				err)
		}
	}()

	logRotator = r
	logRotatorPipe = pw

	return nil
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid. The level is either a single global level or a comma separated
// list of subsystem=level pairs.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}
