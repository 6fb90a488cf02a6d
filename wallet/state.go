// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStateForbidden is returned when an operation cannot be performed
	// in the current lifecycle state of the wallet.
	ErrStateForbidden = errors.New("operation forbidden in current state")

	// ErrWalletAlreadyStarted is returned when Start is called on a
	// running wallet.
	ErrWalletAlreadyStarted = errors.New("wallet already started")
)

// lifecycle represents the lifecycle state of the engine.
type lifecycle uint32

const (
	// lifecycleStopped indicates the engine is stopped.
	lifecycleStopped lifecycle = iota

	// lifecycleStarting indicates the engine is starting up.
	lifecycleStarting

	// lifecycleStarted indicates the engine is started.
	lifecycleStarted

	// lifecycleStopping indicates the engine is currently stopping.
	lifecycleStopping
)

// String returns the string representation of a lifecycle.
func (l lifecycle) String() string {
	switch l {
	case lifecycleStopped:
		return "stopped"

	case lifecycleStarting:
		return "starting"

	case lifecycleStarted:
		return "started"

	case lifecycleStopping:
		return "stopping"

	default:
		return "unknown lifecycle state"
	}
}

// walletState is a thread-safe view of the engine's condition along two
// independent dimensions: the lifecycle, owned by Start and Stop, and the
// phase of the current sync pass, owned by the syncer.
type walletState struct {
	// lifecycle tracks the start/stop state of the engine.
	lifecycle atomic.Uint32

	// syncer is read for the current pass phase. It exclusively writes
	// that phase.
	syncer *syncer
}

func newWalletState(s *syncer) *walletState {
	return &walletState{syncer: s}
}

// String returns a summary of the engine's state.
func (s *walletState) String() string {
	return fmt.Sprintf("status=%v, sync=%v",
		lifecycle(s.lifecycle.Load()), s.syncer.currentPhase())
}

// toStarting transitions the lifecycle from Stopped to Starting.
func (s *walletState) toStarting() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStopped), uint32(lifecycleStarting)) {

		return fmt.Errorf("%w: current state is %v",
			ErrWalletAlreadyStarted, lifecycle(s.lifecycle.Load()))
	}

	return nil
}

// toStarted marks the engine as fully started.
func (s *walletState) toStarted() {
	s.lifecycle.Store(uint32(lifecycleStarted))
}

// toStopping transitions the lifecycle from Started to Stopping.
func (s *walletState) toStopping() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStarted), uint32(lifecycleStopping)) {

		return ErrStateForbidden
	}

	return nil
}

// toStopped marks the engine as fully stopped.
func (s *walletState) toStopped() {
	s.lifecycle.Store(uint32(lifecycleStopped))
}

// isStarted reports whether the engine accepts work.
func (s *walletState) isStarted() bool {
	return lifecycle(s.lifecycle.Load()) == lifecycleStarted
}

// validateStarted returns ErrStateForbidden unless the engine is started.
func (s *walletState) validateStarted() error {
	if !s.isStarted() {
		return fmt.Errorf("%w: wallet is %v", ErrStateForbidden,
			lifecycle(s.lifecycle.Load()))
	}

	return nil
}
