// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStateStoppedByDefault verifies that the zero-value of walletState
// refuses work.
func TestStateStoppedByDefault(t *testing.T) {
	t.Parallel()

	// Arrange: Create a new state in Stopped (default) mode.
	s := newWalletState(newSyncer(nil, nil, nil))

	// Act & Assert: Verify initial state.
	require.False(t, s.isStarted())
	require.ErrorIs(t, s.validateStarted(), ErrStateForbidden)

	// Act: Transition to Starting.
	err := s.toStarting()
	require.NoError(t, err)

	// Starting does not accept work yet.
	require.False(t, s.isStarted())

	// Act: Transition to Started.
	s.toStarted()
	require.True(t, s.isStarted())
	require.NoError(t, s.validateStarted())

	// Act: Transition to Stopping.
	err = s.toStopping()
	require.NoError(t, err)
	require.False(t, s.isStarted())

	// Act: Transition to Stopped.
	s.toStopped()

	// Assert: Invalid transition (Stop when already Stopped).
	err = s.toStopping()
	require.ErrorIs(t, err, ErrStateForbidden)
}

// TestStateLifecycleTransitions verifies which lifecycle states may start.
func TestStateLifecycleTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		lifecycle lifecycle
		canStart  bool
	}{
		{
			name:      "stopped can start",
			lifecycle: lifecycleStopped,
			canStart:  true,
		},
		{
			name:      "starting cannot start",
			lifecycle: lifecycleStarting,
		},
		{
			name:      "started cannot start",
			lifecycle: lifecycleStarted,
		},
		{
			name:      "stopping cannot start",
			lifecycle: lifecycleStopping,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Setup state.
			state := newWalletState(newSyncer(nil, nil, nil))
			state.lifecycle.Store(uint32(tc.lifecycle))

			// Act.
			err := state.toStarting()

			// Assert.
			if tc.canStart {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrWalletAlreadyStarted)
		})
	}
}

// TestStateThreadSafety verifies that state transitions are safe under
// concurrent access and only one caller wins the start.
func TestStateThreadSafety(t *testing.T) {
	t.Parallel()

	s := newWalletState(newSyncer(nil, nil, nil))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner int
	)

	start := make(chan struct{})

	for range 100 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start
			if s.toStarting() == nil {
				mu.Lock()
				winner++
				mu.Unlock()
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Equal(t, 1, winner)
}

// TestStateString verifies the summary string format.
func TestStateString(t *testing.T) {
	t.Parallel()

	// Arrange: A started engine whose syncer finished a pass.
	syncer := newSyncer(nil, nil, nil)
	syncer.setPhase(phaseDone)

	state := newWalletState(syncer)
	state.lifecycle.Store(uint32(lifecycleStarted))

	// Act & Assert.
	require.Equal(t, "status=started, sync=done", state.String())
	require.Equal(t, "unknown lifecycle state", lifecycle(42).String())
}
