// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
)

// OperationKind tags the work a scheduled operation performs.
type OperationKind uint8

const (
	// OpSyncWallet runs a sync pass. Its parameter is the SyncType.
	OpSyncWallet OperationKind = iota

	// OpDeleteWallet wipes every local record.
	OpDeleteWallet

	// OpReconcileInvitations runs invitation reconciliation without a
	// sync pass.
	OpReconcileInvitations
)

// String returns the string representation of an OperationKind.
func (k OperationKind) String() string {
	switch k {
	case OpSyncWallet:
		return "sync-wallet"

	case OpDeleteWallet:
		return "delete-wallet"

	case OpReconcileInvitations:
		return "reconcile-invitations"

	default:
		return "unknown operation"
	}
}

// Policy decides whether an operation is admitted to the queue.
type Policy uint8

const (
	// PolicyAlways admits the operation unconditionally.
	PolicyAlways Policy = iota

	// PolicySkipIfSimilar drops the operation when one of the same kind
	// is queued or running, whatever its parameter.
	PolicySkipIfSimilar

	// PolicySkipIfSpecific drops the operation when one with the same
	// kind and parameter is queued or running.
	PolicySkipIfSpecific
)

// String returns the string representation of a Policy.
func (p Policy) String() string {
	switch p {
	case PolicyAlways:
		return "always"

	case PolicySkipIfSimilar:
		return "skip-if-similar"

	case PolicySkipIfSpecific:
		return "skip-if-specific"

	default:
		return "unknown policy"
	}
}

// Operation is a unit of work run by the scheduler.
type Operation struct {
	Kind  OperationKind
	Param string

	run  func(context.Context) error
	done chan struct{}
	err  error
}

// newOperation creates an operation that executes run.
func newOperation(kind OperationKind, param string,
	run func(context.Context) error) *Operation {

	return &Operation{
		Kind:  kind,
		Param: param,
		run:   run,
		done:  make(chan struct{}),
	}
}

// String returns the kind and parameter of the operation.
func (o *Operation) String() string {
	if o.Param == "" {
		return o.Kind.String()
	}

	return fmt.Sprintf("%v(%s)", o.Kind, o.Param)
}

// Done is closed once the operation finished or was abandoned.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation finished and returns its result.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the result and releases waiters.
func (o *Operation) finish(err error) {
	o.err = err
	close(o.done)
}

// similar reports whether o matches other under policy.
func (o *Operation) similar(other *Operation, policy Policy) bool {
	switch policy {
	case PolicySkipIfSimilar:
		return o.Kind == other.Kind

	case PolicySkipIfSpecific:
		return o.Kind == other.Kind && o.Param == other.Param

	default:
		return false
	}
}

// scheduler runs queued operations one at a time. A recurring timer calls
// onTick so the owner can enqueue periodic work.
type scheduler struct {
	inhibitor SuspendInhibitor
	ticker    ticker.Ticker
	onTick    func()
	metrics   *engineMetrics

	mu      sync.Mutex
	queue   []*Operation
	running *Operation
	stopped bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

func newScheduler(inhibitor SuspendInhibitor, t ticker.Ticker,
	onTick func(), metrics *engineMetrics) *scheduler {

	return &scheduler{
		inhibitor: inhibitor,
		ticker:    t,
		onTick:    onTick,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
}

// start launches the worker. Operations run with a context derived from ctx
// that is never canceled, an admitted operation always runs to completion.
func (s *scheduler) start(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)

	s.ticker.Resume()

	s.wg.Add(1)
	go s.worker(runCtx)
}

// stop refuses further admission, abandons queued operations and waits for
// the running one to finish.
func (s *scheduler) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	abandoned := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, op := range abandoned {
		op.finish(ErrSchedulerStopped)
	}

	s.ticker.Stop()
	close(s.quit)
	s.wg.Wait()
}

// enqueue admits op under policy. When op is dropped because a matching
// operation is queued or running, that operation is returned instead so the
// caller can wait on it. The second result reports whether op itself was
// admitted.
func (s *scheduler) enqueue(op *Operation, policy Policy) (*Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		op.finish(ErrSchedulerStopped)
		return op, false
	}

	if policy != PolicyAlways {
		if s.running != nil && op.similar(s.running, policy) {
			log.Debugf("Skipping %v, %v is running", op, s.running)
			s.metrics.observeRejected(op.Kind)

			return s.running, false
		}

		for _, queued := range s.queue {
			if op.similar(queued, policy) {
				log.Debugf("Skipping %v, %v is queued", op,
					queued)
				s.metrics.observeRejected(op.Kind)

				return queued, false
			}
		}
	}

	s.queue = append(s.queue, op)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return op, true
}

// pending returns the number of queued operations plus the running one.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	if s.running != nil {
		n++
	}

	return n
}

// next pops the head of the queue and marks it running.
func (s *scheduler) next() *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || len(s.queue) == 0 {
		return nil
	}

	op := s.queue[0]
	s.queue = s.queue[1:]
	s.running = op

	return op
}

// worker runs operations until the scheduler stops.
//
// NOTE: MUST be run as a goroutine.
func (s *scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		if op := s.next(); op != nil {
			s.execute(ctx, op)
			continue
		}

		select {
		case <-s.wake:

		case <-s.ticker.Ticks():
			s.onTick()

		case <-s.quit:
			return
		}
	}
}

// execute runs op while holding a suspend inhibitor token. The token is
// released on every exit path.
func (s *scheduler) execute(ctx context.Context, op *Operation) {
	var err error

	defer func() {
		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()

		op.finish(err)
	}()

	release := s.inhibitor.Acquire(op.String())
	defer release()

	log.Debugf("Running %v", op)

	err = op.run(ctx)
	if err != nil {
		log.Errorf("Operation %v failed: %v", op, err)
	}
}
