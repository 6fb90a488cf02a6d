// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/txmeta"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// detailsBatchSize bounds the txids of one detail request.
const detailsBatchSize = 25

// SyncType selects how much of the address space a pass walks.
type SyncType uint8

const (
	// SyncIncremental walks the known address window, limited to
	// transactions newer than the look-back date.
	SyncIncremental SyncType = iota

	// SyncFull walks the whole address space from index 0.
	SyncFull
)

// String returns the string representation of a SyncType.
func (t SyncType) String() string {
	switch t {
	case SyncIncremental:
		return "incremental"

	case SyncFull:
		return "full"

	default:
		return "unknown sync type"
	}
}

// syncPhase is the step a pass is currently in.
type syncPhase uint32

const (
	phaseIdle syncPhase = iota
	phaseStart
	phaseSeekAddresses
	phaseFetchSummaries
	phaseFetchDetails
	phasePersist
	phaseReconcileFailures
	phaseUpdatePrices
	phaseDecryptMetadata
	phaseDone
	phaseFailed
)

// String returns the string representation of a syncPhase.
func (p syncPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"

	case phaseStart:
		return "start"

	case phaseSeekAddresses:
		return "seek-addresses"

	case phaseFetchSummaries:
		return "fetch-summaries"

	case phaseFetchDetails:
		return "fetch-details"

	case phasePersist:
		return "persist"

	case phaseReconcileFailures:
		return "reconcile-failures"

	case phaseUpdatePrices:
		return "update-prices"

	case phaseDecryptMetadata:
		return "decrypt-metadata"

	case phaseDone:
		return "done"

	case phaseFailed:
		return "failed"

	default:
		return "unknown sync phase"
	}
}

// syncer walks the wallet's address space against the indexer and merges
// what it finds into the store. Only the scheduler calls run, so at most one
// pass is in flight.
type syncer struct {
	cfg     *Config
	alloc   *addressAllocator
	metrics *engineMetrics

	phase atomic.Uint32
}

func newSyncer(cfg *Config, alloc *addressAllocator,
	metrics *engineMetrics) *syncer {

	return &syncer{cfg: cfg, alloc: alloc, metrics: metrics}
}

// currentPhase returns the phase of the running or last pass.
func (s *syncer) currentPhase() syncPhase {
	return syncPhase(s.phase.Load())
}

func (s *syncer) setPhase(p syncPhase) {
	old := syncPhase(s.phase.Swap(uint32(p)))
	log.Tracef("Sync phase %v -> %v", old, p)
}

// syncPass carries the state of one pass between phases.
type syncPass struct {
	syncType SyncType
	checkin  *indexer.Checkin
	state    db.SyncState
	minDate  fn.Option[time.Time]

	// poolMax is the highest receive index registered with the server
	// pool, -1 for none.
	poolMax int64

	// local are the unconfirmed non-failed records known before the
	// pass, and temps the temporary sent records.
	local []*db.TxRecord
	temps []*db.TemporarySent

	mu sync.Mutex

	// used maps every address the indexer reported activity for to its
	// derivation.
	used map[string]*keychain.MetaAddress

	// txids is the deduplicated set of transactions to fetch.
	txids map[string]struct{}

	// details is the authoritative set fetched by this pass.
	details map[string]*indexer.TxDetail
}

// run executes one pass and returns the type that actually ran. An
// incremental request without local history runs as a full pass.
func (s *syncer) run(ctx context.Context, syncType SyncType) (SyncType,
	error) {

	start := time.Now()

	pass, err := s.start(ctx, syncType)
	if err == nil {
		syncType = pass.syncType
		err = s.runPhases(ctx, pass)
	}

	s.metrics.observeSync(syncType, start, err)
	if err != nil {
		s.setPhase(phaseFailed)
		return syncType, fmt.Errorf("%v sync: %w", syncType, err)
	}

	s.setPhase(phaseDone)
	log.Infof("Finished %v sync in %v", syncType,
		time.Since(start).Round(time.Millisecond))

	return syncType, nil
}

func (s *syncer) runPhases(ctx context.Context, pass *syncPass) error {
	phases := []func(context.Context, *syncPass) error{
		s.seek,
		s.fetchSummaries,
		s.fetchDetails,
		s.persist,
		s.groom,
		s.updatePrices,
		s.decryptMetadata,
	}
	for _, phase := range phases {
		if err := phase(ctx, pass); err != nil {
			return err
		}
	}

	return nil
}

// start checks in with the indexer and loads the local view the pass works
// from.
func (s *syncer) start(ctx context.Context,
	syncType SyncType) (*syncPass, error) {

	s.setPhase(phaseStart)

	checkin, err := s.cfg.Indexer.Checkin(ctx)
	if err != nil {
		return nil, err
	}

	pass := &syncPass{
		syncType: syncType,
		checkin:  checkin,
		poolMax:  -1,
		used:     make(map[string]*keychain.MetaAddress),
		txids:    make(map[string]struct{}),
		details:  make(map[string]*indexer.TxDetail),
	}

	var (
		latest     time.Time
		hasHistory bool
	)
	err = s.cfg.Store.View(ctx, func(sess db.Session) error {
		if err := s.alloc.load(ctx, sess); err != nil {
			return err
		}

		var err error
		pass.state, err = sess.GetSyncState(ctx)
		if err != nil {
			return err
		}

		latest, hasHistory, err = sess.LatestTransactionTime(ctx)
		if err != nil {
			return err
		}

		pass.local, err = sess.ListTransactions(ctx, db.TxQuery{
			Unconfirmed: true,
		})
		if err != nil {
			return err
		}

		for _, ledger := range []db.LedgerType{
			db.LedgerOnChain, db.LedgerLightning,
		} {
			temps, err := sess.ListTemporarySent(ctx, ledger)
			if err != nil {
				return err
			}
			pass.temps = append(pass.temps, temps...)
		}

		entries, err := sess.ListPoolEntries(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			pass.poolMax = max(pass.poolMax, int64(entry.Index))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load local state: %w", err)
	}

	if pass.syncType == SyncIncremental && !hasHistory {
		log.Infof("No local history, running full sync")
		pass.syncType = SyncFull
	}
	if pass.syncType == SyncIncremental {
		pass.minDate = fn.Some(latest.Add(-s.cfg.IncrementalLookBack))
	}

	log.Debugf("Starting %v sync at height %d (receive=%d, change=%d, "+
		"pool=%d, pending=%d)", pass.syncType, checkin.BlockHeight,
		pass.state.LastReceiveIndex, pass.state.LastChangeIndex,
		pass.poolMax, len(pass.temps))

	return pass, nil
}

// target returns the highest index of a branch known to matter before the
// pass: the persisted high-water mark, or a higher registered pool address.
func (p *syncPass) target(branch uint32) int64 {
	if branch == keychain.InternalBranch {
		return p.state.LastChangeIndex
	}

	return max(p.state.LastReceiveIndex, p.poolMax)
}

// headBatches returns the start index of every gap-sized batch covering
// indices 0 through target.
func headBatches(target int64, gap uint32) []uint32 {
	var starts []uint32
	for start := int64(0); start <= target; start += int64(gap) {
		starts = append(starts, uint32(start))
	}

	return starts
}

// seek walks each branch forward from the first batch past its target until
// a batch without any activity. Batches with activity push the walk further.
func (s *syncer) seek(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseSeekAddresses)

	for _, branch := range []uint32{
		keychain.ExternalBranch, keychain.InternalBranch,
	} {
		starts := headBatches(pass.target(branch), s.cfg.GapLimit)
		start := uint32(len(starts)) * s.cfg.GapLimit

		for {
			active, err := s.fetchBatch(ctx, pass, branch, start)
			if err != nil {
				return err
			}
			if !active {
				break
			}

			start += s.cfg.GapLimit
		}

		log.Debugf("Seek of %s branch ended at index %d",
			branchName(branch), start+s.cfg.GapLimit-1)
	}

	return nil
}

// fetchSummaries queries every batch up to the targets with bounded
// concurrency. These batches are needed whatever they contain.
func (s *syncer) fetchSummaries(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseFetchSummaries)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, branch := range []uint32{
		keychain.ExternalBranch, keychain.InternalBranch,
	} {
		for _, start := range headBatches(
			pass.target(branch), s.cfg.GapLimit,
		) {
			g.Go(func() error {
				_, err := s.fetchBatch(gctx, pass, branch, start)
				return err
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Debugf("Found %d active addresses and %d transactions",
		len(pass.used), len(pass.txids))

	return nil
}

// fetchBatch queries the summaries of one gap-sized batch and records what
// it finds. It reports whether the batch had any activity.
func (s *syncer) fetchBatch(ctx context.Context, pass *syncPass, branch,
	start uint32) (bool, error) {

	batch := make(map[string]*keychain.MetaAddress, s.cfg.GapLimit)
	query := make([]string, 0, s.cfg.GapLimit)
	for i := start; i < start+s.cfg.GapLimit; i++ {
		addr, err := s.alloc.derive(branch, i)
		if err != nil {
			log.Warnf("Skipping %s index %d: %v", branchName(branch),
				i, err)
			continue
		}

		batch[addr.Address] = addr
		query = append(query, addr.Address)
	}

	summaries, err := s.cfg.Indexer.AddressSummaries(
		ctx, query, pass.minDate,
	)
	if err != nil {
		return false, err
	}

	pass.mu.Lock()
	defer pass.mu.Unlock()

	active := false
	for _, sum := range summaries {
		addr, ok := batch[sum.Address]
		if !ok {
			log.Warnf("Indexer returned unrequested address %s",
				sum.Address)
			continue
		}

		active = true
		pass.used[addr.Address] = addr
		pass.txids[sum.TxID] = struct{}{}
	}

	return active, nil
}

// fetchDetails fetches the detail of every reported transaction and of every
// local pending one.
func (s *syncer) fetchDetails(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseFetchDetails)

	for _, rec := range pass.local {
		pass.txids[rec.TxID] = struct{}{}
	}
	for _, temp := range pass.temps {
		pass.txids[temp.TxID] = struct{}{}
	}

	txids := slices.Sorted(maps.Keys(pass.txids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for chunk := range slices.Chunk(txids, detailsBatchSize) {
		g.Go(func() error {
			details, err := s.cfg.Indexer.TransactionDetails(
				gctx, chunk,
			)
			if err != nil {
				return err
			}

			pass.mu.Lock()
			defer pass.mu.Unlock()

			for i := range details {
				d := &details[i]
				if _, ok := pass.details[d.TxID]; ok {
					continue
				}
				pass.details[d.TxID] = d
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Debugf("Fetched %d of %d transaction details", len(pass.details),
		len(txids))

	return nil
}

// persist merges the fetched transactions and recomputes the high-water
// marks and gap indices in a single scope.
func (s *syncer) persist(ctx context.Context, pass *syncPass) error {
	s.setPhase(phasePersist)

	// The classification bound includes usage found by this pass.
	lastReceive := pass.state.LastReceiveIndex
	lastChange := pass.state.LastChangeIndex
	for _, addr := range pass.used {
		index := int64(addr.Path.Index)
		if addr.Path.IsChange() {
			lastChange = max(lastChange, index)
		} else {
			lastReceive = max(lastReceive, index)
		}
	}
	owned := s.alloc.ownedUpTo(lastReceive, lastChange)

	records := make([]*db.TxRecord, 0, len(pass.details))
	for _, txid := range slices.Sorted(maps.Keys(pass.details)) {
		rec := recordFromDetail(pass.details[txid], owned)
		if !isRelevant(rec) {
			log.Debugf("Ignoring transaction %s without wallet "+
				"inputs or outputs", txid)
			continue
		}
		records = append(records, rec)
	}

	var (
		last [2]int64
		gaps [2][]uint32
	)
	now := s.cfg.Clock.Now()
	err := s.cfg.Store.ExecTx(ctx, func(sess db.Session) error {
		for _, rec := range records {
			err := s.putOwnedAddresses(ctx, sess, rec, owned)
			if err != nil {
				return err
			}

			if err := sess.UpsertTransaction(ctx, rec); err != nil {
				return err
			}
		}

		for _, temp := range pass.temps {
			if _, ok := pass.details[temp.TxID]; !ok {
				continue
			}

			log.Debugf("Temporary transaction %s observed",
				temp.TxID)

			err := sess.DeleteTemporarySent(ctx, temp.TxID)
			if err != nil {
				return err
			}
		}

		state, err := sess.GetSyncState(ctx)
		if err != nil {
			return err
		}

		for _, branch := range []uint32{
			keychain.ExternalBranch, keychain.InternalBranch,
		} {
			used, err := sess.UsedIndices(ctx, branch)
			if err != nil {
				return err
			}

			last[branch] = state.LastIndex(branch)
			if n := len(used); n > 0 {
				last[branch] = max(last[branch], int64(used[n-1]))
			}

			gaps[branch] = gapIndices(used, last[branch])
			err = sess.ReplaceGapIndices(ctx, branch, gaps[branch])
			if err != nil {
				return err
			}
		}

		state.LastReceiveIndex = last[keychain.ExternalBranch]
		state.LastChangeIndex = last[keychain.InternalBranch]
		state.BlockHeight = pass.checkin.BlockHeight
		state.FeeFast = feeRate(pass.checkin.Fees.Fast)
		state.FeeMedium = feeRate(pass.checkin.Fees.Medium)
		state.FeeSlow = feeRate(pass.checkin.Fees.Slow)
		state.PriceCents = pass.checkin.PriceCents()
		state.LastSyncAt = now
		if pass.syncType == SyncFull {
			state.LastFullSyncAt = now
		}

		return sess.PutSyncState(ctx, state)
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	s.alloc.apply(
		last[keychain.ExternalBranch], last[keychain.InternalBranch],
		gaps,
	)

	log.Infof("Merged %d %s (last receive=%d, last change=%d)",
		len(records), pickNoun(len(records), "transaction",
			"transactions"), last[keychain.ExternalBranch],
		last[keychain.InternalBranch])

	return nil
}

// putOwnedAddresses records the addresses of rec the wallet owns.
func (s *syncer) putOwnedAddresses(ctx context.Context, sess db.Session,
	rec *db.TxRecord, owned ownedSet) error {

	var addrs []string
	for _, in := range rec.Inputs {
		if in.Owned {
			addrs = append(addrs, in.Address)
		}
	}
	for _, out := range rec.Outputs {
		if out.Owned {
			addrs = append(addrs, out.Address)
		}
	}

	for _, addr := range addrs {
		path := owned[addr]
		meta, err := s.alloc.derive(path.Change, path.Index)
		if err != nil {
			log.Warnf("Unable to record address %s: %v", addr, err)
			continue
		}

		err = sess.PutAddress(ctx, addressRecord(meta, s.cfg.Clock.Now))
		if err != nil {
			return err
		}
	}

	return nil
}

// isRelevant reports whether rec touches the wallet.
func isRelevant(rec *db.TxRecord) bool {
	if spendsOwned(rec) {
		return true
	}

	for _, out := range rec.Outputs {
		if out.Owned {
			return true
		}
	}

	return false
}

// gapIndices returns the indices at or below last that are not in the
// ascending used list.
func gapIndices(used []uint32, last int64) []uint32 {
	var gaps []uint32
	next := 0
	for i := int64(0); i <= last; i++ {
		if next < len(used) && int64(used[next]) == i {
			next++
			continue
		}
		gaps = append(gaps, uint32(i))
	}

	return gaps
}

// feeRate rounds a check-in fee estimate to whole sat/vB.
func feeRate(f float64) uint64 {
	if f <= 0 {
		return 0
	}

	return uint64(math.Ceil(f))
}

// groomCandidate is a local broadcast the indexer no longer reports.
type groomCandidate struct {
	txid         string
	invitationID string

	// missingFor is the time since the broadcast.
	missingFor time.Duration
}

// groom presumes failed every broadcast transaction missing from this pass
// for longer than the grace window, when the secondary source agrees it is
// gone. Without a secondary source the unchecked grace window applies. It
// then prunes failures older than the retention period. Only records absent
// from the just fetched set are ever touched.
func (s *syncer) groom(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseReconcileFailures)

	now := s.cfg.Clock.Now()
	candidates := make(map[string]groomCandidate)
	consider := func(txid, invitationID string, at time.Time) {
		if _, seen := pass.details[txid]; seen {
			return
		}
		if at.IsZero() || now.Sub(at) < s.cfg.GraceWindow {
			return
		}
		if _, ok := candidates[txid]; ok {
			return
		}

		candidates[txid] = groomCandidate{
			txid:         txid,
			invitationID: invitationID,
			missingFor:   now.Sub(at),
		}
	}
	for _, rec := range pass.local {
		consider(rec.TxID, rec.InvitationID, rec.BroadcastAt)
	}
	for _, temp := range pass.temps {
		consider(temp.TxID, temp.InvitationID, temp.CreatedAt)
	}

	missing := s.confirmMissing(ctx, candidates)

	err := s.cfg.Store.ExecTx(ctx, func(sess db.Session) error {
		for _, c := range missing {
			if err := markFailed(ctx, sess, c, now); err != nil {
				return err
			}
		}

		return pruneFailed(ctx, sess, now.Add(-s.cfg.FailedTxRetention))
	})
	if err != nil {
		return fmt.Errorf("groom: %w", err)
	}

	s.metrics.observeGroomed(len(missing))

	return nil
}

// confirmMissing asks the secondary source about every candidate and
// returns those it does not know either. A candidate the secondary source
// cannot answer for is kept. Without a secondary source, candidates missing
// for the unchecked grace window are returned.
func (s *syncer) confirmMissing(ctx context.Context,
	candidates map[string]groomCandidate) []groomCandidate {

	if len(candidates) == 0 {
		return nil
	}

	if s.cfg.Secondary == nil {
		var missing []groomCandidate
		for _, c := range candidates {
			if c.missingFor < s.cfg.UncheckedGraceWindow {
				continue
			}
			missing = append(missing, c)
		}

		log.Debugf("No secondary source, presuming %d of %d missing "+
			"transactions failed", len(missing), len(candidates))

		sortCandidates(missing)

		return missing
	}

	var (
		mu      sync.Mutex
		missing []groomCandidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, txid := range slices.Sorted(maps.Keys(candidates)) {
		g.Go(func() error {
			exists, err := s.cfg.Secondary.TransactionExists(
				gctx, txid,
			)
			if err != nil {
				log.Warnf("Unable to check transaction %s: %v",
					txid, err)
				return nil
			}
			if exists {
				log.Debugf("Transaction %s known to secondary "+
					"source, waiting for indexer", txid)
				return nil
			}

			mu.Lock()
			missing = append(missing, candidates[txid])
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	sortCandidates(missing)

	return missing
}

// sortCandidates orders candidates by txid.
func sortCandidates(candidates []groomCandidate) {
	slices.SortFunc(candidates, func(a, b groomCandidate) int {
		return strings.Compare(a.txid, b.txid)
	})
}

// markFailed flags a broadcast as failed, releases its reservations and
// unlinks the invitation it was paying so a later pass retries it.
func markFailed(ctx context.Context, sess db.Session, c groomCandidate,
	now time.Time) error {

	log.Warnf("Transaction %s presumed failed", c.txid)

	err := sess.SetBroadcastFailed(ctx, c.txid, true, now)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	if err := sess.DeleteTemporarySent(ctx, c.txid); err != nil {
		return err
	}

	if c.invitationID == "" {
		return nil
	}

	inv, err := sess.GetInvitation(ctx, c.invitationID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil

	case err != nil:
		return err
	}

	// The invitation may already be paid by another transaction.
	if inv.TxID != "" && inv.TxID != c.txid {
		return nil
	}
	if inv.Status == db.StatusCompleted {
		log.Errorf("Invitation %s completed with failed transaction %s",
			inv.ID, c.txid)
		return nil
	}

	inv.TxID = ""
	inv.FailureCount++
	inv.LastFailureAt = now
	inv.LastAttemptAt = now
	inv.UpdatedAt = now

	return sess.PutInvitation(ctx, inv)
}

// pruneFailed deletes failed records that failed before cutoff.
func pruneFailed(ctx context.Context, sess db.Session,
	cutoff time.Time) error {

	failed, err := sess.ListTransactions(ctx, db.TxQuery{Failed: true})
	if err != nil {
		return err
	}

	for _, rec := range failed {
		if rec.FailedAt.IsZero() || !rec.FailedAt.Before(cutoff) {
			continue
		}

		log.Debugf("Pruning failed transaction %s", rec.TxID)

		if err := sess.DeleteTransaction(ctx, rec.TxID); err != nil {
			return err
		}
	}

	return nil
}

// updatePrices backfills the day average price of confirmed transactions.
// A price the indexer does not have is stored as zero.
func (s *syncer) updatePrices(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseUpdatePrices)

	var recs []*db.TxRecord
	err := s.cfg.Store.View(ctx, func(sess db.Session) error {
		var err error
		recs, err = sess.ListTransactions(ctx, db.TxQuery{
			MissingPrice: true,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("list unpriced: %w", err)
	}

	var (
		mu     sync.Mutex
		prices = make(map[string]int64)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, rec := range recs {
		if rec.BlockHeight <= 0 {
			continue
		}

		g.Go(func() error {
			cents, err := s.cfg.Indexer.DayAveragePrice(gctx, rec.TxID)
			switch {
			case errors.Is(err, indexer.ErrNotFound):
				cents = 0

			case err != nil:
				log.Warnf("No price for %s: %v", rec.TxID, err)
				return nil
			}

			mu.Lock()
			prices[rec.TxID] = cents
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	if len(prices) == 0 {
		return nil
	}

	return s.cfg.Store.ExecTx(ctx, func(sess db.Session) error {
		for txid, cents := range prices {
			if err := sess.SetPrice(ctx, txid, cents); err != nil {
				return err
			}
		}

		return nil
	})
}

// decryptMetadata fetches and opens the notification payload of every
// incoming transaction whose metadata was not checked yet.
func (s *syncer) decryptMetadata(ctx context.Context, pass *syncPass) error {
	s.setPhase(phaseDecryptMetadata)

	var recs []*db.TxRecord
	err := s.cfg.Store.View(ctx, func(sess db.Session) error {
		var err error
		recs, err = sess.ListTransactions(ctx, db.TxQuery{
			MissingMemo: true,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("list unchecked: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	owned := s.alloc.ownedAddresses()

	var (
		mu    sync.Mutex
		memos = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, rec := range recs {
		g.Go(func() error {
			n, err := s.cfg.Indexer.Notification(gctx, rec.TxID)
			switch {
			// A notification may still arrive while unconfirmed.
			case errors.Is(err, indexer.ErrNotFound):
				if rec.BlockHeight <= 0 {
					return nil
				}

			case err != nil:
				log.Warnf("Unable to fetch notification of %s: %v",
					rec.TxID, err)
				return nil
			}

			var memo string
			if n != nil {
				memo, err = s.openNotification(n, owned)
				if err != nil {
					log.Warnf("Unable to open notification of "+
						"%s: %v", rec.TxID, err)
				}
			}

			mu.Lock()
			memos[rec.TxID] = memo
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	if len(memos) == 0 {
		return nil
	}

	return s.cfg.Store.ExecTx(ctx, func(sess db.Session) error {
		for txid, memo := range memos {
			if err := sess.SetMemo(ctx, txid, memo); err != nil {
				return err
			}
		}

		return nil
	})
}

// openNotification decrypts a notification with the key of the receiving
// address.
func (s *syncer) openNotification(n *indexer.Notification,
	owned ownedSet) (string, error) {

	path, ok := owned[n.Address]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrForeignAddress, n.Address)
	}

	payload, err := base64.StdEncoding.DecodeString(n.EncryptedPayload)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	meta, err := txmeta.Open(payload, func(eph *btcec.PublicKey) ([]byte,
		error) {

		return s.cfg.Keychain.SharedSecret(path, eph)
	})
	if err != nil {
		return "", err
	}

	log.Tracef("Notification of %s: %v", n.TxID, spewClosure(meta))

	return meta.Memo, nil
}
