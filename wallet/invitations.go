// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// statusRank orders the non-terminal progression of an invitation.
var statusRank = map[db.InvitationStatus]int{
	db.StatusNotSent:         0,
	db.StatusRequestSent:     1,
	db.StatusAddressProvided: 2,
	db.StatusCompleted:       3,
}

// canTransition reports whether an invitation may move from one status to
// another. Progress is monotonic and cancellation or expiration is only
// possible from a non-terminal status.
func canTransition(from, to db.InvitationStatus) bool {
	if from.IsTerminal() {
		return false
	}

	switch to {
	case db.StatusCanceled, db.StatusExpired:
		return true

	default:
		return statusRank[to] > statusRank[from]
	}
}

// invitationEngine drives the address request protocol for both sides.
type invitationEngine struct {
	cfg      *Config
	alloc    *addressAllocator
	builder  *txBuilder
	notifier *notifier
	metrics  *engineMetrics
}

// transition moves inv to status when legal, records the change and
// reports whether it happened.
func (e *invitationEngine) transition(inv *db.Invitation,
	status db.InvitationStatus) bool {

	if inv.Status == status {
		return false
	}
	if !canTransition(inv.Status, status) {
		log.Warnf("Refusing invitation %s transition %v -> %v", inv.ID,
			inv.Status, status)
		return false
	}

	log.Infof("Invitation %s (%s): %v -> %v", inv.ID, inv.Side, inv.Status,
		status)

	now := e.cfg.Clock.Now()
	inv.Status = status
	inv.UpdatedAt = now
	if status == db.StatusCompleted {
		inv.CompletedAt = now
	}

	return true
}

// save persists inv and emits a signal when its status changed from prev.
func (e *invitationEngine) save(ctx context.Context, inv *db.Invitation,
	prev db.InvitationStatus) error {

	err := e.cfg.Store.ExecTx(ctx, func(s db.Session) error {
		return s.PutInvitation(ctx, inv)
	})
	if err != nil {
		return &InvitationError{ID: inv.ID, Err: err}
	}

	e.signal(inv, prev)

	return nil
}

// signal emits a status change signal when inv left prev.
func (e *invitationEngine) signal(inv *db.Invitation,
	prev db.InvitationStatus) {

	if inv.Status == prev {
		return
	}

	e.metrics.observeInvitation(string(inv.Side), inv.Status.String())
	e.notifier.send(InvitationStatusChanged{
		ID:     inv.ID,
		Side:   inv.Side,
		Status: inv.Status,
	})
}

// identity returns the hex encoded wallet identity public key.
func (e *invitationEngine) identity() (string, error) {
	meta, err := e.cfg.Keychain.DeriveAddress(
		identityPath(e.cfg.Keychain.CoinType()),
	)
	if err != nil {
		return "", fmt.Errorf("derive identity: %w", err)
	}

	return meta.PubKey, nil
}

// call runs op against the introduction service. Missing identifiers are
// corrected by registering the wallet again and retrying once. A required
// verification is handed to the recovery delegate.
func (e *invitationEngine) call(ctx context.Context, op func() error) error {
	err := op()
	if errors.Is(err, introduction.ErrMissingIdentifiers) {
		log.Infof("Introduction service lost wallet identity, " +
			"registering again")

		pub, idErr := e.identity()
		if idErr != nil {
			return idErr
		}

		_, regErr := e.cfg.Introducer.RegisterWallet(ctx, pub)
		if regErr != nil {
			return fmt.Errorf("register wallet: %w", regErr)
		}

		err = op()
	}

	if errors.Is(err, introduction.ErrVerificationRequired) &&
		e.cfg.Recovery != nil {

		e.cfg.Recovery.VerificationRequired(ctx, err)
	}

	return err
}

// send creates a sent invitation. The local record is committed before the
// remote request so reconciliation can adopt or cancel it whatever happens
// to the call.
func (e *invitationEngine) send(ctx context.Context, amount,
	fee btcutil.Amount, counterparty string) (*db.Invitation, error) {

	switch {
	case amount <= 0:
		return nil, ErrInvalidAmount

	case fee <= 0:
		return nil, ErrInsufficientFee

	case counterparty == "":
		return nil, fmt.Errorf("%w: counterparty", ErrMissingParam)
	}

	now := e.cfg.Clock.Now()
	inv := &db.Invitation{
		ID:           uuid.NewString(),
		Side:         db.SideSender,
		Status:       db.StatusNotSent,
		Amount:       int64(amount),
		Fee:          int64(fee),
		Counterparty: counterparty,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.save(ctx, inv, inv.Status); err != nil {
		return nil, err
	}

	var resp *introduction.AddressRequest
	err := e.call(ctx, func() error {
		var err error
		resp, err = e.cfg.Introducer.CreateAddressRequest(
			ctx, introduction.CreateRequest{
				ClientID:     inv.ID,
				Amount:       inv.Amount,
				Fee:          inv.Fee,
				Counterparty: inv.Counterparty,
			},
		)

		return err
	})
	if err != nil {
		return inv, &InvitationError{ID: inv.ID, Err: err}
	}

	prev := inv.Status
	inv.ServerID = resp.ID
	e.transition(inv, db.StatusRequestSent)
	if resp.Address != "" {
		inv.Address = resp.Address
		e.transition(inv, db.StatusAddressProvided)
	}

	return inv, e.save(ctx, inv, prev)
}

// cancel cancels an invitation locally and remotely.
func (e *invitationEngine) cancel(ctx context.Context, id string) error {
	inv, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if inv.TxID != "" {
		return &InvitationError{
			ID: id,
			Err: fmt.Errorf("%w: already paid by %s", ErrInvalidParam,
				inv.TxID),
		}
	}

	prev := inv.Status
	if !e.transition(inv, db.StatusCanceled) {
		return &InvitationError{
			ID:  id,
			Err: fmt.Errorf("%w: status %v", ErrInvalidParam, prev),
		}
	}

	if inv.Acknowledged() {
		err := e.call(ctx, func() error {
			_, err := e.cfg.Introducer.PatchAddressRequest(
				ctx, inv.ServerID, introduction.RequestPatch{
					Status: introduction.StatusCanceled,
				},
			)

			return err
		})
		if err != nil {
			return &InvitationError{ID: id, Err: err}
		}
	}

	return e.save(ctx, inv, prev)
}

// load reads one invitation.
func (e *invitationEngine) load(ctx context.Context,
	id string) (*db.Invitation, error) {

	var inv *db.Invitation
	err := e.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		inv, err = s.GetInvitation(ctx, id)

		return err
	})
	if err != nil {
		return nil, &InvitationError{ID: id, Err: err}
	}

	return inv, nil
}

// list reads every invitation of a side.
func (e *invitationEngine) list(ctx context.Context,
	side db.Side) ([]*db.Invitation, error) {

	var invs []*db.Invitation
	err := e.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		invs, err = s.ListInvitations(ctx, side)

		return err
	})

	return invs, err
}

// reconcile brings local invitations in line with the server, maintains the
// address pool and retries one unfulfilled sent invitation. A step whose
// authorization failed is skipped, other steps still run.
func (e *invitationEngine) reconcile(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"address pool", e.maintainPool},
		{"sent requests", e.reconcileSent},
		{"received requests", e.reconcileReceived},
		{"fulfillment", e.fulfillNext},
	}

	var errs []error
	for _, step := range steps {
		err := step.fn(ctx)
		switch {
		case err == nil:

		case errors.Is(err, introduction.ErrVerificationRequired):
			log.Warnf("Skipping %s: %v", step.name, err)

		default:
			log.Errorf("Reconciling %s: %v", step.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))

			// Without the server nothing else can progress.
			if IsTransportError(err) {
				return errors.Join(errs...)
			}
		}
	}

	return errors.Join(errs...)
}

// matchRemote finds the remote request of a local invitation.
func matchRemote(inv *db.Invitation,
	byID, byClient map[string]*introduction.AddressRequest) (
	*introduction.AddressRequest, bool) {

	if inv.ServerID != "" {
		r, ok := byID[inv.ServerID]
		return r, ok
	}

	r, ok := byClient[inv.ID]

	return r, ok
}

// reconcileSent applies the server view of sent requests.
func (e *invitationEngine) reconcileSent(ctx context.Context) error {
	var remote []introduction.AddressRequest
	err := e.call(ctx, func() error {
		var err error
		remote, err = e.cfg.Introducer.AddressRequests(
			ctx, introduction.SideSent,
		)

		return err
	})
	if err != nil {
		return err
	}

	byID := make(map[string]*introduction.AddressRequest, len(remote))
	byClient := make(map[string]*introduction.AddressRequest, len(remote))
	for i := range remote {
		r := &remote[i]
		byID[r.ID] = r
		if r.ClientID != "" {
			byClient[r.ClientID] = r
		}
	}

	locals, err := e.list(ctx, db.SideSender)
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(locals))
	now := e.cfg.Clock.Now()

	var errs []error
	for _, inv := range locals {
		r, ok := matchRemote(inv, byID, byClient)
		if ok {
			known[r.ID] = struct{}{}
		}

		if err := e.reconcileSentOne(ctx, inv, r, now); err != nil {
			errs = append(errs, err)
		}
	}

	for i := range remote {
		r := &remote[i]
		if _, ok := known[r.ID]; ok {
			continue
		}

		if err := e.adoptSent(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// reconcileSentOne applies one remote sent request, nil when the server does
// not know the invitation.
func (e *invitationEngine) reconcileSentOne(ctx context.Context,
	inv *db.Invitation, r *introduction.AddressRequest,
	now time.Time) error {

	prev := inv.Status
	changed := false

	if r == nil {
		// A client-only record the server never acknowledged is
		// orphaned. Records younger than the grace window may still
		// have a create call in flight.
		if inv.Status == db.StatusNotSent && !inv.Acknowledged() &&
			now.Sub(inv.CreatedAt) >= e.cfg.GraceWindow {

			changed = e.transition(inv, db.StatusCanceled)
		} else if inv.Acknowledged() && !inv.Status.IsTerminal() {
			log.Warnf("Invitation %s: %v on server", inv.ID,
				ErrMissingManagedEntity)
		}

		if !changed {
			return nil
		}

		return e.save(ctx, inv, prev)
	}

	if inv.ServerID == "" {
		inv.ServerID = r.ID
		changed = true
		e.transition(inv, db.StatusRequestSent)
	}

	switch {
	case r.Status == introduction.StatusCanceled:
		changed = e.transition(inv, db.StatusCanceled) || changed

	case r.Status == introduction.StatusExpired:
		changed = e.transition(inv, db.StatusExpired) || changed

	case r.Status == introduction.StatusCompleted:
		if inv.TxID == "" && r.TxID != "" {
			inv.TxID = r.TxID
			changed = true
		}
		changed = e.transition(inv, db.StatusCompleted) || changed

	case inv.TxID != "":
		// Paid locally but the acknowledgment never reached the
		// server.
		err := e.patchCompleted(ctx, inv)
		if err != nil {
			return &InvitationError{ID: inv.ID, Err: err}
		}
		changed = e.transition(inv, db.StatusCompleted) || changed

	case r.Address != "" && inv.Address == "":
		inv.Address = r.Address
		changed = true
		e.transition(inv, db.StatusAddressProvided)
	}

	if !changed {
		return nil
	}

	return e.save(ctx, inv, prev)
}

// adoptSent records a sent request created by another installation of the
// wallet.
func (e *invitationEngine) adoptSent(ctx context.Context,
	r *introduction.AddressRequest) error {

	log.Infof("Adopting sent request %s: %v locally", r.ID,
		ErrMissingManagedEntity)

	now := e.cfg.Clock.Now()
	inv := &db.Invitation{
		ID:           r.ClientID,
		ServerID:     r.ID,
		Side:         db.SideSender,
		Status:       remoteStatus(r),
		Amount:       r.Amount,
		Fee:          r.Fee,
		Counterparty: r.Counterparty,
		Address:      r.Address,
		TxID:         r.TxID,
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		UpdatedAt:    now,
	}
	if r.ClientID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == db.StatusCompleted {
		inv.CompletedAt = now
	}

	return e.save(ctx, inv, db.StatusNotSent)
}

// remoteStatus maps a remote request to the local status it implies.
func remoteStatus(r *introduction.AddressRequest) db.InvitationStatus {
	switch r.Status {
	case introduction.StatusCanceled:
		return db.StatusCanceled

	case introduction.StatusExpired:
		return db.StatusExpired

	case introduction.StatusCompleted:
		return db.StatusCompleted
	}

	if r.Address != "" {
		return db.StatusAddressProvided
	}

	return db.StatusRequestSent
}

// patchCompleted tells the server an invitation was paid.
func (e *invitationEngine) patchCompleted(ctx context.Context,
	inv *db.Invitation) error {

	return e.call(ctx, func() error {
		_, err := e.cfg.Introducer.PatchAddressRequest(
			ctx, inv.ServerID, introduction.RequestPatch{
				Status: introduction.StatusCompleted,
				TxID:   inv.TxID,
			},
		)

		return err
	})
}

// reconcileReceived applies the server view of received requests and
// provides an address to every open one.
func (e *invitationEngine) reconcileReceived(ctx context.Context) error {
	var remote []introduction.AddressRequest
	err := e.call(ctx, func() error {
		var err error
		remote, err = e.cfg.Introducer.AddressRequests(
			ctx, introduction.SideReceived,
		)

		return err
	})
	if err != nil {
		return err
	}

	locals, err := e.list(ctx, db.SideReceiver)
	if err != nil {
		return err
	}

	byServer := make(map[string]*db.Invitation, len(locals))
	for _, inv := range locals {
		byServer[inv.ServerID] = inv
	}

	var errs []error
	for i := range remote {
		r := &remote[i]

		inv, ok := byServer[r.ID]
		if !ok {
			now := e.cfg.Clock.Now()
			inv = &db.Invitation{
				ID:           uuid.NewString(),
				ServerID:     r.ID,
				Side:         db.SideReceiver,
				Status:       db.StatusRequestSent,
				Amount:       r.Amount,
				Fee:          r.Fee,
				Counterparty: r.Counterparty,
				CreatedAt:    time.Unix(r.CreatedAt, 0),
				UpdatedAt:    now,
			}
			if err := e.save(ctx, inv, db.StatusNotSent); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		if err := e.reconcileReceivedOne(ctx, inv, r); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// reconcileReceivedOne applies one remote received request.
func (e *invitationEngine) reconcileReceivedOne(ctx context.Context,
	inv *db.Invitation, r *introduction.AddressRequest) error {

	prev := inv.Status
	changed := false

	switch r.Status {
	case introduction.StatusCanceled:
		changed = e.transition(inv, db.StatusCanceled)

	case introduction.StatusExpired:
		changed = e.transition(inv, db.StatusExpired)

	case introduction.StatusCompleted:
		if inv.TxID == "" && r.TxID != "" {
			inv.TxID = r.TxID
			changed = true
		}
		if inv.Address == "" && r.Address != "" {
			inv.Address = r.Address
			changed = true
		}
		changed = e.transition(inv, db.StatusCompleted) || changed

	default:
		if inv.Status.IsTerminal() {
			return nil
		}

		switch {
		// The server kept an address from an earlier pass whose
		// local save was lost.
		case r.Address != "" && inv.Address == "":
			if _, ok := e.alloc.checkAddressExists(r.Address); !ok {
				return &InvitationError{
					ID: inv.ID,
					Err: fmt.Errorf("%w: %s", ErrForeignAddress,
						r.Address),
				}
			}
			inv.Address = r.Address
			e.transition(inv, db.StatusAddressProvided)
			changed = true

		case r.Address == "":
			return e.provideAddress(ctx, inv)
		}
	}

	if !changed {
		return nil
	}

	return e.save(ctx, inv, prev)
}

// provideAddress gives an open received request a fresh receive address. The
// address is committed locally before it is submitted, so an interrupted
// submission is repeated with the same address.
func (e *invitationEngine) provideAddress(ctx context.Context,
	inv *db.Invitation) error {

	var addr *keychain.MetaAddress
	if inv.Address != "" {
		path, ok := e.alloc.checkAddressExists(inv.Address)
		if !ok {
			return &InvitationError{
				ID:  inv.ID,
				Err: fmt.Errorf("%w: %s", ErrForeignAddress, inv.Address),
			}
		}

		var err error
		addr, err = e.alloc.derive(path.Change, path.Index)
		if err != nil {
			return &InvitationError{ID: inv.ID, Err: err}
		}
	} else {
		addrs := e.alloc.nextAvailableReceiveAddresses(ctx, 1, false, nil)
		if len(addrs) == 0 {
			return &InvitationError{
				ID:  inv.ID,
				Err: errors.New("no receive address available"),
			}
		}
		addr = addrs[0]

		inv.Address = addr.Address
		inv.UpdatedAt = e.cfg.Clock.Now()
		err := e.cfg.Store.ExecTx(ctx, func(s db.Session) error {
			err := s.PutAddress(ctx, addressRecord(addr, e.cfg.Clock.Now))
			if err != nil {
				return err
			}

			return s.PutInvitation(ctx, inv)
		})
		if err != nil {
			return &InvitationError{ID: inv.ID, Err: err}
		}
	}

	err := e.call(ctx, func() error {
		_, err := e.cfg.Introducer.PatchAddressRequest(
			ctx, inv.ServerID, introduction.RequestPatch{
				Address:       addr.Address,
				AddressPubKey: addr.PubKey,
			},
		)

		return err
	})
	if err != nil {
		return &InvitationError{ID: inv.ID, Err: err}
	}

	prev := inv.Status
	e.transition(inv, db.StatusAddressProvided)

	return e.save(ctx, inv, prev)
}

// lastTried returns when a payment of inv was last attempted.
func lastTried(inv *db.Invitation) time.Time {
	if inv.LastFailureAt.After(inv.LastAttemptAt) {
		return inv.LastFailureAt
	}

	return inv.LastAttemptAt
}

// nextUnfulfilled picks the sent invitation to retry: the one tried longest
// ago, never tried ones first. Every attempt moves an invitation to the back
// of the order, so one that cannot be paid does not hold the slot.
func nextUnfulfilled(invs []*db.Invitation) *db.Invitation {
	var candidates []*db.Invitation
	for _, inv := range invs {
		if inv.Status == db.StatusAddressProvided && inv.TxID == "" &&
			inv.Address != "" {

			candidates = append(candidates, inv)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	slices.SortStableFunc(candidates, func(a, b *db.Invitation) int {
		if c := lastTried(a).Compare(lastTried(b)); c != 0 {
			return c
		}

		return cmp.Compare(a.CreatedAt.Unix(), b.CreatedAt.Unix())
	})

	return candidates[0]
}

// fulfillNext pays at most one outstanding sent invitation.
func (e *invitationEngine) fulfillNext(ctx context.Context) error {
	invs, err := e.list(ctx, db.SideSender)
	if err != nil {
		return err
	}

	inv := nextUnfulfilled(invs)
	if inv == nil {
		return nil
	}

	return e.fulfill(ctx, inv)
}

// fulfill pays a sent invitation whose address was provided. It first looks
// for evidence that an earlier attempt already paid it.
func (e *invitationEngine) fulfill(ctx context.Context,
	inv *db.Invitation) error {

	txid, pending, err := e.findPayment(ctx, inv)
	switch {
	case err != nil:
		return &InvitationError{ID: inv.ID, Err: err}

	case pending:
		log.Debugf("Invitation %s has a pending payment", inv.ID)
		return e.markAttempted(ctx, inv, nil)

	case txid != "":
		log.Infof("Invitation %s already paid by %s", inv.ID, txid)
		return e.complete(ctx, inv, txid)
	}

	// The invitation only learns its txid once the payment is known to
	// exist. Until then the temporary sent record carries the link.
	res, err := e.builder.send(ctx, &PaymentRequest{
		Mode:         keychain.ModeFlatFee,
		Destination:  inv.Address,
		Amount:       btcutil.Amount(inv.Amount),
		FlatFee:      btcutil.Amount(inv.Fee),
		invitationID: inv.ID,
	})
	switch {
	case err == nil:

	// The invitation stays AddressProvided and is retried once the
	// balance allows it, after the other outstanding ones.
	case IsFundsError(err):
		log.Infof("Unable to pay invitation %s: %v", inv.ID, err)
		return e.markAttempted(ctx, inv, err)

	// The payment is recorded and may have reached the network.
	// Grooming decides its fate.
	case IsTransportError(err):
		log.Warnf("Broadcast of invitation %s payment uncertain: %v",
			inv.ID, err)
		return e.markAttempted(ctx, inv, err)

	default:
		return e.markSendFailed(ctx, inv, err)
	}

	return e.complete(ctx, inv, res.TxID)
}

// findPayment looks for a payment of the invitation amount to its address,
// first locally, then on the indexer. pending is set when a payment linked
// to the invitation is recorded but not yet known to the indexer.
func (e *invitationEngine) findPayment(ctx context.Context,
	inv *db.Invitation) (string, bool, error) {

	var txids, linked []string
	err := e.cfg.Store.View(ctx, func(s db.Session) error {
		temps, err := s.ListTemporarySent(ctx, db.LedgerOnChain)
		if err != nil {
			return err
		}
		for _, temp := range temps {
			if temp.InvitationID == inv.ID {
				linked = append(linked, temp.TxID)
			}
		}

		txids, err = s.FindPayments(ctx, inv.Address, inv.Amount)

		return err
	})
	if err != nil {
		return "", false, err
	}

	// A linked payment only counts once the indexer knows it.
	if len(linked) > 0 {
		details, err := e.cfg.Indexer.TransactionDetails(ctx, linked)
		if err != nil {
			return "", false, fmt.Errorf("payment evidence: %w", err)
		}
		if len(details) > 0 {
			return details[0].TxID, false, nil
		}

		return "", true, nil
	}

	if len(txids) > 0 {
		return txids[0], false, nil
	}

	summaries, err := e.cfg.Indexer.AddressSummaries(
		ctx, []string{inv.Address}, fn.None[time.Time](),
	)
	if err != nil {
		return "", false, fmt.Errorf("payment evidence: %w", err)
	}
	if len(summaries) == 0 {
		return "", false, nil
	}

	remote := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		remote = append(remote, sum.TxID)
	}

	details, err := e.cfg.Indexer.TransactionDetails(ctx, remote)
	if err != nil {
		return "", false, fmt.Errorf("payment evidence: %w", err)
	}

	for _, d := range details {
		for _, out := range d.Vout {
			if out.Address() == inv.Address &&
				out.Value == inv.Amount {

				return d.TxID, false, nil
			}
		}
	}

	return "", false, nil
}

// complete links txid to the invitation, tells the server and marks it
// completed. A failed acknowledgment is repeated by the next reconciliation.
func (e *invitationEngine) complete(ctx context.Context, inv *db.Invitation,
	txid string) error {

	prev := inv.Status
	inv.TxID = txid

	if err := e.patchCompleted(ctx, inv); err != nil {
		if saveErr := e.save(ctx, inv, prev); saveErr != nil {
			return saveErr
		}

		return &InvitationError{ID: inv.ID, Err: err}
	}

	e.transition(inv, db.StatusCompleted)
	inv.LastFailureAt = time.Time{}
	inv.LastAttemptAt = time.Time{}

	return e.save(ctx, inv, prev)
}

// markAttempted moves inv to the back of the retry order without counting
// the attempt as failed to send. A non-nil cause is returned wrapped in an
// InvitationError.
func (e *invitationEngine) markAttempted(ctx context.Context,
	inv *db.Invitation, cause error) error {

	now := e.cfg.Clock.Now()
	inv.LastAttemptAt = now
	inv.UpdatedAt = now

	if err := e.save(ctx, inv, inv.Status); err != nil {
		return err
	}
	if cause == nil {
		return nil
	}

	return &InvitationError{ID: inv.ID, Err: cause}
}

// markSendFailed demotes the retry priority of an invitation whose payment
// could not be constructed.
func (e *invitationEngine) markSendFailed(ctx context.Context,
	inv *db.Invitation, cause error) error {

	log.Errorf("Payment of invitation %s failed: %v", inv.ID, cause)

	now := e.cfg.Clock.Now()
	inv.FailureCount++
	inv.LastFailureAt = now
	inv.LastAttemptAt = now
	inv.UpdatedAt = now

	if err := e.save(ctx, inv, inv.Status); err != nil {
		return err
	}
	if cause == nil {
		return nil
	}

	return &InvitationError{ID: inv.ID, Err: cause}
}

// identityPath is the derivation path of the wallet identity key.
func identityPath(coin uint32) keychain.Path {
	return keychain.Path{
		Purpose: keychain.PurposeSegwit,
		Coin:    coin,
		Account: keychain.DefaultAccount,
		Change:  keychain.IdentityBranch,
	}
}

// IdentityKey returns the hex encoded identity public key of kc and a
// function signing messages with it, for authenticating with the
// introduction service.
func IdentityKey(kc keychain.Keychain) (string, func([]byte) ([]byte, error),
	error) {

	path := identityPath(kc.CoinType())
	meta, err := kc.DeriveAddress(path)
	if err != nil {
		return "", nil, err
	}

	sign := func(msg []byte) ([]byte, error) {
		return kc.SignMessage(path, msg)
	}

	return meta.PubKey, sign, nil
}
