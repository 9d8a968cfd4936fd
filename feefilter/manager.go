// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feefilter

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRecomputeInterval is the default interval between recomputations of
// the fee filter of synced sessions.
const DefaultRecomputeInterval = 10 * time.Minute

// PeerID identifies a peer session.
type PeerID uint64

// PeerNotifier delivers fee filter announcements to peer sessions.  The
// session layer (the RPC server in this repository) implements it.
type PeerNotifier interface {
	// SendFeeFilter announces the minimum fee rate, in Satoshi/1000
	// vbytes, below which the peer should not relay transactions to us.
	SendFeeFilter(id PeerID, minFeeRate int64)
}

// Config is a configuration struct used to initialize a new Manager.
type Config struct {
	// PeerNotifier receives every announcement.
	PeerNotifier PeerNotifier

	// Pool provides the statistics Policy is computed from.
	Pool PoolSummarizer

	// Policy computes the fee filter of synced sessions.  MinRelayPolicy
	// is used when nil.
	Policy PolicyFunc

	// MaxFeeFilter is announced while syncing and caps every computed
	// value.  DefaultMaxFeeFilter is used when zero.
	MaxFeeFilter int64

	// RecomputeInterval is the interval between periodic recomputations.
	// DefaultRecomputeInterval is used when zero and a negative value
	// disables periodic recomputation.
	RecomputeInterval time.Duration

	// Synced is the sync state at start.
	Synced bool
}

// newPeerMsg signals a new peer session.
type newPeerMsg struct {
	id PeerID
}

// donePeerMsg signals the end of a peer session.
type donePeerMsg struct {
	id PeerID
}

// syncedMsg signals the node finished syncing.
type syncedMsg struct{}

// recomputeMsg requests an immediate recomputation.
type recomputeMsg struct{}

// getFilterMsg requests the state of a peer session.
type getFilterMsg struct {
	id    PeerID
	reply chan getFilterResponse
}

// getFilterResponse is the reply to a getFilterMsg.
type getFilterResponse struct {
	filter PeerFilter
	ok     bool
}

// Manager keeps the fee filter announced to each peer session.  Sessions
// started while the node is syncing are pinned to the maximum filter until the
// node is synced, then follow the pool policy, announcing only significant
// changes.  All session state is owned by a single handler goroutine.
type Manager struct {
	started  int32
	shutdown int32
	synced   atomic.Bool

	cfg     Config
	peers   map[PeerID]*PeerFilter
	msgChan chan interface{}
	wg      sync.WaitGroup
	quit    chan struct{}
}

// New returns a new fee filter manager.  Use Start to begin processing.
func New(cfg *Config) *Manager {
	m := &Manager{
		cfg:     *cfg,
		peers:   make(map[PeerID]*PeerFilter),
		msgChan: make(chan interface{}, 64),
		quit:    make(chan struct{}),
	}
	if m.cfg.Policy == nil {
		m.cfg.Policy = MinRelayPolicy
	}
	if m.cfg.MaxFeeFilter == 0 {
		m.cfg.MaxFeeFilter = DefaultMaxFeeFilter
	}
	if m.cfg.RecomputeInterval == 0 {
		m.cfg.RecomputeInterval = DefaultRecomputeInterval
	}
	m.synced.Store(cfg.Synced)
	return m
}

// Start begins the core handler which processes session and sync events.
func (m *Manager) Start() {
	// Already started?
	if atomic.AddInt32(&m.started, 1) != 1 {
		return
	}

	log.Trace("Starting fee filter manager")
	m.wg.Add(1)
	go m.feeFilterHandler()
}

// Stop gracefully shuts down the manager by stopping the handler and waiting
// for it to finish.
func (m *Manager) Stop() error {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		log.Warnf("Fee filter manager is already in the process of " +
			"shutting down")
		return nil
	}

	log.Infof("Fee filter manager shutting down")
	close(m.quit)
	m.wg.Wait()
	return nil
}

// queue hands msg to the handler unless the manager is shutting down.
func (m *Manager) queue(msg interface{}) bool {
	select {
	case m.msgChan <- msg:
		return true
	case <-m.quit:
		return false
	}
}

// NewPeer informs the manager of a new peer session.  The first announcement
// is sent from the handler.
func (m *Manager) NewPeer(id PeerID) {
	m.queue(&newPeerMsg{id: id})
}

// DonePeer informs the manager that a peer session ended.
func (m *Manager) DonePeer(id PeerID) {
	m.queue(&donePeerMsg{id: id})
}

// SetSyncState records whether the node is synced.  Becoming synced moves
// every session pinned to the maximum filter to the pool's minimum relay fee
// rate, after which periodic recomputation follows the policy.  Losing sync
// only affects sessions started afterwards.
//
// This function is safe for concurrent access.
func (m *Manager) SetSyncState(synced bool) {
	if !synced {
		if m.synced.CompareAndSwap(true, false) {
			log.Infof("Sync lost, new sessions start at the maximum " +
				"fee filter")
		}
		return
	}
	if m.synced.CompareAndSwap(false, true) {
		log.Infof("Synced, releasing the fee filter floor")
		m.queue(&syncedMsg{})
	}
}

// IsSynced returns the current sync state.
//
// This function is safe for concurrent access.
func (m *Manager) IsSynced() bool {
	return m.synced.Load()
}

// Recompute requests an immediate recomputation of the policy value for
// synced sessions.
func (m *Manager) Recompute() {
	m.queue(&recomputeMsg{})
}

// PeerFilter returns the fee filter state of a peer session.  The reply
// reflects every event queued before the call.
func (m *Manager) PeerFilter(id PeerID) (PeerFilter, bool) {
	reply := make(chan getFilterResponse, 1)
	if !m.queue(&getFilterMsg{id: id, reply: reply}) {
		return PeerFilter{}, false
	}
	select {
	case resp := <-reply:
		return resp.filter, resp.ok
	case <-m.quit:
		return PeerFilter{}, false
	}
}

// policyValue computes the fee filter for synced sessions.
func (m *Manager) policyValue() int64 {
	value := m.cfg.Policy(m.cfg.Pool.Summary())
	return clampFilter(value, m.cfg.MaxFeeFilter)
}

// minRelayValue is the fee filter announced to sessions released from the
// maximum filter: the pool's minimum relay fee rate, whatever the policy.
func (m *Manager) minRelayValue() int64 {
	value := MinRelayPolicy(m.cfg.Pool.Summary())
	return clampFilter(value, m.cfg.MaxFeeFilter)
}

// apply runs the state machine of one session and sends the announcement it
// calls for.
func (m *Manager) apply(id PeerID, f *PeerFilter, ev event, value int64) {
	prev := f.State
	next, announce := transition(*f, ev, value, time.Now())
	*f = next
	if !announce {
		return
	}

	m.cfg.PeerNotifier.SendFeeFilter(id, value)
	log.Debugf("Announced fee filter %d sat/kvB to peer %d (%v -> %v)",
		value, id, prev, next.State)
}

// handleNewPeerMsg starts the state machine of a new session.
func (m *Manager) handleNewPeerMsg(id PeerID) {
	if _, ok := m.peers[id]; ok {
		log.Warnf("Ignoring duplicate session for peer %d", id)
		return
	}

	f := &PeerFilter{State: StateInitial}
	m.peers[id] = f
	if m.synced.Load() {
		m.apply(id, f, evStartSynced, m.policyValue())
		return
	}
	m.apply(id, f, evStartSyncing, m.cfg.MaxFeeFilter)
}

// handleSyncedMsg releases every session pinned to the maximum filter.
func (m *Manager) handleSyncedMsg() {
	if len(m.peers) == 0 {
		return
	}

	value := m.minRelayValue()
	for id, f := range m.peers {
		m.apply(id, f, evSynced, value)
	}
	log.Debugf("Released fee filter floor of %d %s", len(m.peers),
		pickNoun(len(m.peers), "session", "sessions"))
}

// handleRecompute offers a fresh policy value to every session.
func (m *Manager) handleRecompute() {
	if len(m.peers) == 0 {
		return
	}

	value := m.policyValue()
	for id, f := range m.peers {
		m.apply(id, f, evRecompute, value)
	}
}

// feeFilterHandler is the main handler for the manager.  It must be run as a
// goroutine.  It processes session, sync and recompute events in a single
// goroutine so session state needs no locking.
func (m *Manager) feeFilterHandler() {
	var tick <-chan time.Time
	if m.cfg.RecomputeInterval > 0 {
		ticker := time.NewTicker(m.cfg.RecomputeInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

out:
	for {
		select {
		case msg := <-m.msgChan:
			switch msg := msg.(type) {
			case *newPeerMsg:
				m.handleNewPeerMsg(msg.id)

			case *donePeerMsg:
				delete(m.peers, msg.id)

			case *syncedMsg:
				m.handleSyncedMsg()

			case *recomputeMsg:
				m.handleRecompute()

			case *getFilterMsg:
				f, ok := m.peers[msg.id]
				resp := getFilterResponse{ok: ok}
				if ok {
					resp.filter = *f
				}
				msg.reply <- resp

			default:
				log.Warnf("Invalid message type in fee filter "+
					"handler: %T", msg)
			}

		case <-tick:
			m.handleRecompute()

		case <-m.quit:
			break out
		}
	}

	m.wg.Done()
	log.Trace("Fee filter handler done")
}
