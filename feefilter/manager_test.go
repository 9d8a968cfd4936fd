// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feefilter

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/pkgrelay/mempool"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// announcement is a single fee filter sent to a peer.
type announcement struct {
	id    PeerID
	value int64
}

// recordingNotifier records every announcement.
type recordingNotifier struct {
	sync.Mutex
	sent []announcement
}

// SendFeeFilter records the announcement.
func (n *recordingNotifier) SendFeeFilter(id PeerID, minFeeRate int64) {
	n.Lock()
	n.sent = append(n.sent, announcement{id: id, value: minFeeRate})
	n.Unlock()
}

// forPeer returns the values announced to id, in order.
func (n *recordingNotifier) forPeer(id PeerID) []int64 {
	n.Lock()
	defer n.Unlock()

	var values []int64
	for _, a := range n.sent {
		if a.id == id {
			values = append(values, a.value)
		}
	}
	return values
}

// fakePool returns a settable summary.
type fakePool struct {
	sync.Mutex
	summary mempool.PoolSummary
}

// Summary returns the current summary.
func (p *fakePool) Summary() mempool.PoolSummary {
	p.Lock()
	defer p.Unlock()
	return p.summary
}

// setMinRelayFee changes the minimum relay fee rate reported.
func (p *fakePool) setMinRelayFee(rate btcutil.Amount) {
	p.Lock()
	p.summary.MinRelayFee = rate
	p.Unlock()
}

// newTestManager returns a started manager without periodic recomputation.
func newTestManager(t *testing.T, synced bool) (*Manager, *recordingNotifier,
	*fakePool) {

	t.Helper()

	notifier := &recordingNotifier{}
	pool := &fakePool{summary: mempool.PoolSummary{
		MinRelayFee: mempool.DefaultMinRelayTxFee,
	}}
	m := New(&Config{
		PeerNotifier:      notifier,
		Pool:              pool,
		RecomputeInterval: -1,
		Synced:            synced,
	})
	m.Start()
	t.Cleanup(func() {
		require.NoError(t, m.Stop())
	})
	return m, notifier, pool
}

// requireState waits for the handler to catch up and checks the session.
func requireState(t *testing.T, m *Manager, id PeerID, want State,
	announced int64) {

	t.Helper()
	f, ok := m.PeerFilter(id)
	require.True(t, ok, "peer %d unknown", id)
	require.Equal(t, want, f.State)
	require.Equal(t, announced, f.Announced)
}

// TestInitialSyncAnnouncesMaximumOnce ensures a session started while syncing
// is announced the maximum filter exactly once, and exactly one announcement
// with the policy value follows the node becoming synced.
func TestInitialSyncAnnouncesMaximumOnce(t *testing.T) {
	t.Parallel()

	m, notifier, pool := newTestManager(t, false)

	m.NewPeer(1)
	requireState(t, m, 1, StateIBDFloor, DefaultMaxFeeFilter)

	// Recomputations have no effect while pinned.
	pool.setMinRelayFee(5000)
	m.Recompute()
	m.SetSyncState(false)
	requireState(t, m, 1, StateIBDFloor, DefaultMaxFeeFilter)
	require.Equal(t, []int64{DefaultMaxFeeFilter}, notifier.forPeer(1))

	m.SetSyncState(true)
	requireState(t, m, 1, StateNormal, 5000)
	require.True(t, m.IsSynced())

	// Repeated sync signals and unchanged recomputations are silent.
	m.SetSyncState(true)
	m.Recompute()
	requireState(t, m, 1, StateNormal, 5000)
	require.Equal(t, []int64{DefaultMaxFeeFilter, 5000}, notifier.forPeer(1))

	f, _ := m.PeerFilter(1)
	require.Equal(t, 2, f.Announcements)
	require.False(t, f.AnnouncedAt.IsZero())
}

// TestSyncReleasesToMinRelayFee ensures sessions released from the maximum
// filter are announced the minimum relay fee rate even when the policy asks
// for more, and that the policy takes over from the next recomputation.
func TestSyncReleasesToMinRelayFee(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	pool := &fakePool{summary: mempool.PoolSummary{
		MinRelayFee: mempool.DefaultMinRelayTxFee,
		Usage:       2048,
		MinFeeRate:  20000,
	}}
	m := New(&Config{
		PeerNotifier:      notifier,
		Pool:              pool,
		Policy:            UsagePolicy(1024, mempool.DefaultIncrementalRelayFee),
		RecomputeInterval: -1,
	})
	m.Start()
	t.Cleanup(func() {
		require.NoError(t, m.Stop())
	})

	m.NewPeer(1)
	requireState(t, m, 1, StateIBDFloor, DefaultMaxFeeFilter)

	m.SetSyncState(true)
	requireState(t, m, 1, StateNormal, 1000)

	m.Recompute()
	requireState(t, m, 1, StateNormal, 21000)
	require.Equal(t, []int64{DefaultMaxFeeFilter, 1000, 21000},
		notifier.forPeer(1))

	// Sessions starting synced get the policy value straight away.
	m.NewPeer(2)
	requireState(t, m, 2, StateNormal, 21000)
}

// TestStartedSyncedGoesNormal ensures a session started while synced skips the
// floor with a single announcement.
func TestStartedSyncedGoesNormal(t *testing.T) {
	t.Parallel()

	m, notifier, _ := newTestManager(t, true)

	m.NewPeer(7)
	requireState(t, m, 7, StateNormal, int64(mempool.DefaultMinRelayTxFee))
	require.Equal(t, []int64{int64(mempool.DefaultMinRelayTxFee)},
		notifier.forPeer(7))

	// A duplicate session is ignored.
	m.NewPeer(7)
	requireState(t, m, 7, StateNormal, int64(mempool.DefaultMinRelayTxFee))
	require.Len(t, notifier.forPeer(7), 1)
}

// TestHysteresis ensures synced sessions are only told about values outside
// the hysteresis band around the last announcement.
func TestHysteresis(t *testing.T) {
	t.Parallel()

	m, notifier, pool := newTestManager(t, true)
	m.NewPeer(1)

	steps := []struct {
		rate     btcutil.Amount
		announce bool
	}{
		{1200, false},
		{1333, false},
		{1334, true},
		{1001, false},
		{999, true},
		{750, false},
		{748, true},
		{748, false},
	}

	want := []int64{1000}
	for i, step := range steps {
		pool.setMinRelayFee(step.rate)
		m.Recompute()
		if step.announce {
			want = append(want, int64(step.rate))
		}
		f, ok := m.PeerFilter(1)
		require.True(t, ok)
		require.Equalf(t, want[len(want)-1], f.Announced, "step %d", i)
	}
	require.Equal(t, want, notifier.forPeer(1))
}

// TestMaximumCapsPolicy ensures computed values never exceed the maximum
// filter.
func TestMaximumCapsPolicy(t *testing.T) {
	t.Parallel()

	m, _, pool := newTestManager(t, true)
	pool.setMinRelayFee(btcutil.SatoshiPerBitcoin)
	m.NewPeer(1)
	requireState(t, m, 1, StateNormal, DefaultMaxFeeFilter)
}

// TestSyncLossKeepsSessions ensures losing sync never moves a session back to
// the floor, while sessions started afterwards are pinned again.
func TestSyncLossKeepsSessions(t *testing.T) {
	t.Parallel()

	m, notifier, _ := newTestManager(t, true)
	m.NewPeer(1)
	requireState(t, m, 1, StateNormal, 1000)

	m.SetSyncState(false)
	require.False(t, m.IsSynced())
	m.NewPeer(2)
	requireState(t, m, 1, StateNormal, 1000)
	requireState(t, m, 2, StateIBDFloor, DefaultMaxFeeFilter)

	m.SetSyncState(true)
	requireState(t, m, 1, StateNormal, 1000)
	requireState(t, m, 2, StateNormal, 1000)
	require.Len(t, notifier.forPeer(1), 1)
	require.Len(t, notifier.forPeer(2), 2)
}

// TestDonePeer ensures ended sessions are forgotten.
func TestDonePeer(t *testing.T) {
	t.Parallel()

	m, notifier, _ := newTestManager(t, false)
	m.NewPeer(1)
	m.DonePeer(1)
	_, ok := m.PeerFilter(1)
	require.False(t, ok)

	m.SetSyncState(true)
	m.NewPeer(2)
	requireState(t, m, 2, StateNormal, 1000)
	require.Equal(t, []int64{DefaultMaxFeeFilter}, notifier.forPeer(1))
}

// TestStopped ensures calls after Stop neither block nor report sessions.
func TestStopped(t *testing.T) {
	t.Parallel()

	m := New(&Config{
		PeerNotifier:      &recordingNotifier{},
		Pool:              &fakePool{},
		RecomputeInterval: -1,
	})
	m.Start()
	m.NewPeer(1)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	done := make(chan struct{})
	go func() {
		m.NewPeer(2)
		m.SetSyncState(true)
		_, ok := m.PeerFilter(1)
		if ok {
			t.Errorf("stopped manager reported a session")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stopped manager blocked")
	}
}

// TestPeriodicRecompute ensures the ticker drives recomputation.
func TestPeriodicRecompute(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	pool := &fakePool{summary: mempool.PoolSummary{MinRelayFee: 1000}}
	m := New(&Config{
		PeerNotifier:      notifier,
		Pool:              pool,
		RecomputeInterval: 10 * time.Millisecond,
		Synced:            true,
	})
	m.Start()
	defer m.Stop()

	m.NewPeer(1)
	requireState(t, m, 1, StateNormal, 1000)
	pool.setMinRelayFee(3000)

	require.Eventually(t, func() bool {
		f, _ := m.PeerFilter(1)
		return f.Announced == 3000
	}, 5*time.Second, 10*time.Millisecond)
}

// TestTransition checks the state machine in isolation.
func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     PeerFilter
		ev       event
		value    int64
		want     State
		announce bool
	}{
		{"start syncing", PeerFilter{}, evStartSyncing, 9, StateIBDFloor, true},
		{"start synced", PeerFilter{}, evStartSynced, 9, StateNormal, true},
		{"recompute before start", PeerFilter{}, evRecompute, 9, StateInitial, false},
		{"synced before start", PeerFilter{}, evSynced, 9, StateInitial, false},
		{
			"recompute while pinned",
			PeerFilter{State: StateIBDFloor, Announced: 100},
			evRecompute, 9, StateIBDFloor, false,
		},
		{
			"released",
			PeerFilter{State: StateIBDFloor, Announced: 100},
			evSynced, 100, StateNormal, true,
		},
		{
			"synced again",
			PeerFilter{State: StateNormal, Announced: 100},
			evSynced, 9, StateNormal, false,
		},
		{
			"restart ignored",
			PeerFilter{State: StateNormal, Announced: 100},
			evStartSyncing, 9, StateNormal, false,
		},
		{
			"inside band",
			PeerFilter{State: StateNormal, Announced: 100},
			evRecompute, 80, StateNormal, false,
		},
		{
			"outside band",
			PeerFilter{State: StateNormal, Announced: 100},
			evRecompute, 74, StateNormal, true,
		},
	}

	now := time.Unix(1700000000, 0)
	for _, test := range tests {
		got, announce := transition(test.from, test.ev, test.value, now)
		require.Equal(t, test.want, got.State, test.name)
		require.Equal(t, test.announce, announce, test.name)
		if announce {
			require.Equal(t, test.value, got.Announced, test.name)
			require.Equal(t, now, got.AnnouncedAt, test.name)
			require.Equal(t, test.from.Announcements+1,
				got.Announcements, test.name)
		} else {
			require.Equal(t, test.from, got, test.name)
		}
	}
}

// TestStateStringer tests the stringized output for the State type.
func TestStateStringer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Initial", StateInitial.String())
	require.Equal(t, "IBDFloor", StateIBDFloor.String())
	require.Equal(t, "Normal", StateNormal.String())
	require.Equal(t, "Unknown State (9)", State(9).String())
}

// TestUsagePolicy checks the occupancy driven policy.
func TestUsagePolicy(t *testing.T) {
	t.Parallel()

	policy := UsagePolicy(1000, 500)
	summary := mempool.PoolSummary{MinRelayFee: 1000, MinFeeRate: 4000}

	summary.Usage = 999
	require.Equal(t, int64(1000), policy(summary))

	summary.Usage = 1000
	require.Equal(t, int64(4500), policy(summary))

	summary.MinFeeRate = 100
	require.Equal(t, int64(1000), policy(summary))

	require.Equal(t, int64(1000), UsagePolicy(0, 500)(summary))
	require.Equal(t, int64(1000), MinRelayPolicy(summary))

	require.Zero(t, clampFilter(-5, 10))
	require.Equal(t, int64(10), clampFilter(50, 10))
}

// TestPropertyOneAnnouncementPerTransition ensures that, for any interleaving
// of sessions, sync signals and recomputations, every session started while
// syncing is announced the maximum exactly once and is announced exactly once
// more when the node becomes synced.
func TestPropertyOneAnnouncementPerTransition(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		m, notifier, pool := newTestManager(t, false)

		const numPeers = 4
		started := make(map[PeerID]bool)
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				id := PeerID(rapid.IntRange(1, numPeers).Draw(rt,
					"peer"))
				if !started[id] {
					started[id] = true
					m.NewPeer(id)
				}
			case 1:
				pool.setMinRelayFee(btcutil.Amount(
					rapid.Int64Range(1, 100000).Draw(rt, "rate")))
				m.Recompute()
			case 2:
				m.Recompute()
			}
		}

		// Every session is still pinned.
		for id := range started {
			f, ok := m.PeerFilter(id)
			if !ok || f.State != StateIBDFloor {
				rt.Fatalf("peer %d in state %v", id, f.State)
			}
			got := notifier.forPeer(id)
			if len(got) != 1 || got[0] != DefaultMaxFeeFilter {
				rt.Fatalf("peer %d announcements %v", id, got)
			}
		}

		m.SetSyncState(true)
		want := clampFilter(int64(pool.Summary().MinRelayFee),
			DefaultMaxFeeFilter)
		for id := range started {
			f, _ := m.PeerFilter(id)
			got := notifier.forPeer(id)
			if f.State != StateNormal || len(got) != 2 ||
				got[1] != want {

				rt.Fatalf("peer %d after sync: state %v, "+
					"announcements %v, want %d", id, f.State,
					got, want)
			}
		}
	})
}
