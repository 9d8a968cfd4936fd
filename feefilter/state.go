// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feefilter

import (
	"fmt"
	"time"
)

// State is the fee filter state of a single peer session.
type State int

// These constants define the fee filter states of a peer session.
const (
	// StateInitial is the state of a session nothing was announced to yet.
	StateInitial State = iota

	// StateIBDFloor is the state of a session that was announced the
	// maximum filter because the node is syncing.
	StateIBDFloor

	// StateNormal is the state of a session that follows the pool policy.
	StateNormal
)

// stateStrings is a map of states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	StateInitial:  "Initial",
	StateIBDFloor: "IBDFloor",
	StateNormal:   "Normal",
}

// String returns the State in human-readable form.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int(s))
}

// event is an input to the per-peer state machine.
type event int

const (
	// evStartSyncing starts a session while the node is syncing.
	evStartSyncing event = iota

	// evStartSynced starts a session while the node is synced.
	evStartSynced

	// evSynced signals the node finished syncing.
	evSynced

	// evRecompute carries a freshly computed policy value.
	evRecompute
)

// PeerFilter is the fee filter state of one peer session.
type PeerFilter struct {
	// State is the current state of the session.
	State State

	// Announced is the last fee filter sent to the peer in
	// Satoshi/1000 vbytes.
	Announced int64

	// AnnouncedAt is when Announced was sent.
	AnnouncedAt time.Time

	// Announcements is the number of fee filters sent so far.
	Announcements int
}

// transition applies ev, carrying the filter value appropriate for it, and
// returns the new session state together with whether value must be
// announced.  There is no way back to StateIBDFloor: a node losing sync keeps
// its sessions in StateNormal.
func transition(f PeerFilter, ev event, value int64,
	now time.Time) (PeerFilter, bool) {

	announce := false
	switch {
	case f.State == StateInitial && ev == evStartSyncing:
		f.State = StateIBDFloor
		announce = true

	case f.State == StateInitial && ev == evStartSynced:
		f.State = StateNormal
		announce = true

	case f.State == StateIBDFloor && ev == evSynced:
		f.State = StateNormal
		announce = true

	case f.State == StateNormal && ev == evRecompute:
		announce = outsideBand(value, f.Announced)
	}

	if announce {
		f.Announced = value
		f.AnnouncedAt = now
		f.Announcements++
	}
	return f, announce
}
